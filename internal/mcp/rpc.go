package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcptransport "github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

const clientVersion = "1.0.0"

// rpcTransport reaches a server over MCP JSON-RPC. The session is opened
// on first use and reopened after a failure.
type rpcTransport struct {
	server *Server
	client *mcpclient.Client
	cancel context.CancelFunc
	mu     sync.Mutex
	logger *zap.Logger
}

func newRPCTransport(srv *Server, logger *zap.Logger) *rpcTransport {
	return &rpcTransport{server: srv, logger: logger}
}

func (t *rpcTransport) connect(ctx context.Context) (*mcpclient.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}

	headers, err := authHeaders(ctx, t.server)
	if err != nil {
		return nil, err
	}

	var c *mcpclient.Client
	switch t.server.Transport {
	case TransportSSE:
		c, err = mcpclient.NewSSEMCPClient(t.server.URL, mcpclient.WithHeaders(headers))
	default:
		c, err = mcpclient.NewStreamableHttpClient(t.server.URL, mcptransport.WithHTTPHeaders(headers))
	}
	if err != nil {
		return nil, fmt.Errorf("create MCP client: %w", err)
	}

	// The SSE stream outlives the caller's request.
	sessionCtx, cancel := context.WithCancel(context.Background())
	if err := c.Start(sessionCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("start MCP client: %w", err)
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "proposagent", Version: clientVersion}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		cancel()
		c.Close()
		return nil, fmt.Errorf("initialize MCP session: %w", err)
	}

	t.logger.Info("MCP session opened",
		zap.String("server", t.server.ID),
		zap.String("transport", t.server.Transport))
	t.client, t.cancel = c, cancel
	return c, nil
}

func (t *rpcTransport) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		t.client.Close()
		t.cancel()
		t.client, t.cancel = nil, nil
	}
}

func (t *rpcTransport) Discover(ctx context.Context) ([]Tool, error) {
	c, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}
	res, err := c.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		t.reset()
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	tools := make([]Tool, 0, len(res.Tools))
	for _, rt := range res.Tools {
		params, err := inputSchema(rt)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", rt.Name, err)
		}
		tools = append(tools, Tool{
			ID:           rt.Name,
			Name:         rt.Name,
			Description:  rt.Description,
			Version:      clientVersion,
			Parameters:   params,
			Returns:      map[string]any{},
			AuthRequired: t.server.AuthType != AuthNone,
		})
	}
	return tools, nil
}

// inputSchema converts a tool's schema into a plain map.
func inputSchema(tool mcpgo.Tool) (map[string]any, error) {
	var raw []byte
	if len(tool.RawInputSchema) > 0 {
		raw = tool.RawInputSchema
	} else {
		b, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal input schema: %w", err)
		}
		raw = b
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode input schema: %w", err)
	}
	return out, nil
}

// Execute calls the tool synchronously; MCP tools/call has no execution
// polling, so opts only bounds the call.
func (t *rpcTransport) Execute(ctx context.Context, tool Tool, params map[string]any, opts ExecuteOptions) ToolResponse {
	c, err := t.connect(ctx)
	if err != nil {
		return errorResponse("Failed to connect to MCP server: %v", err)
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = tool.Name
	req.Params.Arguments = params
	res, err := c.CallTool(ctx, req)
	if err != nil {
		t.reset()
		return errorResponse("tools/call %s: %v", tool.Name, err)
	}

	text := contentText(res.Content)
	if res.IsError {
		return ToolResponse{Status: StatusError, Error: text}
	}
	return ToolResponse{Status: StatusSuccess, Result: text}
}

func contentText(content []mcpgo.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := mcpgo.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (t *rpcTransport) Close() error {
	t.reset()
	return nil
}
