package mcp

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/nidhogg/proposagent/internal/config"
)

// transport speaks to one server.
type transport interface {
	Discover(ctx context.Context) ([]Tool, error)
	Execute(ctx context.Context, tool Tool, params map[string]any, opts ExecuteOptions) ToolResponse
	Close() error
}

// Client keeps the set of registered servers and the tools they expose.
type Client struct {
	servers    map[string]*Server
	transports map[string]transport
	order      []string
	httpClient *http.Client
	toolRate   rate.Limit
	toolBurst  int
	limiters   map[string]*rate.Limiter
	observer   Observer
	mu         sync.RWMutex
	logger     *zap.Logger
}

// Observer is told about every tool execution.
type Observer interface {
	ObserveToolCall(tool, status string)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client used by REST transports.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithToolRateLimit throttles calls to tools that declare rate_limited,
// per server.
func WithToolRateLimit(r rate.Limit, burst int) ClientOption {
	return func(c *Client) { c.toolRate, c.toolBurst = r, burst }
}

// WithObserver reports tool executions, for example to metrics.
func WithObserver(o Observer) ClientOption {
	return func(c *Client) { c.observer = o }
}

// NewClient creates a client and registers the given servers.
func NewClient(servers []config.MCPServerConfig, logger *zap.Logger, opts ...ClientOption) *Client {
	c := &Client{
		servers:    make(map[string]*Server),
		transports: make(map[string]transport),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiters:   make(map[string]*rate.Limiter),
		logger:     logger,
	}
	for _, o := range opts {
		o(c)
	}
	for _, s := range servers {
		c.AddServer(s)
	}
	return c
}

// AddServer registers a server and returns its id. The id defaults to a
// hash of the URL and the name to "MCP Server N".
func (c *Client) AddServer(cfg config.MCPServerConfig) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	url := strings.TrimRight(cfg.URL, "/")
	id := cfg.ID
	if id == "" {
		h := fnv.New64a()
		h.Write([]byte(url))
		id = strconv.FormatUint(h.Sum64(), 16)
	}
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("MCP Server %d", len(c.servers)+1)
	}
	auth := cfg.AuthType
	if auth == "" {
		auth = AuthAPIKey
	}
	kind := strings.ToLower(cfg.Transport)
	if kind == "" {
		kind = TransportREST
	}

	srv := &Server{
		ID:           id,
		Name:         name,
		URL:          url,
		Description:  cfg.Description,
		AuthType:     auth,
		Transport:    kind,
		APIKey:       cfg.APIKey,
		Tools:        []Tool{},
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokenURL:     cfg.TokenURL,
	}

	if old, ok := c.transports[id]; ok {
		old.Close()
	} else {
		c.order = append(c.order, id)
	}
	c.servers[id] = srv
	c.transports[id] = c.newTransport(srv)

	c.logger.Info("MCP server added",
		zap.String("id", id),
		zap.String("name", name),
		zap.String("transport", kind))
	return id
}

func (c *Client) newTransport(srv *Server) transport {
	switch srv.Transport {
	case TransportHTTP, TransportSSE:
		return newRPCTransport(srv, c.logger)
	default:
		return newRESTTransport(srv, authorizedClient(srv, c.httpClient))
	}
}

// RemoveServer unregisters a server. It reports whether the server existed.
func (c *Client) RemoveServer(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.servers[id]; !ok {
		return false
	}
	if t := c.transports[id]; t != nil {
		if err := t.Close(); err != nil {
			c.logger.Warn("close MCP transport", zap.String("id", id), zap.Error(err))
		}
	}
	delete(c.servers, id)
	delete(c.transports, id)
	for i, sid := range c.order {
		if sid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// Servers lists registered servers in registration order with their api
// keys masked.
func (c *Client) Servers() []Server {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Server, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.snapshot(c.servers[id]))
	}
	return out
}

// Server returns one server with its api key masked.
func (c *Client) Server(id string) (Server, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.servers[id]
	if !ok {
		return Server{}, false
	}
	return c.snapshot(s), true
}

func (c *Client) snapshot(s *Server) Server {
	out := *s
	out.Tools = append([]Tool(nil), s.Tools...)
	if out.APIKey != "" {
		out.APIKey = maskedSecret
	}
	out.clientSecret = ""
	return out
}

// Tools lists every discovered tool across servers, sorted by id.
func (c *Client) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Tool
	for _, id := range c.order {
		out = append(out, c.servers[id].Tools...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DiscoverTools fetches the tool list of a server and caches it.
func (c *Client) DiscoverTools(ctx context.Context, serverID string) ([]Tool, error) {
	c.mu.RLock()
	t, ok := c.transports[serverID]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, serverID)
	}

	tools, err := t.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover tools on %s: %w", serverID, err)
	}
	for i := range tools {
		tools[i].ServerID = serverID
		if tools[i].ID == "" {
			tools[i].ID = tools[i].Name
		}
	}

	c.mu.Lock()
	if s, ok := c.servers[serverID]; ok {
		s.Tools = tools
	}
	c.mu.Unlock()

	c.logger.Info("MCP tools discovered", zap.String("server", serverID), zap.Int("count", len(tools)))
	return append([]Tool(nil), tools...), nil
}

// DiscoverAll discovers every server concurrently. A server that fails
// is logged and skipped.
func (c *Client) DiscoverAll(ctx context.Context) []Tool {
	c.mu.RLock()
	ids := append([]string(nil), c.order...)
	c.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := c.DiscoverTools(gctx, id); err != nil {
				c.logger.Warn("MCP discovery failed", zap.String("server", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return c.Tools()
}

// ExecuteTool runs a discovered tool. Only lookup and parameter
// validation failures are returned as errors; transport problems come
// back as a ToolResponse with status error.
func (c *Client) ExecuteTool(ctx context.Context, toolID string, params map[string]any, opts ExecuteOptions) (ToolResponse, error) {
	tool, t, ok := c.findTool(toolID)
	if !ok {
		return ToolResponse{}, fmt.Errorf("%w: %s", ErrUnknownTool, toolID)
	}
	if params == nil {
		params = map[string]any{}
	}
	if err := validateParameters(tool.Parameters, params); err != nil {
		return ToolResponse{}, fmt.Errorf("%w: %s: %v", ErrInvalidParameters, toolID, err)
	}

	if tool.RateLimited {
		if err := c.wait(ctx, tool.ServerID); err != nil {
			resp := errorResponse("rate limit wait: %v", err)
			resp.ToolID = toolID
			return resp, nil
		}
	}

	resp := t.Execute(ctx, tool, params, opts.withDefaults())
	resp.ToolID = toolID
	if c.observer != nil {
		c.observer.ObserveToolCall(toolID, resp.Status)
	}
	c.logger.Debug("MCP tool executed",
		zap.String("tool", toolID),
		zap.String("server", tool.ServerID),
		zap.String("status", resp.Status))
	return resp, nil
}

func (c *Client) wait(ctx context.Context, serverID string) error {
	if c.toolRate <= 0 {
		return nil
	}
	c.mu.Lock()
	l, ok := c.limiters[serverID]
	if !ok {
		l = rate.NewLimiter(c.toolRate, max(c.toolBurst, 1))
		c.limiters[serverID] = l
	}
	c.mu.Unlock()
	return l.Wait(ctx)
}

func (c *Client) findTool(toolID string) (Tool, transport, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.order {
		for _, t := range c.servers[id].Tools {
			if t.ID == toolID {
				return t, c.transports[id], true
			}
		}
	}
	return Tool{}, nil, false
}

// Close shuts down every transport.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.transports {
		if err := t.Close(); err != nil {
			c.logger.Warn("close MCP transport", zap.String("id", id), zap.Error(err))
		}
	}
	return nil
}

func errorResponse(format string, args ...any) ToolResponse {
	return ToolResponse{Status: StatusError, Error: fmt.Sprintf(format, args...)}
}
