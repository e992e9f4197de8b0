package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/proposagent/internal/a2a"
	"github.com/nidhogg/proposagent/internal/knowledge"
	"github.com/nidhogg/proposagent/internal/mcp"
	"github.com/nidhogg/proposagent/internal/provider"
)

func object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

// registerBuiltinTools adds the tools whose backing service is present.
func registerBuiltinTools(reg *ToolRegistry, a *Agent) {
	if a.deps.Knowledge != nil {
		reg.Register(provider.FunctionTool("query_knowledge_base",
			"Query the knowledge base for information relevant to a search query.",
			object(map[string]any{
				"search_query":    prop("string", "The search query to find relevant information"),
				"n_results":       prop("integer", "Number of results to return (default 5)"),
				"filter_metadata": prop("object", "Optional metadata filters to apply"),
			}, "search_query"),
		), a.queryKnowledgeBase)
	}

	if a.deps.Tools != nil {
		reg.Register(provider.FunctionTool("call_mcp_tool",
			"Call a tool on an MCP server and wait for its result.",
			object(map[string]any{
				"tool_id":    prop("string", "ID of the tool to execute"),
				"parameters": prop("object", "Parameters to pass to the tool"),
			}, "tool_id"),
		), a.callMCPTool)

		reg.Register(provider.FunctionTool("discover_mcp_tools",
			"Discover the tools available on an MCP server.",
			object(map[string]any{
				"server_id": prop("string", "ID of the MCP server to discover tools from"),
			}, "server_id"),
		), a.discoverMCPTools)

		reg.Register(provider.FunctionTool("list_mcp_servers",
			"List the configured MCP servers and their IDs.",
			object(map[string]any{}),
		), a.listMCPServers)
	}

	if a.deps.Hub != nil {
		reg.Register(provider.FunctionTool("send_a2a_message",
			"Send a message to another agent. Use \"broadcast\" as recipient to reach every agent.",
			object(map[string]any{
				"recipient_id": prop("string", "ID of the recipient agent"),
				"content":      prop("string", "Content of the message"),
				"message_type": prop("string", "Type of message: request, response or notification"),
				"thread_id":    prop("string", "Optional thread ID to continue a conversation"),
			}, "recipient_id", "content"),
		), a.sendA2AMessage)

		reg.Register(provider.FunctionTool("list_available_agents",
			"List agents reachable over A2A, optionally filtered by capability or ranked against a task description.",
			object(map[string]any{
				"capability":  prop("string", "Optional capability to filter agents by"),
				"description": prop("string", "Optional task description to match agents against"),
			}),
		), a.listAvailableAgents)

		reg.Register(provider.FunctionTool("check_a2a_messages",
			"Fetch and clear the messages other agents have sent to this agent.",
			object(map[string]any{}),
		), a.checkA2AMessages)
	}
}

func (a *Agent) queryKnowledgeBase(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		SearchQuery    string         `json:"search_query"`
		NResults       int            `json:"n_results"`
		FilterMetadata map[string]any `json:"filter_metadata"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("query_knowledge_base: %w", err)
	}
	if args.SearchQuery == "" {
		return "", fmt.Errorf("query_knowledge_base: search_query is required")
	}
	if args.NResults <= 0 {
		args.NResults = knowledge.DefaultResults
	}

	docs, err := a.deps.Knowledge.Search(ctx, stateFrom(ctx).tableOr(a.cfg.Table), args.SearchQuery, args.NResults, args.FilterMetadata)
	if err != nil {
		return "", err
	}
	return knowledge.FormatContext(docs), nil
}

func (a *Agent) callMCPTool(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		ToolID     string         `json:"tool_id"`
		Parameters map[string]any `json:"parameters"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("call_mcp_tool: %w", err)
	}

	resp, err := a.deps.Tools.ExecuteTool(ctx, args.ToolID, args.Parameters, mcp.DefaultExecuteOptions())
	if err != nil {
		return errorResult(err), nil
	}
	if resp.Status == mcp.StatusSuccess {
		return jsonResult(map[string]any{"status": mcp.StatusSuccess, "result": resp.Result})
	}
	msg := resp.Error
	if msg == "" {
		msg = "Unknown error"
	}
	return jsonResult(map[string]any{"status": mcp.StatusError, "error": msg})
}

func (a *Agent) discoverMCPTools(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		ServerID string `json:"server_id"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("discover_mcp_tools: %w", err)
	}

	tools, err := a.deps.Tools.DiscoverTools(ctx, args.ServerID)
	if err != nil {
		return jsonResult([]map[string]string{{"error": err.Error()}})
	}
	type brief struct {
		ID          string         `json:"id"`
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	}
	out := make([]brief, len(tools))
	for i, t := range tools {
		out[i] = brief{ID: t.ID, Name: t.Name, Description: t.Description, Parameters: t.Parameters}
	}
	return jsonResult(out)
}

func (a *Agent) listMCPServers(_ context.Context, _ json.RawMessage) (string, error) {
	type brief struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		URL         string `json:"url"`
		Description string `json:"description"`
		AuthType    string `json:"auth_type"`
		Transport   string `json:"transport"`
		APIKey      string `json:"api_key,omitempty"`
	}
	servers := a.deps.Tools.Servers()
	out := make([]brief, len(servers))
	for i, s := range servers {
		out[i] = brief{
			ID:          s.ID,
			Name:        s.Name,
			URL:         s.URL,
			Description: s.Description,
			AuthType:    s.AuthType,
			Transport:   s.Transport,
			APIKey:      s.APIKey,
		}
	}
	return jsonResult(out)
}

func (a *Agent) sendA2AMessage(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		RecipientID string `json:"recipient_id"`
		Content     string `json:"content"`
		MessageType string `json:"message_type"`
		ThreadID    string `json:"thread_id"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("send_a2a_message: %w", err)
	}
	if args.MessageType == "" {
		args.MessageType = a2a.TypeRequest
	}

	receipt, err := a.deps.Hub.Send(ctx, a2a.Message{
		SenderID:    a.cfg.ID,
		RecipientID: args.RecipientID,
		Content:     args.Content,
		Type:        args.MessageType,
		ThreadID:    args.ThreadID,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(receipt)
}

func (a *Agent) listAvailableAgents(ctx context.Context, raw json.RawMessage) (string, error) {
	var args struct {
		Capability  string `json:"capability"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("list_available_agents: %w", err)
	}
	var agents []a2a.AgentInfo
	switch {
	case args.Capability != "":
		agents = a.deps.Hub.AgentsWithCapability(ctx, args.Capability)
	case args.Description != "":
		agents = a.deps.Hub.MatchAgents(ctx, args.Description)
	default:
		agents = a.deps.Hub.Agents(ctx)
	}
	if agents == nil {
		agents = []a2a.AgentInfo{}
	}
	return jsonResult(agents)
}

func (a *Agent) checkA2AMessages(_ context.Context, _ json.RawMessage) (string, error) {
	msgs := a.deps.Hub.Receive(a.cfg.ID)
	if msgs == nil {
		msgs = []a2a.Message{}
	}
	return jsonResult(msgs)
}
