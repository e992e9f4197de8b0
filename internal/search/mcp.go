package search

import (
	"context"
	"net/http"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes searxng_search over MCP JSON-RPC. Calls are
// synchronous; there is no execution id to poll.
func (g *Gateway) MCPServer() *server.MCPServer {
	s := server.NewMCPServer(ServiceName, Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	tool := mcpgo.NewTool(ToolID,
		mcpgo.WithDescription(toolDescription),
		mcpgo.WithString("query", mcpgo.Required(), mcpgo.Description("The search query")),
		mcpgo.WithNumber("num_results", mcpgo.Description("Number of results to return"), mcpgo.DefaultNumber(DefaultResults)),
		mcpgo.WithString("language", mcpgo.Description("Language filter"), mcpgo.DefaultString(DefaultLanguage)),
		mcpgo.WithArray("categories", mcpgo.Description("Search categories"), mcpgo.WithStringItems()),
	)
	s.AddTool(tool, g.callSearch)
	return s
}

// MCPHandler serves the MCP server over streamable HTTP.
func (g *Gateway) MCPHandler() http.Handler {
	return server.NewStreamableHTTPServer(g.MCPServer())
}

func (g *Gateway) callSearch(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	p := Params{
		Query:      query,
		NumResults: req.GetInt("num_results", DefaultResults),
		Language:   req.GetString("language", DefaultLanguage),
		Categories: req.GetStringSlice("categories", DefaultCategories),
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	result, err := g.search(ctx, p.withDefaults())
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}
	return mcpgo.NewToolResultText(string(result)), nil
}
