// Package mcp is a client for MCP tool gateways. Servers are reached
// either through the REST execute/poll protocol or through the MCP
// JSON-RPC transports (streamable HTTP and SSE).
package mcp

import (
	"encoding/json"
	"errors"
	"time"
)

const (
	StatusSuccess    = "success"
	StatusError      = "error"
	StatusInProgress = "in_progress"

	AuthAPIKey = "api_key"
	AuthOAuth  = "oauth"
	AuthNone   = "none"

	TransportREST = "rest"
	TransportHTTP = "http"
	TransportSSE  = "sse"

	maskedSecret = "********"
)

var (
	ErrUnknownServer     = errors.New("unknown MCP server")
	ErrUnknownTool       = errors.New("unknown tool")
	ErrInvalidParameters = errors.New("invalid tool parameters")
)

// Tool describes one tool exposed by a server.
type Tool struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Version      string         `json:"version"`
	Parameters   map[string]any `json:"parameters"`
	Returns      map[string]any `json:"returns"`
	IsStreaming  bool           `json:"is_streaming"`
	AuthRequired bool           `json:"auth_required"`
	RateLimited  bool           `json:"rate_limited"`
	ServerID     string         `json:"server_id"`
}

// UnmarshalJSON defaults AuthRequired to true when the field is absent.
func (t *Tool) UnmarshalJSON(data []byte) error {
	type plain Tool
	p := plain{AuthRequired: true}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = Tool(p)
	return nil
}

// Server is a registered tool gateway.
type Server struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description"`
	AuthType    string `json:"auth_type"`
	Transport   string `json:"transport"`
	APIKey      string `json:"api_key,omitempty"`
	Tools       []Tool `json:"tools"`

	clientID     string
	clientSecret string
	tokenURL     string
}

// ToolResponse is the outcome of a tool execution.
type ToolResponse struct {
	ToolID      string `json:"tool_id"`
	Status      string `json:"status"`
	ExecutionID string `json:"execution_id,omitempty"`
	Result      any    `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ExecuteOptions controls how ExecuteTool waits for asynchronous tools.
type ExecuteOptions struct {
	Wait         bool
	Timeout      time.Duration
	PollInterval time.Duration
	MaxAttempts  int
}

// DefaultExecuteOptions waits up to 30s, polling every 500ms.
func DefaultExecuteOptions() ExecuteOptions {
	return ExecuteOptions{Wait: true, Timeout: 30 * time.Second, PollInterval: 500 * time.Millisecond}
}

func (o ExecuteOptions) withDefaults() ExecuteOptions {
	d := DefaultExecuteOptions()
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	return o
}
