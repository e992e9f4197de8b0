package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nidhogg/proposagent/internal/config"
)

const searchTools = `{"tools":[{
	"id": "search",
	"name": "Search",
	"description": "web search",
	"version": "1.0.0",
	"parameters": {
		"type": "object",
		"properties": {"query": {"type": "string"}},
		"required": ["query"]
	}
}]}`

func newGateway(t *testing.T, polls int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var seen atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tools", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		w.Write([]byte(searchTools))
	})
	mux.HandleFunc("POST /tools/search/execute", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Parameters map[string]any `json:"parameters"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "golang", body.Parameters["query"])
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"status":"in_progress","execution_id":"e1"}`))
	})
	mux.HandleFunc("GET /tools/search/executions/e1", func(w http.ResponseWriter, r *http.Request) {
		if seen.Add(1) < polls {
			w.Write([]byte(`{"status":"in_progress"}`))
			return
		}
		w.Write([]byte(`{"status":"success","result":{"hits":2}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &seen
}

func fastOptions() ExecuteOptions {
	return ExecuteOptions{Wait: true, Timeout: 2 * time.Second, PollInterval: 5 * time.Millisecond}
}

func TestAddServerDefaults(t *testing.T) {
	c := NewClient(nil, zap.NewNop())
	id := c.AddServer(config.MCPServerConfig{URL: "http://tools.local/", APIKey: "secret"})

	s, ok := c.Server(id)
	require.True(t, ok)
	assert.Equal(t, "http://tools.local", s.URL)
	assert.Equal(t, "MCP Server 1", s.Name)
	assert.Equal(t, AuthAPIKey, s.AuthType)
	assert.Equal(t, TransportREST, s.Transport)
	assert.Equal(t, maskedSecret, s.APIKey)

	again := c.AddServer(config.MCPServerConfig{URL: "http://tools.local"})
	assert.Equal(t, id, again)
	assert.Len(t, c.Servers(), 1)

	assert.True(t, c.RemoveServer(id))
	assert.False(t, c.RemoveServer(id))
}

func TestDiscoverAndExecuteWithPolling(t *testing.T) {
	srv, seen := newGateway(t, 3)
	c := NewClient([]config.MCPServerConfig{{ID: "gw", URL: srv.URL, APIKey: "key"}}, zap.NewNop())

	tools, err := c.DiscoverTools(context.Background(), "gw")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "gw", tools[0].ServerID)
	assert.True(t, tools[0].AuthRequired)

	resp, err := c.ExecuteTool(context.Background(), "search", map[string]any{"query": "golang"}, fastOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, "search", resp.ToolID)
	assert.Equal(t, "e1", resp.ExecutionID)
	assert.Equal(t, map[string]any{"hits": float64(2)}, resp.Result)
	assert.Equal(t, int32(3), seen.Load())
}

func TestExecuteWithoutWaitReturnsInProgress(t *testing.T) {
	srv, seen := newGateway(t, 1)
	c := NewClient([]config.MCPServerConfig{{ID: "gw", URL: srv.URL, APIKey: "key"}}, zap.NewNop())
	_, err := c.DiscoverTools(context.Background(), "gw")
	require.NoError(t, err)

	resp, err := c.ExecuteTool(context.Background(), "search", map[string]any{"query": "golang"}, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, resp.Status)
	assert.Zero(t, seen.Load())
}

func TestExecuteTimesOutAfterMaxAttempts(t *testing.T) {
	srv, _ := newGateway(t, 100)
	c := NewClient([]config.MCPServerConfig{{ID: "gw", URL: srv.URL, APIKey: "key"}}, zap.NewNop())
	_, err := c.DiscoverTools(context.Background(), "gw")
	require.NoError(t, err)

	opts := fastOptions()
	opts.MaxAttempts = 2
	resp, err := c.ExecuteTool(context.Background(), "search", map[string]any{"query": "golang"}, opts)
	require.NoError(t, err)
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "Execution timed out", resp.Error)
}

func TestExecuteUnknownTool(t *testing.T) {
	c := NewClient(nil, zap.NewNop())
	_, err := c.ExecuteTool(context.Background(), "nope", nil, fastOptions())
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestExecuteRejectsInvalidParameters(t *testing.T) {
	srv, _ := newGateway(t, 1)
	c := NewClient([]config.MCPServerConfig{{ID: "gw", URL: srv.URL, APIKey: "key"}}, zap.NewNop())
	_, err := c.DiscoverTools(context.Background(), "gw")
	require.NoError(t, err)

	_, err = c.ExecuteTool(context.Background(), "search", map[string]any{"query": 42}, fastOptions())
	assert.ErrorIs(t, err, ErrInvalidParameters)
}

func TestExecuteTransportFailureIsResponse(t *testing.T) {
	srv, _ := newGateway(t, 1)
	c := NewClient([]config.MCPServerConfig{{ID: "gw", URL: srv.URL, APIKey: "key"}}, zap.NewNop())
	_, err := c.DiscoverTools(context.Background(), "gw")
	require.NoError(t, err)
	srv.Close()

	resp, err := c.ExecuteTool(context.Background(), "search", map[string]any{"query": "golang"}, fastOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Error, "Failed to connect to MCP server")
}

func TestDiscoverUnknownServer(t *testing.T) {
	c := NewClient(nil, zap.NewNop())
	_, err := c.DiscoverTools(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownServer)
}

func TestDiscoverBareArrayAndStatusError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /a/tools", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`[{"id":"x","name":"X","auth_required":false}]`))
	})
	mux.HandleFunc("GET /b/tools", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient([]config.MCPServerConfig{
		{ID: "a", URL: srv.URL + "/a", AuthType: AuthNone},
		{ID: "b", URL: srv.URL + "/b"},
	}, zap.NewNop())

	tools := c.DiscoverAll(context.Background())
	require.Len(t, tools, 1)
	assert.Equal(t, "x", tools[0].ID)
	assert.False(t, tools[0].AuthRequired)

	_, err := c.DiscoverTools(context.Background(), "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestOAuthClientCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("GET /tools", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"tools":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient([]config.MCPServerConfig{{
		ID:           "o",
		URL:          srv.URL,
		AuthType:     AuthOAuth,
		ClientID:     "id",
		ClientSecret: "secret",
		TokenURL:     srv.URL + "/token",
	}}, zap.NewNop())

	tools, err := c.DiscoverTools(context.Background(), "o")
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestToolAuthRequiredDefault(t *testing.T) {
	var tool Tool
	require.NoError(t, json.Unmarshal([]byte(`{"id":"t"}`), &tool))
	assert.True(t, tool.AuthRequired)
}

type countingObserver struct{ calls map[string]int }

func (o *countingObserver) ObserveToolCall(tool, status string) { o.calls[tool+"/"+status]++ }

func TestRateLimitedToolIsThrottled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tools", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"slow","name":"Slow","rate_limited":true}]`))
	})
	mux.HandleFunc("POST /tools/slow/execute", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","result":1}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	obs := &countingObserver{calls: map[string]int{}}
	c := NewClient([]config.MCPServerConfig{{ID: "s", URL: srv.URL, AuthType: AuthNone}}, zap.NewNop(),
		WithToolRateLimit(rate.Limit(0.001), 1), WithObserver(obs))
	_, err := c.DiscoverTools(context.Background(), "s")
	require.NoError(t, err)

	resp, err := c.ExecuteTool(context.Background(), "slow", nil, fastOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, resp.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	resp, err = c.ExecuteTool(ctx, "slow", nil, fastOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Error, "rate limit wait")
	assert.Equal(t, 1, obs.calls["slow/success"])
}
