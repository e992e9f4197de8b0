package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/proposagent/internal/a2a"
	"github.com/nidhogg/proposagent/internal/agent"
	"github.com/nidhogg/proposagent/internal/gateway"
	"github.com/nidhogg/proposagent/internal/graph"
	"github.com/nidhogg/proposagent/internal/knowledge"
	"github.com/nidhogg/proposagent/internal/mcp"
	"github.com/nidhogg/proposagent/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunner struct {
	lastTable string
}

func (f *fakeRunner) ID() string    { return "proposagent" }
func (f *fakeRunner) Name() string  { return "ProPosAgent" }
func (f *fakeRunner) Model() string { return "llama3" }
func (f *fakeRunner) Run(_ context.Context, input string, opts agent.RunOptions) agent.Response {
	f.lastTable = opts.Table
	if input == "explode" {
		return agent.Response{Status: agent.StatusError, Error: "model unavailable"}
	}
	return agent.Response{Status: agent.StatusSuccess, Data: "re: " + input}
}

type fakeTools struct{}

func (fakeTools) Servers() []mcp.Server {
	return []mcp.Server{{ID: "s1", Name: "Search", URL: "http://gw", Transport: mcp.TransportREST}}
}

func (fakeTools) DiscoverTools(_ context.Context, id string) ([]mcp.Tool, error) {
	if id != "s1" {
		return nil, fmt.Errorf("%w: %s", mcp.ErrUnknownServer, id)
	}
	return []mcp.Tool{{ID: "searxng_search", Name: "searxng_search", ServerID: "s1"}}, nil
}

func (fakeTools) ExecuteTool(_ context.Context, id string, params map[string]any, opts mcp.ExecuteOptions) (mcp.ToolResponse, error) {
	switch {
	case id != "searxng_search":
		return mcp.ToolResponse{}, fmt.Errorf("%w: %s", mcp.ErrUnknownTool, id)
	case params["query"] == nil:
		return mcp.ToolResponse{}, fmt.Errorf("%w: query missing", mcp.ErrInvalidParameters)
	}
	return mcp.ToolResponse{ToolID: id, Status: mcp.StatusSuccess, Result: map[string]any{"wait": opts.Wait}}, nil
}

type fakeKnowledge struct {
	inserted [][]string
}

func (f *fakeKnowledge) Backend() string { return "supabase" }

func (f *fakeKnowledge) Search(_ context.Context, table, text string, _ int, _ map[string]any) ([]knowledge.Document, error) {
	if text == "nothing" {
		return nil, nil
	}
	return []knowledge.Document{{ID: "1", Content: table + ":" + text, Relevance: 0.5}}, nil
}

func (f *fakeKnowledge) AddDocuments(_ context.Context, _ string, contents []string, _ []map[string]any) ([]knowledge.Document, error) {
	f.inserted = append(f.inserted, contents)
	out := make([]knowledge.Document, len(contents))
	for i, c := range contents {
		out[i] = knowledge.Document{ID: fmt.Sprint(i + 1), Content: c}
	}
	return out, nil
}

type fakeGraph struct{}

func (fakeGraph) Contacts(_ context.Context, agentID string) ([]graph.Contact, error) {
	switch agentID {
	case "alice":
		return []graph.Contact{{AgentID: "bob", Messages: 3}}, nil
	case "broken":
		return nil, fmt.Errorf("neo4j: connection refused")
	}
	return nil, nil
}

type fakeArchive struct{}

func (fakeArchive) ThreadMessages(_ context.Context, threadID string) ([]a2a.Message, error) {
	switch threadID {
	case "archived":
		at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		return []a2a.Message{
			{MessageID: "m1", ThreadID: threadID, SenderID: "alice", RecipientID: "bob", Content: "Quarterly report\nnumbers attached", Type: a2a.TypeRequest, Timestamp: at},
			{MessageID: "m2", ThreadID: threadID, SenderID: "bob", RecipientID: "alice", Content: "thanks", Type: a2a.TypeResponse, Timestamp: at.Add(time.Minute)},
		}, nil
	case "broken":
		return nil, fmt.Errorf("postgres: connection refused")
	}
	return nil, nil
}

type testEnv struct {
	ts     *httptest.Server
	hub    *a2a.Protocol
	runner *fakeRunner
	kb     *fakeKnowledge
	rest   *gateway.RESTAdapter
}

// newTestEnv wires the handler with in-memory services only.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	gw := gateway.New(logger)
	rest := gateway.NewRESTAdapter(time.Second, logger)
	gw.Register(rest)
	broadcaster := gateway.NewBroadcaster(gw, logger)
	hub := a2a.NewProtocol(logger, a2a.WithRecorder(broadcaster))

	env := &testEnv{hub: hub, runner: &fakeRunner{}, kb: &fakeKnowledge{}, rest: rest}
	h := NewHandler(Deps{
		Agent:       env.runner,
		Hub:         hub,
		Tools:       fakeTools{},
		Knowledge:   env.kb,
		Graph:       fakeGraph{},
		Archive:     fakeArchive{},
		Gateway:     gw,
		REST:        rest,
		Broadcaster: broadcaster,
		Metrics:     metrics.New(),
		Table:       "docs",
	}, logger)
	env.ts = httptest.NewServer(h.Router())
	t.Cleanup(env.ts.Close)
	return env
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func deleteReq(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+path, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	resp := getJSON(t, env.ts, "/api/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decodeJSON(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "supabase", body["knowledge_backend"])
	assert.EqualValues(t, 1, body["mcp_servers"])
}

func TestRun(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.ts, "/api/run", map[string]string{"input": "hello", "table": "faq"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out agent.Response
	decodeJSON(t, resp, &out)
	assert.Equal(t, "re: hello", out.Data)
	assert.Equal(t, "faq", env.runner.lastTable)

	resp = postJSON(t, env.ts, "/api/run", map[string]string{"input": "explode"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	decodeJSON(t, resp, &out)
	assert.Equal(t, "model unavailable", out.Error)

	resp = postJSON(t, env.ts, "/api/run", map[string]string{"input": "  "})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAgentLifecycleAndMessaging(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.ts, "/api/agents", map[string]any{"id": "alice", "capabilities": []string{"web_search"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var info a2a.AgentInfo
	decodeJSON(t, resp, &info)
	assert.Equal(t, a2a.StatusActive, info.Status)

	resp = postJSON(t, env.ts, "/api/agents", map[string]any{"id": "bob"})
	resp.Body.Close()
	resp = postJSON(t, env.ts, "/api/agents", map[string]any{"id": "bob"})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var agents []a2a.AgentInfo
	decodeJSON(t, getJSON(t, env.ts, "/api/agents?capability=web_search"), &agents)
	require.Len(t, agents, 1)
	assert.Equal(t, "alice", agents[0].ID)

	resp = postJSON(t, env.ts, "/api/messages", map[string]string{
		"sender_id": "alice", "recipient_id": "bob", "content": "status report?",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var receipt a2a.SendReceipt
	decodeJSON(t, resp, &receipt)
	assert.Equal(t, "success", receipt.Status)

	var inbox []a2a.Message
	decodeJSON(t, getJSON(t, env.ts, "/api/agents/bob/messages"), &inbox)
	require.Len(t, inbox, 1)
	assert.Equal(t, "status report?", inbox[0].Content)
	decodeJSON(t, getJSON(t, env.ts, "/api/agents/bob/messages"), &inbox)
	assert.Empty(t, inbox)

	var thread threadResponse
	decodeJSON(t, getJSON(t, env.ts, "/api/threads/"+receipt.ThreadID), &thread)
	assert.Equal(t, 1, thread.Thread.MessageCount)
	assert.Len(t, thread.Messages, 1)

	var threads []a2a.ThreadSummary
	decodeJSON(t, getJSON(t, env.ts, "/api/threads"), &threads)
	assert.Len(t, threads, 1)

	resp = postJSON(t, env.ts, "/api/messages", map[string]string{
		"sender_id": "alice", "recipient_id": "carol", "content": "hi",
	})
	var e map[string]string
	decodeJSON(t, resp, &e)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Recipient agent carol is not registered", e["error"])

	resp = deleteReq(t, env.ts, "/api/agents/bob")
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = deleteReq(t, env.ts, "/api/agents/bob")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = getJSON(t, env.ts, "/api/threads/missing")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAgentContacts(t *testing.T) {
	env := newTestEnv(t)

	var body struct {
		Contacts []graph.Contact `json:"contacts"`
	}
	resp := getJSON(t, env.ts, "/api/agents/alice/contacts")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeJSON(t, resp, &body)
	require.Len(t, body.Contacts, 1)
	assert.Equal(t, graph.Contact{AgentID: "bob", Messages: 3}, body.Contacts[0])

	resp = getJSON(t, env.ts, "/api/agents/nobody/contacts")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeJSON(t, resp, &body)
	assert.Empty(t, body.Contacts)

	resp = getJSON(t, env.ts, "/api/agents/broken/contacts")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestThreadFallsBackToArchive(t *testing.T) {
	env := newTestEnv(t)

	var thread threadResponse
	resp := getJSON(t, env.ts, "/api/threads/archived")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeJSON(t, resp, &thread)
	assert.Equal(t, "Quarterly report", thread.Thread.Title)
	assert.Equal(t, 2, thread.Thread.MessageCount)
	assert.Equal(t, []string{"alice", "bob"}, thread.Thread.Participants)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC), thread.Thread.LastActivity.UTC())
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, "thanks", thread.Messages[1].Content)

	resp = getJSON(t, env.ts, "/api/threads/broken")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestBroadcastRelayedToHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.hub.Register(ctx, a2a.AgentInfo{ID: "alice"}))

	resp := postJSON(t, env.ts, "/api/messages", map[string]string{
		"sender_id": "alice", "recipient_id": a2a.Broadcast, "content": "deploy done",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var hist []gateway.BroadcastRecord
	decodeJSON(t, getJSON(t, env.ts, "/api/broadcasts"), &hist)
	require.Len(t, hist, 1)
	assert.Equal(t, "deploy done", hist[0].Message.Content)
	assert.Equal(t, []string{"rest"}, hist[0].Targets)
}

func TestMCPRoutes(t *testing.T) {
	env := newTestEnv(t)

	var servers []mcp.Server
	decodeJSON(t, getJSON(t, env.ts, "/api/mcp/servers"), &servers)
	require.Len(t, servers, 1)

	var tools []mcp.Tool
	decodeJSON(t, getJSON(t, env.ts, "/api/mcp/servers/s1/tools"), &tools)
	require.Len(t, tools, 1)

	resp := getJSON(t, env.ts, "/api/mcp/servers/zzz/tools")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, env.ts, "/api/mcp/tools/searxng_search/execute", map[string]any{
		"parameters": map[string]any{"query": "go"}, "wait": false,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tr mcp.ToolResponse
	decodeJSON(t, resp, &tr)
	assert.Equal(t, mcp.StatusSuccess, tr.Status)
	assert.Equal(t, map[string]any{"wait": false}, tr.Result)

	resp = postJSON(t, env.ts, "/api/mcp/tools/searxng_search/execute", map[string]any{"parameters": map[string]any{}})
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = postJSON(t, env.ts, "/api/mcp/tools/nope/execute", map[string]any{})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestKnowledgeRoutes(t *testing.T) {
	env := newTestEnv(t)

	resp := postJSON(t, env.ts, "/api/knowledge/search", map[string]any{"query": "mcp"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sr searchResponse
	decodeJSON(t, resp, &sr)
	require.Len(t, sr.Documents, 1)
	assert.Equal(t, "docs:mcp", sr.Documents[0].Content)
	assert.True(t, strings.HasPrefix(sr.Context, "CONTEXT INFORMATION:"))

	decodeJSON(t, postJSON(t, env.ts, "/api/knowledge/search", map[string]any{"query": "nothing"}), &sr)
	assert.Equal(t, knowledge.NoResults, sr.Context)

	resp = postJSON(t, env.ts, "/api/knowledge/documents", map[string]any{
		"documents": []map[string]any{{"content": "a"}, {"content": "b", "metadata": map[string]any{"src": "x"}}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var ar addDocumentsResponse
	decodeJSON(t, resp, &ar)
	assert.Equal(t, 2, ar.Inserted)
	assert.Equal(t, [][]string{{"a", "b"}}, env.kb.inserted)

	resp = postJSON(t, env.ts, "/api/knowledge/documents", map[string]any{"documents": []any{}})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRESTGatewayMountedAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.rest.OnMessage(func(m *gateway.InboundMessage) {
		env.rest.Send(context.Background(), &gateway.OutboundMessage{ChannelID: m.ChannelID, Content: "pong"})
	})

	resp := postJSON(t, env.ts, "/api/gateway/rest/message", map[string]string{"content": "ping"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out gateway.OutboundMessage
	decodeJSON(t, resp, &out)
	assert.Equal(t, "pong", out.Content)

	resp = postJSON(t, env.ts, "/api/run", map[string]string{"input": "count me"})
	resp.Body.Close()

	resp = getJSON(t, env.ts, "/metrics")
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `proposagent_agent_runs_total{status="success"} 1`)
}
