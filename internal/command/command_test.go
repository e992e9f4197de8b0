package command

import (
	"context"
	"errors"
	"testing"

	"github.com/nidhogg/proposagent/internal/a2a"
	"github.com/nidhogg/proposagent/internal/gateway"
	"github.com/nidhogg/proposagent/internal/knowledge"
	"github.com/nidhogg/proposagent/internal/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{
		Name: "ping",
		Handler: func(_ context.Context, args string, _ *Context) (*Result, error) {
			return &Result{Content: "pong: " + args}, nil
		},
	})
	ctx := context.Background()
	cc := &Context{Platform: "test"}

	res, err := reg.Dispatch(ctx, "  /PING hello world ", cc)
	require.NoError(t, err)
	assert.Equal(t, "pong: hello world", res.Content)

	res, err = reg.Dispatch(ctx, "/unknown", cc)
	require.NoError(t, err)
	assert.Contains(t, res.Content, "Unknown command: /unknown")

	assert.True(t, IsCommand(" /help"))
	assert.False(t, IsCommand("hello /help"))
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Command{Name: "beta"})
	reg.Register(&Command{Name: "alpha"})

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
}

type stubTools struct {
	servers []mcp.Server
	tools   map[string][]mcp.Tool
}

func (s stubTools) Servers() []mcp.Server { return s.servers }
func (s stubTools) DiscoverTools(_ context.Context, id string) ([]mcp.Tool, error) {
	tools, ok := s.tools[id]
	if !ok {
		return nil, mcp.ErrUnknownServer
	}
	return tools, nil
}

type stubKB struct {
	table string
	docs  []knowledge.Document
	err   error
}

func (s *stubKB) Search(_ context.Context, table, _ string, _ int, _ map[string]any) ([]knowledge.Document, error) {
	s.table = table
	return s.docs, s.err
}

type stubStatus []gateway.AdapterStatus

func (s stubStatus) Status() []gateway.AdapterStatus { return s }

func newBuiltins(t *testing.T, deps Deps) (*Registry, *a2a.Protocol) {
	t.Helper()
	hub := a2a.NewProtocol(zap.NewNop())
	ctx := context.Background()
	require.NoError(t, hub.Register(ctx, a2a.AgentInfo{ID: "me", Name: "Me", Capabilities: []string{"text_processing"}}))
	require.NoError(t, hub.Register(ctx, a2a.AgentInfo{ID: "other", Name: "Other", Capabilities: []string{"web_search"}}))
	deps.Hub = hub
	deps.AgentID = "me"
	reg := NewRegistry()
	RegisterBuiltins(reg, deps)
	return reg, hub
}

func TestAgentsCommand(t *testing.T) {
	reg, _ := newBuiltins(t, Deps{})
	ctx := context.Background()

	res, err := reg.Dispatch(ctx, "/agents", &Context{})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "[me] Me")
	assert.Contains(t, res.Content, "[other] Other")

	res, err = reg.Dispatch(ctx, "/agents web_search", &Context{})
	require.NoError(t, err)
	assert.NotContains(t, res.Content, "[me]")
	assert.Contains(t, res.Content, "[other]")

	res, err = reg.Dispatch(ctx, "/agents painting", &Context{})
	require.NoError(t, err)
	assert.Equal(t, `No agents with capability "painting".`, res.Content)
}

func TestSendAndThreadCommands(t *testing.T) {
	reg, hub := newBuiltins(t, Deps{})
	ctx := context.Background()

	res, err := reg.Dispatch(ctx, "/send other please summarise", &Context{})
	require.NoError(t, err)
	receipt, ok := res.Data.(*a2a.SendReceipt)
	require.True(t, ok)
	assert.Equal(t, 1, hub.Pending("other"))

	res, err = reg.Dispatch(ctx, "/threads", &Context{})
	require.NoError(t, err)
	assert.Contains(t, res.Content, receipt.ThreadID)
	assert.Contains(t, res.Content, "please summarise")

	res, err = reg.Dispatch(ctx, "/thread "+receipt.ThreadID, &Context{})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "me -> other (request): please summarise")

	res, err = reg.Dispatch(ctx, "/send ghost hi", &Context{})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "Recipient agent ghost is not registered")

	res, err = reg.Dispatch(ctx, "/send other", &Context{})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "Usage")

	res, err = reg.Dispatch(ctx, "/thread nope", &Context{})
	require.NoError(t, err)
	assert.Equal(t, "Thread nope not found.", res.Content)
}

func TestToolsCommands(t *testing.T) {
	tools := stubTools{
		servers: []mcp.Server{{ID: "s1", Name: "Search", URL: "http://gw", Transport: mcp.TransportREST}},
		tools:   map[string][]mcp.Tool{"s1": {{ID: "searxng_search", Description: "Web search"}}},
	}
	reg, _ := newBuiltins(t, Deps{Tools: tools})
	ctx := context.Background()

	res, err := reg.Dispatch(ctx, "/servers", &Context{})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "[s1] Search http://gw")

	res, err = reg.Dispatch(ctx, "/tools s1", &Context{})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "searxng_search: Web search")

	res, err = reg.Dispatch(ctx, "/tools s9", &Context{})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "Tool discovery failed")
}

func TestKBCommand(t *testing.T) {
	kb := &stubKB{docs: []knowledge.Document{{Content: "MCP runs tools", Relevance: 0.9}}}
	reg, _ := newBuiltins(t, Deps{Knowledge: kb, Table: "docs"})
	ctx := context.Background()

	res, err := reg.Dispatch(ctx, "/kb what is mcp", &Context{})
	require.NoError(t, err)
	assert.Equal(t, "docs", kb.table)
	assert.Contains(t, res.Content, "Document 1 (Relevance: 0.90)")

	kb.docs = nil
	res, err = reg.Dispatch(ctx, "/kb nothing", &Context{})
	require.NoError(t, err)
	assert.Equal(t, knowledge.NoResults, res.Content)

	kb.err = errors.New("db down")
	res, err = reg.Dispatch(ctx, "/kb x", &Context{})
	require.NoError(t, err)
	assert.Equal(t, "Knowledge base search failed: db down", res.Content)
}

func TestHelpListsOnlyWiredCommands(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg, Deps{Status: stubStatus{{Platform: "slack", Connected: true}}})
	ctx := context.Background()

	res, err := reg.Dispatch(ctx, "/help", &Context{})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "/status")
	assert.NotContains(t, res.Content, "/kb")

	res, err = reg.Dispatch(ctx, "/status", &Context{})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "slack: connected")
}
