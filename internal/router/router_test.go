package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/proposagent/internal/agent"
	"github.com/nidhogg/proposagent/internal/command"
	"github.com/nidhogg/proposagent/internal/gateway"
	"github.com/nidhogg/proposagent/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunner struct {
	inputs  []string
	history [][]provider.Message
	fail    bool
}

func (f *fakeRunner) ID() string   { return "agent-1" }
func (f *fakeRunner) Name() string { return "ProPosAgent" }
func (f *fakeRunner) Run(_ context.Context, input string, opts agent.RunOptions) agent.Response {
	f.inputs = append(f.inputs, input)
	f.history = append(f.history, opts.History)
	if f.fail {
		return agent.Response{Status: agent.StatusError, Error: "ollama unreachable"}
	}
	return agent.Response{Status: agent.StatusSuccess, Data: "answer to " + input}
}

type recordingSender struct {
	mu   sync.Mutex
	sent []*gateway.OutboundMessage
}

func (s *recordingSender) Send(_ context.Context, m *gateway.OutboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return nil
}

func (s *recordingSender) last() *gateway.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

type countingObserver struct{ statuses []string }

func (c *countingObserver) ObserveAgentRun(status string, _ time.Time) {
	c.statuses = append(c.statuses, status)
}

func TestHandleRunsAgentAndKeepsHistory(t *testing.T) {
	runner := &fakeRunner{}
	out := &recordingSender{}
	obs := &countingObserver{}
	mr := New(runner, out, nil, zap.NewNop(), WithObserver(obs), WithHistoryLimit(2))

	in := &gateway.InboundMessage{Platform: "slack", ChannelID: "C1", Content: "@ProPosAgent what is A2A?", ReplyTo: "1.0"}
	mr.Handle(in)

	require.Equal(t, []string{"what is A2A?"}, runner.inputs)
	reply := out.last()
	assert.Equal(t, "answer to what is A2A?", reply.Content)
	assert.Equal(t, "agent-1", reply.AgentID)
	assert.Equal(t, "1.0", reply.ReplyTo)
	assert.Equal(t, []string{agent.StatusSuccess}, obs.statuses)

	mr.Handle(&gateway.InboundMessage{Platform: "slack", ChannelID: "C1", Content: "and MCP?"})
	require.Len(t, runner.history[1], 2)
	assert.Equal(t, provider.RoleUser, runner.history[1][0].Role)
	assert.Equal(t, "what is A2A?", runner.history[1][0].Content)

	mr.Handle(&gateway.InboundMessage{Platform: "slack", ChannelID: "C2", Content: "fresh"})
	assert.Empty(t, runner.history[2])
}

func TestHandleAgentError(t *testing.T) {
	runner := &fakeRunner{fail: true}
	out := &recordingSender{}
	mr := New(runner, out, nil, zap.NewNop())

	mr.Handle(&gateway.InboundMessage{Platform: "discord", ChannelID: "c", Content: "hi"})
	assert.Equal(t, "Agent error: ollama unreachable", out.last().Content)

	runner.fail = false
	mr.Handle(&gateway.InboundMessage{Platform: "discord", ChannelID: "c", Content: "again"})
	assert.Empty(t, runner.history[1])
}

func TestHandleDispatchesCommands(t *testing.T) {
	runner := &fakeRunner{}
	out := &recordingSender{}
	reg := command.NewRegistry()
	command.RegisterBuiltins(reg, command.Deps{})
	mr := New(runner, out, reg, zap.NewNop())

	mr.Handle(&gateway.InboundMessage{Platform: "rest", ChannelID: "x", Content: "/help"})
	assert.Empty(t, runner.inputs)
	assert.Contains(t, out.last().Content, "Available commands:")
}

func TestConversationKey(t *testing.T) {
	assert.Equal(t, "", conversationKey("rest", "uuid", ""))
	assert.Equal(t, "rest:u1", conversationKey("rest", "uuid", "u1"))
	assert.Equal(t, "slack:C1", conversationKey("slack", "C1", "U9"))
}

func TestResetCommandForgetsChannel(t *testing.T) {
	runner := &fakeRunner{}
	out := &recordingSender{}
	mr := New(runner, out, command.NewRegistry(), zap.NewNop())

	mr.Handle(&gateway.InboundMessage{Platform: "discord", ChannelID: "D1", Content: "hi"})
	mr.Handle(&gateway.InboundMessage{Platform: "discord", ChannelID: "D2", Content: "hi"})
	mr.Handle(&gateway.InboundMessage{Platform: "discord", ChannelID: "D1", Content: "/reset"})
	assert.Equal(t, "Forgot 2 message(s).", out.last().Content)

	mr.Handle(&gateway.InboundMessage{Platform: "discord", ChannelID: "D1", Content: "again"})
	assert.Empty(t, runner.history[2])
	mr.Handle(&gateway.InboundMessage{Platform: "discord", ChannelID: "D2", Content: "again"})
	assert.Len(t, runner.history[3], 2)
}
