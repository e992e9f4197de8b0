package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubProvider struct {
	id    string
	err   error
	calls int
}

func (s *stubProvider) ID() string   { return s.id }
func (s *stubProvider) Name() string { return s.id }
func (s *stubProvider) Chat(_ context.Context, _ *ChatRequest) (*ChatResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &ChatResponse{Model: s.id, Content: "from " + s.id}, nil
}
func (s *stubProvider) ChatStream(context.Context, *ChatRequest) (<-chan *StreamChunk, error) {
	return nil, errors.New("not implemented")
}
func (s *stubProvider) ListModels(context.Context) ([]Model, error) { return nil, nil }
func (s *stubProvider) HealthCheck(context.Context) error           { return s.err }

func TestRouterFallsBackInRegistrationOrder(t *testing.T) {
	r := NewRouter(zap.NewNop())
	local := &stubProvider{id: "ollama", err: errors.New("connection refused")}
	remote := &stubProvider{id: "openai"}
	r.Register(local)
	r.Register(remote)

	resp, err := r.Route(context.Background(), "agent-1", &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from openai", resp.Content)
	assert.Equal(t, 1, local.calls)
}

func TestRouterBindingWins(t *testing.T) {
	r := NewRouter(zap.NewNop())
	a := &stubProvider{id: "a"}
	b := &stubProvider{id: "b"}
	r.Register(a)
	r.Register(b)
	r.Bind("agent-1", "b")

	resp, err := r.Route(context.Background(), "agent-1", &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from b", resp.Content)
	assert.Zero(t, a.calls)
}

func TestRouterAllFail(t *testing.T) {
	r := NewRouter(zap.NewNop())
	_, err := r.Route(context.Background(), "x", &ChatRequest{})
	assert.ErrorIs(t, err, ErrNoProvider)

	r.Register(&stubProvider{id: "a", err: errors.New("boom")})
	_, err = r.Route(context.Background(), "x", &ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestNewByType(t *testing.T) {
	p, err := New(ProviderConfig{Type: "openai", ID: "oa"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "oa", p.ID())

	p, err = New(ProviderConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.ID())

	_, err = New(ProviderConfig{Type: "anthropic"}, zap.NewNop())
	assert.Error(t, err)
}
