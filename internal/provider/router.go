package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrNoProvider is returned when nothing is registered to serve a request.
var ErrNoProvider = errors.New("no provider available")

// New builds a provider from its config. Type is "ollama" or "openai".
func New(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Type {
	case "ollama", "":
		return NewOllamaProvider(cfg, logger), nil
	case "openai":
		return NewOpenAIProvider(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// Router holds every configured provider and picks one per agent, walking
// a fallback chain when the chosen provider errors.
type Router struct {
	providers map[string]Provider
	bindings  map[string]string   // agentID -> providerID
	fallbacks map[string][]string // agentID -> fallback provider chain
	chain     []string            // fallback chain for unbound agents
	defaults  string              // default provider ID
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// Register adds a provider. The first one registered becomes the default;
// later ones join the default fallback chain in registration order.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	} else {
		r.chain = append(r.chain, p.ID())
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// DefaultID returns the current default provider ID.
func (r *Router) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// Bind associates an agent with a specific provider.
func (r *Router) Bind(agentID, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[agentID] = providerID
}

// SetFallbacks configures fallback providers for an agent.
func (r *Router) SetFallbacks(agentID string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[agentID] = providerIDs
}

// Route sends a chat request through the agent's provider, then through
// its fallbacks until one succeeds.
func (r *Router) Route(ctx context.Context, agentID string, req *ChatRequest) (*ChatResponse, error) {
	candidates := r.candidates(agentID)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("agent %s: %w", agentID, ErrNoProvider)
	}

	var err error
	for i, p := range candidates {
		var resp *ChatResponse
		resp, err = p.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if i+1 < len(candidates) {
			r.logger.Warn("provider failed, trying fallback",
				zap.String("agent", agentID),
				zap.String("provider", p.ID()),
				zap.String("next", candidates[i+1].ID()),
				zap.Error(err))
		}
	}
	return nil, fmt.Errorf("all providers failed for agent %s: %w", agentID, err)
}

// RouteStream sends a streaming chat request to the agent's primary provider.
func (r *Router) RouteStream(ctx context.Context, agentID string, req *ChatRequest) (<-chan *StreamChunk, error) {
	candidates := r.candidates(agentID)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("agent %s: %w", agentID, ErrNoProvider)
	}
	return candidates[0].ChatStream(ctx, req)
}

func (r *Router) candidates(agentID string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	if pid, ok := r.bindings[agentID]; ok {
		ids = append(ids, pid)
	}
	ids = append(ids, r.defaults)
	if fb, ok := r.fallbacks[agentID]; ok {
		ids = append(ids, fb...)
	} else {
		ids = append(ids, r.chain...)
	}

	seen := make(map[string]bool, len(ids))
	out := make([]Provider, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if p, ok := r.providers[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers sorted by ID.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}
