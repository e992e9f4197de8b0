// Package app assembles the agent and its services from configuration.
// Optional backends that cannot be reached are logged and left out.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nidhogg/proposagent/internal/a2a"
	"github.com/nidhogg/proposagent/internal/agent"
	"github.com/nidhogg/proposagent/internal/config"
	"github.com/nidhogg/proposagent/internal/embedding"
	"github.com/nidhogg/proposagent/internal/graph"
	"github.com/nidhogg/proposagent/internal/knowledge"
	"github.com/nidhogg/proposagent/internal/mcp"
	"github.com/nidhogg/proposagent/internal/metrics"
	"github.com/nidhogg/proposagent/internal/provider"
	"github.com/nidhogg/proposagent/internal/store"
	"github.com/nidhogg/proposagent/internal/supabase"
	"github.com/nidhogg/proposagent/internal/vectorstore"
)

const discoverTimeout = 15 * time.Second

// Options override the configured agent identity for one process.
type Options struct {
	AgentID   string
	AgentName string
	Model     string
	Table     string
	// Recorders observe hub traffic in addition to the configured stores.
	Recorders []a2a.Recorder
	// SkipDiscovery leaves MCP tools undiscovered until first use.
	SkipDiscovery bool
}

// App holds every wired service.
type App struct {
	Config    *config.Config
	Metrics   *metrics.Metrics
	Providers *provider.Router
	Embedder  embedding.Provider
	Knowledge *knowledge.Base
	Tools     *mcp.Client
	Hub       *a2a.Protocol
	// Graph is nil unless Neo4j is configured and reachable.
	Graph *graph.Store
	// Archive is nil unless Postgres is configured and reachable.
	Archive *store.Store
	Agent   *agent.Agent
	Table   string

	closers []func(context.Context) error
	logger  *zap.Logger
}

// New wires the app. Required settings are checked by the caller through
// config.Validate; New only fails on settings it cannot use at all.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Metrics: metrics.New(), logger: logger}

	if err := a.initProviders(); err != nil {
		return nil, err
	}
	if err := a.initEmbedder(); err != nil {
		return nil, err
	}

	var pg *store.Store
	if cfg.Supabase.DBURL != "" {
		s, err := store.New(ctx, cfg.Supabase.DBURL, logger)
		if err != nil {
			if cfg.Knowledge.Backend == "postgres" {
				return nil, fmt.Errorf("connect postgres: %w", err)
			}
			logger.Warn("postgres unavailable, running without message persistence", zap.Error(err))
		} else if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		} else {
			pg = s
			a.Archive = s
			a.onClose(func(context.Context) error { s.Close(); return nil })
		}
	}

	if err := a.initKnowledge(pg); err != nil {
		a.Close(ctx)
		return nil, err
	}

	mcpOpts := []mcp.ClientOption{mcp.WithObserver(a.Metrics)}
	if cfg.MCP.RateLimit > 0 {
		mcpOpts = append(mcpOpts, mcp.WithToolRateLimit(rate.Limit(cfg.MCP.RateLimit), cfg.MCP.Burst))
	}
	a.Tools = mcp.NewClient(cfg.MCP.Servers, logger, mcpOpts...)
	a.onClose(func(context.Context) error { return a.Tools.Close() })
	if !opts.SkipDiscovery && len(cfg.MCP.Servers) > 0 {
		dctx, cancel := context.WithTimeout(ctx, discoverTimeout)
		tools := a.Tools.DiscoverAll(dctx)
		cancel()
		logger.Info("MCP tools ready", zap.Int("servers", len(cfg.MCP.Servers)), zap.Int("tools", len(tools)))
	}

	a.Hub = a2a.NewProtocol(logger, a.hubOptions(ctx, pg, opts.Recorders)...)
	a.onClose(func(context.Context) error { return a.Hub.Close() })

	agentCfg := agent.Config{
		ID:            firstNonEmpty(opts.AgentID, cfg.Agent.ID),
		Name:          firstNonEmpty(opts.AgentName, cfg.Agent.Name),
		Model:         firstNonEmpty(opts.Model, cfg.Agent.Model),
		SystemPrompt:  cfg.Agent.SystemPrompt,
		Table:         firstNonEmpty(opts.Table, cfg.Knowledge.Table),
		MaxToolRounds: cfg.Agent.MaxToolRounds,
	}
	a.Table = agentCfg.Table
	deps := agent.Deps{Router: a.Providers, Tools: a.Tools, Hub: a.Hub}
	if a.Knowledge != nil {
		deps.Knowledge = a.Knowledge
	}
	ag, err := agent.New(agentCfg, deps, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Agent = ag
	return a, nil
}

func (a *App) initProviders() error {
	cfg := a.Config
	a.Providers = provider.NewRouter(a.logger)
	a.Providers.Register(provider.NewOllamaProvider(provider.ProviderConfig{
		ID:       "ollama",
		Name:     "Ollama",
		Endpoint: cfg.Ollama.BaseURL,
		Models:   []string{cfg.Ollama.Model},
	}, a.logger))

	for _, pc := range cfg.Providers {
		p, err := provider.New(provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("provider %s: %w", pc.ID, err)
		}
		a.Providers.Register(p)
	}
	return nil
}

func (a *App) initEmbedder() error {
	ec := a.Config.Embedding
	if ec.Provider == "none" {
		return nil
	}
	e, err := embedding.New(embedding.Config{
		Provider:  ec.Provider,
		Endpoint:  ec.Endpoint,
		Model:     ec.Model,
		APIKey:    ec.APIKey,
		Dimension: ec.Dimension,
	})
	if err != nil {
		return err
	}
	a.Embedder = e
	return nil
}

func (a *App) initKnowledge(pg *store.Store) error {
	cfg := a.Config
	var backend knowledge.Backend
	switch cfg.Knowledge.Backend {
	case "none":
		return nil
	case "supabase":
		if cfg.Supabase.URL == "" {
			a.logger.Warn("supabase not configured, knowledge base disabled")
			return nil
		}
		client, err := supabase.New(cfg.Supabase.URL, cfg.Supabase.Key, a.logger)
		if err != nil {
			return fmt.Errorf("supabase client: %w", err)
		}
		backend = knowledge.NewSupabaseBackend(client)
	case "postgres":
		if pg == nil {
			return errors.New("postgres knowledge backend requires SUPABASE_DB_URL")
		}
		backend = knowledge.NewPostgresBackend(pg)
	case "qdrant":
		if a.Embedder == nil {
			return fmt.Errorf("qdrant knowledge backend: %w", knowledge.ErrEmbeddingRequired)
		}
		client, err := vectorstore.NewClient(vectorstore.QdrantConfig{
			Host: firstNonEmpty(cfg.Database.Qdrant.Host, "localhost"),
			Port: cfg.Database.Qdrant.Port,
		})
		if err != nil {
			return err
		}
		a.onClose(func(context.Context) error { return client.Close() })
		backend = knowledge.NewQdrantBackend(client)
	default:
		return fmt.Errorf("unknown knowledge backend %q", cfg.Knowledge.Backend)
	}

	a.Knowledge = knowledge.New(backend, a.Embedder, a.logger, knowledge.WithBatchSize(cfg.Knowledge.BatchSize))
	a.logger.Info("knowledge base ready",
		zap.String("backend", backend.Name()),
		zap.String("table", cfg.Knowledge.Table))
	return nil
}

// hubOptions attaches the Redis bus and message recorders that are
// configured and reachable.
func (a *App) hubOptions(ctx context.Context, pg *store.Store, extra []a2a.Recorder) []a2a.Option {
	cfg := a.Config
	var opts []a2a.Option

	if r := cfg.Database.Redis; r.Addr != "" {
		bus, err := a2a.NewRedisBus(ctx, r.Addr, r.Password, r.DB, a.logger)
		if err != nil {
			a.logger.Warn("redis unavailable, A2A hub is process-local", zap.Error(err))
		} else {
			opts = append(opts, a2a.WithBus(bus))
		}
	}
	if pg != nil {
		opts = append(opts, a2a.WithRecorder(pg))
	}
	if n := cfg.Database.Neo4j; n.URI != "" {
		g, err := graph.NewStore(n.URI, n.User, n.Password, a.logger)
		if err == nil {
			err = g.EnsureSchema(ctx)
			if err != nil {
				g.Close(ctx)
			}
		}
		if err != nil {
			a.logger.Warn("neo4j unavailable, running without conversation graph", zap.Error(err))
		} else {
			opts = append(opts, a2a.WithRecorder(g))
			a.Graph = g
			a.onClose(g.Close)
		}
	}
	for _, r := range extra {
		opts = append(opts, a2a.WithRecorder(r))
	}
	return opts
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases every service in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
