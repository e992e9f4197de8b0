package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nidhogg/proposagent/internal/metrics"
)

const (
	StatusInProgress = "in_progress"
	StatusSuccess    = "success"
	StatusError      = "error"
)

// GatewayConfig tunes the gateway.
type GatewayConfig struct {
	RateLimit float64
	Burst     int
	Timeout   time.Duration
}

// Gateway exposes SearXNG as an MCP tool server: the REST
// execute/poll protocol plus a streamable MCP endpoint.
type Gateway struct {
	upstream   *Upstream
	executions *Executions
	limiter    *rate.Limiter
	timeout    time.Duration
	metrics    *metrics.Metrics
	wg         sync.WaitGroup
	logger     *zap.Logger
}

// NewGateway creates a gateway in front of upstream. m may be nil.
func NewGateway(upstream *Upstream, executions *Executions, cfg GatewayConfig, m *metrics.Metrics, logger *zap.Logger) *Gateway {
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		upstream:   upstream,
		executions: executions,
		limiter:    rate.NewLimiter(limit, burst),
		timeout:    timeout,
		metrics:    m,
		logger:     logger,
	}
}

// Router builds the chi router with all routes.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/", g.root)
	r.Get("/health", g.health)
	r.Get("/tools", g.listTools)
	r.With(g.rateLimit).Post("/tools/"+ToolID+"/execute", g.execute)
	r.Get("/tools/"+ToolID+"/executions/{id}", g.executionStatus)
	if g.metrics != nil {
		r.Handle("/metrics", g.metrics.Handler())
	}
	r.Handle("/mcp", g.MCPHandler())

	return r
}

func (g *Gateway) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":        ServiceName,
		"description": serviceDescription,
		"version":     Version,
	})
}

func (g *Gateway) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := g.upstream.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "executions": g.executions.Len()})
}

func (g *Gateway) listTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, []map[string]any{Descriptor()})
}

func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.limiter.Allow() {
			if g.metrics != nil {
				g.metrics.RateLimited.Inc()
			}
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"detail": "Rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type executeRequest struct {
	Parameters *Params `json:"parameters"`
}

func (g *Gateway) execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid request body: " + err.Error()})
		return
	}
	if req.Parameters == nil || req.Parameters.Query == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "parameters.query is required"})
		return
	}

	params := req.Parameters.withDefaults()
	id := g.executions.Start()
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.run(id, params)
	}()

	writeJSON(w, http.StatusOK, Execution{Status: StatusInProgress, ExecutionID: id})
}

// run performs a search detached from the request that started it.
func (g *Gateway) run(id string, p Params) {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	result, err := g.search(ctx, p)
	g.executions.Finish(id, result, err)
	if err != nil {
		g.logger.Warn("search failed", zap.String("execution", id), zap.Error(err))
		return
	}
	g.logger.Debug("search finished", zap.String("execution", id), zap.String("query", p.Query))
}

func (g *Gateway) search(ctx context.Context, p Params) (json.RawMessage, error) {
	start := time.Now()
	result, err := g.upstream.Search(ctx, p)
	if g.metrics != nil {
		g.metrics.SearchDuration.Observe(time.Since(start).Seconds())
		status := StatusSuccess
		if err != nil {
			status = StatusError
		}
		g.metrics.SearchExecutions.WithLabelValues(status).Inc()
	}
	return result, err
}

func (g *Gateway) executionStatus(w http.ResponseWriter, r *http.Request) {
	ex, ok := g.executions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Execution not found"})
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

// Wait blocks until background searches finish or ctx is done.
func (g *Gateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("search gateway: background searches still running")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
