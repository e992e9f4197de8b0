// Package api is the agent server's HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/proposagent/internal/a2a"
	"github.com/nidhogg/proposagent/internal/agent"
	"github.com/nidhogg/proposagent/internal/gateway"
	"github.com/nidhogg/proposagent/internal/graph"
	"github.com/nidhogg/proposagent/internal/knowledge"
	"github.com/nidhogg/proposagent/internal/mcp"
	"github.com/nidhogg/proposagent/internal/metrics"
	"go.uber.org/zap"
)

// Runner is the agent served by the API.
type Runner interface {
	ID() string
	Name() string
	Model() string
	Run(ctx context.Context, input string, opts agent.RunOptions) agent.Response
}

// Hub is the A2A hub.
type Hub interface {
	Register(ctx context.Context, info a2a.AgentInfo) error
	Unregister(ctx context.Context, agentID string) error
	Agent(agentID string) (a2a.AgentInfo, bool)
	Agents(ctx context.Context) []a2a.AgentInfo
	AgentsWithCapability(ctx context.Context, capability string) []a2a.AgentInfo
	Send(ctx context.Context, msg a2a.Message) (*a2a.SendReceipt, error)
	Receive(agentID string) []a2a.Message
	Threads() []a2a.ThreadSummary
	Thread(threadID string) (a2a.ThreadSummary, bool)
	ThreadHistory(threadID string) []a2a.Message
}

// Tools is the MCP client.
type Tools interface {
	Servers() []mcp.Server
	DiscoverTools(ctx context.Context, serverID string) ([]mcp.Tool, error)
	ExecuteTool(ctx context.Context, toolID string, params map[string]any, opts mcp.ExecuteOptions) (mcp.ToolResponse, error)
}

// Knowledge is the knowledge base.
type Knowledge interface {
	Backend() string
	Search(ctx context.Context, table, text string, limit int, filter map[string]any) ([]knowledge.Document, error)
	AddDocuments(ctx context.Context, table string, contents []string, metadatas []map[string]any) ([]knowledge.Document, error)
}

// Graph answers queries over the recorded conversation graph.
type Graph interface {
	Contacts(ctx context.Context, agentID string) ([]graph.Contact, error)
}

// Archive reads persisted A2A threads.
type Archive interface {
	ThreadMessages(ctx context.Context, threadID string) ([]a2a.Message, error)
}

// Deps are the services behind the routes. Routes whose service is nil
// are not mounted.
type Deps struct {
	Agent       Runner
	Hub         Hub
	Tools       Tools
	Knowledge   Knowledge
	Graph       Graph
	Archive     Archive
	Gateway     *gateway.Gateway
	REST        *gateway.RESTAdapter
	Broadcaster *gateway.Broadcaster
	Metrics     *metrics.Metrics
	// Table is the default knowledge-base table.
	Table string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps    Deps
	started time.Time
	logger  *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	if deps.Table == "" {
		deps.Table = agent.DefaultTable
	}
	return &Handler{deps: deps, started: time.Now(), logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		if h.deps.Agent != nil {
			r.Post("/run", h.run)
		}
		if h.deps.Hub != nil {
			r.Get("/agents", h.listAgents)
			r.Post("/agents", h.registerAgent)
			r.Get("/agents/{id}", h.getAgent)
			r.Delete("/agents/{id}", h.unregisterAgent)
			r.Get("/agents/{id}/messages", h.receiveMessages)
			r.Post("/messages", h.sendMessage)
			r.Get("/threads", h.listThreads)
			r.Get("/threads/{id}", h.getThread)
		}
		if h.deps.Graph != nil {
			r.Get("/agents/{id}/contacts", h.agentContacts)
		}
		if h.deps.Tools != nil {
			r.Get("/mcp/servers", h.listServers)
			r.Get("/mcp/servers/{id}/tools", h.discoverTools)
			r.Post("/mcp/tools/{id}/execute", h.executeTool)
		}
		if h.deps.Knowledge != nil {
			r.Post("/knowledge/search", h.searchKnowledge)
			r.Post("/knowledge/documents", h.addDocuments)
		}
		if h.deps.REST != nil {
			r.Mount("/gateway/rest", h.deps.REST.Routes())
		}
		if h.deps.Gateway != nil {
			r.Get("/gateway/status", h.gatewayStatus)
		}
		if h.deps.Broadcaster != nil {
			r.Get("/broadcasts", h.listBroadcasts)
		}
	})

	if h.deps.Metrics != nil {
		r.Handle("/metrics", h.deps.Metrics.Handler())
	}
	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if h.deps.Agent != nil {
		resp["agent"] = map[string]string{
			"id":    h.deps.Agent.ID(),
			"name":  h.deps.Agent.Name(),
			"model": h.deps.Agent.Model(),
		}
	}
	if h.deps.Knowledge != nil {
		resp["knowledge_backend"] = h.deps.Knowledge.Backend()
	}
	if h.deps.Tools != nil {
		resp["mcp_servers"] = len(h.deps.Tools.Servers())
	}
	if h.deps.Hub != nil {
		resp["agents"] = len(h.deps.Hub.Agents(r.Context()))
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, a2a.ErrNotRegistered),
		errors.Is(err, mcp.ErrUnknownServer),
		errors.Is(err, mcp.ErrUnknownTool):
		return http.StatusNotFound
	case errors.Is(err, a2a.ErrAlreadyRegistered):
		return http.StatusConflict
	case errors.Is(err, a2a.ErrInvalidMessage),
		errors.Is(err, knowledge.ErrMetadataMismatch):
		return http.StatusBadRequest
	case errors.Is(err, mcp.ErrInvalidParameters):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
