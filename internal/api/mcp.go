package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/proposagent/internal/mcp"
)

func (h *Handler) listServers(w http.ResponseWriter, _ *http.Request) {
	servers := h.deps.Tools.Servers()
	if servers == nil {
		servers = []mcp.Server{}
	}
	writeJSON(w, http.StatusOK, servers)
}

func (h *Handler) discoverTools(w http.ResponseWriter, r *http.Request) {
	tools, err := h.deps.Tools.DiscoverTools(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		writeError(w, status, err.Error())
		return
	}
	if tools == nil {
		tools = []mcp.Tool{}
	}
	writeJSON(w, http.StatusOK, tools)
}

type executeRequest struct {
	Parameters     map[string]any `json:"parameters"`
	Wait           *bool          `json:"wait"`
	TimeoutSeconds float64        `json:"timeout_seconds"`
}

func (h *Handler) executeTool(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	opts := mcp.DefaultExecuteOptions()
	if req.Wait != nil {
		opts.Wait = *req.Wait
	}
	if req.TimeoutSeconds > 0 {
		opts.Timeout = time.Duration(req.TimeoutSeconds * float64(time.Second))
	}

	resp, err := h.deps.Tools.ExecuteTool(r.Context(), chi.URLParam(r, "id"), req.Parameters, opts)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
