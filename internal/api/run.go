package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/nidhogg/proposagent/internal/agent"
	"github.com/nidhogg/proposagent/internal/provider"
	"go.uber.org/zap"
)

type runRequest struct {
	Input   string             `json:"input"`
	Table   string             `json:"table"`
	History []provider.Message `json:"history"`
}

// run executes one agent turn. The agent.Response is returned as-is; a
// failed run answers 500 with the same body.
func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}

	started := time.Now()
	resp := h.deps.Agent.Run(r.Context(), req.Input, agent.RunOptions{Table: req.Table, History: req.History})
	h.deps.Metrics.ObserveAgentRun(resp.Status, started)

	if resp.Status != agent.StatusSuccess {
		h.logger.Warn("agent run failed", zap.String("error", resp.Error))
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
