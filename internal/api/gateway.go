package api

import "net/http"

func (h *Handler) gatewayStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"adapters": h.deps.Gateway.Status(),
	})
}

func (h *Handler) listBroadcasts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Broadcaster.History(queryInt(r, "limit", 20)))
}
