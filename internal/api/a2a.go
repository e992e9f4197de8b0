package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/proposagent/internal/a2a"
	"github.com/nidhogg/proposagent/internal/graph"
	"go.uber.org/zap"
)

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.deps.Hub.Agents(r.Context())
	if c := r.URL.Query().Get("capability"); c != "" {
		agents = h.deps.Hub.AgentsWithCapability(r.Context(), c)
	}
	if agents == nil {
		agents = []a2a.AgentInfo{}
	}
	writeJSON(w, http.StatusOK, agents)
}

type registerRequest struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Capabilities []string       `json:"capabilities"`
	Metadata     map[string]any `json:"metadata"`
}

func (h *Handler) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if req.Name == "" {
		req.Name = req.ID
	}
	info := a2a.AgentInfo{ID: req.ID, Name: req.Name, Capabilities: req.Capabilities, Metadata: req.Metadata}
	if err := h.deps.Hub.Register(r.Context(), info); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	registered, _ := h.deps.Hub.Agent(req.ID)
	writeJSON(w, http.StatusCreated, registered)
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	info, ok := h.deps.Hub.Agent(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) agentContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.deps.Graph.Contacts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logger.Error("graph contacts", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if contacts == nil {
		contacts = []graph.Contact{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

func (h *Handler) unregisterAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Hub.Unregister(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// receiveMessages drains the agent's inbox.
func (h *Handler) receiveMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := h.deps.Hub.Agent(id); !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	msgs := h.deps.Hub.Receive(id)
	if msgs == nil {
		msgs = []a2a.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var msg a2a.Message
	if !decodeBody(w, r, &msg) {
		return
	}
	receipt, err := h.deps.Hub.Send(r.Context(), msg)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *Handler) listThreads(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Hub.Threads())
}

type threadResponse struct {
	Thread   a2a.ThreadSummary `json:"thread"`
	Messages []a2a.Message     `json:"messages"`
}

func (h *Handler) getThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if summary, ok := h.deps.Hub.Thread(id); ok {
		writeJSON(w, http.StatusOK, threadResponse{Thread: summary, Messages: h.deps.Hub.ThreadHistory(id)})
		return
	}
	if h.deps.Archive == nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}

	// Threads from before a restart only survive in the archive.
	msgs, err := h.deps.Archive.ThreadMessages(r.Context(), id)
	if err != nil {
		h.logger.Error("load archived thread failed", zap.String("thread", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	summary, ok := a2a.SummarizeThread(msgs)
	if !ok {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, threadResponse{Thread: summary, Messages: msgs})
}
