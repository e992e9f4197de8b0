package api

import (
	"net/http"
	"strings"

	"github.com/nidhogg/proposagent/internal/knowledge"
)

type searchRequest struct {
	Query  string         `json:"query"`
	Table  string         `json:"table"`
	Limit  int            `json:"limit"`
	Filter map[string]any `json:"filter"`
}

type searchResponse struct {
	Documents []knowledge.Document `json:"documents"`
	Context   string               `json:"context"`
}

func (h *Handler) searchKnowledge(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	docs, err := h.deps.Knowledge.Search(r.Context(), h.table(req.Table), req.Query, req.Limit, req.Filter)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if docs == nil {
		docs = []knowledge.Document{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Documents: docs, Context: knowledge.FormatContext(docs)})
}

type documentInput struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

type addDocumentsRequest struct {
	Table     string          `json:"table"`
	Documents []documentInput `json:"documents"`
}

type addDocumentsResponse struct {
	Inserted  int                  `json:"inserted"`
	Documents []knowledge.Document `json:"documents"`
	Error     string               `json:"error,omitempty"`
}

// addDocuments ingests documents in batches. A failure part way through
// reports the documents already inserted alongside the error.
func (h *Handler) addDocuments(w http.ResponseWriter, r *http.Request) {
	var req addDocumentsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "documents are required")
		return
	}
	contents := make([]string, len(req.Documents))
	metadatas := make([]map[string]any, len(req.Documents))
	for i, d := range req.Documents {
		if strings.TrimSpace(d.Content) == "" {
			writeError(w, http.StatusBadRequest, "document content is required")
			return
		}
		contents[i] = d.Content
		metadatas[i] = d.Metadata
	}

	docs, err := h.deps.Knowledge.AddDocuments(r.Context(), h.table(req.Table), contents, metadatas)
	resp := addDocumentsResponse{Inserted: len(docs), Documents: docs}
	if resp.Documents == nil {
		resp.Documents = []knowledge.Document{}
	}
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) table(requested string) string {
	if requested != "" {
		return requested
	}
	return h.deps.Table
}
