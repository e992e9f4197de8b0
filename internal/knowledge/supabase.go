package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// RPCClient is the slice of the Supabase client the backend needs.
type RPCClient interface {
	RPC(ctx context.Context, fn string, params any, out any) error
	Insert(ctx context.Context, table string, rows any, out any) error
}

// SupabaseBackend searches through the search_documents RPC and inserts
// rows through PostgREST.
type SupabaseBackend struct {
	client RPCClient
}

// NewSupabaseBackend wraps a Supabase REST client.
func NewSupabaseBackend(client RPCClient) *SupabaseBackend {
	return &SupabaseBackend{client: client}
}

func (s *SupabaseBackend) Name() string { return "supabase" }

type searchParams struct {
	QueryText      string    `json:"query_text"`
	MatchCount     int       `json:"match_count"`
	TableName      string    `json:"table_name"`
	Filters        string    `json:"filters"`
	QueryEmbedding []float32 `json:"query_embedding,omitempty"`
}

type supabaseRow struct {
	ID         json.RawMessage `json:"id"`
	Content    string          `json:"content"`
	Metadata   json.RawMessage `json:"metadata"`
	Similarity float64         `json:"similarity"`
}

// Search calls search_documents. Filters travel as a JSON string.
func (s *SupabaseBackend) Search(ctx context.Context, q Query) ([]Document, error) {
	filters := "{}"
	if len(q.Filter) > 0 {
		b, err := json.Marshal(q.Filter)
		if err != nil {
			return nil, fmt.Errorf("marshal filters: %w", err)
		}
		filters = string(b)
	}

	var rows []supabaseRow
	err := s.client.RPC(ctx, "search_documents", searchParams{
		QueryText:      q.Text,
		MatchCount:     q.Limit,
		TableName:      q.Table,
		Filters:        filters,
		QueryEmbedding: q.Embedding,
	}, &rows)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(rows))
	for _, r := range rows {
		meta, err := decodeMetadata(r.Metadata)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", rawID(r.ID), err)
		}
		docs = append(docs, Document{
			ID:        rawID(r.ID),
			Content:   r.Content,
			Metadata:  meta,
			Relevance: r.Similarity,
		})
	}
	return docs, nil
}

// Insert writes docs with metadata serialised as a JSON string. Without an
// embedding the column is left null for a database trigger to fill.
func (s *SupabaseBackend) Insert(ctx context.Context, table string, docs []Document) ([]Document, error) {
	type insertRow struct {
		Content   string    `json:"content"`
		Metadata  string    `json:"metadata"`
		Embedding []float32 `json:"embedding"`
	}
	rows := make([]insertRow, 0, len(docs))
	for _, d := range docs {
		meta := d.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		b, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		rows = append(rows, insertRow{Content: d.Content, Metadata: string(b), Embedding: d.Embedding})
	}

	var inserted []supabaseRow
	if err := s.client.Insert(ctx, table, rows, &inserted); err != nil {
		return nil, err
	}

	out := make([]Document, len(docs))
	copy(out, docs)
	for i := range out {
		if i < len(inserted) {
			out[i].ID = rawID(inserted[i].ID)
		}
	}
	return out, nil
}

// decodeMetadata accepts a JSON object or a JSON string holding one.
func decodeMetadata(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		if strings.TrimSpace(s) == "" {
			return map[string]any{}, nil
		}
		raw = json.RawMessage(s)
	}
	meta := map[string]any{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

// rawID renders a numeric or string id as text.
func rawID(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
