package knowledge

import (
	"context"

	"github.com/nidhogg/proposagent/internal/store"
)

// DocumentStore is the slice of store.Store the backend needs.
type DocumentStore interface {
	SearchDocuments(ctx context.Context, table, query string, embedding []float32, limit int, filter map[string]any) ([]store.Document, error)
	InsertDocuments(ctx context.Context, table string, docs []store.Document) ([]store.Document, error)
}

// PostgresBackend queries the Supabase database directly over pgx.
type PostgresBackend struct {
	store DocumentStore
}

// NewPostgresBackend wraps a document store.
func NewPostgresBackend(s DocumentStore) *PostgresBackend {
	return &PostgresBackend{store: s}
}

func (p *PostgresBackend) Name() string { return "postgres" }

func (p *PostgresBackend) Search(ctx context.Context, q Query) ([]Document, error) {
	rows, err := p.store.SearchDocuments(ctx, q.Table, q.Text, q.Embedding, q.Limit, q.Filter)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, len(rows))
	for i, r := range rows {
		docs[i] = Document{ID: r.ID, Content: r.Content, Metadata: r.Metadata, Relevance: r.Similarity}
	}
	return docs, nil
}

func (p *PostgresBackend) Insert(ctx context.Context, table string, docs []Document) ([]Document, error) {
	rows := make([]store.Document, len(docs))
	for i, d := range docs {
		rows[i] = store.Document{Content: d.Content, Metadata: d.Metadata, Embedding: d.Embedding}
	}
	inserted, err := p.store.InsertDocuments(ctx, table, rows)
	if err != nil {
		return nil, err
	}
	out := make([]Document, len(docs))
	copy(out, docs)
	for i := range out {
		if i < len(inserted) {
			out[i].ID = inserted[i].ID
		}
	}
	return out, nil
}
