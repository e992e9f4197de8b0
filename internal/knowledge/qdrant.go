package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nidhogg/proposagent/internal/vectorstore"
)

// VectorIndex is the slice of vectorstore.Client the backend needs.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64) error
	Upsert(ctx context.Context, collection string, points []vectorstore.Point) error
	Search(ctx context.Context, collection string, vector []float32, topK uint64, match map[string]string) ([]*vectorstore.SearchResult, error)
}

const metaPrefix = "meta."

// QdrantBackend keeps each table as a Qdrant collection. Metadata is
// stored whole as JSON and flattened into meta.<key> payload fields for
// exact-match filtering.
type QdrantBackend struct {
	index VectorIndex
	ready sync.Map // collection -> struct{}
}

// NewQdrantBackend wraps a Qdrant client.
func NewQdrantBackend(index VectorIndex) *QdrantBackend {
	return &QdrantBackend{index: index}
}

func (q *QdrantBackend) Name() string { return "qdrant" }

func (q *QdrantBackend) Search(ctx context.Context, query Query) ([]Document, error) {
	if len(query.Embedding) == 0 {
		return nil, ErrEmbeddingRequired
	}
	match := make(map[string]string, len(query.Filter))
	for k, v := range query.Filter {
		match[metaPrefix+k] = fmt.Sprint(v)
	}

	hits, err := q.index.Search(ctx, query.Table, query.Embedding, uint64(query.Limit), match)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(hits))
	for _, h := range hits {
		meta := map[string]any{}
		if raw := h.Payload["metadata"]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &meta); err != nil {
				return nil, fmt.Errorf("document %s: decode metadata: %w", h.ID, err)
			}
		}
		docs = append(docs, Document{
			ID:        h.ID,
			Content:   h.Payload["content"],
			Metadata:  meta,
			Relevance: float64(h.Score),
		})
	}
	return docs, nil
}

func (q *QdrantBackend) Insert(ctx context.Context, table string, docs []Document) ([]Document, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	if len(docs[0].Embedding) == 0 {
		return nil, ErrEmbeddingRequired
	}
	if err := q.ensure(ctx, table, uint64(len(docs[0].Embedding))); err != nil {
		return nil, err
	}

	out := make([]Document, len(docs))
	points := make([]vectorstore.Point, len(docs))
	indexedAt := time.Now().UTC().Format(time.RFC3339)
	for i, d := range docs {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("document %d: %w", i, ErrEmbeddingRequired)
		}
		meta := d.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		payload := map[string]string{
			"content":    d.Content,
			"metadata":   string(metaJSON),
			"indexed_at": indexedAt,
		}
		for k, v := range meta {
			payload[metaPrefix+k] = fmt.Sprint(v)
		}

		d.ID = uuid.New().String()
		out[i] = d
		points[i] = vectorstore.Point{ID: d.ID, Vector: d.Embedding, Payload: payload}
	}

	if err := q.index.Upsert(ctx, table, points); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *QdrantBackend) ensure(ctx context.Context, collection string, dim uint64) error {
	if _, ok := q.ready.Load(collection); ok {
		return nil
	}
	if err := q.index.EnsureCollection(ctx, collection, dim); err != nil {
		return err
	}
	q.ready.Store(collection, struct{}{})
	return nil
}
