// Package knowledge is the agent's knowledge base: embedding-aware search
// and batched ingestion over a pluggable document backend.
package knowledge

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nidhogg/proposagent/internal/embedding"
)

const (
	DefaultResults   = 5
	DefaultBatchSize = 100
)

var (
	ErrEmbeddingRequired = errors.New("backend requires an embedding provider")
	ErrMetadataMismatch  = errors.New("metadata count does not match document count")
)

// Document is one knowledge-base entry.
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"-"`
	Relevance float64        `json:"relevance"`
}

// Query is a backend search request.
type Query struct {
	Table     string
	Text      string
	Embedding []float32
	Limit     int
	Filter    map[string]any
}

// Backend stores and searches documents.
type Backend interface {
	Name() string
	Search(ctx context.Context, q Query) ([]Document, error)
	Insert(ctx context.Context, table string, docs []Document) ([]Document, error)
}

// Base combines a backend with an optional embedder.
type Base struct {
	backend   Backend
	embedder  embedding.Provider
	batchSize int
	logger    *zap.Logger
}

// Option configures a Base.
type Option func(*Base)

// WithBatchSize sets how many documents go into one insert call.
func WithBatchSize(n int) Option {
	return func(b *Base) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// New creates a knowledge base. embedder may be nil, in which case the
// backend ranks by its own text search.
func New(backend Backend, embedder embedding.Provider, logger *zap.Logger, opts ...Option) *Base {
	b := &Base{
		backend:   backend,
		embedder:  embedder,
		batchSize: DefaultBatchSize,
		logger:    logger,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Backend returns the name of the configured backend.
func (b *Base) Backend() string { return b.backend.Name() }

// Search returns up to limit documents relevant to text, highest first.
func (b *Base) Search(ctx context.Context, table, text string, limit int, filter map[string]any) ([]Document, error) {
	if limit <= 0 {
		limit = DefaultResults
	}
	q := Query{Table: table, Text: text, Limit: limit, Filter: filter}

	if b.embedder != nil {
		vecs, err := b.embedder.Embed(ctx, []string{text})
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		if len(vecs) > 0 {
			q.Embedding = vecs[0]
		}
	}

	docs, err := b.backend.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", table, err)
	}
	b.logger.Debug("knowledge search",
		zap.String("backend", b.backend.Name()),
		zap.String("table", table),
		zap.Int("results", len(docs)))
	return docs, nil
}

// AddDocuments inserts contents in batches. metadatas must be empty or
// have one entry per content.
func (b *Base) AddDocuments(ctx context.Context, table string, contents []string, metadatas []map[string]any) ([]Document, error) {
	if len(metadatas) > 0 && len(metadatas) != len(contents) {
		return nil, fmt.Errorf("%w: %d documents, %d metadata entries", ErrMetadataMismatch, len(contents), len(metadatas))
	}

	var out []Document
	for start := 0; start < len(contents); start += b.batchSize {
		end := min(start+b.batchSize, len(contents))

		batch := make([]Document, 0, end-start)
		for i := start; i < end; i++ {
			doc := Document{Content: contents[i], Metadata: map[string]any{}}
			if len(metadatas) > 0 && metadatas[i] != nil {
				doc.Metadata = metadatas[i]
			}
			batch = append(batch, doc)
		}

		if b.embedder != nil {
			texts := make([]string, len(batch))
			for i, d := range batch {
				texts[i] = d.Content
			}
			vecs, err := b.embedder.Embed(ctx, texts)
			if err != nil {
				return out, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
			}
			for i := range batch {
				if i < len(vecs) {
					batch[i].Embedding = vecs[i]
				}
			}
		}

		inserted, err := b.backend.Insert(ctx, table, batch)
		if err != nil {
			return out, fmt.Errorf("insert batch %d-%d into %s: %w", start, end, table, err)
		}
		out = append(out, inserted...)
		b.logger.Info("knowledge batch inserted",
			zap.String("table", table),
			zap.Int("from", start),
			zap.Int("count", len(inserted)))
	}
	return out, nil
}
