package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Document is one knowledge-base row.
type Document struct {
	ID         string
	Content    string
	Metadata   map[string]any
	Embedding  []float32
	Similarity float64
}

// SearchDocuments runs search_documents against table. A nil embedding
// falls back to full-text ranking on query.
func (s *Store) SearchDocuments(ctx context.Context, table, query string, embedding []float32, limit int, filter map[string]any) ([]Document, error) {
	if limit <= 0 {
		limit = 5
	}
	filters := "{}"
	if len(filter) > 0 {
		b, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("marshal filter: %w", err)
		}
		filters = string(b)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, content, metadata, similarity
		FROM search_documents($1, $2, $3, $4, $5::vector)`,
		query, limit, table, filters, vectorParam(embedding),
	)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var meta []byte
		if err := rows.Scan(&d.ID, &d.Content, &meta, &d.Similarity); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &d.Metadata); err != nil {
				s.logger.Warn("skip unparsable document metadata")
			}
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	return docs, nil
}

// InsertDocuments writes docs into table in a single batch and returns
// them with their assigned IDs.
func (s *Store) InsertDocuments(ctx context.Context, table string, docs []Document) ([]Document, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	sql := fmt.Sprintf(`
		INSERT INTO %s (content, metadata, embedding)
		VALUES ($1, $2, $3::vector)
		RETURNING id::text`, pgx.Identifier{table}.Sanitize())

	out := make([]Document, len(docs))
	copy(out, docs)

	batch := &pgx.Batch{}
	for i := range out {
		meta := out[i].Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
		batch.Queue(sql, out[i].Content, metaJSON, vectorParam(out[i].Embedding)).
			QueryRow(func(row pgx.Row) error {
				return row.Scan(&out[i].ID)
			})
	}
	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert documents into %s: %w", table, err)
	}
	return out, nil
}

// vectorParam renders v in pgvector's text form, or nil for SQL NULL.
func vectorParam(v []float32) *string {
	if len(v) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	s := b.String()
	return &s
}
