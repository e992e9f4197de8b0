package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/proposagent/internal/a2a"
)

// RecordMessage persists an A2A message. Replays of the same message id
// are ignored.
func (s *Store) RecordMessage(ctx context.Context, msg a2a.Message) error {
	meta := msg.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO a2a_messages (message_id, thread_id, sender_id, recipient_id, content, type, metadata, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (message_id) DO NOTHING`,
		msg.MessageID, msg.ThreadID, msg.SenderID, msg.RecipientID,
		msg.Content, msg.Type, metaJSON, msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

// ThreadMessages returns a thread's persisted messages in send order.
func (s *Store) ThreadMessages(ctx context.Context, threadID string) ([]a2a.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT message_id, thread_id, sender_id, recipient_id, content, type, metadata, sent_at
		FROM a2a_messages
		WHERE thread_id = $1
		ORDER BY sent_at ASC, message_id ASC`, threadID)
	if err != nil {
		return nil, fmt.Errorf("thread messages: %w", err)
	}
	defer rows.Close()

	var msgs []a2a.Message
	for rows.Next() {
		var m a2a.Message
		var meta []byte
		if err := rows.Scan(&m.MessageID, &m.ThreadID, &m.SenderID, &m.RecipientID,
			&m.Content, &m.Type, &meta, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &m.Metadata)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("thread messages: %w", err)
	}
	return msgs, nil
}
