package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/nidhogg/proposagent/internal/a2a"
	"go.uber.org/zap"
)

const defaultHistoryLimit = 100

// BroadcastRecord tracks a relayed broadcast.
type BroadcastRecord struct {
	Message *BroadcastMessage `json:"message"`
	SentAt  time.Time         `json:"sent_at"`
	Targets []string          `json:"targets"`
	Error   string            `json:"error,omitempty"`
}

// Broadcaster relays A2A broadcast messages to the chat platforms. It is
// attached to the hub as a Recorder; direct messages are ignored.
type Broadcaster struct {
	gateway *Gateway
	history []BroadcastRecord
	limit   int
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewBroadcaster creates a broadcaster backed by the given gateway.
func NewBroadcaster(gw *Gateway, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{gateway: gw, limit: defaultHistoryLimit, logger: logger}
}

// RecordMessage relays msg when it is addressed to every agent.
func (b *Broadcaster) RecordMessage(ctx context.Context, msg a2a.Message) error {
	if msg.RecipientID != a2a.Broadcast {
		return nil
	}
	return b.Send(ctx, &BroadcastMessage{
		ThreadID:  msg.ThreadID,
		SenderID:  msg.SenderID,
		Type:      msg.Type,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	})
}

// Send broadcasts msg through the gateway and records the attempt.
func (b *Broadcaster) Send(ctx context.Context, msg *BroadcastMessage) error {
	targets := msg.Platforms
	if len(targets) == 0 {
		targets = b.gateway.Adapters()
	}
	if len(targets) == 0 {
		return nil
	}

	b.logger.Info("relaying broadcast",
		zap.String("thread", msg.ThreadID),
		zap.String("sender", msg.SenderID),
		zap.Strings("targets", targets))

	err := b.gateway.Broadcast(ctx, msg)
	rec := BroadcastRecord{Message: msg, SentAt: time.Now(), Targets: targets}
	if err != nil {
		rec.Error = err.Error()
	}

	b.mu.Lock()
	b.history = append(b.history, rec)
	if len(b.history) > b.limit {
		b.history = b.history[len(b.history)-b.limit:]
	}
	b.mu.Unlock()
	return err
}

// History returns up to limit of the most recent records, oldest first.
func (b *Broadcaster) History(limit int) []BroadcastRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	return append([]BroadcastRecord(nil), b.history[len(b.history)-limit:]...)
}
