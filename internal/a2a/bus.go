package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Envelope carries a message across the bus. Origin identifies the hub
// that published it so a hub can skip its own traffic.
type Envelope struct {
	Origin  string  `json:"origin"`
	Message Message `json:"message"`
}

// Bus connects hubs running in different processes.
type Bus interface {
	Announce(ctx context.Context, info AgentInfo) error
	Withdraw(ctx context.Context, agentID string) error
	Lookup(ctx context.Context, agentID string) (AgentInfo, bool, error)
	Directory(ctx context.Context) ([]AgentInfo, error)
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, agentID string) <-chan Envelope
	Close() error
}

const (
	directoryKey = "proposagent:a2a:agents"
	streamPrefix = "proposagent:a2a:inbox:"
	streamMaxLen = 10000
)

// RedisBus implements Bus with a Redis hash for the agent directory and
// one Redis Stream per recipient, plus a shared broadcast stream.
type RedisBus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisBus connects to Redis at addr and verifies the connection.
func NewRedisBus(ctx context.Context, addr, password string, db int, logger *zap.Logger) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBus{rdb: rdb, logger: logger}, nil
}

// Announce publishes the agent in the shared directory.
func (b *RedisBus) Announce(ctx context.Context, info AgentInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal agent: %w", err)
	}
	if err := b.rdb.HSet(ctx, directoryKey, info.ID, data).Err(); err != nil {
		return fmt.Errorf("announce %s: %w", info.ID, err)
	}
	return nil
}

// Withdraw removes the agent from the shared directory.
func (b *RedisBus) Withdraw(ctx context.Context, agentID string) error {
	if err := b.rdb.HDel(ctx, directoryKey, agentID).Err(); err != nil {
		return fmt.Errorf("withdraw %s: %w", agentID, err)
	}
	return nil
}

// Lookup finds an agent in the shared directory.
func (b *RedisBus) Lookup(ctx context.Context, agentID string) (AgentInfo, bool, error) {
	data, err := b.rdb.HGet(ctx, directoryKey, agentID).Bytes()
	if errors.Is(err, redis.Nil) {
		return AgentInfo{}, false, nil
	}
	if err != nil {
		return AgentInfo{}, false, fmt.Errorf("lookup %s: %w", agentID, err)
	}
	var info AgentInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return AgentInfo{}, false, fmt.Errorf("decode agent %s: %w", agentID, err)
	}
	return info, true, nil
}

// Directory lists every agent known to the bus.
func (b *RedisBus) Directory(ctx context.Context) ([]AgentInfo, error) {
	all, err := b.rdb.HGetAll(ctx, directoryKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list directory: %w", err)
	}
	out := make([]AgentInfo, 0, len(all))
	for id, data := range all {
		var info AgentInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			b.logger.Warn("skip undecodable directory entry", zap.String("agent", id), zap.Error(err))
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// Publish appends the envelope to the recipient's stream.
func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	stream := streamPrefix + env.Message.RecipientID
	err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	b.logger.Debug("published message",
		zap.String("from", env.Message.SenderID),
		zap.String("to", env.Message.RecipientID),
		zap.String("type", env.Message.Type))
	return nil
}

// Subscribe streams envelopes addressed to agentID or broadcast, starting
// from the moment of the call. Cancel ctx to stop.
func (b *RedisBus) Subscribe(ctx context.Context, agentID string) <-chan Envelope {
	ch := make(chan Envelope, 16)
	own := streamPrefix + agentID
	shared := streamPrefix + Broadcast

	go func() {
		defer close(ch)
		lastIDs := map[string]string{own: "$", shared: "$"}

		for {
			if ctx.Err() != nil {
				return
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{own, shared, lastIDs[own], lastIDs[shared]},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.Is(err, redis.Nil) {
					b.logger.Warn("bus read failed", zap.String("agent", agentID), zap.Error(err))
					time.Sleep(time.Second)
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastIDs[r.Stream] = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var env Envelope
					if json.Unmarshal([]byte(data), &env) != nil {
						continue
					}
					select {
					case ch <- env:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
