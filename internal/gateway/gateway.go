package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrNoAdapter is returned when a message targets an unregistered platform.
var ErrNoAdapter = errors.New("no adapter for platform")

// Gateway manages all platform adapters and routes messages.
type Gateway struct {
	adapters map[string]Adapter
	handler  MessageHandler
	mu       sync.RWMutex
	logger   *zap.Logger
}

// New creates a gateway manager.
func New(logger *zap.Logger) *Gateway {
	return &Gateway{
		adapters: make(map[string]Adapter),
		logger:   logger,
	}
}

// SetHandler sets the callback for all inbound messages.
func (g *Gateway) SetHandler(h MessageHandler) {
	g.mu.Lock()
	g.handler = h
	g.mu.Unlock()
}

// Register adds an adapter and wires its message handler. A second adapter
// for the same platform replaces the first.
func (g *Gateway) Register(adapter Adapter) {
	g.mu.Lock()
	defer g.mu.Unlock()

	platform := adapter.Platform()
	g.adapters[platform] = adapter
	adapter.OnMessage(g.dispatch)
	g.logger.Info("registered gateway adapter", zap.String("platform", platform))
}

func (g *Gateway) dispatch(msg *InboundMessage) {
	g.mu.RLock()
	h := g.handler
	g.mu.RUnlock()
	if h == nil {
		g.logger.Warn("inbound message dropped, no handler",
			zap.String("platform", msg.Platform), zap.String("channel", msg.ChannelID))
		return
	}
	h(msg)
}

// Adapter returns the adapter registered for platform.
func (g *Gateway) Adapter(platform string) (Adapter, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	a, ok := g.adapters[platform]
	return a, ok
}

// ConnectAll starts every registered adapter. A failing adapter is logged
// and skipped; the joined errors are returned after all have been tried.
func (g *Gateway) ConnectAll(ctx context.Context) error {
	var errs []error
	for _, platform := range g.Adapters() {
		adapter, _ := g.Adapter(platform)
		if err := adapter.Connect(ctx); err != nil {
			g.logger.Error("adapter connect failed",
				zap.String("platform", platform), zap.Error(err))
			errs = append(errs, fmt.Errorf("connect %s: %w", platform, err))
			continue
		}
		g.logger.Info("adapter connected", zap.String("platform", platform))
	}
	return errors.Join(errs...)
}

// Send sends a message to a specific platform channel.
func (g *Gateway) Send(ctx context.Context, msg *OutboundMessage) error {
	adapter, ok := g.Adapter(msg.Platform)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoAdapter, msg.Platform)
	}
	return adapter.Send(ctx, msg)
}

// Broadcast sends a message to all matching platform adapters.
func (g *Gateway) Broadcast(ctx context.Context, msg *BroadcastMessage) error {
	g.mu.RLock()
	targets := make(map[string]Adapter)
	if len(msg.Platforms) == 0 {
		for p, a := range g.adapters {
			targets[p] = a
		}
	} else {
		for _, p := range msg.Platforms {
			if a, ok := g.adapters[p]; ok {
				targets[p] = a
			}
		}
	}
	g.mu.RUnlock()

	var failed int
	for platform, adapter := range targets {
		if err := adapter.Broadcast(ctx, msg); err != nil {
			g.logger.Error("broadcast failed",
				zap.String("platform", platform), zap.Error(err))
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("broadcast failed on %d platform(s)", failed)
	}
	return nil
}

// Status reports every adapter's connection state, sorted by platform.
// Adapters without their own tracking are reported as connected.
func (g *Gateway) Status() []AdapterStatus {
	var out []AdapterStatus
	for _, platform := range g.Adapters() {
		adapter, _ := g.Adapter(platform)
		if r, ok := adapter.(StatusReporter); ok {
			out = append(out, r.Status())
			continue
		}
		out = append(out, AdapterStatus{Platform: platform, Connected: true})
	}
	return out
}

// Close shuts down all adapters.
func (g *Gateway) Close() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for platform, adapter := range g.adapters {
		if err := adapter.Close(); err != nil {
			g.logger.Error("adapter close failed",
				zap.String("platform", platform), zap.Error(err))
		}
	}
	return nil
}

// Adapters returns the registered platform names, sorted.
func (g *Gateway) Adapters() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.adapters))
	for p := range g.adapters {
		names = append(names, p)
	}
	sort.Strings(names)
	return names
}
