package a2a

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrAlreadyRegistered = errors.New("agent already registered")
	ErrNotRegistered     = errors.New("agent not registered")
	ErrInvalidMessage    = errors.New("invalid message")
)

// UnknownAgentError rejects a message whose sender or recipient is not
// registered. It matches ErrNotRegistered.
type UnknownAgentError struct {
	Role    string
	AgentID string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("%s agent %s is not registered", e.Role, e.AgentID)
}

func (e *UnknownAgentError) Unwrap() error { return ErrNotRegistered }

// Recorder observes every message the hub accepts from a local sender.
type Recorder interface {
	RecordMessage(ctx context.Context, msg Message) error
}

// Protocol is the in-process A2A hub. With a Bus attached, the agent
// directory and delivery extend to other processes sharing the bus.
type Protocol struct {
	id        string
	agents    map[string]AgentInfo
	inboxes   map[string][]Message
	threads   map[string]*ThreadSummary
	history   map[string][]Message
	subs      map[string]context.CancelFunc
	recorders []Recorder
	bus       Bus
	now       func() time.Time
	mu        sync.RWMutex
	logger    *zap.Logger
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithRecorder adds a message observer, such as a persistent store.
func WithRecorder(r Recorder) Option {
	return func(p *Protocol) { p.recorders = append(p.recorders, r) }
}

// WithBus shares the hub with other processes.
func WithBus(b Bus) Option {
	return func(p *Protocol) { p.bus = b }
}

// NewProtocol creates an empty hub.
func NewProtocol(logger *zap.Logger, opts ...Option) *Protocol {
	p := &Protocol{
		id:      uuid.New().String(),
		agents:  make(map[string]AgentInfo),
		inboxes: make(map[string][]Message),
		threads: make(map[string]*ThreadSummary),
		history: make(map[string][]Message),
		subs:    make(map[string]context.CancelFunc),
		now:     time.Now,
		logger:  logger,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Register adds an agent to the hub and marks it active.
func (p *Protocol) Register(ctx context.Context, info AgentInfo) error {
	if info.ID == "" {
		return fmt.Errorf("register agent: empty id")
	}

	p.mu.Lock()
	if _, ok := p.agents[info.ID]; ok {
		p.mu.Unlock()
		return fmt.Errorf("register %s: %w", info.ID, ErrAlreadyRegistered)
	}
	info.Status = StatusActive
	info.RegisteredAt = p.now()
	if info.Capabilities == nil {
		info.Capabilities = []string{}
	}
	p.agents[info.ID] = info
	p.inboxes[info.ID] = nil
	p.mu.Unlock()

	p.logger.Info("agent registered",
		zap.String("agent", info.ID),
		zap.String("name", info.Name),
		zap.Strings("capabilities", info.Capabilities))

	if p.bus != nil {
		if err := p.bus.Announce(ctx, info); err != nil {
			p.logger.Warn("announce agent on bus failed", zap.String("agent", info.ID), zap.Error(err))
		}
		p.subscribe(info.ID)
	}
	return nil
}

// Unregister removes an agent and drops its undelivered messages.
func (p *Protocol) Unregister(ctx context.Context, agentID string) error {
	p.mu.Lock()
	if _, ok := p.agents[agentID]; !ok {
		p.mu.Unlock()
		return fmt.Errorf("unregister %s: %w", agentID, ErrNotRegistered)
	}
	delete(p.agents, agentID)
	delete(p.inboxes, agentID)
	cancel := p.subs[agentID]
	delete(p.subs, agentID)
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if p.bus != nil {
		if err := p.bus.Withdraw(ctx, agentID); err != nil {
			p.logger.Warn("withdraw agent from bus failed", zap.String("agent", agentID), zap.Error(err))
		}
	}
	p.logger.Info("agent unregistered", zap.String("agent", agentID))
	return nil
}

// Agent returns a locally registered agent.
func (p *Protocol) Agent(agentID string) (AgentInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.agents[agentID]
	return a, ok
}

// Agents lists the agents registered here and, with a bus attached, those
// announced by other hubs. The result is sorted by id.
func (p *Protocol) Agents(ctx context.Context) []AgentInfo {
	p.mu.RLock()
	out := make([]AgentInfo, 0, len(p.agents))
	for _, a := range p.agents {
		out = append(out, a)
	}
	p.mu.RUnlock()

	if p.bus != nil {
		remote, err := p.bus.Directory(ctx)
		if err != nil {
			p.logger.Warn("list bus directory failed", zap.Error(err))
		}
		for _, a := range remote {
			if _, ok := p.Agent(a.ID); !ok {
				out = append(out, a)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AgentsWithCapability lists agents advertising capability exactly.
func (p *Protocol) AgentsWithCapability(ctx context.Context, capability string) []AgentInfo {
	var out []AgentInfo
	for _, a := range p.Agents(ctx) {
		if a.HasCapability(capability) {
			out = append(out, a)
		}
	}
	return out
}

// MatchAgents ranks the reachable agents against a free-text task
// description.
func (p *Protocol) MatchAgents(ctx context.Context, description string) []AgentInfo {
	return MatchAgents(p.Agents(ctx), description)
}

// Send validates and delivers a message. The sender must be registered;
// the recipient must be registered or Broadcast. Broadcast messages reach
// every agent except the sender. Messages bound for the bus are published
// first, so a failed publish leaves no local trace.
func (p *Protocol) Send(ctx context.Context, msg Message) (*SendReceipt, error) {
	if msg.SenderID == "" || msg.RecipientID == "" {
		return nil, fmt.Errorf("%w: sender and recipient are required", ErrInvalidMessage)
	}
	msg.normalize(p.now())

	if !p.known(ctx, msg.SenderID) {
		return nil, &UnknownAgentError{Role: "Sender", AgentID: msg.SenderID}
	}
	if msg.RecipientID != Broadcast && !p.known(ctx, msg.RecipientID) {
		return nil, &UnknownAgentError{Role: "Recipient", AgentID: msg.RecipientID}
	}

	p.mu.RLock()
	_, recipientLocal := p.agents[msg.RecipientID]
	p.mu.RUnlock()

	if p.bus != nil && (msg.RecipientID == Broadcast || !recipientLocal) {
		if err := p.bus.Publish(ctx, Envelope{Origin: p.id, Message: msg}); err != nil {
			return nil, fmt.Errorf("publish message %s: %w", msg.MessageID, err)
		}
	}

	p.mu.Lock()
	p.index(msg)
	p.deliverLocked(msg)
	p.mu.Unlock()

	for _, r := range p.recorders {
		if err := r.RecordMessage(ctx, msg); err != nil {
			p.logger.Warn("record message failed",
				zap.String("message", msg.MessageID), zap.Error(err))
		}
	}

	p.logger.Debug("message sent",
		zap.String("from", msg.SenderID),
		zap.String("to", msg.RecipientID),
		zap.String("thread", msg.ThreadID),
		zap.String("type", msg.Type))

	return &SendReceipt{Status: "success", MessageID: msg.MessageID, ThreadID: msg.ThreadID}, nil
}

// known reports whether agentID is registered here or on the bus.
func (p *Protocol) known(ctx context.Context, agentID string) bool {
	p.mu.RLock()
	_, ok := p.agents[agentID]
	p.mu.RUnlock()
	if ok || p.bus == nil {
		return ok
	}
	_, ok, err := p.bus.Lookup(ctx, agentID)
	if err != nil {
		p.logger.Warn("bus lookup failed", zap.String("agent", agentID), zap.Error(err))
		return false
	}
	return ok
}

// index records msg in the thread history and summary. Caller holds mu.
func (p *Protocol) index(msg Message) {
	summary, ok := p.threads[msg.ThreadID]
	if !ok {
		summary = &ThreadSummary{
			ThreadID: msg.ThreadID,
			Title:    threadTitle(msg.Content),
			Status:   StatusActive,
		}
		p.threads[msg.ThreadID] = summary
	}
	summary.MessageCount++
	if msg.Timestamp.After(summary.LastActivity) {
		summary.LastActivity = msg.Timestamp
	}
	summary.addParticipant(msg.SenderID)
	summary.addParticipant(msg.RecipientID)
	p.history[msg.ThreadID] = append(p.history[msg.ThreadID], msg)
}

// deliverLocked queues msg for local recipients. Caller holds mu.
func (p *Protocol) deliverLocked(msg Message) {
	if msg.RecipientID != Broadcast {
		if _, ok := p.agents[msg.RecipientID]; ok {
			p.inboxes[msg.RecipientID] = append(p.inboxes[msg.RecipientID], msg)
		}
		return
	}
	for id := range p.agents {
		if id != msg.SenderID {
			p.inboxes[id] = append(p.inboxes[id], msg)
		}
	}
}

// Receive drains and returns the agent's pending messages, oldest first.
// Unknown agents get nothing.
func (p *Protocol) Receive(agentID string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.agents[agentID]; !ok {
		return nil
	}
	msgs := p.inboxes[agentID]
	p.inboxes[agentID] = nil
	return msgs
}

// Pending reports how many messages wait in the agent's inbox.
func (p *Protocol) Pending(agentID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.inboxes[agentID])
}

// ThreadHistory returns the messages of a thread in arrival order.
func (p *Protocol) ThreadHistory(threadID string) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message(nil), p.history[threadID]...)
}

// Thread returns a single thread summary.
func (p *Protocol) Thread(threadID string) (ThreadSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.threads[threadID]
	if !ok {
		return ThreadSummary{}, false
	}
	return t.clone(), true
}

// Threads returns every thread summary, most recently active first.
func (p *Protocol) Threads() []ThreadSummary {
	p.mu.RLock()
	out := make([]ThreadSummary, 0, len(p.threads))
	for _, t := range p.threads {
		out = append(out, t.clone())
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ThreadID < out[j].ThreadID
	})
	return out
}

// subscribe pumps bus deliveries for a local agent into its inbox until
// the agent unregisters or the hub closes.
func (p *Protocol) subscribe(agentID string) {
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.subs[agentID] = cancel
	p.mu.Unlock()

	ch := p.bus.Subscribe(ctx, agentID)
	go func() {
		for env := range ch {
			if env.Origin == p.id || env.Message.SenderID == agentID {
				continue
			}
			p.mu.Lock()
			if _, ok := p.agents[agentID]; ok {
				if !p.hasMessage(env.Message) {
					p.index(env.Message)
				}
				p.inboxes[agentID] = append(p.inboxes[agentID], env.Message)
			}
			p.mu.Unlock()
		}
	}()
}

// hasMessage reports whether msg is already in its thread. Caller holds mu.
func (p *Protocol) hasMessage(msg Message) bool {
	for _, m := range p.history[msg.ThreadID] {
		if m.MessageID == msg.MessageID {
			return true
		}
	}
	return false
}

// Close stops bus subscriptions and closes the bus.
func (p *Protocol) Close() error {
	p.mu.Lock()
	for id, cancel := range p.subs {
		cancel()
		delete(p.subs, id)
	}
	p.mu.Unlock()
	if p.bus != nil {
		return p.bus.Close()
	}
	return nil
}
