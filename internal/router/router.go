// Package router decides what happens to an inbound chat message: slash
// commands go to the command registry, everything else to the agent.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nidhogg/proposagent/internal/agent"
	"github.com/nidhogg/proposagent/internal/command"
	"github.com/nidhogg/proposagent/internal/gateway"
	"github.com/nidhogg/proposagent/internal/provider"
	"go.uber.org/zap"
)

const (
	DefaultHistoryLimit = 20
	DefaultRunTimeout   = 5 * time.Minute
)

// Runner is the agent answering chat messages.
type Runner interface {
	ID() string
	Name() string
	Run(ctx context.Context, input string, opts agent.RunOptions) agent.Response
}

// Sender delivers replies, normally the gateway.
type Sender interface {
	Send(ctx context.Context, msg *gateway.OutboundMessage) error
}

// RunObserver records agent run outcomes.
type RunObserver interface {
	ObserveAgentRun(status string, started time.Time)
}

// MessageRouter routes inbound messages and keeps a short per-conversation
// history so follow-up questions have context.
type MessageRouter struct {
	agent        Runner
	out          Sender
	commands     *command.Registry
	observer     RunObserver
	history      map[string][]provider.Message
	historyLimit int
	timeout      time.Duration
	mu           sync.Mutex
	logger       *zap.Logger
}

// Option configures a MessageRouter.
type Option func(*MessageRouter)

// WithHistoryLimit caps the remembered messages per conversation. Zero
// disables history.
func WithHistoryLimit(n int) Option {
	return func(r *MessageRouter) { r.historyLimit = n }
}

// WithRunTimeout bounds each agent run.
func WithRunTimeout(d time.Duration) Option {
	return func(r *MessageRouter) { r.timeout = d }
}

// WithObserver reports each agent run.
func WithObserver(o RunObserver) Option {
	return func(r *MessageRouter) { r.observer = o }
}

// New creates a MessageRouter. commands may be nil.
func New(a Runner, out Sender, commands *command.Registry, logger *zap.Logger, opts ...Option) *MessageRouter {
	r := &MessageRouter{
		agent:        a,
		out:          out,
		commands:     commands,
		history:      make(map[string][]provider.Message),
		historyLimit: DefaultHistoryLimit,
		timeout:      DefaultRunTimeout,
		logger:       logger,
	}
	for _, o := range opts {
		o(r)
	}
	if commands != nil {
		commands.Register(&command.Command{
			Name:        "reset",
			Description: "Forget the conversation history of this channel",
			Usage:       "/reset",
			Handler:     r.reset,
		})
	}
	return r
}

// Handle routes one inbound message. Its signature matches
// gateway.MessageHandler.
func (mr *MessageRouter) Handle(msg *gateway.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), mr.timeout)
	defer cancel()

	mr.logger.Info("routing message",
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.UserName))

	content := mr.stripMention(msg.Content)
	if content == "" {
		return
	}

	if mr.commands != nil && command.IsCommand(content) {
		res, err := mr.commands.Dispatch(ctx, content, &command.Context{
			Platform:  msg.Platform,
			ChannelID: msg.ChannelID,
			UserID:    msg.UserID,
			UserName:  msg.UserName,
		})
		if err != nil {
			mr.logger.Error("command dispatch error", zap.Error(err))
			mr.reply(ctx, msg, "Command error: "+err.Error())
			return
		}
		mr.reply(ctx, msg, res.Content)
		return
	}

	key := conversationKey(msg.Platform, msg.ChannelID, msg.UserID)
	started := time.Now()
	resp := mr.agent.Run(ctx, content, agent.RunOptions{History: mr.recall(key)})
	if mr.observer != nil {
		mr.observer.ObserveAgentRun(resp.Status, started)
	}
	if resp.Status != agent.StatusSuccess {
		mr.logger.Error("agent run failed", zap.String("error", resp.Error))
		mr.reply(ctx, msg, "Agent error: "+resp.Error)
		return
	}

	mr.remember(key,
		provider.Message{Role: provider.RoleUser, Content: content},
		provider.Message{Role: provider.RoleAssistant, Content: resp.Data})
	mr.reply(ctx, msg, resp.Data)
}

// stripMention removes a leading "@AgentName" addressed to this agent.
func (mr *MessageRouter) stripMention(content string) string {
	content = strings.TrimSpace(content)
	mention := "@" + mr.agent.Name()
	if len(content) >= len(mention) && strings.EqualFold(content[:len(mention)], mention) {
		content = strings.TrimSpace(content[len(mention):])
	}
	return content
}

// conversationKey groups messages into a conversation. REST requests get
// a fresh channel each time, so they are keyed by user; anonymous REST
// calls have no history.
func conversationKey(platform, channelID, userID string) string {
	if platform == "rest" {
		if userID == "" {
			return ""
		}
		return "rest:" + userID
	}
	return platform + ":" + channelID
}

func (mr *MessageRouter) recall(key string) []provider.Message {
	if key == "" || mr.historyLimit <= 0 {
		return nil
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return append([]provider.Message(nil), mr.history[key]...)
}

func (mr *MessageRouter) remember(key string, msgs ...provider.Message) {
	if key == "" || mr.historyLimit <= 0 {
		return
	}
	mr.mu.Lock()
	defer mr.mu.Unlock()
	h := append(mr.history[key], msgs...)
	if len(h) > mr.historyLimit {
		h = h[len(h)-mr.historyLimit:]
	}
	mr.history[key] = h
}

func (mr *MessageRouter) reset(_ context.Context, _ string, cc *command.Context) (*command.Result, error) {
	key := conversationKey(cc.Platform, cc.ChannelID, cc.UserID)
	mr.mu.Lock()
	n := len(mr.history[key])
	delete(mr.history, key)
	mr.mu.Unlock()
	return &command.Result{Content: fmt.Sprintf("Forgot %d message(s).", n)}, nil
}

func (mr *MessageRouter) reply(ctx context.Context, orig *gateway.InboundMessage, text string) {
	err := mr.out.Send(ctx, &gateway.OutboundMessage{
		Platform:  orig.Platform,
		ChannelID: orig.ChannelID,
		AgentID:   mr.agent.ID(),
		Content:   text,
		ReplyTo:   orig.ReplyTo,
	})
	if err != nil {
		mr.logger.Error("send reply failed",
			zap.String("platform", orig.Platform), zap.Error(err))
	}
}
