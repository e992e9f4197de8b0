// Package gateway connects chat platforms to the agent. Each platform is an
// Adapter; the Gateway fans inbound messages into one handler and routes
// replies and broadcasts back out.
package gateway

import (
	"context"
	"time"
)

// Adapter is one chat platform connection.
type Adapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg *OutboundMessage) error
	OnMessage(handler MessageHandler)
	Broadcast(ctx context.Context, msg *BroadcastMessage) error
	Close() error
}

// StatusReporter is implemented by adapters that track their connection.
type StatusReporter interface {
	Status() AdapterStatus
}

// MessageHandler processes inbound messages from any platform.
type MessageHandler func(msg *InboundMessage)

// InboundMessage is a normalized message from any platform.
type InboundMessage struct {
	Platform  string    `json:"platform"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   string    `json:"reply_to,omitempty"`
}

// OutboundMessage is a message sent to a specific platform channel.
type OutboundMessage struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id"`
	AgentID   string `json:"agent_id,omitempty"`
	Content   string `json:"content"`
	ReplyTo   string `json:"reply_to,omitempty"`
}

// BroadcastMessage is an A2A broadcast relayed to chat platforms.
type BroadcastMessage struct {
	ThreadID  string    `json:"thread_id"`
	SenderID  string    `json:"sender_id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Platforms []string  `json:"platforms,omitempty"`
}

// Title is the one-line heading adapters print above the content.
func (m *BroadcastMessage) Title() string {
	if m.SenderID == "" {
		return m.Type
	}
	return m.Type + " from " + m.SenderID
}

// AdapterStatus describes the connection state of a platform adapter.
type AdapterStatus struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Details     string     `json:"details,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Persona is how an agent appears on a chat platform.
type Persona struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url"`
	Emoji   string `json:"emoji"`
}
