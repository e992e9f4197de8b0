// Package a2a is the agent-to-agent messaging hub: a registry of agents,
// per-agent inboxes and a thread index over every message that passes
// through.
package a2a

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// Broadcast is the recipient id that fans a message out to every agent.
	Broadcast = "broadcast"

	StatusActive = "active"

	TypeRequest      = "request"
	TypeResponse     = "response"
	TypeNotification = "notification"
)

// AgentInfo is an agent's registry entry.
type AgentInfo struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Capabilities []string       `json:"capabilities"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Status       string         `json:"status"`
	RegisteredAt time.Time      `json:"registered_at"`
}

// HasCapability reports whether the agent lists capability exactly.
func (a AgentInfo) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Message is the envelope exchanged between agents.
type Message struct {
	MessageID   string         `json:"message_id"`
	ThreadID    string         `json:"thread_id"`
	SenderID    string         `json:"sender_id"`
	RecipientID string         `json:"recipient_id"`
	Content     string         `json:"content"`
	Type        string         `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewMessage builds a request message with a fresh id that starts its own thread.
func NewMessage(senderID, recipientID, content string) Message {
	m := Message{SenderID: senderID, RecipientID: recipientID, Content: content}
	m.normalize(time.Now())
	return m
}

// normalize fills in id, thread, type and timestamp when absent.
// A message without a thread starts a new one keyed by its own id.
func (m *Message) normalize(now time.Time) {
	if m.MessageID == "" {
		m.MessageID = uuid.New().String()
	}
	if m.ThreadID == "" {
		m.ThreadID = m.MessageID
	}
	if m.Type == "" {
		m.Type = TypeRequest
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
}

// SendReceipt acknowledges an accepted message.
type SendReceipt struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	ThreadID  string `json:"thread_id"`
}

// ThreadSummary is the index entry for a conversation thread.
type ThreadSummary struct {
	ThreadID     string    `json:"thread_id"`
	Title        string    `json:"title"`
	Participants []string  `json:"participants"`
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
	Status       string    `json:"status"`
}

const titleLimit = 50

// threadTitle is the first line of content cut to 50 characters, marked
// with an ellipsis when the cut lands exactly on the limit.
func threadTitle(content string) string {
	line, _, _ := strings.Cut(content, "\n")
	r := []rune(line)
	if len(r) > titleLimit {
		r = r[:titleLimit]
	}
	title := string(r)
	if len(r) == titleLimit {
		title += "..."
	}
	return title
}

func (t *ThreadSummary) addParticipant(id string) {
	if id == "" || id == Broadcast {
		return
	}
	for _, p := range t.Participants {
		if p == id {
			return
		}
	}
	t.Participants = append(t.Participants, id)
}

// SummarizeThread rebuilds a thread summary from its messages, given in
// send order. It reports false for an empty thread.
func SummarizeThread(msgs []Message) (ThreadSummary, bool) {
	if len(msgs) == 0 {
		return ThreadSummary{}, false
	}
	t := ThreadSummary{
		ThreadID: msgs[0].ThreadID,
		Title:    threadTitle(msgs[0].Content),
		Status:   StatusActive,
	}
	for _, m := range msgs {
		t.MessageCount++
		if m.Timestamp.After(t.LastActivity) {
			t.LastActivity = m.Timestamp
		}
		t.addParticipant(m.SenderID)
		t.addParticipant(m.RecipientID)
	}
	return t, true
}

func (t ThreadSummary) clone() ThreadSummary {
	t.Participants = append([]string(nil), t.Participants...)
	return t
}
