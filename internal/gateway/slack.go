package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

var slackMentionRe = regexp.MustCompile(`<@[A-Z0-9]+>`)

// SlackAdapter connects through Socket Mode. Direct messages and
// @-mentions in channels reach the handler; replies go to the thread the
// message came from.
type SlackAdapter struct {
	client      *slack.Client
	socket      *socketmode.Client
	handler     MessageHandler
	personas    map[string]*Persona
	connected   bool
	connectedAt time.Time
	lastError   string
	mu          sync.RWMutex
	logger      *zap.Logger
}

// NewSlackAdapter creates a Slack gateway adapter.
// botToken is the Bot User OAuth Token (xoxb-...).
// appToken is the App-Level Token (xapp-...) for Socket Mode.
func NewSlackAdapter(botToken, appToken string, logger *zap.Logger) *SlackAdapter {
	client := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	socket := socketmode.New(client, socketmode.OptionLog(zap.NewStdLog(logger)))
	return &SlackAdapter{
		client:   client,
		socket:   socket,
		personas: make(map[string]*Persona),
		logger:   logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

func (a *SlackAdapter) OnMessage(h MessageHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// SetPersona sets the display name and icon used for agentID's messages.
func (a *SlackAdapter) SetPersona(agentID string, persona *Persona) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.personas[agentID] = persona
}

// Connect starts the Socket Mode event loop in the background.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	go a.handleEvents(ctx)
	go func() {
		if err := a.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			a.setError(err.Error())
			a.logger.Error("slack socket mode error", zap.Error(err))
		}
	}()
	return nil
}

func (a *SlackAdapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.processEvent(evt)
		}
	}
}

func (a *SlackAdapter) processEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		a.mu.Lock()
		a.connected = true
		a.connectedAt = time.Now()
		a.lastError = ""
		a.mu.Unlock()
		a.logger.Info("slack adapter connected via socket mode")
	case socketmode.EventTypeConnectionError:
		a.setError(fmt.Sprintf("connection error: %v", evt.Data))
	case socketmode.EventTypeEventsAPI:
		eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		if eventsAPI.Type != slackevents.CallbackEvent {
			return
		}
		if msg := slackInbound(eventsAPI.InnerEvent.Data); msg != nil {
			a.deliver(msg)
		}
	}
}

// slackInbound normalizes the events the adapter answers: app mentions in
// channels and plain user messages in direct conversations.
func slackInbound(data any) *InboundMessage {
	var channel, user, text, ts, threadTS string
	switch ev := data.(type) {
	case *slackevents.AppMentionEvent:
		channel, user, text, ts, threadTS = ev.Channel, ev.User, ev.Text, ev.TimeStamp, ev.ThreadTimeStamp
	case *slackevents.MessageEvent:
		if ev.BotID != "" || ev.SubType != "" || ev.ChannelType != "im" {
			return nil
		}
		channel, user, text, ts, threadTS = ev.Channel, ev.User, ev.Text, ev.TimeStamp, ev.ThreadTimeStamp
	default:
		return nil
	}
	text = strings.TrimSpace(slackMentionRe.ReplaceAllString(text, ""))
	if text == "" {
		return nil
	}
	if threadTS == "" {
		threadTS = ts
	}
	return &InboundMessage{
		Platform:  "slack",
		ChannelID: channel,
		UserID:    user,
		UserName:  user,
		Content:   text,
		Timestamp: time.Now(),
		ReplyTo:   threadTS,
	}
}

func (a *SlackAdapter) deliver(msg *InboundMessage) {
	a.mu.RLock()
	h := a.handler
	a.mu.RUnlock()
	if h != nil {
		h(msg)
	}
}

func (a *SlackAdapter) setError(msg string) {
	a.mu.Lock()
	a.connected = false
	a.lastError = msg
	a.mu.Unlock()
}

// Send posts a message in the channel, threaded under ReplyTo when set.
func (a *SlackAdapter) Send(ctx context.Context, msg *OutboundMessage) error {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Content, false)}
	if msg.ReplyTo != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ReplyTo))
	}
	opts = append(opts, a.personaOpts(msg.AgentID)...)

	if _, _, err := a.client.PostMessageContext(ctx, msg.ChannelID, opts...); err != nil {
		a.logger.Error("slack send failed",
			zap.String("channel", msg.ChannelID), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

func (a *SlackAdapter) personaOpts(agentID string) []slack.MsgOption {
	if agentID == "" {
		return nil
	}
	a.mu.RLock()
	p, ok := a.personas[agentID]
	a.mu.RUnlock()
	if !ok {
		return nil
	}

	opts := []slack.MsgOption{slack.MsgOptionUsername(p.Name)}
	if p.IconURL != "" {
		opts = append(opts, slack.MsgOptionIconURL(p.IconURL))
	} else if p.Emoji != "" {
		opts = append(opts, slack.MsgOptionIconEmoji(p.Emoji))
	}
	return opts
}

// Broadcast posts to every channel the bot is a member of.
func (a *SlackAdapter) Broadcast(ctx context.Context, msg *BroadcastMessage) error {
	text := fmt.Sprintf("*[%s]*\n%s", msg.Title(), msg.Content)
	opts := append([]slack.MsgOption{slack.MsgOptionText(text, false)}, a.personaOpts(msg.SenderID)...)

	channels, _, err := a.client.GetConversationsForUserContext(ctx, &slack.GetConversationsForUserParameters{
		Types: []string{"public_channel", "private_channel"},
		Limit: 200,
	})
	if err != nil {
		return fmt.Errorf("slack list channels: %w", err)
	}
	for _, ch := range channels {
		if _, _, err := a.client.PostMessageContext(ctx, ch.ID, opts...); err != nil {
			a.logger.Warn("slack broadcast to channel failed",
				zap.String("channel", ch.ID), zap.Error(err))
		}
	}
	return nil
}

// Close is a no-op; cancelling the Connect context stops the socket.
func (a *SlackAdapter) Close() error { return nil }

func (a *SlackAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{Platform: "slack", Connected: a.connected, Error: a.lastError}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
		s.Details = "socket mode"
	}
	return s
}
