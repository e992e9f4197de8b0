package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordAdapter connects to the Discord bot gateway. Direct messages and
// messages that mention the bot reach the handler.
type DiscordAdapter struct {
	token            string
	session          *discordgo.Session
	handler          MessageHandler
	personas         map[string]*Persona
	broadcastChannel string
	connected        bool
	connectedAt      time.Time
	lastError        string
	mu               sync.RWMutex
	logger           *zap.Logger
}

// NewDiscordAdapter creates a Discord gateway adapter.
func NewDiscordAdapter(token string, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:    token,
		personas: make(map[string]*Persona),
		logger:   logger,
	}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

func (a *DiscordAdapter) OnMessage(h MessageHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// SetPersona sets the name prefixed to agentID's messages.
func (a *DiscordAdapter) SetPersona(agentID string, persona *Persona) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.personas[agentID] = persona
}

// SetBroadcastChannel pins broadcasts to one channel instead of the first
// text channel of every guild.
func (a *DiscordAdapter) SetBroadcastChannel(channelID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.broadcastChannel = channelID
}

// Connect opens the Discord gateway websocket.
func (a *DiscordAdapter) Connect(_ context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.setError(fmt.Sprintf("session create: %v", err))
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	session.AddHandler(a.onMessageCreate)

	if err := session.Open(); err != nil {
		a.setError(fmt.Sprintf("open failed: %v", err))
		return fmt.Errorf("discord open: %w", err)
	}

	a.mu.Lock()
	a.session = session
	a.connected = true
	a.connectedAt = time.Now()
	a.lastError = ""
	a.mu.Unlock()

	guilds := len(session.State.Guilds)
	if guilds == 0 {
		a.logger.Warn("discord bot is not a member of any guild")
	}
	a.logger.Info("discord adapter connected",
		zap.String("user", session.State.User.Username),
		zap.Int("guilds", guilds))
	return nil
}

func (a *DiscordAdapter) setError(msg string) {
	a.mu.Lock()
	a.connected = false
	a.lastError = msg
	a.mu.Unlock()
}

func (a *DiscordAdapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	msg := discordInbound(s.State.User.ID, m.Message)
	if msg == nil {
		return
	}
	a.mu.RLock()
	h := a.handler
	a.mu.RUnlock()
	if h != nil {
		h(msg)
	}
}

// discordInbound keeps direct messages and guild messages mentioning
// botID, with the mention removed.
func discordInbound(botID string, m *discordgo.Message) *InboundMessage {
	if m == nil || m.Author == nil || m.Author.ID == botID || m.Author.Bot {
		return nil
	}
	mentioned := false
	for _, u := range m.Mentions {
		if u != nil && u.ID == botID {
			mentioned = true
			break
		}
	}
	if m.GuildID != "" && !mentioned {
		return nil
	}
	content := m.Content
	for _, tag := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
		content = strings.ReplaceAll(content, tag, "")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	return &InboundMessage{
		Platform:  "discord",
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Content:   content,
		Timestamp: m.Timestamp,
		ReplyTo:   m.ID,
	}
}

func (a *DiscordAdapter) format(agentID, content string) string {
	a.mu.RLock()
	p, ok := a.personas[agentID]
	a.mu.RUnlock()
	if ok && p.Name != "" {
		return fmt.Sprintf("**[%s]** %s", p.Name, content)
	}
	return content
}

// Send posts a message to a Discord channel, as a reply when ReplyTo is set.
func (a *DiscordAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("discord send: not connected")
	}

	content := a.format(msg.AgentID, msg.Content)
	var err error
	if msg.ReplyTo != "" {
		_, err = session.ChannelMessageSendReply(msg.ChannelID, content, &discordgo.MessageReference{
			MessageID: msg.ReplyTo,
			ChannelID: msg.ChannelID,
		})
	} else {
		_, err = session.ChannelMessageSend(msg.ChannelID, content)
	}
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Broadcast posts to the pinned broadcast channel, or to the first
// writable text channel of every guild.
func (a *DiscordAdapter) Broadcast(_ context.Context, msg *BroadcastMessage) error {
	a.mu.RLock()
	session, pinned := a.session, a.broadcastChannel
	a.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("discord broadcast: not connected")
	}

	content := a.format(msg.SenderID, fmt.Sprintf("**[%s]**\n%s", msg.Title(), msg.Content))
	if pinned != "" {
		if _, err := session.ChannelMessageSend(pinned, content); err != nil {
			return fmt.Errorf("discord broadcast: %w", err)
		}
		return nil
	}

	for _, guild := range session.State.Guilds {
		channels, err := session.GuildChannels(guild.ID)
		if err != nil {
			a.logger.Warn("discord list channels failed",
				zap.String("guild", guild.ID), zap.Error(err))
			continue
		}
		for _, ch := range channels {
			if ch.Type != discordgo.ChannelTypeGuildText {
				continue
			}
			if _, err := session.ChannelMessageSend(ch.ID, content); err == nil {
				break
			}
		}
	}
	return nil
}

// Close shuts down the Discord session.
func (a *DiscordAdapter) Close() error {
	a.mu.Lock()
	session := a.session
	a.session = nil
	a.connected = false
	a.mu.Unlock()
	if session != nil {
		return session.Close()
	}
	return nil
}

func (a *DiscordAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{Platform: "discord", Connected: a.connected, Error: a.lastError}
	if a.connected && a.session != nil && a.session.State != nil {
		t := a.connectedAt
		s.ConnectedAt = &t
		s.Details = fmt.Sprintf("bot=%s, guilds=%d",
			a.session.State.User.Username, len(a.session.State.Guilds))
	}
	return s
}
