package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/nidhogg/proposagent/internal/a2a"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAdapter struct {
	platform   string
	handler    MessageHandler
	sent       []*OutboundMessage
	broadcasts []*BroadcastMessage
	connectErr error
	mu         sync.Mutex
}

func (f *fakeAdapter) Platform() string              { return f.platform }
func (f *fakeAdapter) Connect(context.Context) error { return f.connectErr }
func (f *fakeAdapter) OnMessage(h MessageHandler)    { f.handler = h }
func (f *fakeAdapter) Close() error                  { return nil }
func (f *fakeAdapter) Send(_ context.Context, m *OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return nil
}
func (f *fakeAdapter) Broadcast(_ context.Context, m *BroadcastMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, m)
	return nil
}

func TestGatewayDispatchAndSend(t *testing.T) {
	gw := New(zap.NewNop())
	slackFake := &fakeAdapter{platform: "slack"}
	gw.Register(slackFake)

	var got *InboundMessage
	gw.SetHandler(func(m *InboundMessage) { got = m })
	slackFake.handler(&InboundMessage{Platform: "slack", Content: "hi"})
	require.NotNil(t, got)
	assert.Equal(t, "hi", got.Content)

	require.NoError(t, gw.Send(context.Background(), &OutboundMessage{Platform: "slack", Content: "yo"}))
	assert.Len(t, slackFake.sent, 1)

	err := gw.Send(context.Background(), &OutboundMessage{Platform: "irc"})
	assert.True(t, errors.Is(err, ErrNoAdapter))
}

func TestGatewayConnectAllKeepsGoing(t *testing.T) {
	gw := New(zap.NewNop())
	gw.Register(&fakeAdapter{platform: "a", connectErr: errors.New("boom")})
	gw.Register(&fakeAdapter{platform: "b"})

	err := gw.ConnectAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect a")

	status := gw.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "a", status[0].Platform)
}

func TestGatewayBroadcastFiltersPlatforms(t *testing.T) {
	gw := New(zap.NewNop())
	a, b := &fakeAdapter{platform: "a"}, &fakeAdapter{platform: "b"}
	gw.Register(a)
	gw.Register(b)

	require.NoError(t, gw.Broadcast(context.Background(), &BroadcastMessage{Content: "x", Platforms: []string{"b"}}))
	assert.Empty(t, a.broadcasts)
	assert.Len(t, b.broadcasts, 1)
}

func TestBroadcasterRelaysOnlyBroadcasts(t *testing.T) {
	gw := New(zap.NewNop())
	fake := &fakeAdapter{platform: "slack"}
	gw.Register(fake)
	b := NewBroadcaster(gw, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, b.RecordMessage(ctx, a2a.NewMessage("alice", "bob", "direct")))
	assert.Empty(t, fake.broadcasts)

	msg := a2a.NewMessage("alice", a2a.Broadcast, "hello all")
	msg.Type = a2a.TypeNotification
	require.NoError(t, b.RecordMessage(ctx, msg))
	require.Len(t, fake.broadcasts, 1)
	assert.Equal(t, "notification from alice", fake.broadcasts[0].Title())
	assert.Equal(t, msg.ThreadID, fake.broadcasts[0].ThreadID)

	hist := b.History(0)
	require.Len(t, hist, 1)
	assert.Equal(t, []string{"slack"}, hist[0].Targets)
}

func TestRESTAdapterRoundTrip(t *testing.T) {
	a := NewRESTAdapter(time.Second, zap.NewNop())
	a.OnMessage(func(m *InboundMessage) {
		a.Send(context.Background(), &OutboundMessage{
			Platform:  "rest",
			ChannelID: m.ChannelID,
			AgentID:   "agent-1",
			Content:   "echo: " + m.Content,
		})
	})
	srv := httptest.NewServer(a.Routes())
	defer srv.Close()

	body, _ := json.Marshal(map[string]string{"user_id": "u1", "content": "ping"})
	resp, err := http.Post(srv.URL+"/message", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out OutboundMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "echo: ping", out.Content)
	assert.Equal(t, "agent-1", out.AgentID)
}

func TestRESTAdapterTimeoutAndValidation(t *testing.T) {
	a := NewRESTAdapter(50*time.Millisecond, zap.NewNop())
	a.OnMessage(func(*InboundMessage) {})
	srv := httptest.NewServer(a.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/message", "application/json", bytes.NewReader([]byte(`{"content":"slow"}`)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/message", "application/json", bytes.NewReader([]byte(`{"content":""}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var e map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Equal(t, "content is required", e["error"])
}

func TestRESTAdapterSendUnknownChannel(t *testing.T) {
	a := NewRESTAdapter(0, zap.NewNop())
	assert.Error(t, a.Send(context.Background(), &OutboundMessage{ChannelID: "nope"}))
}

func TestRESTAdapterBroadcastKeepsPendingReply(t *testing.T) {
	gw := New(zap.NewNop())
	rest := NewRESTAdapter(time.Second, zap.NewNop())
	gw.Register(rest)
	b := NewBroadcaster(gw, zap.NewNop())

	gw.SetHandler(func(m *InboundMessage) {
		ctx := context.Background()
		note := a2a.NewMessage("agent", a2a.Broadcast, "heads up")
		note.Type = a2a.TypeNotification
		b.RecordMessage(ctx, note)
		gw.Send(ctx, &OutboundMessage{Platform: "rest", ChannelID: m.ChannelID, Content: "the real answer"})
	})
	srv := httptest.NewServer(rest.Routes())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/message", "application/json", bytes.NewReader([]byte(`{"content":"question"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out OutboundMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "the real answer", out.Content)
	require.Len(t, b.History(0), 1)
}

func TestSlackInbound(t *testing.T) {
	msg := slackInbound(&slackevents.AppMentionEvent{
		Channel: "C1", User: "U9", Text: "<@UBOT> what is MCP?", TimeStamp: "111.1",
	})
	require.NotNil(t, msg)
	assert.Equal(t, "what is MCP?", msg.Content)
	assert.Equal(t, "111.1", msg.ReplyTo)

	dm := slackInbound(&slackevents.MessageEvent{
		Channel: "D1", User: "U9", Text: "hi", TimeStamp: "2.0", ThreadTimeStamp: "1.0", ChannelType: "im",
	})
	require.NotNil(t, dm)
	assert.Equal(t, "1.0", dm.ReplyTo)

	assert.Nil(t, slackInbound(&slackevents.MessageEvent{Text: "x", ChannelType: "channel"}))
	assert.Nil(t, slackInbound(&slackevents.MessageEvent{Text: "x", ChannelType: "im", BotID: "B1"}))
	assert.Nil(t, slackInbound(&slackevents.AppMentionEvent{Text: "<@UBOT>"}))
}

func TestDiscordInbound(t *testing.T) {
	bot := "42"
	user := &discordgo.User{ID: "7", Username: "ann"}

	msg := discordInbound(bot, &discordgo.Message{
		ID: "m1", ChannelID: "c1", GuildID: "g1", Author: user,
		Content: "<@42> list agents", Mentions: []*discordgo.User{{ID: bot}},
	})
	require.NotNil(t, msg)
	assert.Equal(t, "list agents", msg.Content)
	assert.Equal(t, "m1", msg.ReplyTo)

	assert.NotNil(t, discordInbound(bot, &discordgo.Message{ChannelID: "dm", Author: user, Content: "hello"}))
	assert.Nil(t, discordInbound(bot, &discordgo.Message{GuildID: "g1", Author: user, Content: "chatter"}))
	assert.Nil(t, discordInbound(bot, &discordgo.Message{Author: &discordgo.User{ID: bot}, Content: "self"}))
}
