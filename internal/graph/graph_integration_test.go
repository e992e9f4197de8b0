//go:build integration

package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/proposagent/internal/a2a"
)

func startNeo4j(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	container, err := tcneo4j.Run(ctx, "neo4j:5-community", tcneo4j.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	uri, err := container.BoltUrl(ctx)
	require.NoError(t, err)

	s, err := NewStore(uri, "", "", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(ctx) })
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.EnsureSchema(ctx))
	return s
}

func TestRecordAndQueryThread(t *testing.T) {
	s := startNeo4j(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := a2a.Message{MessageID: "m1", ThreadID: "t1", SenderID: "alice", RecipientID: "bob",
		Content: "ping", Type: a2a.TypeRequest, Timestamp: base}
	second := a2a.Message{MessageID: "m2", ThreadID: "t1", SenderID: "bob", RecipientID: "alice",
		Content: "pong", Type: a2a.TypeResponse, Timestamp: base.Add(time.Second)}
	require.NoError(t, s.RecordMessage(ctx, first))
	require.NoError(t, s.RecordMessage(ctx, second))
	require.NoError(t, s.RecordMessage(ctx, first), "recording is idempotent")

	msgs, err := s.Thread(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "ping", msgs[0].Content)
	assert.Equal(t, "bob", msgs[1].SenderID)
	assert.True(t, msgs[0].Timestamp.Equal(base))

	contacts, err := s.Contacts(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "bob", contacts[0].AgentID)
	assert.Equal(t, int64(2), contacts[0].Messages)
}
