// Package graph mirrors A2A traffic into Neo4j so conversations can be
// explored as (:Agent)-[:SENT]->(:Message)-[:TO]->(:Agent) paths grouped
// by (:Thread).
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/proposagent/internal/a2a"
)

// Store handles Neo4j operations for the conversation graph.
type Store struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewStore creates a Neo4j-backed graph store. An empty user disables auth.
func NewStore(uri, user, password string, logger *zap.Logger) (*Store, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Store{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// EnsureSchema creates uniqueness constraints for the graph's node keys.
func (s *Store) EnsureSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, stmt := range []string{
		`CREATE CONSTRAINT agent_id IF NOT EXISTS FOR (a:Agent) REQUIRE a.id IS UNIQUE`,
		`CREATE CONSTRAINT message_id IF NOT EXISTS FOR (m:Message) REQUIRE m.id IS UNIQUE`,
		`CREATE CONSTRAINT thread_id IF NOT EXISTS FOR (t:Thread) REQUIRE t.id IS UNIQUE`,
	} {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// RecordMessage writes msg, its thread and both endpoints. Broadcasts are
// linked to a single (:Agent {id: "broadcast"}) node.
func (s *Store) RecordMessage(ctx context.Context, msg a2a.Message) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx,
			`MERGE (from:Agent {id: $from})
			 MERGE (to:Agent {id: $to})
			 MERGE (t:Thread {id: $thread})
			 MERGE (m:Message {id: $id})
			   ON CREATE SET m.content = $content, m.type = $type, m.sent_at = $sentAt
			 MERGE (from)-[:SENT]->(m)
			 MERGE (m)-[:TO]->(to)
			 MERGE (m)-[:IN]->(t)`,
			map[string]any{
				"from":    msg.SenderID,
				"to":      msg.RecipientID,
				"thread":  msg.ThreadID,
				"id":      msg.MessageID,
				"content": msg.Content,
				"type":    msg.Type,
				"sentAt":  msg.Timestamp.UTC().Format(time.RFC3339Nano),
			})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("record message %s: %w", msg.MessageID, err)
	}
	return nil
}

// Contact is another agent and how many messages were exchanged with it.
type Contact struct {
	AgentID  string `json:"agent_id"`
	Messages int64  `json:"messages"`
}

// Contacts lists the agents agentID has exchanged messages with, busiest first.
func (s *Store) Contacts(ctx context.Context, agentID string) ([]Contact, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Agent {id: $id})-[:SENT|TO]-(:Message)-[:SENT|TO]-(other:Agent)
		 WHERE other.id <> $id
		 RETURN other.id AS agent, count(*) AS messages
		 ORDER BY messages DESC, agent ASC`,
		map[string]any{"id": agentID})
	if err != nil {
		return nil, fmt.Errorf("contacts of %s: %w", agentID, err)
	}

	var contacts []Contact
	for result.Next(ctx) {
		rec := result.Record()
		agent, _ := rec.Get("agent")
		count, _ := rec.Get("messages")
		id, _ := agent.(string)
		n, _ := count.(int64)
		contacts = append(contacts, Contact{AgentID: id, Messages: n})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("contacts of %s: %w", agentID, err)
	}
	return contacts, nil
}

// Thread returns the messages recorded for threadID in send order.
func (s *Store) Thread(ctx context.Context, threadID string) ([]a2a.Message, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (from:Agent)-[:SENT]->(m:Message)-[:IN]->(:Thread {id: $thread}),
		       (m)-[:TO]->(to:Agent)
		 RETURN m.id AS id, from.id AS sender, to.id AS recipient,
		        m.content AS content, m.type AS type, m.sent_at AS sent_at
		 ORDER BY m.sent_at ASC`,
		map[string]any{"thread": threadID})
	if err != nil {
		return nil, fmt.Errorf("thread %s: %w", threadID, err)
	}

	var msgs []a2a.Message
	for result.Next(ctx) {
		rec := result.Record()
		m := a2a.Message{ThreadID: threadID}
		m.MessageID = recordString(rec, "id")
		m.SenderID = recordString(rec, "sender")
		m.RecipientID = recordString(rec, "recipient")
		m.Content = recordString(rec, "content")
		m.Type = recordString(rec, "type")
		if ts, err := time.Parse(time.RFC3339Nano, recordString(rec, "sent_at")); err == nil {
			m.Timestamp = ts
		}
		msgs = append(msgs, m)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("thread %s: %w", threadID, err)
	}
	return msgs, nil
}

func recordString(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}
