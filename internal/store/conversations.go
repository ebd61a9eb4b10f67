package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Conversation groups the turns of one dialogue exchange.
type Conversation struct {
	ID            string
	Scenario      string
	InitialPrompt string
	StartedAt     time.Time
}

// Turn is a single utterance within a conversation.
type Turn struct {
	ID             int64
	ConversationID string
	Round          int
	Interaction    int
	TurnIndex      int
	AgentID        *int64
	Model          string
	Role           string
	Content        string
	CreatedAt      time.Time
}

// CreateConversation inserts a new conversation, assigning an ID if empty.
func (s *Store) CreateConversation(ctx context.Context, c *Conversation) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	err := s.q(ctx).QueryRow(ctx, `
		INSERT INTO conversations (id, scenario, initial_prompt)
		VALUES ($1, $2, $3)
		RETURNING started_at`,
		c.ID, c.Scenario, c.InitialPrompt,
	).Scan(&c.StartedAt)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// InsertTurn appends a turn to its conversation.
func (s *Store) InsertTurn(ctx context.Context, t *Turn) error {
	err := s.q(ctx).QueryRow(ctx, `
		INSERT INTO turns (conversation_id, round, interaction, turn_index, agent_id, model, role, content)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		t.ConversationID, t.Round, t.Interaction, t.TurnIndex, t.AgentID, t.Model, t.Role, t.Content,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}
