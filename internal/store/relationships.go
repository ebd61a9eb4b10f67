package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Relationship is a directed edge between two agents, unique per pair.
type Relationship struct {
	ID          int64
	FromAgentID int64
	ToAgentID   int64
	Type        string
	Strength    float64
	SinceDate   time.Time
	UpdatedAt   time.Time
}

// GetRelationship returns the edge from one agent to another, or (nil, nil).
func (s *Store) GetRelationship(ctx context.Context, fromID, toID int64) (*Relationship, error) {
	var r Relationship
	err := s.q(ctx).QueryRow(ctx, `
		SELECT id, from_agent_id, to_agent_id, type, strength, since_date, updated_at
		FROM relationships
		WHERE from_agent_id = $1 AND to_agent_id = $2`, fromID, toID,
	).Scan(&r.ID, &r.FromAgentID, &r.ToAgentID, &r.Type, &r.Strength, &r.SinceDate, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get relationship %d->%d: %w", fromID, toID, err)
	}
	return &r, nil
}

// InsertRelationship creates a new edge.
func (s *Store) InsertRelationship(ctx context.Context, r *Relationship) error {
	err := s.q(ctx).QueryRow(ctx, `
		INSERT INTO relationships (from_agent_id, to_agent_id, type, strength, since_date)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, updated_at`,
		r.FromAgentID, r.ToAgentID, r.Type, r.Strength, r.SinceDate,
	).Scan(&r.ID, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert relationship %d->%d: %w", r.FromAgentID, r.ToAgentID, err)
	}
	return nil
}

// UpdateRelationship rewrites type and strength on an existing edge.
func (s *Store) UpdateRelationship(ctx context.Context, r *Relationship) error {
	_, err := s.q(ctx).Exec(ctx, `
		UPDATE relationships SET type = $2, strength = $3, updated_at = NOW()
		WHERE id = $1`, r.ID, r.Type, r.Strength)
	if err != nil {
		return fmt.Errorf("update relationship %d: %w", r.ID, err)
	}
	return nil
}

// StrongestRelationships returns an agent's outgoing edges by descending strength.
func (s *Store) StrongestRelationships(ctx context.Context, fromID int64, limit int) ([]*Relationship, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT id, from_agent_id, to_agent_id, type, strength, since_date, updated_at
		FROM relationships
		WHERE from_agent_id = $1
		ORDER BY strength DESC, to_agent_id
		LIMIT $2`, fromID, limit)
	if err != nil {
		return nil, fmt.Errorf("strongest relationships for %d: %w", fromID, err)
	}
	return scanRelationships(rows)
}

// ListRelationships returns every edge in the graph.
func (s *Store) ListRelationships(ctx context.Context) ([]*Relationship, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT id, from_agent_id, to_agent_id, type, strength, since_date, updated_at
		FROM relationships ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	return scanRelationships(rows)
}

func scanRelationships(rows pgx.Rows) ([]*Relationship, error) {
	defer rows.Close()
	var out []*Relationship
	for rows.Next() {
		var r Relationship
		if err := rows.Scan(&r.ID, &r.FromAgentID, &r.ToAgentID, &r.Type, &r.Strength, &r.SinceDate, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
