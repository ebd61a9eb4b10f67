package store

import (
	"context"
	"fmt"
	"time"
)

// Presence is one stay of an agent at a location. A nil Until means the agent
// is currently there; at most one open row should exist per agent.
type Presence struct {
	ID         int64
	AgentID    int64
	LocationID int64
	Since      time.Time
	Until      *time.Time
}

// OpenPresences returns the agent's open presence rows, most recent first.
// More than one row indicates a data-integrity violation the caller may heal.
func (s *Store) OpenPresences(ctx context.Context, agentID int64) ([]Presence, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT id, agent_id, location_id, since_ts, until_ts
		FROM agent_locations
		WHERE agent_id = $1 AND until_ts IS NULL
		ORDER BY since_ts DESC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("open presences for agent %d: %w", agentID, err)
	}
	defer rows.Close()

	var out []Presence
	for rows.Next() {
		var p Presence
		if err := rows.Scan(&p.ID, &p.AgentID, &p.LocationID, &p.Since, &p.Until); err != nil {
			return nil, fmt.Errorf("scan presence: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CloseOpenPresences stamps until_ts on every open row for the agent. Closing
// all open rows (not just the latest) restores the one-open-row invariant.
func (s *Store) CloseOpenPresences(ctx context.Context, agentID int64, until time.Time) error {
	_, err := s.q(ctx).Exec(ctx, `
		UPDATE agent_locations SET until_ts = $2
		WHERE agent_id = $1 AND until_ts IS NULL`, agentID, until)
	if err != nil {
		return fmt.Errorf("close presences for agent %d: %w", agentID, err)
	}
	return nil
}

// InsertPresence opens a new presence row for the agent at the location.
func (s *Store) InsertPresence(ctx context.Context, agentID, locationID int64, since time.Time) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO agent_locations (agent_id, location_id, since_ts)
		VALUES ($1, $2, $3)`, agentID, locationID, since)
	if err != nil {
		return fmt.Errorf("insert presence agent %d at %d: %w", agentID, locationID, err)
	}
	return nil
}

// PresenceCount returns how many agents currently occupy the location.
func (s *Store) PresenceCount(ctx context.Context, locationID int64) (int, error) {
	var n int
	err := s.q(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM agent_locations
		WHERE location_id = $1 AND until_ts IS NULL`, locationID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("presence count for location %d: %w", locationID, err)
	}
	return n, nil
}

// AgentsAt returns all agents with an open presence row at the location.
func (s *Store) AgentsAt(ctx context.Context, locationID int64) ([]*Agent, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT a.id, a.name, a.bio, a.job, a.traits, a.family, a.created_at, a.updated_at
		FROM agents a
		JOIN agent_locations al ON al.agent_id = a.id
		WHERE al.location_id = $1 AND al.until_ts IS NULL
		ORDER BY a.id`, locationID)
	if err != nil {
		return nil, fmt.Errorf("agents at location %d: %w", locationID, err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Bio, &a.Job, &a.Traits, &a.Family, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, a := range agents {
		if err := s.loadInterests(ctx, a); err != nil {
			return nil, err
		}
	}
	return agents, nil
}
