package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// WorldEvent is one committed agent action. The payload always carries an
// "action" tag; chat events additionally carry a "conversation" list.
type WorldEvent struct {
	ID         int64
	AgentID    int64
	TickIndex  int
	ActivityID *int64
	LocationID *int64
	Payload    map[string]any
	CreatedAt  time.Time
}

// InsertEvent appends an immutable world event.
func (s *Store) InsertEvent(ctx context.Context, ev *WorldEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	err = s.q(ctx).QueryRow(ctx, `
		INSERT INTO world_events (agent_id, tick_index, activity_id, location_id, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		ev.AgentID, ev.TickIndex, ev.ActivityID, ev.LocationID, payload,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// EventsForDay returns all events whose payload day_label matches, in commit order.
func (s *Store) EventsForDay(ctx context.Context, dayLabel string) ([]*WorldEvent, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT id, agent_id, tick_index, activity_id, location_id, payload, created_at
		FROM world_events
		WHERE payload->>'day_label' = $1
		ORDER BY id`, dayLabel)
	if err != nil {
		return nil, fmt.Errorf("events for day %s: %w", dayLabel, err)
	}
	return scanEvents(rows)
}

// RecentEvents returns the newest events, most recent first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]*WorldEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q(ctx).Query(ctx, `
		SELECT id, agent_id, tick_index, activity_id, location_id, payload, created_at
		FROM world_events
		ORDER BY id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	return scanEvents(rows)
}

// LatestEventForAgent returns the agent's newest event, or (nil, nil).
func (s *Store) LatestEventForAgent(ctx context.Context, agentID int64) (*WorldEvent, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT id, agent_id, tick_index, activity_id, location_id, payload, created_at
		FROM world_events
		WHERE agent_id = $1
		ORDER BY id DESC
		LIMIT 1`, agentID)
	if err != nil {
		return nil, fmt.Errorf("latest event for agent %d: %w", agentID, err)
	}
	events, err := scanEvents(rows)
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return events[0], nil
}

func scanEvents(rows pgx.Rows) ([]*WorldEvent, error) {
	defer rows.Close()
	var events []*WorldEvent
	for rows.Next() {
		var (
			ev      WorldEvent
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.AgentID, &ev.TickIndex, &ev.ActivityID, &ev.LocationID, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("decode event payload %d: %w", ev.ID, err)
			}
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
