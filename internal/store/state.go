package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// AgentState is one agent's current placement plus its latest event, used by
// the read-only world view.
type AgentState struct {
	AgentID      int64
	AgentName    string
	Job          string
	LocationName string
	LocationKind string
	LastEvent    map[string]any
}

// CurrentPlacements returns, for every agent, its open presence (if any) and
// its most recent world event payload.
func (s *Store) CurrentPlacements(ctx context.Context) ([]*AgentState, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT a.id, a.name, a.job,
		       COALESCE(l.name, ''), COALESCE(l.kind, ''),
		       (SELECT payload FROM world_events we WHERE we.agent_id = a.id ORDER BY we.id DESC LIMIT 1)
		FROM agents a
		LEFT JOIN agent_locations al ON al.agent_id = a.id AND al.until_ts IS NULL
		LEFT JOIN locations l ON l.id = al.location_id
		ORDER BY a.name, al.since_ts DESC`)
	if err != nil {
		return nil, fmt.Errorf("current placements: %w", err)
	}
	defer rows.Close()

	var (
		out  []*AgentState
		seen = map[int64]bool{}
	)
	for rows.Next() {
		var (
			st      AgentState
			payload []byte
		)
		if err := rows.Scan(&st.AgentID, &st.AgentName, &st.Job, &st.LocationName, &st.LocationKind, &payload); err != nil {
			return nil, fmt.Errorf("scan placement: %w", err)
		}
		if seen[st.AgentID] {
			continue
		}
		seen[st.AgentID] = true
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &st.LastEvent); err != nil {
				return nil, fmt.Errorf("decode event payload for agent %d: %w", st.AgentID, err)
			}
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}
