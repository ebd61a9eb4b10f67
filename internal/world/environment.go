// Package world runs the autonomous agent simulation: occupancy tracking,
// tick scheduling, action dispatch and daily reporting.
package world

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/hamlet/internal/store"
)

// EnvStore is the persistence surface the environment needs.
type EnvStore interface {
	GetLocation(ctx context.Context, id int64) (*store.Location, error)
	GetLocationByName(ctx context.Context, name string) (*store.Location, error)
	ListLocations(ctx context.Context, limit int) ([]*store.Location, error)
	OpenPresences(ctx context.Context, agentID int64) ([]store.Presence, error)
	CloseOpenPresences(ctx context.Context, agentID int64, until time.Time) error
	InsertPresence(ctx context.Context, agentID, locationID int64, since time.Time) error
	PresenceCount(ctx context.Context, locationID int64) (int, error)
	AgentsAt(ctx context.Context, locationID int64) ([]*store.Agent, error)
}

const defaultTravelMinutes = 30

// Environment tracks who is where, which locations are open, and how long
// travel between them takes.
type Environment struct {
	store  EnvStore
	graph  map[string]map[string]int
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[int64]*store.Location
}

// NewEnvironment creates the environment service over a travel-time graph.
func NewEnvironment(st EnvStore, graph map[string]map[string]int, logger *zap.Logger) *Environment {
	return &Environment{
		store:  st,
		graph:  graph,
		logger: logger,
		cache:  make(map[int64]*store.Location),
	}
}

// Location returns a location by ID, cached after first load.
func (e *Environment) Location(ctx context.Context, id int64) (*store.Location, error) {
	e.mu.RLock()
	loc, ok := e.cache[id]
	e.mu.RUnlock()
	if ok {
		return loc, nil
	}
	loc, err := e.store.GetLocation(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.cache[id] = loc
	e.mu.Unlock()
	return loc, nil
}

// CurrentLocation returns the agent's open presence location, or nil when the
// agent is nowhere. Multiple open rows are a data integrity fault: the most
// recent row wins and the rest are logged.
func (e *Environment) CurrentLocation(ctx context.Context, agent *store.Agent) (*store.Location, error) {
	presences, err := e.store.OpenPresences(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	if len(presences) == 0 {
		return nil, nil
	}
	if len(presences) > 1 {
		e.logger.Warn("agent has multiple open presences",
			zap.Int64("agent", agent.ID),
			zap.String("name", agent.Name),
			zap.Int("open_rows", len(presences)))
	}
	return e.Location(ctx, presences[0].LocationID)
}

// IsOpen reports whether a location is open at the given hour. Locations
// without configured hours are always open; the interval is half-open
// [start, end).
func (e *Environment) IsOpen(loc *store.Location, hour int) bool {
	if loc.OpenStart == nil || loc.OpenEnd == nil {
		return true
	}
	return *loc.OpenStart <= hour && hour < *loc.OpenEnd
}

// Occupancy returns the number of agents currently at a location.
func (e *Environment) Occupancy(ctx context.Context, loc *store.Location) (int, error) {
	return e.store.PresenceCount(ctx, loc.ID)
}

// CanEnter reports whether a location is open and below capacity. Advisory:
// Move does not enforce it.
func (e *Environment) CanEnter(ctx context.Context, loc *store.Location, hour int) (bool, error) {
	if !e.IsOpen(loc, hour) {
		return false, nil
	}
	occupancy, err := e.Occupancy(ctx, loc)
	if err != nil {
		return false, err
	}
	return occupancy < loc.Capacity, nil
}

// TravelTime returns the travel minutes between two locations: zero for the
// same location, the graph edge when present, otherwise a flat default.
func (e *Environment) TravelTime(from, to *store.Location) int {
	if from.Name == to.Name {
		return 0
	}
	if edges, ok := e.graph[from.Name]; ok {
		if minutes, ok := edges[to.Name]; ok {
			return minutes
		}
	}
	return defaultTravelMinutes
}

// Move relocates an agent: every open presence row is closed (self-healing
// any duplicates) and a single new one opened.
func (e *Environment) Move(ctx context.Context, agent *store.Agent, to *store.Location, at time.Time) error {
	if err := e.store.CloseOpenPresences(ctx, agent.ID, at); err != nil {
		return err
	}
	return e.store.InsertPresence(ctx, agent.ID, to.ID, at)
}

// Nearby returns locations reachable from the current one within the travel
// budget. Graph entries naming unknown locations are skipped.
func (e *Environment) Nearby(ctx context.Context, from *store.Location, maxTravelMinutes int) ([]*store.Location, error) {
	var nearby []*store.Location
	for name, minutes := range e.graph[from.Name] {
		if minutes > maxTravelMinutes {
			continue
		}
		loc, err := e.store.GetLocationByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if loc == nil {
			continue
		}
		nearby = append(nearby, loc)
	}
	// Map iteration order is random; keep draws reproducible under a seeded rng.
	sort.Slice(nearby, func(i, j int) bool { return nearby[i].Name < nearby[j].Name })
	return nearby, nil
}

// AgentsAt returns all agents currently present at a location.
func (e *Environment) AgentsAt(ctx context.Context, loc *store.Location) ([]*store.Agent, error) {
	return e.store.AgentsAt(ctx, loc.ID)
}
