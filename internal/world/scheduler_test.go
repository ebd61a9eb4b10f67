package world

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/hamlet/internal/store"
)

func newTestScheduler(fs *fakeWorldStore, cfg SchedulerConfig) *Scheduler {
	d := newTestDispatcher(fs, DispatcherOptions{
		Weights: map[ActionKind]float64{ActionTaskUpdate: 1},
	})
	return NewScheduler(fs, d, nil, rand.New(rand.NewSource(7)), zap.NewNop(), cfg)
}

func TestRunEmptyWorld(t *testing.T) {
	fs := &fakeWorldStore{activities: make(map[string]*store.Activity)}
	s := newTestScheduler(fs, SchedulerConfig{Days: 1})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run with no agents: %v", err)
	}
	if len(fs.events) != 0 {
		t.Errorf("empty world produced %d events", len(fs.events))
	}
}

func TestRunTickCount(t *testing.T) {
	fs := &fakeWorldStore{
		activities: map[string]*store.Activity{
			"work_task": {ID: 4, Name: "work_task", Category: "work"},
		},
		agents: []*store.Agent{
			{ID: 1, Name: "Alice"},
			{ID: 2, Name: "Bob"},
		},
	}
	s := newTestScheduler(fs, SchedulerConfig{
		Days:        1,
		TickMinutes: 60,
		StartHour:   9,
		EndHour:     12,
	})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// 3 ticks, 1-2 agents sampled per tick.
	if len(fs.events) < 3 || len(fs.events) > 6 {
		t.Errorf("events = %d, want between 3 and 6", len(fs.events))
	}
	for _, ev := range fs.events {
		if ev.TickIndex < 0 || ev.TickIndex > 2 {
			t.Errorf("event tick index %d out of range", ev.TickIndex)
		}
		if h, ok := ev.Payload["hour"].(int); !ok || h < 9 || h > 11 {
			t.Errorf("event hour %v outside simulated window", ev.Payload["hour"])
		}
	}
}

// failingEventStore rejects every event insert.
type failingEventStore struct {
	*fakeWorldStore
	failures int
}

func (f *failingEventStore) InsertEvent(ctx context.Context, ev *store.WorldEvent) error {
	f.failures++
	return errors.New("duplicate key value violates unique constraint")
}

func TestRunContinuesPastFailedAction(t *testing.T) {
	fs := &fakeWorldStore{
		activities: map[string]*store.Activity{
			"work_task": {ID: 4, Name: "work_task", Category: "work"},
		},
		agents: []*store.Agent{{ID: 1, Name: "Alice"}},
	}
	bad := &failingEventStore{fakeWorldStore: fs}
	env := NewEnvironment(fs, testGraph(), zap.NewNop())
	d := NewDispatcher(bad, env, rand.New(rand.NewSource(7)), zap.NewNop(), DispatcherOptions{
		Weights: map[ActionKind]float64{ActionTaskUpdate: 1},
	})
	s := NewScheduler(fs, d, nil, rand.New(rand.NewSource(7)), zap.NewNop(), SchedulerConfig{
		Days:        1,
		TickMinutes: 60,
		StartHour:   9,
		EndHour:     12,
	})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run aborted on a single failed action: %v", err)
	}
	if bad.failures != 3 {
		t.Errorf("failed inserts = %d, want one per tick", bad.failures)
	}
	if len(fs.events) != 0 {
		t.Errorf("rejected events recorded: %d", len(fs.events))
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	fs := &fakeWorldStore{
		activities: map[string]*store.Activity{
			"work_task": {ID: 4, Name: "work_task", Category: "work"},
		},
		agents: []*store.Agent{{ID: 1, Name: "Alice"}},
	}
	s := newTestScheduler(fs, SchedulerConfig{Days: 5})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); err == nil {
		t.Fatal("expected context error after cancellation")
	}
}

func TestSchedulerDefaults(t *testing.T) {
	fs := &fakeWorldStore{activities: make(map[string]*store.Activity)}
	s := newTestScheduler(fs, SchedulerConfig{})

	if s.cfg.Days != 1 || s.cfg.TickMinutes != 60 {
		t.Errorf("defaults = %d days, %d tick minutes", s.cfg.Days, s.cfg.TickMinutes)
	}
	if s.cfg.StartHour != 8 || s.cfg.EndHour != 18 {
		t.Errorf("default hours = %d-%d, want 8-18", s.cfg.StartHour, s.cfg.EndHour)
	}
	if s.cfg.ReportFormat != "markdown" {
		t.Errorf("default format = %s", s.cfg.ReportFormat)
	}
}

func TestSampleAgentsDistinct(t *testing.T) {
	fs := &fakeWorldStore{
		activities: make(map[string]*store.Activity),
		agents: []*store.Agent{
			{ID: 1, Name: "Alice"},
			{ID: 2, Name: "Bob"},
			{ID: 3, Name: "Carol"},
		},
	}
	s := newTestScheduler(fs, SchedulerConfig{})

	for i := 0; i < 100; i++ {
		picked := s.sampleAgents(fs.agents)
		if len(picked) < 1 || len(picked) > 3 {
			t.Fatalf("sample size = %d", len(picked))
		}
		seen := make(map[int64]bool)
		for _, a := range picked {
			if seen[a.ID] {
				t.Fatalf("agent %s sampled twice in one tick", a.Name)
			}
			seen[a.ID] = true
		}
	}
}
