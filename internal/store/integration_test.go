package store

import (
	"context"
	"testing"
	"time"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

// startPostgres starts a disposable postgres container and returns a migrated
// store. Skips when no container runtime is available.
func startPostgres(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("short mode")
	}
	ctx := context.Background()

	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("hamlet_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	s, err := New(dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(s.Close)

	if err := s.Migrate(ctx, "../../migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestStoreRoundTrips(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	alice := &Agent{
		Name: "Alice", Bio: "test bio", Job: "Engineer",
		Interests: []Interest{{Tag: "running", Score: 0.7}},
	}
	if err := s.SaveAgent(ctx, alice); err != nil {
		t.Fatalf("save agent: %v", err)
	}
	if alice.ID == 0 {
		t.Fatal("agent id not assigned")
	}

	// Upsert by name keeps the same row.
	again := &Agent{Name: "Alice", Job: "Staff Engineer"}
	if err := s.SaveAgent(ctx, again); err != nil {
		t.Fatalf("re-save agent: %v", err)
	}
	if again.ID != alice.ID {
		t.Errorf("upsert created a new row: %d vs %d", again.ID, alice.ID)
	}
	loaded, err := s.GetAgentByName(ctx, "Alice")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if loaded.Job != "Staff Engineer" || len(loaded.Interests) != 1 {
		t.Errorf("loaded agent = %+v", loaded)
	}
	if missing, err := s.GetAgentByName(ctx, "Nobody"); err != nil || missing != nil {
		t.Fatalf("missing agent = %+v, %v", missing, err)
	}

	openStart, openEnd := 7, 22
	cafe := &Location{Name: "Cafe", Kind: "cafe", Capacity: 15, OpenStart: &openStart, OpenEnd: &openEnd}
	if err := s.SaveLocation(ctx, cafe); err != nil {
		t.Fatalf("save location: %v", err)
	}
	act := &Activity{Name: "coffee_chat", Category: "social", DefaultDurationMin: 30, Prompt: "casual chat over coffee"}
	if err := s.SaveActivity(ctx, act); err != nil {
		t.Fatalf("save activity: %v", err)
	}
	gotAct, err := s.GetActivityByName(ctx, "coffee_chat")
	if err != nil || gotAct == nil || gotAct.Prompt != "casual chat over coffee" {
		t.Fatalf("activity round trip: %+v, %v", gotAct, err)
	}
	if missing, err := s.GetActivityByName(ctx, "nope"); err != nil || missing != nil {
		t.Fatalf("missing activity = %+v, %v", missing, err)
	}
}

func TestPresenceLifecycle(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	alice := &Agent{Name: "Alice"}
	if err := s.SaveAgent(ctx, alice); err != nil {
		t.Fatalf("save agent: %v", err)
	}
	home := &Location{Name: "Home", Kind: "home", Capacity: 4}
	cafe := &Location{Name: "Cafe", Kind: "cafe", Capacity: 15}
	for _, l := range []*Location{home, cafe} {
		if err := s.SaveLocation(ctx, l); err != nil {
			t.Fatalf("save location: %v", err)
		}
	}

	now := time.Now().UTC()
	if err := s.InsertPresence(ctx, alice.ID, home.ID, now.Add(-time.Hour)); err != nil {
		t.Fatalf("insert presence: %v", err)
	}
	if err := s.CloseOpenPresences(ctx, alice.ID, now); err != nil {
		t.Fatalf("close presences: %v", err)
	}
	if err := s.InsertPresence(ctx, alice.ID, cafe.ID, now); err != nil {
		t.Fatalf("insert presence: %v", err)
	}

	open, err := s.OpenPresences(ctx, alice.ID)
	if err != nil {
		t.Fatalf("open presences: %v", err)
	}
	if len(open) != 1 || open[0].LocationID != cafe.ID {
		t.Fatalf("open presences = %+v", open)
	}
	n, err := s.PresenceCount(ctx, cafe.ID)
	if err != nil || n != 1 {
		t.Fatalf("presence count = %d, %v", n, err)
	}
	here, err := s.AgentsAt(ctx, cafe.ID)
	if err != nil || len(here) != 1 || here[0].Name != "Alice" {
		t.Fatalf("agents at cafe = %+v, %v", here, err)
	}

	placements, err := s.CurrentPlacements(ctx)
	if err != nil {
		t.Fatalf("current placements: %v", err)
	}
	if len(placements) != 1 || placements[0].LocationName != "Cafe" {
		t.Fatalf("placements = %+v", placements)
	}
}

func TestEventsAndReports(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	alice := &Agent{Name: "Alice"}
	if err := s.SaveAgent(ctx, alice); err != nil {
		t.Fatalf("save agent: %v", err)
	}

	for i, day := range []string{"2026-08-31", "2026-08-31", "2026-09-01"} {
		ev := &WorldEvent{
			AgentID:   alice.ID,
			TickIndex: i,
			Payload:   map[string]any{"action": "task_update", "day_label": day},
		}
		if err := s.InsertEvent(ctx, ev); err != nil {
			t.Fatalf("insert event: %v", err)
		}
	}

	events, err := s.EventsForDay(ctx, "2026-08-31")
	if err != nil {
		t.Fatalf("events for day: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	recent, err := s.RecentEvents(ctx, 2)
	if err != nil || len(recent) != 2 || recent[0].TickIndex != 2 {
		t.Fatalf("recent events = %+v, %v", recent, err)
	}

	report := &DailyReport{
		DayLabel: "2026-08-31",
		Summary:  "Day 2026-08-31 Summary:",
		Metrics:  map[string]any{"total_events": 2},
	}
	if err := s.UpsertDailyReport(ctx, report); err != nil {
		t.Fatalf("upsert report: %v", err)
	}
	// Same day updates in place.
	report2 := &DailyReport{DayLabel: "2026-08-31", Summary: "updated", Metrics: map[string]any{"total_events": 3}}
	if err := s.UpsertDailyReport(ctx, report2); err != nil {
		t.Fatalf("re-upsert report: %v", err)
	}
	if report2.ID != report.ID {
		t.Errorf("upsert created a new report row")
	}
	got, err := s.GetDailyReport(ctx, "2026-08-31")
	if err != nil || got == nil || got.Summary != "updated" {
		t.Fatalf("get report = %+v, %v", got, err)
	}
	if none, err := s.GetDailyReport(ctx, "1999-01-01"); err != nil || none != nil {
		t.Fatalf("missing report = %+v, %v", none, err)
	}
}

func TestMemoriesAndRelationships(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	alice := &Agent{Name: "Alice"}
	bob := &Agent{Name: "Bob"}
	for _, a := range []*Agent{alice, bob} {
		if err := s.SaveAgent(ctx, a); err != nil {
			t.Fatalf("save agent: %v", err)
		}
	}

	mem := &Memory{
		AgentID:        alice.ID,
		Kind:           "preference",
		Text:           "Enjoys hiking",
		Confidence:     0.8,
		NormalizedHash: "hash-1",
		Metadata:       map[string]string{"source": "test"},
	}
	if err := s.InsertMemory(ctx, mem); err != nil {
		t.Fatalf("insert memory: %v", err)
	}
	byHash, err := s.GetMemoryByHash(ctx, "hash-1")
	if err != nil || byHash == nil || byHash.Text != "Enjoys hiking" {
		t.Fatalf("memory by hash = %+v, %v", byHash, err)
	}
	if byHash.Metadata["source"] != "test" {
		t.Errorf("metadata lost: %v", byHash.Metadata)
	}
	if none, err := s.GetMemoryByHash(ctx, "missing"); err != nil || none != nil {
		t.Fatalf("missing hash = %+v, %v", none, err)
	}

	emb := &Embedding{DocType: "memory", DocID: mem.ID, Model: "test-model", Dim: 3, Vector: []float32{0.1, 0.2, 0.3}}
	if err := s.InsertEmbedding(ctx, emb); err != nil {
		t.Fatalf("insert embedding: %v", err)
	}
	vecs, err := s.MemoryEmbeddings(ctx, alice.ID, "test-model")
	if err != nil || len(vecs) != 1 {
		t.Fatalf("memory embeddings = %d, %v", len(vecs), err)
	}
	if len(vecs[0].Vector) != 3 || vecs[0].Vector[1] != 0.2 {
		t.Errorf("vector round trip = %v", vecs[0].Vector)
	}

	rel := &Relationship{FromAgentID: alice.ID, ToAgentID: bob.ID, Type: "coworker", Strength: 0.4}
	if err := s.InsertRelationship(ctx, rel); err != nil {
		t.Fatalf("insert relationship: %v", err)
	}
	rel.Strength = 0.45
	if err := s.UpdateRelationship(ctx, rel); err != nil {
		t.Fatalf("update relationship: %v", err)
	}
	got, err := s.GetRelationship(ctx, alice.ID, bob.ID)
	if err != nil || got == nil || got.Strength != 0.45 {
		t.Fatalf("relationship = %+v, %v", got, err)
	}
	strongest, err := s.StrongestRelationships(ctx, alice.ID, 5)
	if err != nil || len(strongest) != 1 {
		t.Fatalf("strongest = %+v, %v", strongest, err)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := startPostgres(t)
	ctx := context.Background()

	alice := &Agent{Name: "Alice"}
	if err := s.SaveAgent(ctx, alice); err != nil {
		t.Fatalf("save agent: %v", err)
	}

	wantErr := context.DeadlineExceeded
	err := s.InTx(ctx, func(ctx context.Context) error {
		ev := &WorldEvent{AgentID: alice.ID, Payload: map[string]any{"action": "move"}}
		if err := s.InsertEvent(ctx, ev); err != nil {
			return err
		}
		return wantErr
	})
	if err == nil {
		t.Fatal("expected error from transaction")
	}

	events, err := s.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("rolled-back event still visible: %d rows", len(events))
	}
}
