package world

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/hamlet/internal/dialogue"
	"github.com/nidhogg/hamlet/internal/store"
)

type fakeDialoguer struct {
	duoCalls   int
	groupCalls int
	lastTopic  string
}

func (f *fakeDialoguer) RunDuo(ctx context.Context, a, b *store.Agent, topic string, turns int) (*dialogue.Result, error) {
	f.duoCalls++
	f.lastTopic = topic
	return &dialogue.Result{
		ConversationID: "conv-duo",
		Transcript: []dialogue.Utterance{
			{Speaker: a.Name, Content: "hi"},
			{Speaker: b.Name, Content: "hey"},
		},
	}, nil
}

func (f *fakeDialoguer) RunGroup(ctx context.Context, agents []*store.Agent, topic string, turnsPerAgent int) (*dialogue.Result, error) {
	f.groupCalls++
	f.lastTopic = topic
	return &dialogue.Result{ConversationID: "conv-group"}, nil
}

type fakePublisher struct {
	published []map[string]any
}

func (f *fakePublisher) Publish(ctx context.Context, payload map[string]any) error {
	f.published = append(f.published, payload)
	return nil
}

func newTestDispatcher(fs *fakeWorldStore, opts DispatcherOptions) *Dispatcher {
	env := NewEnvironment(fs, testGraph(), zap.NewNop())
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }
	}
	return NewDispatcher(fs, env, rand.New(rand.NewSource(42)), zap.NewNop(), opts)
}

func TestDrawIsDeterministic(t *testing.T) {
	fs := &fakeWorldStore{activities: make(map[string]*store.Activity)}
	a := newTestDispatcher(fs, DispatcherOptions{})
	b := newTestDispatcher(fs, DispatcherOptions{})

	for i := 0; i < 50; i++ {
		got, want := a.Draw(), b.Draw()
		if got != want {
			t.Fatalf("draw %d diverged: %s vs %s", i, got, want)
		}
	}
}

func TestDrawCoversAllKinds(t *testing.T) {
	fs := &fakeWorldStore{activities: make(map[string]*store.Activity)}
	d := newTestDispatcher(fs, DispatcherOptions{})

	seen := make(map[ActionKind]int)
	for i := 0; i < 2000; i++ {
		seen[d.Draw()]++
	}
	for _, kind := range ActionOrder {
		if seen[kind] == 0 {
			t.Errorf("kind %s never drawn", kind)
		}
	}
	// duo_chat carries the largest weight.
	if seen[ActionDuoChat] <= seen[ActionMove] {
		t.Errorf("duo_chat drawn %d times, move %d; expected duo_chat to dominate",
			seen[ActionDuoChat], seen[ActionMove])
	}
}

func TestDrawZeroWeights(t *testing.T) {
	fs := &fakeWorldStore{activities: make(map[string]*store.Activity)}
	d := newTestDispatcher(fs, DispatcherOptions{Weights: map[ActionKind]float64{}})
	if got := d.Draw(); got != ActionTaskUpdate {
		t.Errorf("zero-weight draw = %s, want task_update", got)
	}
}

func TestMoveNoDestinations(t *testing.T) {
	fs := &fakeWorldStore{activities: make(map[string]*store.Activity)}
	d := newTestDispatcher(fs, DispatcherOptions{})
	agent := &store.Agent{ID: 1, Name: "Alice"}

	meta, err := d.move(context.Background(), agent, 0, "2026-08-31", 12, false)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if meta["status"] != "no_destinations" {
		t.Errorf("status = %v, want no_destinations", meta["status"])
	}
	if len(fs.events) != 0 {
		t.Errorf("no event expected, got %d", len(fs.events))
	}
}

func TestMoveAllClosed(t *testing.T) {
	fs := &fakeWorldStore{activities: make(map[string]*store.Activity)}
	fs.addLocation("Office", "office", 20, 8, 18)
	d := newTestDispatcher(fs, DispatcherOptions{})
	agent := &store.Agent{ID: 1, Name: "Alice"}

	// Hour 22: the only candidate is closed.
	meta, err := d.move(context.Background(), agent, 0, "2026-08-31", 22, false)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if meta["status"] != "all_closed" {
		t.Errorf("status = %v, want all_closed", meta["status"])
	}
}

func TestMovePlacelessAgent(t *testing.T) {
	fs := &fakeWorldStore{activities: make(map[string]*store.Activity)}
	fs.addLocation("Home", "home", 4, 0, 24)
	fs.addLocation("Cafe", "cafe", 15, 7, 22)
	d := newTestDispatcher(fs, DispatcherOptions{})
	agent := &store.Agent{ID: 1, Name: "Alice"}

	meta, err := d.move(context.Background(), agent, 3, "2026-08-31", 12, false)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if meta["from"] != "unknown" {
		t.Errorf("from = %v, want unknown for a placeless agent", meta["from"])
	}
	if meta["success"] != true {
		t.Errorf("success = %v, want true", meta["success"])
	}
	if errVal, ok := meta["error"]; !ok || errVal != nil {
		t.Errorf("error = %v (present %v), want nil error key on success", errVal, ok)
	}
	open, _ := fs.OpenPresences(context.Background(), 1)
	if len(open) != 1 {
		t.Fatalf("open presence rows = %d, want 1", len(open))
	}
	if len(fs.events) != 1 || fs.events[0].LocationID == nil {
		t.Fatalf("move event not logged with target location")
	}
}

func TestDuoChatNoPartner(t *testing.T) {
	fs := &fakeWorldStore{
		activities: make(map[string]*store.Activity),
		agents:     []*store.Agent{{ID: 1, Name: "Alice"}},
	}
	dlg := &fakeDialoguer{}
	d := newTestDispatcher(fs, DispatcherOptions{Dialogue: dlg})

	meta, err := d.duoChat(context.Background(), fs.agents[0], 0, "2026-08-31", 10, false)
	if err != nil {
		t.Fatalf("duoChat: %v", err)
	}
	if meta["status"] != "no_partner" {
		t.Errorf("status = %v, want no_partner", meta["status"])
	}
	if dlg.duoCalls != 0 {
		t.Errorf("dialogue invoked with no partner available")
	}
}

func TestDuoChatAttachesConversation(t *testing.T) {
	fs := &fakeWorldStore{
		activities: map[string]*store.Activity{
			"coffee_chat": {ID: 2, Name: "coffee_chat", Category: "social", Prompt: "casual chat over coffee"},
		},
		agents: []*store.Agent{
			{ID: 1, Name: "Alice"},
			{ID: 2, Name: "Bob"},
		},
	}
	dlg := &fakeDialoguer{}
	d := newTestDispatcher(fs, DispatcherOptions{Dialogue: dlg})

	meta, err := d.duoChat(context.Background(), fs.agents[0], 1, "2026-08-31", 10, false)
	if err != nil {
		t.Fatalf("duoChat: %v", err)
	}
	if meta["agent_b"] != "Bob" {
		t.Errorf("partner = %v, want Bob", meta["agent_b"])
	}
	if meta["conversation_id"] != "conv-duo" {
		t.Errorf("conversation_id = %v", meta["conversation_id"])
	}
	inSet := false
	for _, topic := range chatTopics {
		if dlg.lastTopic == topic {
			inSet = true
			break
		}
	}
	if !inSet {
		t.Errorf("topic = %q, not drawn from the fixed topic set", dlg.lastTopic)
	}
	if meta["topic"] != dlg.lastTopic {
		t.Errorf("payload topic = %v, dialogue got %q", meta["topic"], dlg.lastTopic)
	}
	if len(fs.events) != 1 || fs.events[0].ActivityID == nil || *fs.events[0].ActivityID != 2 {
		t.Fatalf("event not tagged with coffee_chat activity")
	}
}

func TestGroupStandupAloneSkipsDialogue(t *testing.T) {
	fs := &fakeWorldStore{
		activities: make(map[string]*store.Activity),
		agents:     []*store.Agent{{ID: 1, Name: "Alice"}},
	}
	dlg := &fakeDialoguer{}
	d := newTestDispatcher(fs, DispatcherOptions{Dialogue: dlg})

	meta, err := d.groupStandup(context.Background(), fs.agents[0], 0, "2026-08-31", 9, false)
	if err != nil {
		t.Fatalf("groupStandup: %v", err)
	}
	names, ok := meta["participants"].([]string)
	if !ok || len(names) != 1 || names[0] != "Alice" {
		t.Errorf("participants = %v, want [Alice]", meta["participants"])
	}
	if dlg.groupCalls != 0 {
		t.Errorf("group dialogue should not run for a lone participant")
	}
	if len(fs.events) != 1 {
		t.Fatalf("standup event not logged")
	}
}

func TestDispatchDryRunSkipsPersistence(t *testing.T) {
	fs := &fakeWorldStore{
		activities: map[string]*store.Activity{
			"work_task": {ID: 4, Name: "work_task", Category: "work"},
		},
		agents: []*store.Agent{{ID: 1, Name: "Alice"}},
	}
	pub := &fakePublisher{}
	d := newTestDispatcher(fs, DispatcherOptions{
		Weights: map[ActionKind]float64{ActionTaskUpdate: 1},
		Feed:    pub,
	})

	meta, err := d.Dispatch(context.Background(), fs.agents[0], 0, "2026-08-31", 11, true)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if meta["action"] != "task_update" {
		t.Errorf("action = %v, want task_update", meta["action"])
	}
	if fs.txCalls != 0 {
		t.Errorf("dry run opened %d transactions", fs.txCalls)
	}
	if len(fs.events) != 0 {
		t.Errorf("dry run persisted %d events", len(fs.events))
	}
	if len(pub.published) != 0 {
		t.Errorf("dry run published to the feed")
	}
}

func TestDispatchCommitsAndPublishes(t *testing.T) {
	fs := &fakeWorldStore{
		activities: map[string]*store.Activity{
			"work_task": {ID: 4, Name: "work_task", Category: "work"},
		},
		agents: []*store.Agent{{ID: 1, Name: "Alice"}},
	}
	pub := &fakePublisher{}
	d := newTestDispatcher(fs, DispatcherOptions{
		Weights: map[ActionKind]float64{ActionTaskUpdate: 1},
		Feed:    pub,
	})

	meta, err := d.Dispatch(context.Background(), fs.agents[0], 2, "2026-08-31", 14, false)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if fs.txCalls != 1 {
		t.Errorf("tx calls = %d, want 1", fs.txCalls)
	}
	if len(fs.events) != 1 {
		t.Fatalf("events = %d, want 1", len(fs.events))
	}
	if fs.events[0].TickIndex != 2 {
		t.Errorf("tick index = %d, want 2", fs.events[0].TickIndex)
	}
	if len(pub.published) != 1 {
		t.Fatalf("feed publishes = %d, want 1", len(pub.published))
	}
	if pub.published[0]["action"] != meta["action"] {
		t.Errorf("published payload differs from returned meta")
	}
}
