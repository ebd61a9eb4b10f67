package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/hamlet/internal/store"
)

func TestBuildContextCardSections(t *testing.T) {
	fs := newFakeStore()
	svc := NewService(fs, zap.NewNop(), Options{})
	alice := &store.Agent{
		ID: 1, Name: "Alice",
		Bio: "Software engineer focused on backend systems",
		Job: "Senior Backend Engineer",
		Interests: []store.Interest{
			{Tag: "distributed systems", Score: 0.9},
			{Tag: "rock climbing", Score: 0.8},
			{Tag: "coffee", Score: 0.5},
		},
	}
	bob := testAgent(2, "Bob")
	svc.RegisterAgent(alice)
	svc.RegisterAgent(bob)

	fs.rels[[2]int64{1, 2}] = &store.Relationship{
		ID: 1, FromAgentID: 1, ToAgentID: 2, Type: "coworker", Strength: 0.45, SinceDate: time.Now(),
	}
	turn := &store.Turn{ID: 1, Content: "I enjoy pair programming"}
	if _, err := svc.ProcessTurn(context.Background(), alice, turn); err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}

	card, stats, err := svc.BuildContextCard(context.Background(), alice, "work")
	if err != nil {
		t.Fatalf("BuildContextCard: %v", err)
	}
	if stats.Memories != 1 {
		t.Errorf("stats = %+v", stats)
	}

	lines := strings.Split(card, "\n")
	if lines[0] != "Context Card - Alice" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(card, "Persona: Software engineer focused on backend systems | Job: Senior Backend Engineer | Interests: distributed systems, rock climbing") {
		t.Errorf("persona line wrong or missing third interest not excluded:\n%s", card)
	}
	if !strings.Contains(card, "- coworker with Bob (0.45)") {
		t.Errorf("relationship line missing:\n%s", card)
	}
	if !strings.Contains(card, "- [preference] Enjoys pair programming") {
		t.Errorf("memory line missing:\n%s", card)
	}
}

func TestBuildContextCardEmptyAgent(t *testing.T) {
	fs := newFakeStore()
	svc := NewService(fs, zap.NewNop(), Options{})
	ghost := &store.Agent{ID: 9, Name: "Ghost"}
	svc.RegisterAgent(ghost)

	card, _, err := svc.BuildContextCard(context.Background(), ghost, "anything")
	if err != nil {
		t.Fatalf("BuildContextCard: %v", err)
	}
	if card != "" {
		t.Errorf("expected empty card, got %q", card)
	}
}

func TestClipSectionsBudget(t *testing.T) {
	fs := newFakeStore()
	svc := NewService(fs, zap.NewNop(), Options{WordBudget: 80})

	// Each line carries 10 words; ten lines exceed an 80-word budget.
	line := strings.Repeat("word ", 9) + "word"
	var sections []string
	for i := 0; i < 10; i++ {
		sections = append(sections, line)
	}

	clipped := svc.clipSections(sections)
	lines := strings.Split(clipped, "\n")
	if lines[len(lines)-1] != "..." {
		t.Errorf("expected truncation marker, got %q", lines[len(lines)-1])
	}
	if len(lines) != 9 {
		t.Errorf("got %d lines, want 8 content lines plus marker", len(lines))
	}

	// A card exactly at budget is left untouched.
	exact := svc.clipSections(sections[:8])
	if strings.Contains(exact, "...") {
		t.Errorf("unexpected truncation marker at exact budget")
	}
}
