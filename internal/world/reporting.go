package world

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/hamlet/internal/notify"
	"github.com/nidhogg/hamlet/internal/store"
)

// ReportStore is the persistence surface the reporting service needs.
type ReportStore interface {
	EventsForDay(ctx context.Context, dayLabel string) ([]*store.WorldEvent, error)
	GetAgent(ctx context.Context, id int64) (*store.Agent, error)
	GetLocation(ctx context.Context, id int64) (*store.Location, error)
	CountMemories(ctx context.Context) (int, error)
	ListRelationships(ctx context.Context) ([]*store.Relationship, error)
	UpsertDailyReport(ctx context.Context, r *store.DailyReport) error
}

// Metrics aggregates one simulated day.
type Metrics struct {
	TotalEvents             int                 `json:"total_events"`
	Activities              map[string]int      `json:"activities"`
	Locations               map[string]int      `json:"locations"`
	AgentActions            map[string][]string `json:"agent_actions"`
	MemoryCount             int                 `json:"memory_count"`
	RelationshipCount       int                 `json:"relationship_count"`
	StrongRelationshipCount int                 `json:"strong_relationship_count"`
	AgentsActive            int                 `json:"agents_active"`
}

// Reporting generates daily summaries: metrics, a deterministic text summary,
// a database upsert, report files and optional chat announcements.
type Reporting struct {
	store     ReportStore
	dir       string
	notifiers []notify.Notifier
	now       func() time.Time
	logger    *zap.Logger
}

// NewReporting creates the reporting service writing files under dir.
func NewReporting(st ReportStore, dir string, notifiers []notify.Notifier, logger *zap.Logger) *Reporting {
	if dir == "" {
		dir = "reports"
	}
	return &Reporting{
		store:     st,
		dir:       dir,
		notifiers: notifiers,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// CollectMetrics aggregates the day's committed events with memory and
// relationship totals. Strong relationships are those above 0.5 strength.
func (r *Reporting) CollectMetrics(ctx context.Context, dayLabel string) (*Metrics, error) {
	events, err := r.store.EventsForDay(ctx, dayLabel)
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		TotalEvents:  len(events),
		Activities:   make(map[string]int),
		Locations:    make(map[string]int),
		AgentActions: make(map[string][]string),
	}

	for _, ev := range events {
		action := "unknown"
		if a, ok := ev.Payload["action"].(string); ok && a != "" {
			action = a
		}
		m.Activities[action]++

		if ev.LocationID != nil {
			loc, err := r.store.GetLocation(ctx, *ev.LocationID)
			if err == nil && loc != nil {
				m.Locations[loc.Name]++
			}
		}

		agent, err := r.store.GetAgent(ctx, ev.AgentID)
		if err == nil && agent != nil {
			m.AgentActions[agent.Name] = append(m.AgentActions[agent.Name], action)
		}
	}
	m.AgentsActive = len(m.AgentActions)

	if m.MemoryCount, err = r.store.CountMemories(ctx); err != nil {
		return nil, err
	}
	rels, err := r.store.ListRelationships(ctx)
	if err != nil {
		return nil, err
	}
	m.RelationshipCount = len(rels)
	for _, rel := range rels {
		if rel.Strength > 0.5 {
			m.StrongRelationshipCount++
		}
	}
	return m, nil
}

// Summary renders the deterministic human-readable day summary: totals, then
// top-5 activities and locations ordered by count descending, name ascending.
func (r *Reporting) Summary(dayLabel string, m *Metrics) string {
	lines := []string{
		fmt.Sprintf("Day %s Summary:", dayLabel),
		fmt.Sprintf("- Total events: %d", m.TotalEvents),
		fmt.Sprintf("- Active agents: %d", m.AgentsActive),
		fmt.Sprintf("- Memories recorded: %d", m.MemoryCount),
		fmt.Sprintf("- Relationships: %d (%d strong)", m.RelationshipCount, m.StrongRelationshipCount),
	}

	if len(m.Activities) > 0 {
		lines = append(lines, "", "Top activities:")
		for _, entry := range topCounts(m.Activities, 5) {
			lines = append(lines, fmt.Sprintf("  - %s: %d", entry.name, entry.count))
		}
	}
	if len(m.Locations) > 0 {
		lines = append(lines, "", "Most visited locations:")
		for _, entry := range topCounts(m.Locations, 5) {
			lines = append(lines, fmt.Sprintf("  - %s: %d", entry.name, entry.count))
		}
	}
	return strings.Join(lines, "\n")
}

// GenerateDailyReport collects metrics, upserts the report row, writes the
// requested artifact files and announces the summary. Returns the primary
// artifact path.
func (r *Reporting) GenerateDailyReport(ctx context.Context, dayLabel, format string) (string, error) {
	metrics, err := r.CollectMetrics(ctx, dayLabel)
	if err != nil {
		return "", err
	}
	summary := r.Summary(dayLabel, metrics)

	metricsMap, err := metricsAsMap(metrics)
	if err != nil {
		return "", err
	}
	report := &store.DailyReport{
		DayLabel: dayLabel,
		Summary:  summary,
		Metrics:  metricsMap,
	}
	if err := r.store.UpsertDailyReport(ctx, report); err != nil {
		return "", err
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}
	stamp := r.now().Format("20060102_150405")
	base := fmt.Sprintf("world_%s_%s", dayLabel, stamp)

	mdPath := filepath.Join(r.dir, base+".md")
	if format == "markdown" || format == "both" {
		if err := os.WriteFile(mdPath, []byte(r.renderMarkdown(dayLabel, summary, metrics)), 0o644); err != nil {
			return "", fmt.Errorf("write markdown report: %w", err)
		}
	}
	if format == "json" || format == "both" {
		jsonPath := filepath.Join(r.dir, base+".json")
		data, err := json.MarshalIndent(map[string]any{
			"day_label":    dayLabel,
			"summary":      summary,
			"metrics":      metrics,
			"generated_at": r.now().Format(time.RFC3339),
		}, "", "  ")
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
			return "", fmt.Errorf("write json report: %w", err)
		}
		if format == "json" {
			mdPath = jsonPath
		}
	}

	for _, n := range r.notifiers {
		if err := n.Announce(ctx, dayLabel, summary); err != nil {
			r.logger.Warn("report announcement failed",
				zap.String("platform", n.Platform()),
				zap.Error(err))
		}
	}
	return mdPath, nil
}

func (r *Reporting) renderMarkdown(dayLabel, summary string, m *Metrics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# World Simulation Report - %s\n\n", dayLabel)
	b.WriteString("## Summary\n\n")
	b.WriteString(summary)
	b.WriteString("\n\n## Agent Activity Breakdown\n\n")

	agentNames := make([]string, 0, len(m.AgentActions))
	for name := range m.AgentActions {
		agentNames = append(agentNames, name)
	}
	sort.Strings(agentNames)
	for _, name := range agentNames {
		fmt.Fprintf(&b, "### %s\n", name)
		counts := make(map[string]int)
		for _, action := range m.AgentActions[name] {
			counts[action]++
		}
		for _, entry := range topCounts(counts, len(counts)) {
			fmt.Fprintf(&b, "- %s: %d\n", entry.name, entry.count)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Metrics\n\n")
	fmt.Fprintf(&b, "- Total Events: %d\n", m.TotalEvents)
	fmt.Fprintf(&b, "- Active Agents: %d\n", m.AgentsActive)
	fmt.Fprintf(&b, "- Memory Count: %d\n", m.MemoryCount)
	fmt.Fprintf(&b, "- Relationships: %d\n", m.RelationshipCount)
	fmt.Fprintf(&b, "\n---\n*Generated at %s*\n", r.now().Format("2006-01-02 15:04:05"))
	return b.String()
}

type countEntry struct {
	name  string
	count int
}

// topCounts orders a counter by count descending, then name ascending.
func topCounts(counts map[string]int, limit int) []countEntry {
	entries := make([]countEntry, 0, len(counts))
	for name, count := range counts {
		entries = append(entries, countEntry{name: name, count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func metricsAsMap(m *Metrics) (map[string]any, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
