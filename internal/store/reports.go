package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// DailyReport is the persisted summary for one simulated day.
type DailyReport struct {
	ID        int64
	DayLabel  string
	Summary   string
	Metrics   map[string]any
	CreatedAt time.Time
}

// UpsertDailyReport writes the report for a day, overwriting on regeneration.
func (s *Store) UpsertDailyReport(ctx context.Context, r *DailyReport) error {
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return fmt.Errorf("marshal report metrics: %w", err)
	}
	err = s.q(ctx).QueryRow(ctx, `
		INSERT INTO daily_reports (day_label, summary, metrics)
		VALUES ($1, $2, $3)
		ON CONFLICT (day_label) DO UPDATE SET
			summary = EXCLUDED.summary,
			metrics = EXCLUDED.metrics
		RETURNING id, created_at`,
		r.DayLabel, r.Summary, metrics,
	).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert daily report %s: %w", r.DayLabel, err)
	}
	return nil
}

// GetDailyReport returns the report for a day, or (nil, nil).
func (s *Store) GetDailyReport(ctx context.Context, dayLabel string) (*DailyReport, error) {
	var (
		r       DailyReport
		metrics []byte
	)
	err := s.q(ctx).QueryRow(ctx, `
		SELECT id, day_label, summary, metrics, created_at
		FROM daily_reports WHERE day_label = $1`, dayLabel,
	).Scan(&r.ID, &r.DayLabel, &r.Summary, &metrics, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get daily report %s: %w", dayLabel, err)
	}
	if len(metrics) > 0 {
		if err := json.Unmarshal(metrics, &r.Metrics); err != nil {
			return nil, fmt.Errorf("decode report metrics %s: %w", dayLabel, err)
		}
	}
	return &r, nil
}
