package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Location is a static place agents can occupy. OpenStart/OpenEnd describe a
// half-open [start, end) window in hours; both nil means always open.
type Location struct {
	ID        int64
	Name      string
	Kind      string
	Capacity  int
	OpenStart *int
	OpenEnd   *int
}

// Activity is static reference data describing something agents do. Prompt
// seeds conversation topics for social activities.
type Activity struct {
	ID                 int64
	Name               string
	Category           string
	DefaultDurationMin int
	Prompt             string
}

// SaveLocation upserts a location by name.
func (s *Store) SaveLocation(ctx context.Context, l *Location) error {
	err := s.q(ctx).QueryRow(ctx, `
		INSERT INTO locations (name, kind, capacity, open_start, open_end)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			kind = EXCLUDED.kind,
			capacity = EXCLUDED.capacity,
			open_start = EXCLUDED.open_start,
			open_end = EXCLUDED.open_end
		RETURNING id`,
		l.Name, l.Kind, l.Capacity, l.OpenStart, l.OpenEnd,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("save location %s: %w", l.Name, err)
	}
	return nil
}

// GetLocation retrieves a location by ID.
func (s *Store) GetLocation(ctx context.Context, id int64) (*Location, error) {
	var l Location
	err := s.q(ctx).QueryRow(ctx, `
		SELECT id, name, kind, capacity, open_start, open_end
		FROM locations WHERE id = $1`, id,
	).Scan(&l.ID, &l.Name, &l.Kind, &l.Capacity, &l.OpenStart, &l.OpenEnd)
	if err != nil {
		return nil, fmt.Errorf("get location %d: %w", id, err)
	}
	return &l, nil
}

// GetLocationByName retrieves a location by name. Returns (nil, nil) when the
// name is unknown so adjacency entries pointing nowhere can be skipped.
func (s *Store) GetLocationByName(ctx context.Context, name string) (*Location, error) {
	var l Location
	err := s.q(ctx).QueryRow(ctx, `
		SELECT id, name, kind, capacity, open_start, open_end
		FROM locations WHERE name = $1`, name,
	).Scan(&l.ID, &l.Name, &l.Kind, &l.Capacity, &l.OpenStart, &l.OpenEnd)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get location %s: %w", name, err)
	}
	return &l, nil
}

// ListLocations returns locations ordered by ID. limit <= 0 means all.
func (s *Store) ListLocations(ctx context.Context, limit int) ([]*Location, error) {
	query := `
		SELECT id, name, kind, capacity, open_start, open_end
		FROM locations ORDER BY id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var locs []*Location
	for rows.Next() {
		var l Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Kind, &l.Capacity, &l.OpenStart, &l.OpenEnd); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		locs = append(locs, &l)
	}
	return locs, rows.Err()
}

// SaveActivity upserts an activity by name.
func (s *Store) SaveActivity(ctx context.Context, a *Activity) error {
	err := s.q(ctx).QueryRow(ctx, `
		INSERT INTO activities (name, category, default_duration_min, prompt)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			category = EXCLUDED.category,
			default_duration_min = EXCLUDED.default_duration_min,
			prompt = EXCLUDED.prompt
		RETURNING id`,
		a.Name, a.Category, a.DefaultDurationMin, a.Prompt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("save activity %s: %w", a.Name, err)
	}
	return nil
}

// GetActivityByName retrieves an activity by name, (nil, nil) when missing.
func (s *Store) GetActivityByName(ctx context.Context, name string) (*Activity, error) {
	var a Activity
	err := s.q(ctx).QueryRow(ctx, `
		SELECT id, name, category, default_duration_min, prompt
		FROM activities WHERE name = $1`, name,
	).Scan(&a.ID, &a.Name, &a.Category, &a.DefaultDurationMin, &a.Prompt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get activity %s: %w", name, err)
	}
	return &a, nil
}
