package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Interest is a weighted tag describing what an agent cares about.
type Interest struct {
	Tag   string
	Score float64
}

// Agent is a simulated resident of the world.
type Agent struct {
	ID        int64
	Name      string
	Bio       string
	Job       string
	Traits    string
	Family    string
	Interests []Interest
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SaveAgent upserts an agent by name and replaces its interest tags.
func (s *Store) SaveAgent(ctx context.Context, a *Agent) error {
	err := s.q(ctx).QueryRow(ctx, `
		INSERT INTO agents (name, bio, job, traits, family)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			bio = EXCLUDED.bio,
			job = EXCLUDED.job,
			traits = EXCLUDED.traits,
			family = EXCLUDED.family,
			updated_at = NOW()
		RETURNING id`,
		a.Name, a.Bio, a.Job, a.Traits, a.Family,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.Name, err)
	}

	for _, in := range a.Interests {
		_, err := s.q(ctx).Exec(ctx, `
			INSERT INTO interests (agent_id, tag, score)
			VALUES ($1, $2, $3)
			ON CONFLICT (agent_id, tag) DO UPDATE SET score = EXCLUDED.score`,
			a.ID, in.Tag, in.Score,
		)
		if err != nil {
			return fmt.Errorf("save interest %s/%s: %w", a.Name, in.Tag, err)
		}
	}
	return nil
}

// GetAgent retrieves an agent by ID, including its interests. Returns
// (nil, nil) when no agent matches.
func (s *Store) GetAgent(ctx context.Context, id int64) (*Agent, error) {
	row := s.q(ctx).QueryRow(ctx, `
		SELECT id, name, bio, job, traits, family, created_at, updated_at
		FROM agents WHERE id = $1`, id)
	return s.scanAgent(ctx, row)
}

// GetAgentByName retrieves an agent by its unique name. Returns (nil, nil)
// when no agent matches.
func (s *Store) GetAgentByName(ctx context.Context, name string) (*Agent, error) {
	row := s.q(ctx).QueryRow(ctx, `
		SELECT id, name, bio, job, traits, family, created_at, updated_at
		FROM agents WHERE name = $1`, name)
	return s.scanAgent(ctx, row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanAgent(ctx context.Context, row rowScanner) (*Agent, error) {
	var a Agent
	if err := row.Scan(&a.ID, &a.Name, &a.Bio, &a.Job, &a.Traits, &a.Family, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	if err := s.loadInterests(ctx, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAgents returns agents ordered by ID. limit <= 0 means all.
func (s *Store) ListAgents(ctx context.Context, limit int) ([]*Agent, error) {
	query := `
		SELECT id, name, bio, job, traits, family, created_at, updated_at
		FROM agents ORDER BY id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Bio, &a.Job, &a.Traits, &a.Family, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	for _, a := range agents {
		if err := s.loadInterests(ctx, a); err != nil {
			return nil, err
		}
	}
	return agents, nil
}

func (s *Store) loadInterests(ctx context.Context, a *Agent) error {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT tag, score FROM interests
		WHERE agent_id = $1 ORDER BY score DESC, tag`, a.ID)
	if err != nil {
		return fmt.Errorf("load interests for %s: %w", a.Name, err)
	}
	defer rows.Close()

	a.Interests = a.Interests[:0]
	for rows.Next() {
		var in Interest
		if err := rows.Scan(&in.Tag, &in.Score); err != nil {
			return fmt.Errorf("scan interest: %w", err)
		}
		a.Interests = append(a.Interests, in)
	}
	return rows.Err()
}
