package world

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/hamlet/internal/store"
)

// SchedulerStore is the persistence surface the scheduler itself needs.
type SchedulerStore interface {
	ListAgents(ctx context.Context, limit int) ([]*store.Agent, error)
}

// SchedulerConfig shapes a simulation run.
type SchedulerConfig struct {
	Days         int
	MaxAgents    int // 0 = all
	TickMinutes  int
	StartHour    int
	EndHour      int
	Persist      bool
	DryRun       bool
	ReportFormat string // markdown, json or both
}

// Scheduler drives simulated days: ticks, agent sampling and action dispatch,
// with a daily report at the end of each persisted day.
type Scheduler struct {
	store      SchedulerStore
	dispatcher *Dispatcher
	reporting  *Reporting
	cfg        SchedulerConfig
	rng        *rand.Rand
	now        func() time.Time
	logger     *zap.Logger
}

// NewScheduler creates a scheduler. reporting may be nil to skip day reports.
func NewScheduler(st SchedulerStore, dispatcher *Dispatcher, reporting *Reporting, rng *rand.Rand, logger *zap.Logger, cfg SchedulerConfig) *Scheduler {
	if cfg.Days <= 0 {
		cfg.Days = 1
	}
	if cfg.TickMinutes <= 0 {
		cfg.TickMinutes = 60
	}
	if cfg.EndHour <= cfg.StartHour {
		cfg.StartHour, cfg.EndHour = 8, 18
	}
	if cfg.ReportFormat == "" {
		cfg.ReportFormat = "markdown"
	}
	return &Scheduler{
		store:      st,
		dispatcher: dispatcher,
		reporting:  reporting,
		cfg:        cfg,
		rng:        rng,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
}

// Run executes the configured number of simulated days. An empty world ends
// the run gracefully and a failed action skips to the next agent; only
// cancellation and failures outside a single action abort the run.
func (s *Scheduler) Run(ctx context.Context) error {
	agents, err := s.store.ListAgents(ctx, s.cfg.MaxAgents)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		s.logger.Warn("no agents in the world, nothing to simulate")
		return nil
	}

	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name
	}
	s.logger.Info("simulation starting",
		zap.Int("days", s.cfg.Days),
		zap.Int("tick_minutes", s.cfg.TickMinutes),
		zap.Ints("hours", []int{s.cfg.StartHour, s.cfg.EndHour}),
		zap.Strings("agents", names),
		zap.Bool("dry_run", s.cfg.DryRun))

	for day := 0; day < s.cfg.Days; day++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		dayLabel := s.now().AddDate(0, 0, day).Format("2006-01-02")
		s.logger.Info("day starting", zap.Int("day", day+1), zap.String("label", dayLabel))
		if err := s.runDay(ctx, dayLabel, agents); err != nil {
			return err
		}
	}

	s.logger.Info("simulation complete")
	return nil
}

func (s *Scheduler) runDay(ctx context.Context, dayLabel string, agents []*store.Agent) error {
	ticks := (s.cfg.EndHour - s.cfg.StartHour) * 60 / s.cfg.TickMinutes

	for tick := 0; tick < ticks; tick++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		hour := s.cfg.StartHour + (tick*s.cfg.TickMinutes)/60
		minute := (tick * s.cfg.TickMinutes) % 60
		s.logger.Info("tick",
			zap.Int("index", tick+1),
			zap.Int("of", ticks),
			zap.String("clock", fmt.Sprintf("%02d:%02d", hour, minute)))

		for _, agent := range s.sampleAgents(agents) {
			if _, err := s.dispatcher.Dispatch(ctx, agent, tick, dayLabel, hour, s.cfg.DryRun); err != nil {
				if ctx.Err() != nil {
					return err
				}
				// The action's transaction already rolled back; the rest of
				// the tick can proceed.
				s.logger.Error("action failed, skipping",
					zap.String("agent", agent.Name),
					zap.Int("tick", tick),
					zap.Error(err))
			}
		}
	}

	if s.cfg.Persist && !s.cfg.DryRun && s.reporting != nil {
		path, err := s.reporting.GenerateDailyReport(ctx, dayLabel, s.cfg.ReportFormat)
		if err != nil {
			return err
		}
		s.logger.Info("daily report written", zap.String("day", dayLabel), zap.String("path", path))
	}
	return nil
}

// sampleAgents picks 1-3 distinct agents for a tick.
func (s *Scheduler) sampleAgents(agents []*store.Agent) []*store.Agent {
	k := 1 + s.rng.Intn(3)
	if k > len(agents) {
		k = len(agents)
	}
	picked := make([]*store.Agent, 0, k)
	for _, idx := range s.rng.Perm(len(agents))[:k] {
		picked = append(picked, agents[idx])
	}
	return picked
}
