package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/hamlet/internal/api"
	"github.com/nidhogg/hamlet/internal/bus"
	"github.com/nidhogg/hamlet/internal/config"
	"github.com/nidhogg/hamlet/internal/dialogue"
	"github.com/nidhogg/hamlet/internal/embedding"
	"github.com/nidhogg/hamlet/internal/graph"
	"github.com/nidhogg/hamlet/internal/memory"
	"github.com/nidhogg/hamlet/internal/notify"
	"github.com/nidhogg/hamlet/internal/provider"
	"github.com/nidhogg/hamlet/internal/store"
	"github.com/nidhogg/hamlet/internal/vectorstore"
	"github.com/nidhogg/hamlet/internal/world"
)

var (
	cfgPath string

	runDays        int
	runTickMinutes int
	runMaxAgents   int
	runDryRun      bool
	runNoPersist   bool
	runFormat      string
	runRNGSeed     int64

	reportDay    string
	reportFormat string

	servePort int
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "hamlet",
		Short: "Autonomous agent world simulation",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath(), "config file (json or yaml)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run simulated days",
		RunE:  runSimulation,
	}
	runCmd.Flags().IntVar(&runDays, "days", 1, "number of days to simulate")
	runCmd.Flags().IntVar(&runTickMinutes, "tick-minutes", 0, "minutes per tick (0 = config value)")
	runCmd.Flags().IntVar(&runMaxAgents, "max-agents", 0, "cap on participating agents (0 = all)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "draw and log actions without persisting")
	runCmd.Flags().BoolVar(&runNoPersist, "no-report", false, "skip the end-of-day report")
	runCmd.Flags().StringVar(&runFormat, "format", "markdown", "report format: markdown, json or both")
	runCmd.Flags().Int64Var(&runRNGSeed, "rng-seed", 0, "seed for reproducible runs (0 = time-based)")

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the world with default locations, activities and agents",
		RunE:  seedWorld,
	}

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Generate the daily report for one day",
		RunE:  generateReport,
	}
	reportCmd.Flags().StringVar(&reportDay, "day", "", "day label YYYY-MM-DD (default today)")
	reportCmd.Flags().StringVar(&reportFormat, "format", "markdown", "report format: markdown, json or both")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only world view over HTTP",
		RunE:  serveAPI,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (0 = config value)")

	root.AddCommand(runCmd, seedCmd, reportCmd, serveCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "configs/world.yaml"
}

func newLogger(level string) *zap.Logger {
	if level == "debug" {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}

// app bundles the wired services behind one Close.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      *store.Store
	router     *provider.Router
	memSvc     *memory.Service
	driver     *dialogue.Driver
	env        *world.Environment
	dispatcher *world.Dispatcher
	reporting  *world.Reporting
	feed       *bus.Feed
	relGraph   *graph.RelationGraph
	qdrant     *vectorstore.Client
	rng        *rand.Rand
}

func (a *app) Close() {
	ctx := context.Background()
	if a.feed != nil {
		a.feed.Close()
	}
	if a.relGraph != nil {
		a.relGraph.Close(ctx)
	}
	if a.qdrant != nil {
		a.qdrant.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	a.logger.Sync()
}

// newApp loads config and wires the full service graph. Postgres is required;
// Neo4j, Redis and Qdrant degrade to warnings when unreachable.
func newApp(ctx context.Context, rngSeed int64) (*app, error) {
	cfg, err := config.LoadOrDefault(cfgPath)
	logger := newLogger(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("config not loaded, using defaults", zap.String("path", cfgPath), zap.Error(err))
	} else {
		logger.Info("config loaded", zap.String("path", cfgPath))
	}

	st, err := store.New(cfg.Database.Postgres.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := st.Migrate(ctx, "migrations"); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		opts := provider.Options{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(opts, logger))
		case "ollama":
			router.Register(provider.NewOllamaProvider(opts, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	if cfg.DefaultProvider != "" {
		router.SetDefault(cfg.DefaultProvider)
	}

	a := &app{cfg: cfg, logger: logger, store: st, router: router}

	embedder := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Endpoint:  cfg.Embedding.Endpoint,
		Model:     cfg.Embedding.Model,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	})

	var index memory.VectorIndex
	if cfg.Database.Qdrant.Host != "" {
		qc, qErr := vectorstore.NewClient(vectorstore.Config{
			Host:       cfg.Database.Qdrant.Host,
			Port:       cfg.Database.Qdrant.Port,
			Collection: cfg.Database.Qdrant.Collection,
		})
		if qErr != nil {
			logger.Warn("qdrant unavailable, similarity search falls back to postgres", zap.Error(qErr))
		} else {
			coll, cErr := qc.Collection(ctx, cfg.Database.Qdrant.Collection, uint64(cfg.Embedding.Dimension))
			if cErr != nil {
				logger.Warn("qdrant collection unavailable", zap.Error(cErr))
				qc.Close()
			} else {
				a.qdrant = qc
				index = coll
			}
		}
	}

	var mirror memory.GraphMirror
	if cfg.Database.Neo4j.URI != "" {
		rg, gErr := graph.NewRelationGraph(cfg.Database.Neo4j.URI, cfg.Database.Neo4j.User, cfg.Database.Neo4j.Password, logger)
		if gErr != nil {
			logger.Warn("neo4j unavailable, running without relationship mirror", zap.Error(gErr))
		} else {
			a.relGraph = rg
			mirror = rg
		}
	}

	if cfg.Database.Redis.URL != "" {
		feed, fErr := bus.NewFeed(cfg.Database.Redis.URL, "", logger)
		if fErr != nil {
			logger.Warn("redis unavailable, running without live event feed", zap.Error(fErr))
		} else {
			a.feed = feed
		}
	}

	a.memSvc = memory.NewService(st, logger, memory.Options{
		Embedder:     embedder,
		Index:        index,
		Mirror:       mirror,
		TopKMemories: cfg.Dialogue.TopKMemories,
		TopKRecent:   cfg.Dialogue.TopKRecent,
		WordBudget:   cfg.Dialogue.WordBudget,
	})
	agents, err := st.ListAgents(ctx, 0)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load agents: %w", err)
	}
	for _, ag := range agents {
		a.memSvc.RegisterAgent(ag)
	}
	logger.Info("agents loaded", zap.Int("count", len(agents)))

	a.driver = dialogue.NewDriver(router, st, a.memSvc, logger, dialogue.Options{
		Model:       cfg.Dialogue.Model,
		MaxWords:    cfg.Dialogue.MaxWords,
		TurnTimeout: time.Duration(cfg.Dialogue.TurnTimeoutSeconds) * time.Second,
	})

	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}
	a.rng = rand.New(rand.NewSource(rngSeed))

	a.env = world.NewEnvironment(st, cfg.LocationGraph, logger)

	weights := make(map[world.ActionKind]float64, len(cfg.ActionWeights))
	for name, w := range cfg.ActionWeights {
		weights[world.ActionKind(name)] = w
	}
	var feedPub world.Publisher
	if a.feed != nil {
		feedPub = a.feed
	}
	a.dispatcher = world.NewDispatcher(st, a.env, a.rng, logger, world.DispatcherOptions{
		Dialogue: a.driver,
		Memory:   a.memSvc,
		Feed:     feedPub,
		Weights:  weights,
	})

	var notifiers []notify.Notifier
	if cfg.Notify.Discord.Enabled && cfg.Notify.Discord.BotToken != "" {
		dn, dErr := notify.NewDiscordNotifier(cfg.Notify.Discord.BotToken, cfg.Notify.Discord.ChannelID, logger)
		if dErr != nil {
			logger.Warn("discord notifier unavailable", zap.Error(dErr))
		} else {
			notifiers = append(notifiers, dn)
		}
	}
	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.BotToken != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.Channel, logger))
	}
	a.reporting = world.NewReporting(st, cfg.ReportsDir, notifiers, logger)

	return a, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, runRNGSeed)
	if err != nil {
		return err
	}
	defer a.Close()

	tickMinutes := a.cfg.World.TickMinutes
	if runTickMinutes > 0 {
		tickMinutes = runTickMinutes
	}
	scheduler := world.NewScheduler(a.store, a.dispatcher, a.reporting, a.rng, a.logger, world.SchedulerConfig{
		Days:         runDays,
		MaxAgents:    runMaxAgents,
		TickMinutes:  tickMinutes,
		StartHour:    a.cfg.World.DayStartHour,
		EndHour:      a.cfg.World.DayEndHour,
		Persist:      !runNoPersist,
		DryRun:       runDryRun,
		ReportFormat: runFormat,
	})
	return scheduler.Run(ctx)
}

func seedWorld(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, 0)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, ls := range a.cfg.Locations {
		loc := &store.Location{
			Name: ls.Name, Kind: ls.Kind, Capacity: ls.Capacity,
			OpenStart: ls.OpenStart, OpenEnd: ls.OpenEnd,
		}
		if err := a.store.SaveLocation(ctx, loc); err != nil {
			return err
		}
	}
	for _, as := range a.cfg.Activities {
		act := &store.Activity{
			Name: as.Name, Category: as.Category,
			DefaultDurationMin: as.DurationMin, Prompt: as.Prompt,
		}
		if err := a.store.SaveActivity(ctx, act); err != nil {
			return err
		}
	}
	for _, ag := range seedAgents() {
		if err := a.store.SaveAgent(ctx, ag); err != nil {
			return err
		}
		a.memSvc.RegisterAgent(ag)
	}

	a.logger.Info("world seeded",
		zap.Int("locations", len(a.cfg.Locations)),
		zap.Int("activities", len(a.cfg.Activities)),
		zap.Int("agents", len(seedAgents())))
	return nil
}

func seedAgents() []*store.Agent {
	return []*store.Agent{
		{
			Name: "Alice",
			Bio:  "A pragmatic engineer who unwinds with long runs and sci-fi novels.",
			Job:  "Senior Backend Engineer",
			Interests: []store.Interest{
				{Tag: "distributed systems", Score: 0.9},
				{Tag: "running", Score: 0.7},
				{Tag: "science fiction", Score: 0.6},
			},
		},
		{
			Name: "Bob",
			Bio:  "A designer with a sketchbook always in reach and strong opinions about coffee.",
			Job:  "UX Designer",
			Interests: []store.Interest{
				{Tag: "typography", Score: 0.85},
				{Tag: "coffee", Score: 0.75},
				{Tag: "urban sketching", Score: 0.65},
			},
		},
		{
			Name: "Carol",
			Bio:  "A machine learning engineer who gardens on weekends and collects board games.",
			Job:  "ML Engineer",
			Interests: []store.Interest{
				{Tag: "machine learning", Score: 0.9},
				{Tag: "gardening", Score: 0.7},
				{Tag: "board games", Score: 0.6},
			},
		},
	}
}

func generateReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, 0)
	if err != nil {
		return err
	}
	defer a.Close()

	day := reportDay
	if day == "" {
		day = time.Now().UTC().Format("2006-01-02")
	}
	path, err := a.reporting.GenerateDailyReport(ctx, day, reportFormat)
	if err != nil {
		return err
	}
	a.logger.Info("report written", zap.String("day", day), zap.String("path", path))
	fmt.Println(path)
	return nil
}

func serveAPI(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, 0)
	if err != nil {
		return err
	}
	defer a.Close()

	port := a.cfg.Server.Port
	if servePort > 0 {
		port = servePort
	}
	if port == 0 {
		port = 8080
	}

	handler := api.NewHandler(a.store, a.logger)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("world view listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
