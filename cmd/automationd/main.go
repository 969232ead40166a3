package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/board-automation/internal/action"
	"github.com/p-blackswan/board-automation/internal/api"
	"github.com/p-blackswan/board-automation/internal/board"
	"github.com/p-blackswan/board-automation/internal/config"
	"github.com/p-blackswan/board-automation/internal/engine"
	"github.com/p-blackswan/board-automation/internal/event"
	"github.com/p-blackswan/board-automation/internal/health"
	"github.com/p-blackswan/board-automation/internal/metrics"
	"github.com/p-blackswan/board-automation/internal/rule"
	"github.com/p-blackswan/board-automation/internal/scheduler"
	"github.com/p-blackswan/board-automation/internal/store"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Dur("tick", cfg.TickInterval).
		Msg("starting board automation service")

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Rule store (SQLite)
	ruleStore, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open rule store")
	}
	defer ruleStore.Close()

	// Board store, optionally seeded from a fixture file
	boardStore := board.NewMemStore()
	if cfg.BoardFile != "" {
		if err := board.LoadFixture(cfg.BoardFile, boardStore); err != nil {
			logger.Fatal().Err(err).Str("path", cfg.BoardFile).Msg("failed to load board fixture")
		}
		logger.Info().Str("path", cfg.BoardFile).Msg("board fixture loaded")
	}

	// Seed rules from YAML when the store is empty
	if cfg.RulesFile != "" {
		if err := seedRules(ruleStore, cfg.RulesFile, logger); err != nil {
			logger.Fatal().Err(err).Str("path", cfg.RulesFile).Msg("failed to seed rules")
		}
	}

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("rule_store", func(ctx context.Context) health.Status {
		if err := ruleStore.DB().PingContext(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	// Metrics
	met := metrics.New()

	// Engine, undo slot, event bus
	undo := engine.NewUndoSlot(cfg.UndoTTL)
	exec := action.NewExecutor(boardStore)
	eng := engine.New(ruleStore, boardStore, exec, undo, met, engine.Config{
		Tick:         cfg.TickInterval,
		HistoryLimit: cfg.HistoryLimit,
	}, logger)

	bus := event.NewBus(logger)
	events := bus.Subscribe(ctx, 256)
	go func() {
		for ev := range events {
			eng.HandleEvent(ev, time.Now().UTC())
		}
	}()

	// Scheduler (runs the startup catch-up sweep inside Start)
	sched := scheduler.New(eng, ruleStore, met, cfg.TickInterval, logger)
	if err := sched.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}

	// API server
	handlers := api.NewHandlers(ruleStore, boardStore, eng, sched, bus, checker, logger)
	server := api.NewServer(api.ServerConfig{
		ListenAddr: cfg.ListenAddr,
		AuthConfig: api.AuthConfig{
			Mode:        cfg.AuthMode,
			APIKey:      cfg.APIKey,
			ReadOnlyKey: cfg.ReadOnlyAPIKey,
		},
		RateLimit: api.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		CORSOrigins: cfg.CORSOrigins,
	}, handlers, met, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("API server failed")
		}
	}

	// Graceful shutdown: stop accepting requests, finish the in-flight sweep
	cancel()
	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("API server shutdown failed")
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := sched.Stop(stopCtx); err != nil {
		logger.Error().Err(err).Msg("scheduler shutdown timed out")
	}

	logger.Info().Msg("board automation service stopped")
}

// seedRules loads the YAML seed file into the store when the store holds no
// rules yet. A populated store wins over the file.
func seedRules(ruleStore rule.Store, path string, logger zerolog.Logger) error {
	existing, err := ruleStore.All()
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		logger.Info().Int("count", len(existing)).Msg("rule store already populated, skipping seed file")
		return nil
	}

	rules, err := rule.LoadFile(path)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if err := ruleStore.Create(r); err != nil {
			return err
		}
	}
	logger.Info().Int("count", len(rules)).Str("path", path).Msg("rules seeded from file")
	return nil
}
