// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

// Package main is the entry point for the FeedCore server.
//
// FeedCore serves personalized short-form clip feeds through a micro-batch
// feedback loop and continuously retrains its ranking models from the
// interaction data the loop produces.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 (defaults, YAML file, environment)
//  2. Store: BadgerDB persistence substrate
//  3. Event bus: Watermill (in-process channels, or NATS with -tags=nats)
//  4. Catalog: content storage behind strategies and feature scoring
//  5. Ranking engine: candidate generation, scoring, feedback loop
//  6. Signal intake: per-user throttled collector and batch dispatcher
//  7. Pipeline: interaction records aggregated into retraining batches
//  8. Scheduler: triggers, schedules, and the retraining workflow
//  9. HTTP API and the supervisor tree hosting all long-running services
//
// # Build Tags
//
//	go build -tags "nats" ./cmd/server  # NATS JetStream event transport
//
// Without the tag the bus runs on in-process Go channels.
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server drains
// in-flight requests, the batcher flushes pending signals, and the store
// closes last.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/driftlab/feedcore/internal/api"
	"github.com/driftlab/feedcore/internal/catalog"
	"github.com/driftlab/feedcore/internal/config"
	"github.com/driftlab/feedcore/internal/eventlog"
	"github.com/driftlab/feedcore/internal/logging"
	"github.com/driftlab/feedcore/internal/pipeline"
	"github.com/driftlab/feedcore/internal/rank"
	"github.com/driftlab/feedcore/internal/rank/strategies"
	"github.com/driftlab/feedcore/internal/scheduler"
	"github.com/driftlab/feedcore/internal/signals"
	"github.com/driftlab/feedcore/internal/store"
	"github.com/driftlab/feedcore/internal/supervisor"
	"github.com/driftlab/feedcore/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config errors fall back to the default logger.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logger := logging.Logger()

	logging.Info().
		Str("store_path", cfg.Store.Path).
		Int("http_port", cfg.Server.Port).
		Msg("Starting FeedCore")

	st, err := store.Open(store.Options{
		Path:     cfg.Store.Path,
		InMemory: cfg.Store.InMemory,
	}, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	bus, err := newBus(cfg.Bus, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create event bus")
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cat, err := catalog.New(ctx, st, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open catalog")
	}

	// Ranking engine over the catalog, logging to the bus.
	features := rank.NewFeatureEngine(cat, cfg.Rank.FeatureCacheTTL, logger)
	defer features.Close()
	recorder := eventlog.NewRecorder(bus, logger)
	generator := strategies.NewGenerator(strategies.DefaultStrategies(cat), logger)
	engine, err := rank.NewController(rank.Config{
		BatchSize:           cfg.Rank.BatchSize,
		MaxIterations:       cfg.Rank.MaxIterations,
		AdaptationThreshold: cfg.Rank.AdaptationThreshold,
		SkipThreshold:       cfg.Rank.SkipThreshold,
		LearningRate:        cfg.Rank.LearningRate,
		CandidatePoolSize:   cfg.Rank.CandidatePoolSize,
		ConvergenceScore:    cfg.Rank.ConvergenceScore,
		FeatureCacheTTL:     cfg.Rank.FeatureCacheTTL,
	}, generator, cat, features, recorder, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create ranking engine")
	}

	// Signal intake: collector feeds the catalog immediately and the
	// batcher asynchronously.
	batcher, err := signals.NewBatcher(signals.BatcherConfig{
		MaxSize:           cfg.Signals.BatchSize,
		MaxAge:            cfg.Signals.BatchMaxAge,
		CompressThreshold: cfg.Signals.CompressThreshold,
	}, bus, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create signal batcher")
	}
	collector := signals.NewCollector(signals.CollectorConfig{
		RatePerUser: cfg.Signals.RatePerUser,
		RateBurst:   cfg.Signals.RateBurst,
	}, batcher, cat, logger)
	defer collector.Close()

	pipe := pipeline.New(pipeline.Config{
		BatchSize:       cfg.Pipeline.BatchSize,
		MinQualityScore: cfg.Pipeline.MinQualityScore,
	}, bus, st, logger)

	sched, err := newScheduler(cfg, pipe, engine, st, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create scheduler")
	}

	handlers := api.NewHandlers(engine, collector, sched, pipe, cat)
	handlers.ReadyCheck = func(ctx context.Context) error {
		var probe string
		if err := st.Get(ctx, "health/probe", &probe); err != nil && !errors.Is(err, store.ErrKeyNotFound) {
			return err
		}
		return nil
	}
	router := api.NewRouter(api.RouterConfig{
		RateLimitReqs:   cfg.Server.RateLimitReqs,
		RateLimitWindow: cfg.Server.RateLimitWindow,
	}, handlers)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.Slog(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddIntakeService(services.NewSignalBatcherService(batcher))
	tree.AddRetrainingService(services.NewPipelineService(pipe))
	tree.AddRetrainingService(scheduler.NewScheduleService(sched, cfg.Scheduler.ScheduleCheckInterval))
	tree.AddRetrainingService(scheduler.NewTriggerService(sched, cfg.Scheduler.TriggerPollInterval))
	tree.AddRetrainingService(scheduler.NewMonitorService(sched, cfg.Scheduler.MonitorInterval))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("FeedCore stopped gracefully")
}
