// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/driftlab/feedcore/internal/config"
	"github.com/driftlab/feedcore/internal/pipeline"
	"github.com/driftlab/feedcore/internal/rank"
	"github.com/driftlab/feedcore/internal/scheduler"
	"github.com/driftlab/feedcore/internal/store"
)

// newScheduler assembles the retraining scheduler over the pipeline, with
// the in-process training backends and an export artifact per workflow.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func newScheduler(cfg *config.Config, pipe *pipeline.Pipeline, engine *rank.Controller,
	st *store.Store, logger zerolog.Logger) (*scheduler.Scheduler, error) {
	sched := scheduler.New(scheduler.Config{
		AggregationWindow:    cfg.Pipeline.AggregationWindow,
		MinDataPoints:        cfg.Scheduler.MinDataPoints,
		QualityThreshold:     cfg.Scheduler.QualityThreshold,
		PerformanceThreshold: cfg.Scheduler.PerformanceThreshold,
		AccuracyThreshold:    cfg.Scheduler.AccuracyThreshold,
		StepTimeout:          cfg.Scheduler.StepTimeout,
		StepRetries:          cfg.Scheduler.StepRetries,
		Preprocess: pipeline.PreprocessConfig{
			Normalize:      cfg.Pipeline.NormalizeFeatures,
			RemoveOutliers: cfg.Pipeline.RemoveOutliers,
			TopFeatures:    cfg.Pipeline.TopFeatures,
			MinClassSize:   cfg.Pipeline.MinClassSize,
		},
	},
		pipe,
		scheduler.NewMockTrainer(),
		scheduler.NewMockEvaluator(cfg.Scheduler.AccuracyThreshold),
		scheduler.NewMockDeployer(),
		engine,
		st,
		scheduler.SystemClock{},
		logger,
	)

	exporter, err := pipeline.NewExporter(st, []byte(cfg.Pipeline.ExportEncryptionKey), logger)
	if err != nil {
		return nil, fmt.Errorf("exporter: %w", err)
	}
	sched.AttachExporter(exporter, pipeline.ExportOptions{
		Format:              pipeline.FormatJSONL,
		Compress:            cfg.Pipeline.ExportCompression,
		Encrypt:             cfg.Pipeline.ExportEncryptionKey != "",
		DifferentialPrivacy: cfg.Pipeline.DifferentialPrivacy,
		Epsilon:             cfg.Pipeline.PrivacyEpsilon,
	})
	return sched, nil
}
