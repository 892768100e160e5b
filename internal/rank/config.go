// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package rank

import (
	"fmt"
	"time"
)

// Config contains all tunables for the feedback-loop engine.
type Config struct {
	// BatchSize is the fixed number of clips per micro-batch.
	BatchSize int `json:"batch_size"`

	// MaxIterations bounds the number of batches per feedback-loop session.
	MaxIterations int `json:"max_iterations"`

	// AdaptationThreshold is the minimum absolute satisfaction improvement
	// between consecutive batches that triggers weight adaptation.
	AdaptationThreshold float64 `json:"adaptation_threshold"`

	// SkipThreshold is the dwell time below which a clip counts as skipped.
	SkipThreshold time.Duration `json:"skip_threshold"`

	// LearningRate scales every weight adjustment.
	LearningRate float64 `json:"learning_rate"`

	// CandidatePoolSize is the target size of the per-user candidate pool.
	CandidatePoolSize int `json:"candidate_pool_size"`

	// ConvergenceScore is the satisfaction level above which batches are
	// labeled convergence batches.
	ConvergenceScore float64 `json:"convergence_score"`

	// FeatureCacheTTL is the default TTL for feature sub-score caches.
	FeatureCacheTTL time.Duration `json:"feature_cache_ttl"`

	// Seed is the random seed for deterministic shuffling. Zero selects a
	// fixed default seed.
	Seed int64 `json:"seed"`
}

// DefaultConfig returns production defaults for the engine.
func DefaultConfig() Config {
	return Config{
		BatchSize:           7,
		MaxIterations:       10,
		AdaptationThreshold: 0.1,
		SkipThreshold:       2000 * time.Millisecond,
		LearningRate:        0.05,
		CandidatePoolSize:   200,
		ConvergenceScore:    0.85,
		FeatureCacheTTL:     5 * time.Minute,
		Seed:                0,
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be positive, got %d", c.MaxIterations)
	}
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return fmt.Errorf("learning rate must be in (0,1], got %f", c.LearningRate)
	}
	if c.CandidatePoolSize < c.BatchSize {
		return fmt.Errorf("candidate pool %d smaller than batch size %d",
			c.CandidatePoolSize, c.BatchSize)
	}
	if c.SkipThreshold <= 0 {
		return fmt.Errorf("skip threshold must be positive, got %s", c.SkipThreshold)
	}
	return nil
}
