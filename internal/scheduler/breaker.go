// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes the circuit breaker around the training backend.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker. Default: 3.
	FailureThreshold uint32

	// Timeout is how long the breaker stays open before probing again.
	// Default: 60s.
	Timeout time.Duration

	// MaxRequests is the number of probe requests allowed while
	// half-open. Default: 1.
	MaxRequests uint32
}

// DefaultBreakerConfig returns production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		Timeout:          60 * time.Second,
		MaxRequests:      1,
	}
}

// guardedTrainer wraps a Trainer with a gobreaker circuit breaker. When the
// training backend fails repeatedly the breaker opens and Train fails fast
// with gobreaker.ErrOpenState instead of hammering the backend.
type guardedTrainer struct {
	inner   Trainer
	breaker *gobreaker.CircuitBreaker[*TrainingResult]
}

//nolint:gocritic // logger passed by value is acceptable for zerolog
func newGuardedTrainer(inner Trainer, cfg BreakerConfig, logger zerolog.Logger) *guardedTrainer {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}

	settings := gobreaker.Settings{
		Name:        "trainer",
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Training circuit breaker state change")
		},
	}

	return &guardedTrainer{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[*TrainingResult](settings),
	}
}

// Train implements Trainer.
func (g *guardedTrainer) Train(ctx context.Context, req TrainingRequest) (*TrainingResult, error) {
	return g.breaker.Execute(func() (*TrainingResult, error) {
		return g.inner.Train(ctx, req)
	})
}

// State returns the breaker state for the status snapshot.
func (g *guardedTrainer) State() string {
	return g.breaker.State().String()
}
