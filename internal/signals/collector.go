// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package signals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driftlab/feedcore/internal/metrics"
)

// ErrRateLimited is returned when a user's signal rate exceeds the limit.
var ErrRateLimited = errors.New("signals: user rate limit exceeded")

// Processor receives each admitted signal for immediate handling, ahead of
// batch dispatch. The feedback-loop engine sits behind this boundary.
type Processor interface {
	ProcessSignal(ctx context.Context, sig UserSignal) error
}

// CollectorConfig bounds signal intake.
type CollectorConfig struct {
	// RatePerUser is the sustained signals-per-second budget of one user.
	RatePerUser float64
	// RateBurst is the burst budget of one user.
	RateBurst int
}

// DefaultCollectorConfig returns production defaults.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		RatePerUser: 10,
		RateBurst:   30,
	}
}

// Collector is the public signal intake boundary. It throttles per user,
// stamps identity and time, forwards to the processor, and queues for
// batch dispatch.
type Collector struct {
	batcher   *Batcher
	processor Processor
	limiter   *userLimiter
	logger    zerolog.Logger
	now       func() time.Time
}

// NewCollector creates the intake boundary. processor may be nil when no
// immediate handling is wired.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewCollector(cfg CollectorConfig, batcher *Batcher, processor Processor, logger zerolog.Logger) *Collector {
	if cfg.RatePerUser <= 0 {
		cfg.RatePerUser = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 30
	}
	return &Collector{
		batcher:   batcher,
		processor: processor,
		limiter:   newUserLimiter(cfg.RatePerUser, cfg.RateBurst),
		logger:    logger.With().Str("component", "signal-collector").Logger(),
		now:       time.Now,
	}
}

// Collect admits one signal: validates, throttles, stamps ID and
// timestamp, hands it to the processor, and queues it for batching.
// The stamped signal is returned.
func (c *Collector) Collect(ctx context.Context, sig UserSignal) (UserSignal, error) {
	if err := sig.Validate(); err != nil {
		return sig, err
	}

	if !c.limiter.Allow(sig.UserID) {
		metrics.SignalsThrottled.Inc()
		return sig, fmt.Errorf("user %s: %w", sig.UserID, ErrRateLimited)
	}

	if sig.ID == "" {
		sig.ID = uuid.New().String()
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = c.now().UTC()
	}

	if c.processor != nil {
		if err := c.processor.ProcessSignal(ctx, sig); err != nil {
			// The signal still reaches the batch; processing is advisory.
			c.logger.Warn().Err(err).
				Str("user", sig.UserID).
				Str("type", string(sig.SignalType)).
				Msg("signal processing failed")
		}
	}

	if err := c.batcher.Add(ctx, sig); err != nil {
		return sig, fmt.Errorf("queue signal: %w", err)
	}

	metrics.SignalsCollected.WithLabelValues(string(sig.SignalType)).Inc()
	return sig, nil
}

// Forget drops per-user intake state. Called on user data deletion.
func (c *Collector) Forget(userID string) {
	c.limiter.Forget(userID)
}

// Close stops the limiter's background cleanup.
func (c *Collector) Close() {
	c.limiter.Stop()
}
