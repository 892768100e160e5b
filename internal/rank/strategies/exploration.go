// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package strategies

import (
	"context"
	"fmt"
	"time"
)

// ExplorationStrategy contributes fresh, low-exposure clips so new content
// gets a chance to collect signals.
type ExplorationStrategy struct {
	provider ContentProvider
	cfg      Config
}

// NewExploration creates the exploration strategy.
func NewExploration(provider ContentProvider, cfg Config) *ExplorationStrategy {
	if cfg.TimeWindow <= 0 {
		cfg.TimeWindow = 12 * time.Hour
	}
	return &ExplorationStrategy{provider: provider, cfg: cfg}
}

func (s *ExplorationStrategy) Name() string   { return "exploration" }
func (s *ExplorationStrategy) Config() Config { return s.cfg }

func (s *ExplorationStrategy) Candidates(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.provider.Fresh(ctx, s.cfg.TimeWindow, s.cfg.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("fresh candidates: %w", err)
	}
	return limitIDs(ids, s.cfg.MaxCandidates), nil
}
