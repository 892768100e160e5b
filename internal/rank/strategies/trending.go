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

// TrendingStrategy contributes globally trending clips.
type TrendingStrategy struct {
	provider ContentProvider
	cfg      Config
}

// NewTrending creates the trending strategy with the given config.
func NewTrending(provider ContentProvider, cfg Config) *TrendingStrategy {
	if cfg.TimeWindow <= 0 {
		cfg.TimeWindow = 24 * time.Hour
	}
	return &TrendingStrategy{provider: provider, cfg: cfg}
}

func (s *TrendingStrategy) Name() string   { return "trending" }
func (s *TrendingStrategy) Config() Config { return s.cfg }

func (s *TrendingStrategy) Candidates(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.provider.Trending(ctx, s.cfg.TimeWindow, s.cfg.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("trending candidates: %w", err)
	}
	return limitIDs(ids, s.cfg.MaxCandidates), nil
}
