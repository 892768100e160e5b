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

// ViralStrategy contributes clips with the steepest engagement velocity.
type ViralStrategy struct {
	provider ContentProvider
	cfg      Config
}

// NewViral creates the viral strategy.
func NewViral(provider ContentProvider, cfg Config) *ViralStrategy {
	if cfg.TimeWindow <= 0 {
		cfg.TimeWindow = 6 * time.Hour
	}
	return &ViralStrategy{provider: provider, cfg: cfg}
}

func (s *ViralStrategy) Name() string   { return "viral" }
func (s *ViralStrategy) Config() Config { return s.cfg }

func (s *ViralStrategy) Candidates(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.provider.Viral(ctx, s.cfg.TimeWindow, s.cfg.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("viral candidates: %w", err)
	}
	return limitIDs(ids, s.cfg.MaxCandidates), nil
}
