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

// similarUserLimit caps how many neighbor users the collaborative strategy
// considers.
const similarUserLimit = 20

// CollaborativeStrategy contributes clips engaged with by users whose
// consumption patterns resemble the target user's.
type CollaborativeStrategy struct {
	provider ContentProvider
	cfg      Config
}

// NewCollaborative creates the collaborative-filtering strategy.
func NewCollaborative(provider ContentProvider, cfg Config) *CollaborativeStrategy {
	if cfg.TimeWindow <= 0 {
		cfg.TimeWindow = 7 * 24 * time.Hour
	}
	return &CollaborativeStrategy{provider: provider, cfg: cfg}
}

func (s *CollaborativeStrategy) Name() string   { return "collaborative_filtering" }
func (s *CollaborativeStrategy) Config() Config { return s.cfg }

func (s *CollaborativeStrategy) Candidates(ctx context.Context, userID string) ([]string, error) {
	neighbors, err := s.provider.SimilarUsers(ctx, userID, similarUserLimit)
	if err != nil {
		return nil, fmt.Errorf("similar users for %s: %w", userID, err)
	}
	if len(neighbors) == 0 {
		return nil, nil
	}

	ids, err := s.provider.EngagedByUsers(ctx, neighbors, s.cfg.TimeWindow, s.cfg.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("engaged by similar users: %w", err)
	}
	return limitIDs(ids, s.cfg.MaxCandidates), nil
}
