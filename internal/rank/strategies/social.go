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

// SocialGraphStrategy contributes recent clips from authors the user follows.
type SocialGraphStrategy struct {
	provider ContentProvider
	cfg      Config
}

// NewSocialGraph creates the social-graph strategy with the given config.
func NewSocialGraph(provider ContentProvider, cfg Config) *SocialGraphStrategy {
	if cfg.TimeWindow <= 0 {
		cfg.TimeWindow = 72 * time.Hour
	}
	return &SocialGraphStrategy{provider: provider, cfg: cfg}
}

func (s *SocialGraphStrategy) Name() string   { return "social_graph" }
func (s *SocialGraphStrategy) Config() Config { return s.cfg }

func (s *SocialGraphStrategy) Candidates(ctx context.Context, userID string) ([]string, error) {
	authors, err := s.provider.FollowedAuthors(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("followed authors for %s: %w", userID, err)
	}
	if len(authors) == 0 {
		return nil, nil
	}

	ids, err := s.provider.RecentByAuthors(ctx, authors, s.cfg.TimeWindow, s.cfg.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("recent by authors: %w", err)
	}
	return limitIDs(ids, s.cfg.MaxCandidates), nil
}
