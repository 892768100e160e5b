// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package strategies

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// ErrAllStrategiesFailed is returned when no strategy produced candidates
// because every enabled strategy errored. Callers must fall back to a
// non-personalized list.
var ErrAllStrategiesFailed = errors.New("strategies: all candidate strategies failed")

// Generator merges candidates from all enabled strategies into one
// deduplicated pool.
type Generator struct {
	strategies []Strategy
	logger     zerolog.Logger
}

// NewGenerator creates a generator over the given strategies.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewGenerator(strategies []Strategy, logger zerolog.Logger) *Generator {
	return &Generator{
		strategies: strategies,
		logger:     logger.With().Str("component", "candidates").Logger(),
	}
}

// DefaultStrategies builds the standard five-strategy set over a provider.
func DefaultStrategies(provider ContentProvider) []Strategy {
	return []Strategy{
		NewTrending(provider, Config{Enabled: true, Weight: 0.25, MaxCandidates: 60}),
		NewSocialGraph(provider, Config{Enabled: true, Weight: 0.30, MaxCandidates: 50}),
		NewCollaborative(provider, Config{Enabled: true, Weight: 0.25, MaxCandidates: 50}),
		NewExploration(provider, Config{Enabled: true, Weight: 0.10, MaxCandidates: 30}),
		NewViral(provider, Config{Enabled: true, Weight: 0.10, MaxCandidates: 30}),
	}
}

// Generate returns the deduplicated candidate pool for a user. Disabled
// strategies are ignored; failing strategies are skipped and logged. The
// order of the result follows first contribution. Generate fails only when
// every enabled strategy fails.
func (g *Generator) Generate(ctx context.Context, userID string) ([]Candidate, error) {
	var (
		order    []string
		byID     = map[string]*Candidate{}
		enabled  int
		failures int
	)

	for _, s := range g.strategies {
		cfg := s.Config()
		if !cfg.Enabled {
			continue
		}
		enabled++

		ids, err := s.Candidates(ctx, userID)
		if err != nil {
			failures++
			g.logger.Warn().Err(err).
				Str("strategy", s.Name()).
				Str("user", userID).
				Msg("candidate strategy failed, skipping")
			continue
		}

		for _, id := range ids {
			if id == "" {
				continue
			}
			if existing, ok := byID[id]; ok {
				existing.Sources = append(existing.Sources, s.Name())
				existing.WeightBonus += cfg.Weight
				continue
			}
			byID[id] = &Candidate{
				ContentID:   id,
				Sources:     []string{s.Name()},
				WeightBonus: cfg.Weight,
			}
			order = append(order, id)
		}
	}

	if enabled > 0 && failures == enabled {
		return nil, ErrAllStrategiesFailed
	}

	out := make([]Candidate, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}
