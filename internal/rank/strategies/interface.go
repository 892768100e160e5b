// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

// Package strategies implements candidate generation for the ranking engine.
//
// Each strategy contributes candidate clip IDs from one retrieval angle
// (trending, social graph, collaborative filtering, exploration, viral).
// Strategies are independently configurable and independently fallible: a
// failing strategy is skipped and logged, and candidate generation only
// fails when every strategy fails.
package strategies

import (
	"context"
	"time"
)

// ContentProvider is the data boundary candidate strategies read from.
// Typically implemented by the content storage layer.
type ContentProvider interface {
	// Trending returns the most-engaged clip IDs within the window.
	Trending(ctx context.Context, window time.Duration, limit int) ([]string, error)

	// FollowedAuthors returns author IDs the user follows.
	FollowedAuthors(ctx context.Context, userID string) ([]string, error)

	// RecentByAuthors returns recent clip IDs published by the authors.
	RecentByAuthors(ctx context.Context, authorIDs []string, window time.Duration, limit int) ([]string, error)

	// SimilarUsers returns user IDs with similar consumption patterns.
	SimilarUsers(ctx context.Context, userID string, limit int) ([]string, error)

	// EngagedByUsers returns clip IDs the given users engaged with recently.
	EngagedByUsers(ctx context.Context, userIDs []string, window time.Duration, limit int) ([]string, error)

	// Fresh returns recent low-exposure clip IDs for exploration.
	Fresh(ctx context.Context, window time.Duration, limit int) ([]string, error)

	// Viral returns clip IDs with the highest engagement velocity.
	Viral(ctx context.Context, window time.Duration, limit int) ([]string, error)

	// Fallback returns a non-personalized clip list for degraded serving.
	Fallback(ctx context.Context, limit int) ([]string, error)
}

// Config holds the per-strategy tunables. Weight is advisory: it feeds
// scoring bonuses later in the pipeline and never gates candidate admission.
type Config struct {
	Enabled       bool          `json:"enabled"`
	Weight        float64       `json:"weight"`
	MaxCandidates int           `json:"max_candidates"`
	TimeWindow    time.Duration `json:"time_window"`
}

// Strategy produces candidate clip IDs for a user.
type Strategy interface {
	// Name returns the strategy identifier.
	Name() string

	// Config returns the strategy's configuration.
	Config() Config

	// Candidates returns up to Config().MaxCandidates clip IDs.
	Candidates(ctx context.Context, userID string) ([]string, error)
}

// Candidate is one deduplicated candidate with its contributing strategies.
type Candidate struct {
	ContentID string

	// Sources lists the names of every strategy that contributed the clip.
	Sources []string

	// WeightBonus is the summed advisory weight of the contributing
	// strategies, used later as a scoring bonus.
	WeightBonus float64
}

// limitIDs truncates ids to the strategy's candidate cap.
func limitIDs(ids []string, max int) []string {
	if max > 0 && len(ids) > max {
		return ids[:max]
	}
	return ids
}
