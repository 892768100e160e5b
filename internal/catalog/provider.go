// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package catalog

import (
	"context"
	"sort"
	"time"
)

// scoredID pairs a clip or user ID with a ranking score.
type scoredID struct {
	id    string
	score float64
}

// topIDs sorts scored IDs by score descending, breaking ties by ID for
// deterministic output, and returns up to limit IDs.
func topIDs(scored []scoredID, limit int) []string {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].id < scored[j].id
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	ids := make([]string, len(scored))
	for i, s := range scored {
		ids[i] = s.id
	}
	return ids
}

// Trending returns the clip IDs with the highest engagement weight within
// the window.
func (c *Catalog) Trending(_ context.Context, window time.Duration, limit int) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cutoff := c.now().Add(-window)
	weights := make(map[string]float64)
	for _, ev := range c.events {
		if ev.At.After(cutoff) {
			weights[ev.ClipID] += ev.Weight
		}
	}

	scored := make([]scoredID, 0, len(weights))
	for id, w := range weights {
		scored = append(scored, scoredID{id: id, score: w})
	}
	return topIDs(scored, limit), nil
}

// FollowedAuthors returns the author IDs the user follows, sorted.
func (c *Catalog) FollowedAuthors(_ context.Context, userID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.follows[userID]), nil
}

// RecentByAuthors returns clips published by the given authors within the
// window, newest first.
func (c *Catalog) RecentByAuthors(_ context.Context, authorIDs []string, window time.Duration, limit int) ([]string, error) {
	authors := make(map[string]bool, len(authorIDs))
	for _, a := range authorIDs {
		authors[a] = true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	cutoff := c.now().Add(-window)
	scored := make([]scoredID, 0)
	for id, clip := range c.clips {
		if authors[clip.AuthorID] && clip.PublishedAt.After(cutoff) {
			scored = append(scored, scoredID{id: id, score: float64(clip.PublishedAt.UnixNano())})
		}
	}
	return topIDs(scored, limit), nil
}

// SimilarUsers returns users ranked by Jaccard similarity of engaged clip
// sets. Users with no overlap are excluded.
func (c *Catalog) SimilarUsers(_ context.Context, userID string, limit int) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mine := c.byUser[userID]
	if len(mine) == 0 {
		return nil, nil
	}

	scored := make([]scoredID, 0)
	for other, theirs := range c.byUser {
		if other == userID || len(theirs) == 0 {
			continue
		}
		intersection := 0
		for clip := range mine {
			if _, ok := theirs[clip]; ok {
				intersection++
			}
		}
		if intersection == 0 {
			continue
		}
		union := len(mine) + len(theirs) - intersection
		scored = append(scored, scoredID{id: other, score: float64(intersection) / float64(union)})
	}
	return topIDs(scored, limit), nil
}

// EngagedByUsers returns clips the given users engaged with inside the
// window, most recent first.
func (c *Catalog) EngagedByUsers(_ context.Context, userIDs []string, window time.Duration, limit int) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cutoff := c.now().Add(-window)
	latest := make(map[string]time.Time)
	for _, user := range userIDs {
		for clip, at := range c.byUser[user] {
			if at.After(cutoff) && at.After(latest[clip]) {
				latest[clip] = at
			}
		}
	}

	scored := make([]scoredID, 0, len(latest))
	for id, at := range latest {
		scored = append(scored, scoredID{id: id, score: float64(at.UnixNano())})
	}
	return topIDs(scored, limit), nil
}

// Fresh returns recently published clips with the least exposure, for
// exploration slots.
func (c *Catalog) Fresh(_ context.Context, window time.Duration, limit int) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cutoff := c.now().Add(-window)
	scored := make([]scoredID, 0)
	for id, clip := range c.clips {
		if clip.PublishedAt.After(cutoff) {
			// Fewer views rank higher.
			scored = append(scored, scoredID{id: id, score: -float64(c.stats[id].Views)})
		}
	}
	return topIDs(scored, limit), nil
}

// Viral returns clips with the highest engagement velocity: weight in the
// recent half of the window against the earlier half.
func (c *Catalog) Viral(_ context.Context, window time.Duration, limit int) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	windowStart := now.Add(-window)
	halfStart := now.Add(-window / 2)

	early := make(map[string]float64)
	recent := make(map[string]float64)
	for _, ev := range c.events {
		switch {
		case ev.At.After(halfStart):
			recent[ev.ClipID] += ev.Weight
		case ev.At.After(windowStart):
			early[ev.ClipID] += ev.Weight
		}
	}

	scored := make([]scoredID, 0, len(recent))
	for id, w := range recent {
		scored = append(scored, scoredID{id: id, score: w / (early[id] + 1)})
	}
	return topIDs(scored, limit), nil
}

// Fallback returns a non-personalized list ordered by all-time engagement,
// for degraded serving when every strategy fails.
func (c *Catalog) Fallback(_ context.Context, limit int) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	scored := make([]scoredID, 0, len(c.clips))
	for id := range c.clips {
		stats := c.stats[id]
		weight := float64(stats.Views) + 2*float64(stats.Likes) + 3*float64(stats.Shares)
		scored = append(scored, scoredID{id: id, score: weight})
	}
	return topIDs(scored, limit), nil
}
