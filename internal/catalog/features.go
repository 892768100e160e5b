// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package catalog

import (
	"context"
	"fmt"

	"github.com/driftlab/feedcore/internal/rank"
)

// ContentMeta implements rank.FeatureSource.
func (c *Catalog) ContentMeta(_ context.Context, contentID string) (rank.ContentMeta, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clip, ok := c.clips[contentID]
	if !ok {
		return rank.ContentMeta{}, fmt.Errorf("%w: %s", ErrUnknownClip, contentID)
	}
	return rank.ContentMeta{
		AuthorID:    clip.AuthorID,
		Tags:        clip.Tags,
		PublishedAt: clip.PublishedAt,
	}, nil
}

// EngagementStats implements rank.FeatureSource. Unknown clips report zero
// counters rather than an error; a clip with no engagement is valid.
func (c *Catalog) EngagementStats(_ context.Context, contentID string) (rank.EngagementStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats[contentID], nil
}

// AuthorAffinity implements rank.FeatureSource: the share of the user's
// engaged clips published by the author.
func (c *Catalog) AuthorAffinity(_ context.Context, userID, authorID string) (float64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	engaged := c.byUser[userID]
	if len(engaged) == 0 {
		return 0, nil
	}
	matches := 0
	for clipID := range engaged {
		if c.clips[clipID].AuthorID == authorID {
			matches++
		}
	}
	return float64(matches) / float64(len(engaged)), nil
}

// TagAffinity implements rank.FeatureSource: the weight of the query tags
// within the user's engaged-clip tag distribution.
func (c *Catalog) TagAffinity(_ context.Context, userID string, tags []string) (float64, error) {
	if len(tags) == 0 {
		return 0, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	engaged := c.byUser[userID]
	if len(engaged) == 0 {
		return 0, nil
	}

	counts := make(map[string]int)
	total := 0
	for clipID := range engaged {
		for _, tag := range c.clips[clipID].Tags {
			counts[tag]++
			total++
		}
	}
	if total == 0 {
		return 0, nil
	}

	matched := 0
	for _, tag := range tags {
		matched += counts[tag]
	}
	affinity := float64(matched) / float64(total)
	if affinity > 1 {
		affinity = 1
	}
	return affinity, nil
}
