// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package rank

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftlab/feedcore/internal/cache"
)

// FeatureVector is the normalized per-(user, content) feature set the
// ensemble score is computed from. All fields are in [0, 1].
type FeatureVector struct {
	AuthorAffinity  float64 `json:"author_affinity"`
	EngagementScore float64 `json:"engagement_score"`
	ContentMatch    float64 `json:"content_match"`
	RecencyDecay    float64 `json:"recency_decay"`
	SocialProof     float64 `json:"social_proof"`
}

// Ensemble combines the sub-scores into one candidate score.
func (v FeatureVector) Ensemble() float64 {
	return clamp01(0.30*v.AuthorAffinity +
		0.25*v.EngagementScore +
		0.20*v.ContentMatch +
		0.15*v.RecencyDecay +
		0.10*v.SocialProof)
}

// ContentMeta is the metadata the feature engine needs about one clip.
type ContentMeta struct {
	AuthorID    string
	Tags        []string
	PublishedAt time.Time
}

// EngagementStats are aggregate engagement counters for one clip.
type EngagementStats struct {
	Views         int64
	Likes         int64
	Shares        int64
	Comments      int64
	LastEngagedAt time.Time
}

// FeatureSource is the data boundary the feature engine reads from.
// Typically implemented by the content storage layer.
type FeatureSource interface {
	ContentMeta(ctx context.Context, contentID string) (ContentMeta, error)
	EngagementStats(ctx context.Context, contentID string) (EngagementStats, error)
	AuthorAffinity(ctx context.Context, userID, authorID string) (float64, error)
	TagAffinity(ctx context.Context, userID string, tags []string) (float64, error)
}

// Per-feature cache TTLs. Affinities move slowly; engagement counters churn.
const (
	authorAffinityTTL = 10 * time.Minute
	engagementTTL     = time.Minute
	contentMatchTTL   = 5 * time.Minute
)

// engagementHalfLife controls time decay of the engagement sub-score.
const engagementHalfLife = 6 * time.Hour

// recencyHalfLife controls recency decay of content age.
const recencyHalfLife = 48 * time.Hour

// FeatureEngine computes feature vectors with per-feature TTL caching.
type FeatureEngine struct {
	source FeatureSource
	cache  *cache.Cache
	logger zerolog.Logger
	now    func() time.Time
}

// NewFeatureEngine creates a feature engine over the given source.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewFeatureEngine(source FeatureSource, defaultTTL time.Duration, logger zerolog.Logger) *FeatureEngine {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &FeatureEngine{
		source: source,
		cache:  cache.New(defaultTTL),
		logger: logger.With().Str("component", "features").Logger(),
		now:    time.Now,
	}
}

// Vector computes the full feature vector for one (user, content) pair.
// Individual feature failures degrade to zero for that sub-score rather
// than failing the vector.
func (e *FeatureEngine) Vector(ctx context.Context, userID, contentID string) (FeatureVector, error) {
	meta, err := e.source.ContentMeta(ctx, contentID)
	if err != nil {
		return FeatureVector{}, fmt.Errorf("content meta for %s: %w", contentID, err)
	}

	v := FeatureVector{
		AuthorAffinity:  e.authorAffinity(ctx, userID, meta.AuthorID),
		ContentMatch:    e.contentMatch(ctx, userID, contentID, meta.Tags),
		RecencyDecay:    e.recencyDecay(meta.PublishedAt),
		EngagementScore: 0,
		SocialProof:     0,
	}

	if stats, ok := e.engagementStats(ctx, contentID); ok {
		v.EngagementScore = e.engagementScore(stats)
		v.SocialProof = socialProof(stats)
	}

	return v, nil
}

// PurgeUser drops all cached sub-scores for a user. Called on user data
// deletion.
func (e *FeatureEngine) PurgeUser(userID string) {
	e.cache.DeletePrefix("affinity:" + userID + ":")
	e.cache.DeletePrefix("match:" + userID + ":")
}

// Close releases the underlying cache.
func (e *FeatureEngine) Close() {
	e.cache.Close()
}

func (e *FeatureEngine) authorAffinity(ctx context.Context, userID, authorID string) float64 {
	key := "affinity:" + userID + ":" + authorID
	if cached, ok := e.cache.Get(key); ok {
		return cached.(float64)
	}

	score, err := e.source.AuthorAffinity(ctx, userID, authorID)
	if err != nil {
		e.logger.Debug().Err(err).Str("author", authorID).Msg("author affinity unavailable")
		return 0
	}
	score = clamp01(score)
	e.cache.SetWithTTL(key, score, authorAffinityTTL)
	return score
}

func (e *FeatureEngine) contentMatch(ctx context.Context, userID, contentID string, tags []string) float64 {
	key := "match:" + userID + ":" + contentID
	if cached, ok := e.cache.Get(key); ok {
		return cached.(float64)
	}

	score, err := e.source.TagAffinity(ctx, userID, tags)
	if err != nil {
		e.logger.Debug().Err(err).Str("content", contentID).Msg("tag affinity unavailable")
		return 0
	}
	score = clamp01(score)
	e.cache.SetWithTTL(key, score, contentMatchTTL)
	return score
}

func (e *FeatureEngine) engagementStats(ctx context.Context, contentID string) (EngagementStats, bool) {
	key := "engagement:" + contentID
	if cached, ok := e.cache.Get(key); ok {
		return cached.(EngagementStats), true
	}

	stats, err := e.source.EngagementStats(ctx, contentID)
	if err != nil {
		e.logger.Debug().Err(err).Str("content", contentID).Msg("engagement stats unavailable")
		return EngagementStats{}, false
	}
	e.cache.SetWithTTL(key, stats, engagementTTL)
	return stats, true
}

// engagementScore is the time-decayed engagement ratio of a clip, saturated
// to [0, 1]. Comments and shares weigh more than likes.
func (e *FeatureEngine) engagementScore(stats EngagementStats) float64 {
	if stats.Views == 0 {
		return 0
	}
	weighted := float64(stats.Likes) + 2*float64(stats.Comments) + 3*float64(stats.Shares)
	ratio := weighted / float64(stats.Views)

	decay := 1.0
	if !stats.LastEngagedAt.IsZero() {
		age := e.now().Sub(stats.LastEngagedAt)
		decay = math.Exp2(-age.Hours() / engagementHalfLife.Hours())
	}

	// Saturate: ratio of 0.5 maps to ~0.63, 1.0 to ~0.86.
	return clamp01((1 - math.Exp(-2*ratio)) * decay)
}

// recencyDecay maps content age to [0, 1] with exponential half-life decay.
func (e *FeatureEngine) recencyDecay(publishedAt time.Time) float64 {
	if publishedAt.IsZero() {
		return 0
	}
	age := e.now().Sub(publishedAt)
	if age < 0 {
		age = 0
	}
	return clamp01(math.Exp2(-age.Hours() / recencyHalfLife.Hours()))
}

// socialProof saturates absolute share volume to [0, 1].
func socialProof(stats EngagementStats) float64 {
	return clamp01(1 - math.Exp(-float64(stats.Shares)/50.0))
}
