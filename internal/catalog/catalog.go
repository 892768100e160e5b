// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftlab/feedcore/internal/rank"
	"github.com/driftlab/feedcore/internal/signals"
	"github.com/driftlab/feedcore/internal/store"
)

var (
	// ErrUnknownClip is returned for clip IDs not in the catalog.
	ErrUnknownClip = errors.New("catalog: unknown clip")

	// ErrInvalidClip is returned when an upserted clip is missing
	// required fields.
	ErrInvalidClip = errors.New("catalog: invalid clip")
)

const (
	clipKeyPrefix    = "catalog/clip/"
	statsKeyPrefix   = "catalog/stats/"
	followsKeyPrefix = "catalog/follows/"

	// eventRetention bounds the in-memory engagement event window. Trending
	// and viral queries never look further back than this.
	eventRetention = 48 * time.Hour
)

// Clip is one piece of catalog content.
type Clip struct {
	ID          string    `json:"id"`
	AuthorID    string    `json:"author_id"`
	Tags        []string  `json:"tags,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// engagementEvent is one windowed engagement observation.
type engagementEvent struct {
	UserID string
	ClipID string
	Weight float64
	At     time.Time
}

// signalWeights scores each signal type's contribution to trending and
// viral rankings. Skips and session markers carry no weight.
var signalWeights = map[signals.SignalType]float64{
	signals.SignalView:       1.0,
	signals.SignalEngagement: 2.0,
	signals.SignalShare:      3.0,
	signals.SignalCompletion: 2.0,
}

// Catalog implements strategies.ContentProvider and rank.FeatureSource
// over the persistence substrate. Safe for concurrent use.
type Catalog struct {
	st     *store.Store
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	clips   map[string]Clip
	stats   map[string]rank.EngagementStats
	follows map[string]map[string]bool
	events  []engagementEvent
	// byUser maps user ID to clip ID to the last engagement time.
	byUser map[string]map[string]time.Time
}

// New opens the catalog, loading persisted clips, counters, and follow
// relations from the store.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(ctx context.Context, st *store.Store, logger zerolog.Logger) (*Catalog, error) {
	c := &Catalog{
		st:      st,
		logger:  logger.With().Str("component", "catalog").Logger(),
		now:     time.Now,
		clips:   make(map[string]Clip),
		stats:   make(map[string]rank.EngagementStats),
		follows: make(map[string]map[string]bool),
		byUser:  make(map[string]map[string]time.Time),
	}
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) load(ctx context.Context) error {
	clipKeys, err := c.st.Keys(ctx, clipKeyPrefix)
	if err != nil {
		return fmt.Errorf("list clips: %w", err)
	}
	for _, key := range clipKeys {
		var clip Clip
		if err := c.st.Get(ctx, key, &clip); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("skipping unreadable clip")
			continue
		}
		c.clips[clip.ID] = clip
	}

	statKeys, err := c.st.Keys(ctx, statsKeyPrefix)
	if err != nil {
		return fmt.Errorf("list stats: %w", err)
	}
	for _, key := range statKeys {
		var stats rank.EngagementStats
		if err := c.st.Get(ctx, key, &stats); err != nil {
			continue
		}
		c.stats[strings.TrimPrefix(key, statsKeyPrefix)] = stats
	}

	followKeys, err := c.st.Keys(ctx, followsKeyPrefix)
	if err != nil {
		return fmt.Errorf("list follows: %w", err)
	}
	for _, key := range followKeys {
		var authors []string
		if err := c.st.Get(ctx, key, &authors); err != nil {
			continue
		}
		userID := strings.TrimPrefix(key, followsKeyPrefix)
		set := make(map[string]bool, len(authors))
		for _, a := range authors {
			set[a] = true
		}
		c.follows[userID] = set
	}

	c.logger.Info().
		Int("clips", len(c.clips)).
		Int("followers", len(c.follows)).
		Msg("catalog loaded")
	return nil
}

// UpsertClip adds or replaces a clip. A zero PublishedAt is stamped with
// the current time.
func (c *Catalog) UpsertClip(ctx context.Context, clip Clip) error {
	if clip.ID == "" || clip.AuthorID == "" {
		return fmt.Errorf("%w: id and author_id are required", ErrInvalidClip)
	}
	if clip.PublishedAt.IsZero() {
		clip.PublishedAt = c.now().UTC()
	}

	c.mu.Lock()
	c.clips[clip.ID] = clip
	c.mu.Unlock()

	if err := c.st.Put(ctx, clipKeyPrefix+clip.ID, clip); err != nil {
		return fmt.Errorf("persist clip %s: %w", clip.ID, err)
	}
	return nil
}

// Clips returns the number of clips in the catalog.
func (c *Catalog) Clips() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clips)
}

// Follow records that userID follows authorID.
func (c *Catalog) Follow(ctx context.Context, userID, authorID string) error {
	if userID == "" || authorID == "" {
		return errors.New("catalog: user and author are required")
	}

	c.mu.Lock()
	set := c.follows[userID]
	if set == nil {
		set = make(map[string]bool)
		c.follows[userID] = set
	}
	set[authorID] = true
	authors := sortedKeys(set)
	c.mu.Unlock()

	return c.st.Put(ctx, followsKeyPrefix+userID, authors)
}

// Unfollow removes a follow relation. Unknown relations are a no-op.
func (c *Catalog) Unfollow(ctx context.Context, userID, authorID string) error {
	c.mu.Lock()
	set := c.follows[userID]
	if set == nil || !set[authorID] {
		c.mu.Unlock()
		return nil
	}
	delete(set, authorID)
	authors := sortedKeys(set)
	c.mu.Unlock()

	return c.st.Put(ctx, followsKeyPrefix+userID, authors)
}

// RecordEngagement applies one engagement observation: counters, the
// windowed event list, and the per-user engagement index.
func (c *Catalog) RecordEngagement(ctx context.Context, userID, clipID string, typ signals.SignalType, at time.Time) error {
	if at.IsZero() {
		at = c.now().UTC()
	}

	c.mu.Lock()
	stats := c.stats[clipID]
	switch typ {
	case signals.SignalView, signals.SignalCompletion:
		stats.Views++
	case signals.SignalEngagement:
		stats.Likes++
	case signals.SignalShare:
		stats.Shares++
	}
	if at.After(stats.LastEngagedAt) {
		stats.LastEngagedAt = at
	}
	c.stats[clipID] = stats

	if weight := signalWeights[typ]; weight > 0 {
		c.events = append(c.events, engagementEvent{UserID: userID, ClipID: clipID, Weight: weight, At: at})
		engaged := c.byUser[userID]
		if engaged == nil {
			engaged = make(map[string]time.Time)
			c.byUser[userID] = engaged
		}
		if at.After(engaged[clipID]) {
			engaged[clipID] = at
		}
	}
	c.trimEventsLocked()
	c.mu.Unlock()

	if err := c.st.Put(ctx, statsKeyPrefix+clipID, stats); err != nil {
		// Counters stay correct in memory; the next engagement retries.
		c.logger.Warn().Err(err).Str("clip", clipID).Msg("stats persist failed")
	}
	return nil
}

// ProcessSignal implements signals.Processor: admitted signals update the
// engagement indexes. A "follow" action with an author_id context entry
// records a follow relation instead.
func (c *Catalog) ProcessSignal(ctx context.Context, sig signals.UserSignal) error {
	if sig.Action == "follow" {
		if author := sig.Context["author_id"]; author != "" {
			return c.Follow(ctx, sig.UserID, author)
		}
		return nil
	}
	if sig.ContentID == "" {
		return nil
	}
	return c.RecordEngagement(ctx, sig.UserID, sig.ContentID, sig.SignalType, sig.Timestamp)
}

// Forget purges a user's follow relations and engagement index. Persisted
// per-clip counters are aggregates and keep their values.
func (c *Catalog) Forget(ctx context.Context, userID string) error {
	c.mu.Lock()
	delete(c.follows, userID)
	delete(c.byUser, userID)
	kept := c.events[:0]
	for _, ev := range c.events {
		if ev.UserID != userID {
			kept = append(kept, ev)
		}
	}
	c.events = kept
	c.mu.Unlock()

	return c.st.Delete(ctx, followsKeyPrefix+userID)
}

// trimEventsLocked drops events older than the retention window.
func (c *Catalog) trimEventsLocked() {
	cutoff := c.now().Add(-eventRetention)
	idx := 0
	for idx < len(c.events) && c.events[idx].At.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		c.events = append([]engagementEvent(nil), c.events[idx:]...)
	}
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
