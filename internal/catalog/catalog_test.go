// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftlab/feedcore/internal/signals"
	"github.com/driftlab/feedcore/internal/store"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Options{InMemory: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestCatalog(t *testing.T, st *store.Store) *Catalog {
	t.Helper()
	c, err := New(context.Background(), st, zerolog.Nop())
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	c.now = func() time.Time { return testEpoch }
	return c
}

func seedClip(t *testing.T, c *Catalog, id, author string, age time.Duration, tags ...string) {
	t.Helper()
	err := c.UpsertClip(context.Background(), Clip{
		ID:          id,
		AuthorID:    author,
		Tags:        tags,
		PublishedAt: testEpoch.Add(-age),
	})
	if err != nil {
		t.Fatalf("upsert %s: %v", id, err)
	}
}

func engage(t *testing.T, c *Catalog, user, clip string, typ signals.SignalType, age time.Duration) {
	t.Helper()
	if err := c.RecordEngagement(context.Background(), user, clip, typ, testEpoch.Add(-age)); err != nil {
		t.Fatalf("engage %s/%s: %v", user, clip, err)
	}
}

func TestUpsertClipValidation(t *testing.T) {
	c := newTestCatalog(t, newTestStore(t))

	if err := c.UpsertClip(context.Background(), Clip{ID: "c1"}); !errors.Is(err, ErrInvalidClip) {
		t.Errorf("missing author error = %v, want ErrInvalidClip", err)
	}
	seedClip(t, c, "c1", "a1", time.Hour, "music")

	meta, err := c.ContentMeta(context.Background(), "c1")
	if err != nil {
		t.Fatalf("ContentMeta: %v", err)
	}
	if meta.AuthorID != "a1" || len(meta.Tags) != 1 {
		t.Errorf("meta = %+v", meta)
	}

	if _, err := c.ContentMeta(context.Background(), "nope"); !errors.Is(err, ErrUnknownClip) {
		t.Errorf("unknown clip error = %v, want ErrUnknownClip", err)
	}
}

func TestTrendingWindowAndOrder(t *testing.T) {
	c := newTestCatalog(t, newTestStore(t))
	seedClip(t, c, "hot", "a1", 10*time.Hour)
	seedClip(t, c, "warm", "a1", 10*time.Hour)
	seedClip(t, c, "stale", "a1", 40*time.Hour)

	engage(t, c, "u1", "hot", signals.SignalShare, time.Hour)       // weight 3
	engage(t, c, "u2", "hot", signals.SignalView, time.Hour)        // weight 1
	engage(t, c, "u1", "warm", signals.SignalEngagement, time.Hour) // weight 2
	engage(t, c, "u1", "stale", signals.SignalShare, 30*time.Hour)  // outside 24h window

	ids, err := c.Trending(context.Background(), 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("Trending: %v", err)
	}
	if len(ids) != 2 || ids[0] != "hot" || ids[1] != "warm" {
		t.Errorf("trending = %v, want [hot warm]", ids)
	}

	// Skips carry no weight.
	engage(t, c, "u3", "warm", signals.SignalSkip, time.Minute)
	ids, _ = c.Trending(context.Background(), 24*time.Hour, 10)
	if ids[0] != "hot" {
		t.Errorf("skip changed ranking: %v", ids)
	}
}

func TestViralRanksByVelocity(t *testing.T) {
	c := newTestCatalog(t, newTestStore(t))
	seedClip(t, c, "rising", "a1", 20*time.Hour)
	seedClip(t, c, "fading", "a1", 20*time.Hour)

	// "fading" had early engagement, "rising" has recent engagement.
	for i := 0; i < 4; i++ {
		engage(t, c, "u1", "fading", signals.SignalView, 10*time.Hour)
		engage(t, c, "u1", "rising", signals.SignalView, time.Hour)
	}
	engage(t, c, "u2", "fading", signals.SignalView, time.Hour)

	ids, err := c.Viral(context.Background(), 12*time.Hour, 10)
	if err != nil {
		t.Fatalf("Viral: %v", err)
	}
	if len(ids) == 0 || ids[0] != "rising" {
		t.Errorf("viral = %v, want rising first", ids)
	}
}

func TestRecentByAuthorsAndFresh(t *testing.T) {
	c := newTestCatalog(t, newTestStore(t))
	seedClip(t, c, "new-a", "a1", time.Hour)
	seedClip(t, c, "old-a", "a1", 48*time.Hour)
	seedClip(t, c, "new-b", "a2", 2*time.Hour)

	ids, err := c.RecentByAuthors(context.Background(), []string{"a1"}, 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("RecentByAuthors: %v", err)
	}
	if len(ids) != 1 || ids[0] != "new-a" {
		t.Errorf("recent by a1 = %v, want [new-a]", ids)
	}

	// Fresh prefers low exposure.
	engage(t, c, "u1", "new-a", signals.SignalView, time.Minute)
	ids, err = c.Fresh(context.Background(), 24*time.Hour, 1)
	if err != nil {
		t.Fatalf("Fresh: %v", err)
	}
	if len(ids) != 1 || ids[0] != "new-b" {
		t.Errorf("fresh = %v, want [new-b]", ids)
	}
}

func TestSimilarUsersJaccard(t *testing.T) {
	c := newTestCatalog(t, newTestStore(t))
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		seedClip(t, c, id, "a1", time.Hour)
	}

	engage(t, c, "me", "c1", signals.SignalView, time.Hour)
	engage(t, c, "me", "c2", signals.SignalView, time.Hour)
	// twin shares both clips, acquaintance shares one of three, stranger none.
	engage(t, c, "twin", "c1", signals.SignalView, time.Hour)
	engage(t, c, "twin", "c2", signals.SignalView, time.Hour)
	engage(t, c, "acquaintance", "c2", signals.SignalView, time.Hour)
	engage(t, c, "acquaintance", "c3", signals.SignalView, time.Hour)
	engage(t, c, "acquaintance", "c4", signals.SignalView, time.Hour)
	engage(t, c, "stranger", "c3", signals.SignalView, time.Hour)

	ids, err := c.SimilarUsers(context.Background(), "me", 10)
	if err != nil {
		t.Fatalf("SimilarUsers: %v", err)
	}
	if len(ids) != 2 || ids[0] != "twin" || ids[1] != "acquaintance" {
		t.Errorf("similar = %v, want [twin acquaintance]", ids)
	}

	ids, _ = c.EngagedByUsers(context.Background(), []string{"twin"}, 24*time.Hour, 10)
	if len(ids) != 2 {
		t.Errorf("engaged by twin = %v, want 2 clips", ids)
	}
}

func TestProcessSignalRoutesFollowAction(t *testing.T) {
	c := newTestCatalog(t, newTestStore(t))
	seedClip(t, c, "c1", "a1", time.Hour)

	err := c.ProcessSignal(context.Background(), signals.UserSignal{
		UserID:     "u1",
		SignalType: signals.SignalEngagement,
		Action:     "follow",
		Context:    map[string]string{"author_id": "a9"},
		Timestamp:  testEpoch,
	})
	if err != nil {
		t.Fatalf("ProcessSignal follow: %v", err)
	}
	authors, _ := c.FollowedAuthors(context.Background(), "u1")
	if len(authors) != 1 || authors[0] != "a9" {
		t.Errorf("followed = %v, want [a9]", authors)
	}

	err = c.ProcessSignal(context.Background(), signals.UserSignal{
		UserID:     "u1",
		SignalType: signals.SignalView,
		ContentID:  "c1",
		Timestamp:  testEpoch,
	})
	if err != nil {
		t.Fatalf("ProcessSignal view: %v", err)
	}
	stats, _ := c.EngagementStats(context.Background(), "c1")
	if stats.Views != 1 {
		t.Errorf("views = %d, want 1", stats.Views)
	}
}

func TestAffinities(t *testing.T) {
	c := newTestCatalog(t, newTestStore(t))
	seedClip(t, c, "c1", "a1", time.Hour, "music", "live")
	seedClip(t, c, "c2", "a1", time.Hour, "music")
	seedClip(t, c, "c3", "a2", time.Hour, "cooking")

	engage(t, c, "u1", "c1", signals.SignalView, time.Hour)
	engage(t, c, "u1", "c2", signals.SignalView, time.Hour)
	engage(t, c, "u1", "c3", signals.SignalView, time.Hour)

	affinity, err := c.AuthorAffinity(context.Background(), "u1", "a1")
	if err != nil {
		t.Fatalf("AuthorAffinity: %v", err)
	}
	if affinity < 0.66 || affinity > 0.67 {
		t.Errorf("author affinity = %v, want 2/3", affinity)
	}

	// Tags across engaged clips: music x2, live x1, cooking x1 (total 4).
	tagAff, err := c.TagAffinity(context.Background(), "u1", []string{"music"})
	if err != nil {
		t.Fatalf("TagAffinity: %v", err)
	}
	if tagAff != 0.5 {
		t.Errorf("tag affinity = %v, want 0.5", tagAff)
	}

	if aff, _ := c.AuthorAffinity(context.Background(), "nobody", "a1"); aff != 0 {
		t.Errorf("unknown user affinity = %v, want 0", aff)
	}
}

func TestForgetPurgesUser(t *testing.T) {
	c := newTestCatalog(t, newTestStore(t))
	seedClip(t, c, "c1", "a1", time.Hour)
	engage(t, c, "u1", "c1", signals.SignalView, time.Hour)
	if err := c.Follow(context.Background(), "u1", "a1"); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	if err := c.Forget(context.Background(), "u1"); err != nil {
		t.Fatalf("Forget: %v", err)
	}

	authors, _ := c.FollowedAuthors(context.Background(), "u1")
	if len(authors) != 0 {
		t.Errorf("followed after forget = %v", authors)
	}
	ids, _ := c.SimilarUsers(context.Background(), "u1", 10)
	if len(ids) != 0 {
		t.Errorf("similar after forget = %v", ids)
	}
	// Aggregate counters survive.
	stats, _ := c.EngagementStats(context.Background(), "c1")
	if stats.Views != 1 {
		t.Errorf("views after forget = %d, want 1", stats.Views)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	st := newTestStore(t)
	c := newTestCatalog(t, st)
	seedClip(t, c, "c1", "a1", time.Hour, "music")
	engage(t, c, "u1", "c1", signals.SignalShare, time.Hour)
	if err := c.Follow(context.Background(), "u1", "a1"); err != nil {
		t.Fatalf("Follow: %v", err)
	}

	reopened := newTestCatalog(t, st)
	if reopened.Clips() != 1 {
		t.Fatalf("clips after reopen = %d, want 1", reopened.Clips())
	}
	stats, _ := reopened.EngagementStats(context.Background(), "c1")
	if stats.Shares != 1 {
		t.Errorf("shares after reopen = %d, want 1", stats.Shares)
	}
	authors, _ := reopened.FollowedAuthors(context.Background(), "u1")
	if len(authors) != 1 {
		t.Errorf("follows after reopen = %v", authors)
	}

	// The event window is memory-only; fallback still serves.
	trending, _ := reopened.Trending(context.Background(), 24*time.Hour, 10)
	if len(trending) != 0 {
		t.Errorf("trending after reopen = %v, want empty", trending)
	}
	fallback, _ := reopened.Fallback(context.Background(), 10)
	if len(fallback) != 1 || fallback[0] != "c1" {
		t.Errorf("fallback after reopen = %v, want [c1]", fallback)
	}
}
