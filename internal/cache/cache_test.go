// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package cache

import (
	"testing"
	"time"
)

func TestSetGet(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	c.Set("k", 42)
	got, ok := c.Get("k")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.(int) != 42 {
		t.Errorf("got %v, want 42", got)
	}
}

func TestExpiration(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	c.SetWithTTL("k", "v", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("k"); ok {
		t.Error("expected expired entry to miss")
	}

	stats := c.Stats()
	if stats.Evictions != 1 {
		t.Errorf("evictions = %d, want 1", stats.Evictions)
	}
}

func TestDeletePrefix(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	c.Set("feat:u1:c1", 1.0)
	c.Set("feat:u1:c2", 2.0)
	c.Set("feat:u2:c1", 3.0)

	c.DeletePrefix("feat:u1:")

	if _, ok := c.Get("feat:u1:c1"); ok {
		t.Error("prefix delete missed feat:u1:c1")
	}
	if _, ok := c.Get("feat:u2:c1"); !ok {
		t.Error("prefix delete removed unrelated key")
	}
}

func TestStatsCounters(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	c.Set("k", 1)
	c.Get("k")
	c.Get("missing")

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit 1 miss", stats)
	}
	if stats.Keys != 1 {
		t.Errorf("keys = %d, want 1", stats.Keys)
	}
}

func TestGenerateKeyDeterministic(t *testing.T) {
	a := GenerateKey("feat", "user1", "clip9")
	b := GenerateKey("feat", "user1", "clip9")
	if a != b {
		t.Errorf("same inputs produced different keys: %q vs %q", a, b)
	}
	if c := GenerateKey("feat", "user2", "clip9"); c == a {
		t.Error("different inputs produced the same key")
	}
}
