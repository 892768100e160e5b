// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package signals

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// userLimiter implements per-user token-bucket rate limiting with
// automatic cleanup of idle entries.
type userLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	stop     chan struct{}
	stopOnce sync.Once
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// idleEviction is how long an untouched user limiter survives.
const idleEviction = time.Hour

func newUserLimiter(perSecond float64, burst int) *userLimiter {
	ul := &userLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		stop:     make(chan struct{}),
	}
	go ul.cleanupLoop(10 * time.Minute)
	return ul
}

// Allow reports whether a signal from the given user is admitted.
func (ul *userLimiter) Allow(userID string) bool {
	ul.mu.Lock()
	entry, ok := ul.limiters[userID]
	if !ok {
		entry = &limiterEntry{
			limiter:    rate.NewLimiter(ul.rate, ul.burst),
			lastAccess: time.Now(),
		}
		ul.limiters[userID] = entry
	} else {
		entry.lastAccess = time.Now()
	}
	limiter := entry.limiter
	ul.mu.Unlock()

	return limiter.Allow()
}

// Forget drops a user's limiter entry. Called on user data deletion.
func (ul *userLimiter) Forget(userID string) {
	ul.mu.Lock()
	delete(ul.limiters, userID)
	ul.mu.Unlock()
}

func (ul *userLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ul.cleanup()
		case <-ul.stop:
			return
		}
	}
}

func (ul *userLimiter) cleanup() {
	ul.mu.Lock()
	defer ul.mu.Unlock()

	threshold := time.Now().Add(-idleEviction)
	for userID, entry := range ul.limiters {
		if entry.lastAccess.Before(threshold) {
			delete(ul.limiters, userID)
		}
	}
}

// Stop terminates the cleanup goroutine.
func (ul *userLimiter) Stop() {
	ul.stopOnce.Do(func() { close(ul.stop) })
}
