// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package rank

import (
	"math"
	"time"
)

// MaxPositiveWeightSum bounds the sum of the three positive scoring weights.
// Vectors exceeding it are renormalized proportionally.
const MaxPositiveWeightSum = 1.2

// DefaultSkipThreshold is the dwell time below which a clip counts as
// skipped when no engine config is in scope.
const DefaultSkipThreshold = 2000 * time.Millisecond

// DefaultScoringWeights returns the global default weight vector used until
// a user has adapted weights of their own.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		WatchPercentage: 0.5,
		LoopCount:       0.3,
		ShareCount:      0.2,
		SkipSignal:      0.4,
		AdaptiveBonus:   0,
	}
}

// PositiveSum returns the sum of the three positive weights.
func (w ScoringWeights) PositiveSum() float64 {
	return w.WatchPercentage + w.LoopCount + w.ShareCount
}

// Renormalize scales the positive weights down proportionally when their sum
// exceeds MaxPositiveWeightSum. Weights under the bound are left untouched.
func (w *ScoringWeights) Renormalize() {
	sum := w.PositiveSum()
	if sum <= MaxPositiveWeightSum {
		return
	}
	scale := MaxPositiveWeightSum / sum
	w.WatchPercentage *= scale
	w.LoopCount *= scale
	w.ShareCount *= scale
}

// ClipSignals are the implicit consumption signals scored for one clip.
type ClipSignals struct {
	WatchPercentage float64
	LoopCount       int
	ShareCount      int
	DwellTime       time.Duration
}

// Skip reports whether the dwell time counts as a skip under the threshold.
func (s ClipSignals) Skip(threshold time.Duration) bool {
	return s.DwellTime < threshold
}

// Score computes the implicit-signal satisfaction score for one clip.
// The formula is deterministic given its inputs:
//
//	raw = w1*watchPct + w2*min(loops/5,1) + w3*min(shares/100,1) - w4*skip + bonus
//	score = clamp(raw, 0, 1)
func Score(sig ClipSignals, w ScoringWeights, skipThreshold time.Duration) float64 {
	loopTerm := math.Min(float64(sig.LoopCount)/5.0, 1.0)
	shareTerm := math.Min(float64(sig.ShareCount)/100.0, 1.0)

	skip := 0.0
	if sig.Skip(skipThreshold) {
		skip = 1.0
	}

	raw := w.WatchPercentage*sig.WatchPercentage +
		w.LoopCount*loopTerm +
		w.ShareCount*shareTerm -
		w.SkipSignal*skip +
		w.AdaptiveBonus

	return clamp01(raw)
}

// clamp01 bounds v to [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// clampRange bounds v to [lo, hi].
func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
