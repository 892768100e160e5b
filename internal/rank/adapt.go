// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package rank

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/driftlab/feedcore/internal/metrics"
)

// completeBatchLocked finalizes the active batch: computes metrics, adapts
// weights when the satisfaction delta warrants it, adjusts the exploration
// rate, and generates the next batch. Caller holds entry.mu.
func (c *Controller) completeBatchLocked(ctx context.Context, entry *userEntry, batchID string) {
	st := entry.state
	batch := st.ActiveBatch
	if batch == nil || batch.BatchID != batchID {
		return
	}

	m := entry.tracker.Metrics()
	batch.Metrics = &m

	var prevSatisfaction float64
	hasPrev := false
	if n := len(st.PreviousBatches); n > 0 {
		if pm := st.PreviousBatches[n-1].Metrics; pm != nil {
			prevSatisfaction = pm.SatisfactionScore
			hasPrev = true
		}
	}

	st.PreviousBatches = append(st.PreviousBatches, batch)
	st.ActiveBatch = nil
	entry.tracker = nil

	// Convergence tracks satisfaction with light smoothing.
	st.ConvergenceScore = 0.7*st.ConvergenceScore + 0.3*m.SatisfactionScore

	if hasPrev {
		delta := m.SatisfactionScore - prevSatisfaction
		if math.Abs(delta) > c.cfg.AdaptationThreshold {
			c.adaptWeightsLocked(st, m, delta)
		}
	}

	adjustExplorationRate(st, m.SatisfactionScore)

	metrics.BatchesCompleted.Inc()
	metrics.BatchSatisfaction.Observe(m.SatisfactionScore)

	c.logger.Info().
		Str("user", st.UserID).
		Str("batch", batchID).
		Float64("satisfaction", m.SatisfactionScore).
		Float64("skip_rate", m.SkipRate).
		Float64("exploration_rate", st.ExplorationRate).
		Msg("batch completed")

	if _, err := c.generateBatchLocked(ctx, entry); err != nil {
		if errors.Is(err, ErrLoopExhausted) {
			c.logger.Info().Str("user", st.UserID).Msg("feedback loop reached iteration budget")
			return
		}
		// The user is left without an active batch; the caller retries.
		c.logger.Warn().Err(err).Str("user", st.UserID).Msg("next batch generation failed")
	}
}

// adaptWeightsLocked nudges the scoring weights toward the observed
// consumption profile. Caller holds entry.mu.
func (c *Controller) adaptWeightsLocked(st *FeedbackLoopState, m BatchMetrics, delta float64) {
	lr := st.AdaptiveRate
	w := &st.Weights

	w.WatchPercentage += lr * (m.CompletionRate - 0.5)
	w.LoopCount += lr * (math.Min(m.AvgLoopCount/5, 1) - 0.3)
	w.ShareCount += lr * (m.EngagementRate - 0.2)
	w.SkipSignal += lr * (m.SkipRate - 0.3)

	// Weights stay non-negative; a negative weight would invert a signal.
	w.WatchPercentage = math.Max(w.WatchPercentage, 0.05)
	w.LoopCount = math.Max(w.LoopCount, 0.05)
	w.ShareCount = math.Max(w.ShareCount, 0.05)
	w.SkipSignal = clampRange(w.SkipSignal, 0.05, 1)

	w.Renormalize()
	w.AdaptiveBonus = m.SatisfactionScore * 0.1

	st.AdaptationHistory = append(st.AdaptationHistory, AdaptationRecord{
		Iteration:    st.CurrentIteration,
		Satisfaction: m.SatisfactionScore,
		Delta:        delta,
		Weights:      *w,
		At:           time.Now(),
	})

	metrics.WeightAdaptations.Inc()
	c.logger.Debug().
		Str("user", st.UserID).
		Float64("delta", delta).
		Float64("positive_sum", w.PositiveSum()).
		Msg("scoring weights adapted")
}

// adjustExplorationRate moves the exploration rate inversely with
// satisfaction: unhappy users get more exploration, satisfied users less.
func adjustExplorationRate(st *FeedbackLoopState, satisfaction float64) {
	switch {
	case satisfaction < 0.6:
		st.ExplorationRate = math.Min(st.ExplorationRate+0.05, 0.4)
	case satisfaction > 0.8:
		st.ExplorationRate = math.Max(st.ExplorationRate-0.02, 0.1)
	}
}

// adaptiveFactors summarizes the last few completed batches.
func adaptiveFactors(st *FeedbackLoopState) AdaptiveRankingFactors {
	recent := recentCompleted(st, adaptiveFactorWindow)
	if len(recent) == 0 {
		return AdaptiveRankingFactors{}
	}

	var f AdaptiveRankingFactors
	for _, m := range recent {
		f.AvgWatchPercentage += m.AvgWatchPercentage
		f.AvgSkipRate += m.SkipRate
		f.AvgLoopCount += m.AvgLoopCount
	}
	n := float64(len(recent))
	f.AvgWatchPercentage /= n
	f.AvgSkipRate /= n
	f.AvgLoopCount /= n

	if len(recent) >= 2 {
		f.Momentum = recent[len(recent)-1].EngagementRate - recent[0].EngagementRate
	}
	return f
}

// recentCompleted returns metrics of the last up-to-n completed batches,
// oldest first.
func recentCompleted(st *FeedbackLoopState, n int) []BatchMetrics {
	var out []BatchMetrics
	batches := st.PreviousBatches
	start := len(batches) - n
	if start < 0 {
		start = 0
	}
	for _, b := range batches[start:] {
		if b.Metrics != nil {
			out = append(out, *b.Metrics)
		}
	}
	return out
}

// explorationAppetite derives the exploration share of the next batch from
// the recent skip rate, bounded to [0.1, 0.4]. Fresh sessions use the
// state's exploration rate instead.
func explorationAppetite(st *FeedbackLoopState, factors AdaptiveRankingFactors) float64 {
	if len(st.PreviousBatches) == 0 {
		return clampRange(st.ExplorationRate, 0.1, 0.4)
	}
	return clampRange(factors.AvgSkipRate*2, 0.1, 0.4)
}

// splitCounts divides the batch into personalized and exploration slots.
// The exploration share rounds up, but at least one slot stays personalized.
func splitCounts(batchSize int, appetite float64) (personal, exploration int) {
	exploration = int(math.Ceil(float64(batchSize) * appetite))
	if exploration >= batchSize {
		exploration = batchSize - 1
	}
	if exploration < 0 {
		exploration = 0
	}
	return batchSize - exploration, exploration
}
