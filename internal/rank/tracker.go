// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package rank

import (
	"fmt"
	"time"
)

// BatchConsumptionTracker tracks per-clip consumption for exactly one
// ClipsBatch. It is mutated under the owning user's lock, so it carries no
// locking of its own.
type BatchConsumptionTracker struct {
	BatchID   string                            `json:"batch_id"`
	Clips     map[string]*ClipConsumptionStatus `json:"clips"`
	StartedAt time.Time                         `json:"started_at"`
}

// NewTracker creates a tracker covering every clip of the batch.
func NewTracker(batch *ClipsBatch) *BatchConsumptionTracker {
	clips := make(map[string]*ClipConsumptionStatus, len(batch.ClipIDs))
	for _, clipID := range batch.ClipIDs {
		clips[clipID] = &ClipConsumptionStatus{ClipID: clipID}
	}
	return &BatchConsumptionTracker{
		BatchID:   batch.BatchID,
		Clips:     clips,
		StartedAt: time.Now(),
	}
}

// Apply merges one consumption event into the clip's status. Events must be
// applied in arrival order; later events override scalar fields and extend
// engagement actions. A terminal event freezes the clip as complete.
func (t *BatchConsumptionTracker) Apply(ev ConsumptionEvent, weights ScoringWeights, skipThreshold time.Duration) error {
	status, ok := t.Clips[ev.ClipID]
	if !ok {
		return fmt.Errorf("clip %s not in batch %s", ev.ClipID, t.BatchID)
	}
	if status.ConsumptionComplete {
		// Terminal state already reached; late events are dropped.
		return nil
	}

	status.WatchPercentage = clamp01(ev.WatchPercentage)
	if ev.LoopCount > status.LoopCount {
		status.LoopCount = ev.LoopCount
	}
	if ev.DwellTime > status.DwellTime {
		status.DwellTime = ev.DwellTime
	}
	status.EngagementActions = append(status.EngagementActions, ev.Actions...)
	status.SkipSignal = status.DwellTime < skipThreshold

	shares := 0
	for _, a := range status.EngagementActions {
		if a == ActionShare {
			shares++
		}
	}
	status.SatisfactionScore = Score(ClipSignals{
		WatchPercentage: status.WatchPercentage,
		LoopCount:       status.LoopCount,
		ShareCount:      shares,
		DwellTime:       status.DwellTime,
	}, weights, skipThreshold)

	if ev.Terminal {
		status.ConsumptionComplete = true
	}
	return nil
}

// Complete reports whether every clip in the batch reached terminal state.
func (t *BatchConsumptionTracker) Complete() bool {
	for _, status := range t.Clips {
		if !status.ConsumptionComplete {
			return false
		}
	}
	return true
}

// Metrics computes the batch-level metrics from the tracked clip statuses.
func (t *BatchConsumptionTracker) Metrics() BatchMetrics {
	n := len(t.Clips)
	if n == 0 {
		return BatchMetrics{CompletedAt: time.Now()}
	}

	var (
		watchSum, loopSum, satSum float64
		dwellSum                  time.Duration
		skips, completed, engaged int
	)
	for _, status := range t.Clips {
		watchSum += status.WatchPercentage
		loopSum += float64(status.LoopCount)
		satSum += status.SatisfactionScore
		dwellSum += status.DwellTime
		if status.SkipSignal {
			skips++
		}
		if status.ConsumptionComplete {
			completed++
		}
		if len(status.EngagementActions) > 0 {
			engaged++
		}
	}

	fn := float64(n)
	return BatchMetrics{
		AvgWatchPercentage: watchSum / fn,
		AvgLoopCount:       loopSum / fn,
		SkipRate:           float64(skips) / fn,
		CompletionRate:     float64(completed) / fn,
		AvgDwellTime:       dwellSum / time.Duration(n),
		EngagementRate:     float64(engaged) / fn,
		SatisfactionScore:  satSum / fn,
		CompletedAt:        time.Now(),
	}
}
