// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package pipeline

import (
	"math"
	"testing"
	"time"

	"github.com/driftlab/feedcore/internal/rank"
)

func TestScoreBreakdownBounds(t *testing.T) {
	s := NewQualityScorer()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	points := []RetrainingDataPoint{
		makePoint(AlgorithmHybrid, "view", 0.5, now.Add(-time.Hour)),
		makePoint(AlgorithmHybrid, "share", 0.9, now.Add(-2*time.Hour)),
	}

	b := s.Score(points, 0.8, now)
	for name, v := range map[string]float64{
		"completeness": b.Completeness,
		"consistency":  b.Consistency,
		"accuracy":     b.Accuracy,
		"timeliness":   b.Timeliness,
		"overall":      b.Overall,
	} {
		if v < 0 || v > 1 {
			t.Errorf("%s = %.3f, out of [0, 1]", name, v)
		}
	}
	if b.Accuracy != 0.8 {
		t.Errorf("accuracy = %.2f, want the supplied 0.80", b.Accuracy)
	}
	// Fully populated, plausible, fresh points score high.
	if b.Overall < 0.7 {
		t.Errorf("overall = %.3f, want >= 0.70 for clean fresh data", b.Overall)
	}
}

func TestScoreUnknownAccuracyIsNeutral(t *testing.T) {
	s := NewQualityScorer()
	now := time.Now().UTC()
	b := s.Score([]RetrainingDataPoint{makePoint(AlgorithmHybrid, "view", 0.5, now)}, -1, now)
	if b.Accuracy != 0.5 {
		t.Errorf("unknown accuracy = %.2f, want neutral 0.50", b.Accuracy)
	}
}

func TestConsistencyPenalizesImplausibleStrength(t *testing.T) {
	s := NewQualityScorer()
	now := time.Now().UTC()

	plausible := makePoint(AlgorithmHybrid, "skip", 0.1, now)
	implausible := makePoint(AlgorithmHybrid, "skip", 0.95, now) // a loved skip

	good := s.Score([]RetrainingDataPoint{plausible}, 0.5, now)
	bad := s.Score([]RetrainingDataPoint{implausible}, 0.5, now)

	if good.Consistency != 1 {
		t.Errorf("plausible consistency = %.2f, want 1", good.Consistency)
	}
	if bad.Consistency != 0 {
		t.Errorf("implausible consistency = %.2f, want 0", bad.Consistency)
	}
	if bad.Overall >= good.Overall {
		t.Error("implausible data must lower the overall score, not raise it")
	}
}

func TestTimelinessDecays(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	if got := timeliness(now, now); got != 1 {
		t.Errorf("fresh timeliness = %.3f, want 1", got)
	}
	if got := timeliness(now.Add(-24*time.Hour), now); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("one-half-life timeliness = %.3f, want 0.5", got)
	}
	if got := timeliness(time.Time{}, now); got != 0 {
		t.Errorf("zero-time timeliness = %.3f, want 0", got)
	}
	// Future stamps clamp to fully fresh rather than exceeding 1.
	if got := timeliness(now.Add(time.Hour), now); got != 1 {
		t.Errorf("future timeliness = %.3f, want 1", got)
	}
}

func TestPointQualityDistinguishesSignalQuality(t *testing.T) {
	s := NewQualityScorer()
	now := time.Now().UTC()

	complete := rank.InteractionLogRecord{
		UserID:    "u1",
		ContentID: "c1",
		BatchID:   "b1",
		Consumption: rank.ClipConsumptionStatus{
			WatchPercentage:     0.9,
			SatisfactionScore:   0.6,
			ConsumptionComplete: true,
		},
		At: now,
	}
	sparse := rank.InteractionLogRecord{
		UserID: "u1",
		At:     now.Add(-72 * time.Hour),
	}

	qComplete := s.PointQuality(complete, now)
	qSparse := s.PointQuality(sparse, now)
	if qComplete <= qSparse {
		t.Errorf("complete fresh record (%.3f) must outscore sparse stale one (%.3f)", qComplete, qSparse)
	}
	if qComplete < 0 || qComplete > 1 || qSparse < 0 || qSparse > 1 {
		t.Error("point quality out of [0, 1]")
	}
}

func TestScoreEmptyInput(t *testing.T) {
	s := NewQualityScorer()
	if b := s.Score(nil, 0.5, time.Now()); b.Overall != 0 {
		t.Errorf("empty input overall = %.3f, want 0", b.Overall)
	}
}
