// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package pipeline

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestValidateAndCleanRejections(t *testing.T) {
	v := NewValidator(0.3, zerolog.Nop())
	at := time.Now().UTC()

	good := makePoint(AlgorithmHybrid, "view", 0.5, at)

	missingID := makePoint(AlgorithmHybrid, "view", 0.5, at)
	missingID.ID = ""

	badAlgorithm := makePoint("matrix_factorization", "view", 0.5, at)

	badEngagement := makePoint(AlgorithmHybrid, "hover", 0.5, at)

	badFeature := makePoint(AlgorithmHybrid, "view", 0.5, at.Add(time.Second))
	badFeature.Features["author_affinity"] = 1.7

	badRank := makePoint(AlgorithmHybrid, "view", 0.5, at.Add(2*time.Second))
	badRank.PredictedRank = -0.1

	lowQuality := makePoint(AlgorithmHybrid, "view", 0.5, at.Add(3*time.Second))
	lowQuality.QualityScore = 0.1

	clean, report := v.ValidateAndClean([]RetrainingDataPoint{
		good, missingID, badAlgorithm, badEngagement, badFeature, badRank, lowQuality,
	})

	if len(clean) != 1 || clean[0].ID != good.ID {
		t.Fatalf("clean = %d points, want only the good one", len(clean))
	}
	if report.Structural != 1 {
		t.Errorf("structural drops = %d, want 1", report.Structural)
	}
	if report.Domain != 4 {
		t.Errorf("domain drops = %d, want 4", report.Domain)
	}
	if report.Quality != 1 {
		t.Errorf("quality drops = %d, want 1", report.Quality)
	}
}

func TestValidateDeduplicatesByFingerprint(t *testing.T) {
	v := NewValidator(0, zerolog.Nop())
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Same content under different IDs is one point.
	a := makePoint(AlgorithmHybrid, "view", 0.5, at)
	b := makePoint(AlgorithmHybrid, "view", 0.5, at)
	distinct := makePoint(AlgorithmHybrid, "view", 0.5, at.Add(time.Second))

	clean, report := v.ValidateAndClean([]RetrainingDataPoint{a, b, distinct})
	if len(clean) != 2 {
		t.Fatalf("clean = %d points, want 2", len(clean))
	}
	if report.Duplicate != 1 {
		t.Errorf("duplicate drops = %d, want 1", report.Duplicate)
	}
	// First occurrence wins.
	if clean[0].ID != a.ID {
		t.Error("dedup must keep the first occurrence")
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	v := NewValidator(0.3, zerolog.Nop())
	at := time.Now().UTC()

	points := []RetrainingDataPoint{
		makePoint(AlgorithmCollaborative, "view", 0.5, at),
		makePoint(AlgorithmContentBased, "share", 0.9, at.Add(time.Second)),
		makePoint(AlgorithmHybrid, "skip", 0.2, at.Add(2*time.Second)),
	}

	once, _ := v.ValidateAndClean(points)
	twice, report := v.ValidateAndClean(once)
	if len(twice) != len(once) {
		t.Errorf("second pass dropped %d points; validation must be idempotent", len(once)-len(twice))
	}
	if report.Total() != 0 {
		t.Errorf("second pass reported %d drops, want 0", report.Total())
	}
}
