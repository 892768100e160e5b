// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package pipeline

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func corpus(n int) []RetrainingDataPoint {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	classes := []string{"view", "skip", "engagement", "completion"}
	points := make([]RetrainingDataPoint, n)
	for i := range points {
		p := makePoint(AlgorithmHybrid, classes[i%len(classes)], float64(i%10)/10, at.Add(time.Duration(i)*time.Second))
		p.Features["author_affinity"] = float64(i%7) / 7
		p.Features["engagement_score"] = float64(i%3) / 3
		points[i] = p
	}
	return points
}

func TestPreprocessSplitRatiosAndLabels(t *testing.T) {
	cfg := PreprocessConfig{Normalize: false, RemoveOutliers: false, MinClassSize: 0}
	pp := NewPreprocessor(cfg, zerolog.Nop())

	ds, err := pp.Preprocess(corpus(100))
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}

	n := ds.Size()
	if got := float64(len(ds.Train)) / float64(n); math.Abs(got-0.7) > 0.05 {
		t.Errorf("train share = %.2f, want ~0.70", got)
	}
	if got := float64(len(ds.Validation)) / float64(n); math.Abs(got-0.2) > 0.05 {
		t.Errorf("validation share = %.2f, want ~0.20", got)
	}
	if got := float64(len(ds.Test)) / float64(n); math.Abs(got-0.1) > 0.05 {
		t.Errorf("test share = %.2f, want ~0.10", got)
	}

	for _, p := range ds.Train {
		if p.Split != SplitTrain {
			t.Fatalf("train point labeled %s", p.Split)
		}
	}
	for _, p := range ds.Validation {
		if p.Split != SplitValidation {
			t.Fatalf("validation point labeled %s", p.Split)
		}
	}
	for _, p := range ds.Test {
		if p.Split != SplitTest {
			t.Fatalf("test point labeled %s", p.Split)
		}
	}
}

func TestPreprocessDeterministicUnderSeed(t *testing.T) {
	cfg := PreprocessConfig{Seed: 42}
	pp := NewPreprocessor(cfg, zerolog.Nop())

	a, err := pp.Preprocess(corpus(50))
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	b, err := pp.Preprocess(corpus(50))
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}

	if len(a.Train) != len(b.Train) {
		t.Fatalf("train sizes differ: %d vs %d", len(a.Train), len(b.Train))
	}
	for i := range a.Train {
		if a.Train[i].ID != b.Train[i].ID {
			// IDs differ between corpus() calls; compare stable content.
			if a.Train[i].Engagement != b.Train[i].Engagement {
				t.Fatalf("train order differs at %d", i)
			}
		}
	}
}

func TestPreprocessNormalizesFeatures(t *testing.T) {
	cfg := PreprocessConfig{Normalize: true, RemoveOutliers: false, MinClassSize: 0}
	pp := NewPreprocessor(cfg, zerolog.Nop())

	ds, err := pp.Preprocess(corpus(60))
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}

	// A z-scored feature has roughly zero mean over the whole dataset.
	var sum, count float64
	for _, part := range [][]RetrainingDataPoint{ds.Train, ds.Validation, ds.Test} {
		for i := range part {
			if v, ok := part[i].Features["author_affinity"]; ok {
				sum += v
				count++
			}
		}
	}
	if count == 0 {
		t.Fatal("author_affinity missing after preprocessing")
	}
	if mean := sum / count; math.Abs(mean) > 0.2 {
		t.Errorf("normalized feature mean = %.3f, want ~0", mean)
	}
}

func TestPreprocessRemovesStrengthOutliers(t *testing.T) {
	at := time.Now().UTC()
	points := make([]RetrainingDataPoint, 0, 101)
	for i := 0; i < 100; i++ {
		points = append(points, makePoint(AlgorithmHybrid, "view", 0.5, at.Add(time.Duration(i)*time.Second)))
	}
	spike := makePoint(AlgorithmHybrid, "view", 1.0, at.Add(200*time.Second))
	// Tight cluster at 0.5 plus tiny jitter so sigma is small but nonzero.
	for i := 0; i < 100; i++ {
		points[i].Engagement.Strength = 0.5 + float64(i%3)*0.001
	}
	points = append(points, spike)

	cfg := PreprocessConfig{RemoveOutliers: true, MinClassSize: 0}
	pp := NewPreprocessor(cfg, zerolog.Nop())
	ds, err := pp.Preprocess(points)
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	if ds.OutliersRemoved != 1 {
		t.Errorf("outliers removed = %d, want 1", ds.OutliersRemoved)
	}
	if ds.Size() != 100 {
		t.Errorf("dataset size = %d, want 100", ds.Size())
	}
}

func TestPreprocessSelectsTopVarianceFeatures(t *testing.T) {
	cfg := PreprocessConfig{TopFeatures: 2, MinClassSize: 0}
	pp := NewPreprocessor(cfg, zerolog.Nop())

	ds, err := pp.Preprocess(corpus(60))
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}
	if len(ds.SelectedFeatures) != 2 {
		t.Fatalf("selected features = %d, want 2", len(ds.SelectedFeatures))
	}
	for _, p := range ds.Train {
		if len(p.Features) > 2 {
			t.Fatalf("point carries %d features after selection", len(p.Features))
		}
	}
}

func TestPreprocessBalancesClasses(t *testing.T) {
	at := time.Now().UTC()
	points := make([]RetrainingDataPoint, 0, 60)
	// 50 views, 5 skips: skip must be oversampled to the floor.
	for i := 0; i < 50; i++ {
		points = append(points, makePoint(AlgorithmHybrid, "view", 0.5, at.Add(time.Duration(i)*time.Second)))
	}
	for i := 0; i < 5; i++ {
		points = append(points, makePoint(AlgorithmHybrid, "skip", 0.2, at.Add(time.Duration(100+i)*time.Second)))
	}

	cfg := PreprocessConfig{MinClassSize: 10}
	pp := NewPreprocessor(cfg, zerolog.Nop())
	ds, err := pp.Preprocess(points)
	if err != nil {
		t.Fatalf("preprocess: %v", err)
	}

	counts := map[string]int{}
	for _, part := range [][]RetrainingDataPoint{ds.Train, ds.Validation, ds.Test} {
		for i := range part {
			counts[part[i].Engagement.Type]++
		}
	}
	// Both classes land on the same target: max(min class 5, floor 10).
	if counts["view"] != 10 || counts["skip"] != 10 {
		t.Errorf("class counts = %v, want 10 each", counts)
	}
}

func TestPreprocessEmptyInput(t *testing.T) {
	pp := NewPreprocessor(DefaultPreprocessConfig(), zerolog.Nop())
	if _, err := pp.Preprocess(nil); err == nil {
		t.Error("empty input must error")
	}
}
