// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package pipeline

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/rs/zerolog"
)

// Split ratios of the train/validation/test partition.
const (
	trainRatio      = 0.7
	validationRatio = 0.2
)

// outlierSigma is the z-score beyond which engagement strength counts as
// an outlier.
const outlierSigma = 3.0

// PreprocessConfig selects which preprocessing stages run.
type PreprocessConfig struct {
	// Normalize z-scores numerical features with corpus statistics.
	Normalize bool
	// RemoveOutliers drops points whose engagement strength is more than
	// three standard deviations from the corpus mean.
	RemoveOutliers bool
	// TopFeatures keeps only the N highest-variance features. Zero keeps
	// all.
	TopFeatures int
	// MinClassSize is the per-class floor for balancing. Classes smaller
	// than the floor are oversampled up to it.
	MinClassSize int
	// Seed fixes the shuffle order. Zero uses a default seed.
	Seed int64
}

// DefaultPreprocessConfig returns production defaults.
func DefaultPreprocessConfig() PreprocessConfig {
	return PreprocessConfig{
		Normalize:      true,
		RemoveOutliers: true,
		TopFeatures:    4,
		MinClassSize:   20,
	}
}

// FeatureStats are corpus statistics of one feature.
type FeatureStats struct {
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std_dev"`
	Variance float64 `json:"variance"`
}

// Dataset is the preprocessed, partitioned output ready for training.
type Dataset struct {
	Train            []RetrainingDataPoint   `json:"train"`
	Validation       []RetrainingDataPoint   `json:"validation"`
	Test             []RetrainingDataPoint   `json:"test"`
	Stats            map[string]FeatureStats `json:"stats"`
	SelectedFeatures []string                `json:"selected_features"`
	OutliersRemoved  int                     `json:"outliers_removed"`
}

// Size is the total number of points across all partitions.
func (d *Dataset) Size() int {
	return len(d.Train) + len(d.Validation) + len(d.Test)
}

// Preprocessor runs the normalization, selection, balancing, and split
// stages in order.
type Preprocessor struct {
	cfg    PreprocessConfig
	logger zerolog.Logger
}

// NewPreprocessor creates a preprocessor.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewPreprocessor(cfg PreprocessConfig, logger zerolog.Logger) *Preprocessor {
	return &Preprocessor{
		cfg:    cfg,
		logger: logger.With().Str("component", "pipeline-preprocess").Logger(),
	}
}

// Preprocess transforms validated points into a partitioned dataset.
// Input points are not mutated.
func (pp *Preprocessor) Preprocess(points []RetrainingDataPoint) (*Dataset, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("preprocess: no data points")
	}

	// Work on copies so the caller's batch stays intact.
	work := make([]RetrainingDataPoint, len(points))
	copy(work, points)
	for i := range work {
		work[i].Features = copyFeatures(points[i].Features)
	}

	stats := corpusStats(work)

	outliers := 0
	if pp.cfg.RemoveOutliers {
		work, outliers = pp.removeOutliers(work)
		if len(work) == 0 {
			return nil, fmt.Errorf("preprocess: all points removed as outliers")
		}
	}

	selected := pp.selectFeatures(stats)
	if len(selected) > 0 {
		keep := make(map[string]bool, len(selected))
		for _, name := range selected {
			keep[name] = true
		}
		for i := range work {
			for name := range work[i].Features {
				if !keep[name] {
					delete(work[i].Features, name)
				}
			}
		}
	}

	if pp.cfg.Normalize {
		normalize(work, stats)
	}

	work = pp.balanceClasses(work)

	seed := pp.cfg.Seed
	if seed == 0 {
		seed = 0x9e3779b9
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(work), func(i, j int) { work[i], work[j] = work[j], work[i] })

	ds := pp.split(work)
	ds.Stats = stats
	ds.SelectedFeatures = selected
	ds.OutliersRemoved = outliers

	pp.logger.Info().
		Int("train", len(ds.Train)).
		Int("validation", len(ds.Validation)).
		Int("test", len(ds.Test)).
		Int("outliers_removed", outliers).
		Strs("features", selected).
		Msg("dataset preprocessed")
	return ds, nil
}

// corpusStats computes mean, variance, and stddev per feature.
func corpusStats(points []RetrainingDataPoint) map[string]FeatureStats {
	sums := make(map[string]float64)
	counts := make(map[string]float64)
	for i := range points {
		for name, val := range points[i].Features {
			sums[name] += val
			counts[name]++
		}
	}

	stats := make(map[string]FeatureStats, len(sums))
	for name := range sums {
		mean := sums[name] / counts[name]
		var varSum float64
		for i := range points {
			if val, ok := points[i].Features[name]; ok {
				d := val - mean
				varSum += d * d
			}
		}
		variance := varSum / counts[name]
		stats[name] = FeatureStats{
			Mean:     mean,
			StdDev:   math.Sqrt(variance),
			Variance: variance,
		}
	}
	return stats
}

// removeOutliers drops points whose engagement strength z-score exceeds
// outlierSigma.
func (pp *Preprocessor) removeOutliers(points []RetrainingDataPoint) ([]RetrainingDataPoint, int) {
	var sum float64
	for i := range points {
		sum += points[i].Engagement.Strength
	}
	mean := sum / float64(len(points))

	var varSum float64
	for i := range points {
		d := points[i].Engagement.Strength - mean
		varSum += d * d
	}
	std := math.Sqrt(varSum / float64(len(points)))
	if std == 0 {
		return points, 0
	}

	kept := points[:0]
	removed := 0
	for i := range points {
		z := math.Abs(points[i].Engagement.Strength-mean) / std
		if z > outlierSigma {
			removed++
			continue
		}
		kept = append(kept, points[i])
	}
	return kept, removed
}

// selectFeatures returns the top-N feature names by variance, name-sorted
// within equal variance for determinism. Empty means keep all.
func (pp *Preprocessor) selectFeatures(stats map[string]FeatureStats) []string {
	if pp.cfg.TopFeatures <= 0 || len(stats) <= pp.cfg.TopFeatures {
		return nil
	}

	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		vi, vj := stats[names[i]].Variance, stats[names[j]].Variance
		if vi != vj {
			return vi > vj
		}
		return names[i] < names[j]
	})
	return names[:pp.cfg.TopFeatures]
}

// normalize z-scores every feature in place using corpus stats. Features
// with zero variance stay untouched.
func normalize(points []RetrainingDataPoint, stats map[string]FeatureStats) {
	for i := range points {
		for name, val := range points[i].Features {
			st, ok := stats[name]
			if !ok || st.StdDev == 0 {
				continue
			}
			points[i].Features[name] = (val - st.Mean) / st.StdDev
		}
	}
}

// balanceClasses under/oversamples each engagement class to a common
// target: the larger of the smallest observed class and the configured
// floor.
func (pp *Preprocessor) balanceClasses(points []RetrainingDataPoint) []RetrainingDataPoint {
	classes := make(map[string][]RetrainingDataPoint)
	for i := range points {
		class := points[i].Engagement.Type
		classes[class] = append(classes[class], points[i])
	}
	if len(classes) <= 1 {
		return points
	}

	minSize := math.MaxInt
	for _, members := range classes {
		if len(members) < minSize {
			minSize = len(members)
		}
	}
	target := minSize
	if pp.cfg.MinClassSize > target {
		target = pp.cfg.MinClassSize
	}

	classNames := make([]string, 0, len(classes))
	for class := range classes {
		classNames = append(classNames, class)
	}
	sort.Strings(classNames)

	balanced := make([]RetrainingDataPoint, 0, target*len(classes))
	for _, class := range classNames {
		members := classes[class]
		if len(members) >= target {
			balanced = append(balanced, members[:target]...)
			continue
		}
		// Oversample by cycling the class members.
		for i := 0; i < target; i++ {
			balanced = append(balanced, members[i%len(members)])
		}
	}
	return balanced
}

// split partitions shuffled points 70/20/10 and stamps their Split label.
func (pp *Preprocessor) split(points []RetrainingDataPoint) *Dataset {
	n := len(points)
	trainEnd := int(float64(n) * trainRatio)
	valEnd := trainEnd + int(float64(n)*validationRatio)

	ds := &Dataset{
		Train:      append([]RetrainingDataPoint(nil), points[:trainEnd]...),
		Validation: append([]RetrainingDataPoint(nil), points[trainEnd:valEnd]...),
		Test:       append([]RetrainingDataPoint(nil), points[valEnd:]...),
	}
	for i := range ds.Train {
		ds.Train[i].Split = SplitTrain
	}
	for i := range ds.Validation {
		ds.Validation[i].Split = SplitValidation
	}
	for i := range ds.Test {
		ds.Test[i].Split = SplitTest
	}
	return ds
}

func copyFeatures(src map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
