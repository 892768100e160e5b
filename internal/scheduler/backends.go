// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package scheduler

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/driftlab/feedcore/internal/pipeline"
)

// TrainingRequest carries a preprocessed dataset to the training backend.
type TrainingRequest struct {
	Algorithm    pipeline.AlgorithmType
	Dataset      *pipeline.Dataset
	BaseVersion  int32
	QualityScore float64
}

// TrainingResult is the training backend's report.
type TrainingResult struct {
	ModelVersion int32
	TrainLoss    float64
	Duration     time.Duration
}

// EvaluationResult is the evaluation backend's snapshot of model quality.
// EvaluationPassed gates deployment.
type EvaluationResult struct {
	EvaluationPassed bool
	Metrics          ModelPerformanceMetrics
}

// Trainer fits a model on a prepared dataset. Implementations may call out
// to an external training service; the scheduler wraps every call in a
// circuit breaker and a per-step timeout.
type Trainer interface {
	Train(ctx context.Context, req TrainingRequest) (*TrainingResult, error)
}

// Evaluator measures a trained model against the held-out test split.
type Evaluator interface {
	Evaluate(ctx context.Context, algorithm pipeline.AlgorithmType, version int32, test []pipeline.RetrainingDataPoint) (*EvaluationResult, error)
}

// Deployer promotes an evaluated model version to serving.
type Deployer interface {
	Deploy(ctx context.Context, algorithm pipeline.AlgorithmType, version int32) error
}

// MockTrainer is a deterministic stand-in for a real training backend.
// Loss is derived from the dataset contents so repeated runs over the same
// data report the same numbers.
type MockTrainer struct {
	mu       sync.Mutex
	versions map[pipeline.AlgorithmType]int32

	// FailNext forces the next Train call to fail. Used by tests to
	// exercise retry and circuit breaker behavior.
	FailNext int
}

// NewMockTrainer returns a MockTrainer starting all algorithms at version 1.
func NewMockTrainer() *MockTrainer {
	return &MockTrainer{versions: make(map[pipeline.AlgorithmType]int32)}
}

// Train implements Trainer.
func (m *MockTrainer) Train(ctx context.Context, req TrainingRequest) (*TrainingResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailNext > 0 {
		m.FailNext--
		return nil, fmt.Errorf("training backend unavailable for %s", req.Algorithm)
	}

	next := m.versions[req.Algorithm] + 1
	if req.BaseVersion >= next {
		next = req.BaseVersion + 1
	}
	m.versions[req.Algorithm] = next

	rng := rand.New(rand.NewSource(datasetSeed(req))) //nolint:gosec // simulated metric, not security-sensitive
	return &TrainingResult{
		ModelVersion: next,
		TrainLoss:    0.05 + rng.Float64()*0.2,
		Duration:     time.Duration(req.Dataset.Size()) * time.Millisecond,
	}, nil
}

// MockEvaluator derives evaluation metrics deterministically from the test
// split and the model version. Passing is decided against AccuracyThreshold.
type MockEvaluator struct {
	// AccuracyThreshold is the minimum accuracy to pass evaluation.
	AccuracyThreshold float64

	// ForceAccuracy, when non-nil, overrides the derived accuracy.
	// Used by tests to drive the deployment gate.
	ForceAccuracy *float64

	now func() time.Time
}

// NewMockEvaluator returns a MockEvaluator with the given pass threshold.
func NewMockEvaluator(threshold float64) *MockEvaluator {
	return &MockEvaluator{AccuracyThreshold: threshold, now: time.Now}
}

// Evaluate implements Evaluator.
func (m *MockEvaluator) Evaluate(ctx context.Context, algorithm pipeline.AlgorithmType, version int32, test []pipeline.RetrainingDataPoint) (*EvaluationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%d|%d", algorithm, version, len(test))
	rng := rand.New(rand.NewSource(int64(h.Sum64()))) //nolint:gosec // simulated metric, not security-sensitive

	accuracy := 0.72 + rng.Float64()*0.2
	if m.ForceAccuracy != nil {
		accuracy = *m.ForceAccuracy
	}
	quality := avgTestQuality(test)

	metrics := ModelPerformanceMetrics{
		Algorithm:      algorithm,
		ModelVersion:   version,
		Accuracy:       accuracy,
		Precision:      clampUnit(accuracy - 0.02 + rng.Float64()*0.04),
		Recall:         clampUnit(accuracy - 0.05 + rng.Float64()*0.06),
		NDCG:           clampUnit(accuracy + 0.03),
		MAP:            clampUnit(accuracy - 0.08),
		CTR:            0.04 + rng.Float64()*0.04,
		EngagementRate: 0.3 + rng.Float64()*0.3,
		DriftScore:     rng.Float64() * 0.2,
		DataQuality:    quality,
		EvaluatedAt:    m.now().UTC(),
	}
	metrics.F1Score = f1(metrics.Precision, metrics.Recall)

	return &EvaluationResult{
		EvaluationPassed: accuracy >= m.AccuracyThreshold,
		Metrics:          metrics,
	}, nil
}

// MockDeployer records deployments in memory.
type MockDeployer struct {
	mu       sync.Mutex
	deployed map[pipeline.AlgorithmType]int32

	// FailNext forces the next Deploy call to fail.
	FailNext int
}

// NewMockDeployer returns an empty MockDeployer.
func NewMockDeployer() *MockDeployer {
	return &MockDeployer{deployed: make(map[pipeline.AlgorithmType]int32)}
}

// Deploy implements Deployer.
func (m *MockDeployer) Deploy(_ context.Context, algorithm pipeline.AlgorithmType, version int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailNext > 0 {
		m.FailNext--
		return fmt.Errorf("deploy %s v%d: rollout rejected", algorithm, version)
	}
	m.deployed[algorithm] = version
	return nil
}

// DeployedVersion returns the last deployed version for an algorithm, or 0.
func (m *MockDeployer) DeployedVersion(algorithm pipeline.AlgorithmType) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deployed[algorithm]
}

func datasetSeed(req TrainingRequest) int64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%d|%d", req.Algorithm, req.BaseVersion, req.Dataset.Size())
	return int64(h.Sum64())
}

func avgTestQuality(test []pipeline.RetrainingDataPoint) float64 {
	if len(test) == 0 {
		return 0
	}
	var sum float64
	for i := range test {
		sum += test[i].QualityScore
	}
	return sum / float64(len(test))
}

func f1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
