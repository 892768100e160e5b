// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driftlab/feedcore/internal/pipeline"
	"github.com/driftlab/feedcore/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(store.Options{InMemory: true}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// fakeClock drives the scheduler and its services deterministically.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	ticks chan time.Time
}

func newFakeClock(at time.Time) *fakeClock {
	return &fakeClock{now: at, ticks: make(chan time.Time, 1)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	c.ticks <- now
}

func (c *fakeClock) NewTicker(time.Duration) Ticker { return fakeTicker{c: c} }

type fakeTicker struct{ c *fakeClock }

func (t fakeTicker) C() <-chan time.Time { return t.c.ticks }
func (t fakeTicker) Stop()               {}

// fakeData is an in-memory DataSource.
type fakeData struct {
	mu       sync.Mutex
	batches  []pipeline.RetrainingDataBatch
	buffered int
	err      error
}

func (f *fakeData) Aggregate(_ context.Context, _ time.Duration) ([]pipeline.RetrainingDataBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]pipeline.RetrainingDataBatch, len(f.batches))
	copy(out, f.batches)
	return out, nil
}

func (f *fakeData) BufferedPoints() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffered
}

// captureSink records the deployed model version.
type captureSink struct {
	mu      sync.Mutex
	version int32
}

func (c *captureSink) SetModelVersion(v int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version = v
}

func (c *captureSink) Version() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

func trainingPoint(engType string, strength float64, at time.Time) pipeline.RetrainingDataPoint {
	return pipeline.RetrainingDataPoint{
		ID:            uuid.New().String(),
		AlgorithmType: pipeline.AlgorithmHybrid,
		Features: map[string]float64{
			"author_affinity":  0.5,
			"engagement_score": 0.4,
			"content_match":    0.3,
			"recency_decay":    0.8,
			"social_proof":     0.1,
		},
		Categoricals:  map[string]string{"content_type": "clip"},
		PredictedRank: 0.6,
		Engagement: pipeline.EngagementOutcome{
			Type:            engType,
			Strength:        strength,
			WatchPercentage: 0.7,
			DwellTime:       5 * time.Second,
		},
		ModelVersion: 1,
		QualityScore: 0.8,
		AnonymizedAt: at,
	}
}

// trainingBatch seals n view points and n skip points into one batch.
func trainingBatch(n int, at time.Time) pipeline.RetrainingDataBatch {
	points := make([]pipeline.RetrainingDataPoint, 0, 2*n)
	for i := 0; i < n; i++ {
		points = append(points, trainingPoint("view", 0.5, at.Add(time.Duration(i)*time.Second)))
		points = append(points, trainingPoint("skip", 0.2, at.Add(time.Duration(i)*time.Second+time.Millisecond)))
	}
	return pipeline.NewBatch(pipeline.AlgorithmHybrid, points, at, at.Add(time.Hour))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinDataPoints = 10
	cfg.VolumeThreshold = 5
	cfg.StepTimeout = 2 * time.Second
	cfg.StepRetries = 1
	cfg.Preprocess.MinClassSize = 2
	return cfg
}

type testEnv struct {
	sched     *Scheduler
	data      *fakeData
	trainer   *MockTrainer
	evaluator *MockEvaluator
	deployer  *MockDeployer
	sink      *captureSink
	clock     *fakeClock
	st        *store.Store
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	env := &testEnv{
		data:      &fakeData{},
		trainer:   NewMockTrainer(),
		evaluator: NewMockEvaluator(cfg.AccuracyThreshold),
		deployer:  NewMockDeployer(),
		sink:      &captureSink{},
		clock:     newFakeClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)),
		st:        testStore(t),
	}
	env.sched = New(cfg, env.data, env.trainer, env.evaluator, env.deployer,
		env.sink, env.st, env.clock, zerolog.Nop())
	return env
}

func seedGoodData(env *testEnv) {
	env.data.mu.Lock()
	env.data.batches = []pipeline.RetrainingDataBatch{trainingBatch(20, env.clock.Now().Add(-time.Hour))}
	env.data.mu.Unlock()
}

func TestDefaultsCreatedForAllAlgorithms(t *testing.T) {
	env := newTestEnv(t, testConfig())

	schedules := env.sched.Schedules()
	if len(schedules) != len(pipeline.KnownAlgorithmTypes()) {
		t.Fatalf("schedules = %d, want %d", len(schedules), len(pipeline.KnownAlgorithmTypes()))
	}
	for _, sched := range schedules {
		if !sched.Enabled {
			t.Errorf("schedule %s not enabled by default", sched.Algorithm)
		}
		if sched.MinDataPoints != 10 {
			t.Errorf("schedule %s MinDataPoints = %d, want 10", sched.Algorithm, sched.MinDataPoints)
		}
	}

	// Four trigger types per algorithm.
	triggers := env.sched.Triggers()
	want := 4 * len(pipeline.KnownAlgorithmTypes())
	if len(triggers) != want {
		t.Fatalf("triggers = %d, want %d", len(triggers), want)
	}
	if n := len(env.sched.ActiveTriggers()); n != 0 {
		t.Fatalf("active triggers = %d, want 0", n)
	}
}

func TestPerformanceTriggerLatchesOnce(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	id := string(pipeline.AlgorithmHybrid) + ":" + string(TriggerPerformance)
	env.sched.mu.Lock()
	env.sched.triggers[id].AutoExecute = false
	env.sched.mu.Unlock()

	// Accuracy drops from 0.90 to 0.83: a 0.07 drop against a 0.05
	// threshold.
	env.sched.appendHistory(ctx, ModelPerformanceMetrics{
		Algorithm: pipeline.AlgorithmHybrid, ModelVersion: 1, Accuracy: 0.90,
		EvaluatedAt: env.clock.Now(),
	})
	env.sched.appendHistory(ctx, ModelPerformanceMetrics{
		Algorithm: pipeline.AlgorithmHybrid, ModelVersion: 1, Accuracy: 0.83,
		EvaluatedAt: env.clock.Now(),
	})

	env.sched.EvaluateTriggers(ctx)

	trg := findTrigger(t, env.sched, id)
	if !trg.Triggered {
		t.Fatal("performance trigger did not latch")
	}
	if trg.CurrentValue < 0.069 || trg.CurrentValue > 0.071 {
		t.Fatalf("CurrentValue = %v, want ~0.07", trg.CurrentValue)
	}
	latchedAt := trg.TriggeredAt

	// A second poll with an even larger drop must not re-fire the latch.
	env.sched.appendHistory(ctx, ModelPerformanceMetrics{
		Algorithm: pipeline.AlgorithmHybrid, ModelVersion: 1, Accuracy: 0.60,
		EvaluatedAt: env.clock.Now(),
	})
	env.clock.mu.Lock()
	env.clock.now = env.clock.now.Add(time.Minute)
	env.clock.mu.Unlock()
	env.sched.EvaluateTriggers(ctx)

	trg = findTrigger(t, env.sched, id)
	if !trg.TriggeredAt.Equal(latchedAt) {
		t.Fatal("latched trigger re-fired without a reset")
	}

	// After a reset the condition is evaluated again and re-latches.
	if err := env.sched.ResetTrigger(ctx, id); err != nil {
		t.Fatalf("ResetTrigger: %v", err)
	}
	env.sched.EvaluateTriggers(ctx)
	trg = findTrigger(t, env.sched, id)
	if !trg.Triggered {
		t.Fatal("trigger did not re-latch after reset")
	}
}

func TestVolumeTriggerAgainstBufferedPoints(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	env.data.mu.Lock()
	env.data.buffered = 4
	env.data.mu.Unlock()

	env.sched.EvaluateTriggers(ctx)
	if n := len(env.sched.ActiveTriggers()); n != 0 {
		t.Fatalf("active triggers below threshold = %d, want 0", n)
	}

	env.data.mu.Lock()
	env.data.buffered = 5
	env.data.mu.Unlock()

	env.sched.EvaluateTriggers(ctx)
	// One volume trigger per algorithm crosses at the same time.
	want := len(pipeline.KnownAlgorithmTypes())
	if n := len(env.sched.ActiveTriggers()); n != want {
		t.Fatalf("active triggers = %d, want %d", n, want)
	}
}

func TestResetUnknownTrigger(t *testing.T) {
	env := newTestEnv(t, testConfig())
	if err := env.sched.ResetTrigger(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown trigger ID")
	}
}

func TestScheduledJobRunsWhenDue(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	seedGoodData(env)
	forceAcc := 0.9
	env.evaluator.ForceAccuracy = &forceAcc

	// Only the hybrid schedule is due.
	env.sched.mu.Lock()
	for alg, sched := range env.sched.schedules {
		if alg == pipeline.AlgorithmHybrid {
			sched.NextRun = env.clock.Now().Add(-time.Minute)
		} else {
			sched.NextRun = env.clock.Now().Add(time.Hour)
		}
	}
	env.sched.mu.Unlock()

	env.sched.CheckAndRunScheduledJobs(ctx)

	if got := env.deployer.DeployedVersion(pipeline.AlgorithmHybrid); got == 0 {
		t.Fatal("scheduled run deployed nothing")
	}
	for _, sched := range env.sched.Schedules() {
		if sched.Algorithm != pipeline.AlgorithmHybrid {
			continue
		}
		if !sched.LastRun.Equal(env.clock.Now().UTC()) {
			t.Errorf("LastRun = %v, want %v", sched.LastRun, env.clock.Now().UTC())
		}
		if !sched.NextRun.After(env.clock.Now()) {
			t.Errorf("NextRun = %v not advanced", sched.NextRun)
		}
	}
}

func TestScheduleCheckSkipsWhileWorkflowActive(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	seedGoodData(env)

	gate := &gateTrainer{started: make(chan struct{}), release: make(chan struct{})}
	env.sched.trainer = newGuardedTrainer(gate, env.sched.cfg.Breaker, zerolog.Nop())

	env.sched.mu.Lock()
	for _, sched := range env.sched.schedules {
		sched.NextRun = env.clock.Now().Add(-time.Minute)
	}
	env.sched.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := env.sched.ExecuteWorkflow(ctx, pipeline.AlgorithmHybrid, "manual")
		done <- err
	}()
	<-gate.started

	// A second workflow is refused outright.
	if _, err := env.sched.ExecuteWorkflow(ctx, pipeline.AlgorithmContentBased, "manual"); err != ErrWorkflowActive {
		t.Fatalf("concurrent ExecuteWorkflow error = %v, want ErrWorkflowActive", err)
	}

	// The schedule check is a no-op: no schedule is consumed.
	env.sched.CheckAndRunScheduledJobs(ctx)
	for _, sched := range env.sched.Schedules() {
		if !sched.LastRun.IsZero() {
			t.Errorf("schedule %s ran while a workflow was active", sched.Algorithm)
		}
	}

	close(gate.release)
	if err := <-done; err != nil {
		t.Fatalf("gated workflow: %v", err)
	}
	if env.sched.CurrentStatus().ActiveWorkflow != nil {
		t.Fatal("active workflow not cleared after completion")
	}
}

func TestHistoryCappedAtHundred(t *testing.T) {
	env := newTestEnv(t, testConfig())
	ctx := context.Background()

	for i := 0; i < historyCap+5; i++ {
		env.sched.appendHistory(ctx, ModelPerformanceMetrics{
			Algorithm:    pipeline.AlgorithmContentBased,
			ModelVersion: int32(i + 1),
			Accuracy:     0.8,
			EvaluatedAt:  env.clock.Now(),
		})
	}

	hist, err := env.sched.PerformanceHistory(pipeline.AlgorithmContentBased)
	if err != nil {
		t.Fatalf("PerformanceHistory: %v", err)
	}
	if len(hist) != historyCap {
		t.Fatalf("history length = %d, want %d", len(hist), historyCap)
	}
	// Oldest entries were dropped.
	if hist[0].ModelVersion != 6 {
		t.Fatalf("oldest surviving version = %d, want 6", hist[0].ModelVersion)
	}
}

func TestMonitorPerformanceRefreshesAllAlgorithms(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.sched.MonitorPerformance(context.Background())

	for _, alg := range pipeline.KnownAlgorithmTypes() {
		hist, err := env.sched.PerformanceHistory(alg)
		if err != nil {
			t.Fatalf("PerformanceHistory(%s): %v", alg, err)
		}
		if len(hist) != 1 {
			t.Errorf("history for %s = %d entries, want 1", alg, len(hist))
		}
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	cfg := testConfig()
	env := newTestEnv(t, cfg)
	ctx := context.Background()

	id := string(pipeline.AlgorithmHybrid) + ":" + string(TriggerDataDrift)
	env.sched.mu.Lock()
	env.sched.triggers[id].AutoExecute = false
	env.sched.mu.Unlock()

	env.sched.appendHistory(ctx, ModelPerformanceMetrics{
		Algorithm: pipeline.AlgorithmHybrid, ModelVersion: 3, Accuracy: 0.8,
		DriftScore: 0.5, EvaluatedAt: env.clock.Now(),
	})
	env.sched.EvaluateTriggers(ctx)
	if !findTrigger(t, env.sched, id).Triggered {
		t.Fatal("drift trigger did not latch")
	}

	reloaded := New(cfg, env.data, NewMockTrainer(), env.evaluator, env.deployer,
		nil, env.st, env.clock, zerolog.Nop())

	if !findTrigger(t, reloaded, id).Triggered {
		t.Error("latched trigger lost across restart")
	}
	hist, err := reloaded.PerformanceHistory(pipeline.AlgorithmHybrid)
	if err != nil {
		t.Fatalf("PerformanceHistory: %v", err)
	}
	if len(hist) != 1 || hist[0].ModelVersion != 3 {
		t.Errorf("history not restored, got %+v", hist)
	}
}

func TestCorruptScheduleKeyDoesNotBlockTriggers(t *testing.T) {
	cfg := testConfig()
	st := testStore(t)
	ctx := context.Background()

	// A schedules value of the wrong shape must not prevent the trigger
	// key from loading.
	if err := st.Put(ctx, schedulesKey, "not a schedule list"); err != nil {
		t.Fatalf("seed corrupt key: %v", err)
	}
	latched := []Trigger{{
		ID:        "hybrid:volume",
		Type:      TriggerVolume,
		Algorithm: pipeline.AlgorithmHybrid,
		Triggered: true,
	}}
	if err := st.Put(ctx, triggersKey, latched); err != nil {
		t.Fatalf("seed triggers: %v", err)
	}

	sched := New(cfg, &fakeData{}, NewMockTrainer(), NewMockEvaluator(cfg.AccuracyThreshold),
		NewMockDeployer(), nil, st, newFakeClock(time.Now()), zerolog.Nop())

	if len(sched.Schedules()) != len(pipeline.KnownAlgorithmTypes()) {
		t.Error("default schedules not rebuilt after corrupt key")
	}
	if !findTrigger(t, sched, "hybrid:volume").Triggered {
		t.Error("persisted trigger lost because of an unrelated corrupt key")
	}
}

func findTrigger(t *testing.T, s *Scheduler, id string) Trigger {
	t.Helper()
	for _, trg := range s.Triggers() {
		if trg.ID == id {
			return trg
		}
	}
	t.Fatalf("trigger %s not found", id)
	return Trigger{}
}

// gateTrainer blocks Train until released so tests can observe an active
// workflow.
type gateTrainer struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gateTrainer) Train(ctx context.Context, req TrainingRequest) (*TrainingResult, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return &TrainingResult{ModelVersion: req.BaseVersion + 1, TrainLoss: 0.1}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
