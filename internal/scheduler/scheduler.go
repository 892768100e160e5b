// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driftlab/feedcore/internal/metrics"
	"github.com/driftlab/feedcore/internal/pipeline"
	"github.com/driftlab/feedcore/internal/store"
)

// historyCap bounds the per-algorithm performance history.
const historyCap = 100

// ErrWorkflowActive is returned when a workflow is requested while another
// one is already running. The scheduler runs at most one workflow at a time.
var ErrWorkflowActive = errors.New("scheduler: a workflow is already active")

// ErrUnknownTrigger is returned when a trigger ID does not exist.
var ErrUnknownTrigger = errors.New("scheduler: unknown trigger")

// ErrUnknownAlgorithm is returned for algorithm types without a schedule.
var ErrUnknownAlgorithm = errors.New("scheduler: unknown algorithm")

// DataSource supplies aggregated retraining data. Satisfied by
// *pipeline.Pipeline.
type DataSource interface {
	Aggregate(ctx context.Context, window time.Duration) ([]pipeline.RetrainingDataBatch, error)
	BufferedPoints() int
}

// ModelSink receives the deployed model version. Satisfied by
// *rank.Controller.
type ModelSink interface {
	SetModelVersion(version int32)
}

// Config bounds scheduler behavior. Loaded from the application config.
type Config struct {
	// AggregationWindow is how far back the collect step reaches.
	AggregationWindow time.Duration
	// MinDataPoints aborts the collect step below this count.
	MinDataPoints int
	// QualityThreshold is the default quality-trigger threshold and the
	// quality floor applied to collected batches.
	QualityThreshold float64
	// PerformanceThreshold is the default performance-drop trigger
	// threshold.
	PerformanceThreshold float64
	// AccuracyThreshold gates deployment at the evaluate step.
	AccuracyThreshold float64
	// StepTimeout bounds each workflow step attempt.
	StepTimeout time.Duration
	// StepRetries is how many times a failed step attempt is retried.
	StepRetries int
	// ScheduleInterval is the default per-algorithm retraining cadence.
	ScheduleInterval time.Duration
	// VolumeThreshold is the default volume-trigger threshold.
	VolumeThreshold int
	// Preprocess configures the preprocess step.
	Preprocess pipeline.PreprocessConfig
	// Breaker configures the circuit breaker around the Trainer.
	Breaker BreakerConfig
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		AggregationWindow:    24 * time.Hour,
		MinDataPoints:        100,
		QualityThreshold:     0.6,
		PerformanceThreshold: 0.05,
		AccuracyThreshold:    0.7,
		StepTimeout:          5 * time.Minute,
		StepRetries:          2,
		ScheduleInterval:     24 * time.Hour,
		VolumeThreshold:      1000,
		Preprocess:           pipeline.DefaultPreprocessConfig(),
		Breaker:              DefaultBreakerConfig(),
	}
}

// Store keys. Each piece of state persists independently so one corrupt key
// never blocks loading the others.
const (
	schedulesKey = "scheduler/schedules"
	triggersKey  = "scheduler/triggers"
	historyKey   = "scheduler/history/" // + algorithm type
)

// Scheduler owns retraining schedules, triggers, performance history, and
// workflow execution. All exported methods are safe for concurrent use.
type Scheduler struct {
	cfg       Config
	data      DataSource
	trainer   *guardedTrainer
	evaluator Evaluator
	deployer  Deployer
	sink      ModelSink
	st        *store.Store
	logger    zerolog.Logger
	clock     Clock

	exporter   *pipeline.Exporter
	exportOpts pipeline.ExportOptions

	mu        sync.Mutex
	schedules map[pipeline.AlgorithmType]*Schedule
	triggers  map[string]*Trigger
	history   map[pipeline.AlgorithmType][]ModelPerformanceMetrics
	active    *Workflow
	lastRun   *Workflow
}

// New builds a Scheduler, loading persisted state from the store. A nil sink
// is allowed; deployments then only reach the Deployer.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(cfg Config, data DataSource, trainer Trainer, evaluator Evaluator, deployer Deployer,
	sink ModelSink, st *store.Store, clock Clock, logger zerolog.Logger) *Scheduler {
	if cfg.StepTimeout == 0 {
		cfg.StepTimeout = 5 * time.Minute
	}
	if cfg.AggregationWindow == 0 {
		cfg.AggregationWindow = 24 * time.Hour
	}
	if cfg.ScheduleInterval == 0 {
		cfg.ScheduleInterval = 24 * time.Hour
	}
	if clock == nil {
		clock = SystemClock{}
	}

	s := &Scheduler{
		cfg:       cfg,
		data:      data,
		trainer:   newGuardedTrainer(trainer, cfg.Breaker, logger),
		evaluator: evaluator,
		deployer:  deployer,
		sink:      sink,
		st:        st,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		clock:     clock,
		schedules: make(map[pipeline.AlgorithmType]*Schedule),
		triggers:  make(map[string]*Trigger),
		history:   make(map[pipeline.AlgorithmType][]ModelPerformanceMetrics),
	}
	s.loadState(context.Background())
	s.ensureDefaults()
	return s
}

// AttachExporter makes the preprocess step persist each training split as
// an export artifact with the given options. Export failures are logged
// and never fail the workflow.
func (s *Scheduler) AttachExporter(exporter *pipeline.Exporter, opts pipeline.ExportOptions) {
	s.exporter = exporter
	s.exportOpts = opts
}

// ensureDefaults creates a schedule and the standard trigger set for every
// known algorithm that has none persisted.
func (s *Scheduler) ensureDefaults() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	for _, alg := range pipeline.KnownAlgorithmTypes() {
		if _, ok := s.schedules[alg]; !ok {
			s.schedules[alg] = &Schedule{
				Algorithm:            alg,
				Frequency:            FrequencyDaily,
				Interval:             s.cfg.ScheduleInterval,
				NextRun:              now.Add(s.cfg.ScheduleInterval),
				MinDataPoints:        s.cfg.MinDataPoints,
				QualityThreshold:     s.cfg.QualityThreshold,
				PerformanceThreshold: s.cfg.PerformanceThreshold,
				Enabled:              true,
			}
		}
		s.ensureTriggerLocked(alg, TriggerPerformance, s.cfg.PerformanceThreshold, true)
		s.ensureTriggerLocked(alg, TriggerDataDrift, 0.3, true)
		s.ensureTriggerLocked(alg, TriggerVolume, float64(s.cfg.VolumeThreshold), false)
		s.ensureTriggerLocked(alg, TriggerQuality, s.cfg.QualityThreshold, false)
	}
}

func (s *Scheduler) ensureTriggerLocked(alg pipeline.AlgorithmType, typ TriggerType, threshold float64, auto bool) {
	id := fmt.Sprintf("%s:%s", alg, typ)
	if _, ok := s.triggers[id]; ok {
		return
	}
	s.triggers[id] = &Trigger{
		ID:             id,
		Type:           typ,
		Algorithm:      alg,
		Condition:      conditionFor(typ),
		ThresholdValue: threshold,
		AutoExecute:    auto,
	}
}

func conditionFor(typ TriggerType) string {
	switch typ {
	case TriggerPerformance:
		return "accuracy drop since previous evaluation exceeds threshold"
	case TriggerDataDrift:
		return "drift score exceeds threshold"
	case TriggerVolume:
		return "buffered data points reach threshold"
	case TriggerQuality:
		return "data quality falls below threshold"
	default:
		return ""
	}
}

// CheckAndRunScheduledJobs runs the first due schedule, oldest NextRun
// first. It is a no-op while a workflow is active: the scheduler never
// overlaps retraining runs.
func (s *Scheduler) CheckAndRunScheduledJobs(ctx context.Context) {
	now := s.clock.Now().UTC()

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		s.logger.Debug().Msg("Workflow active, skipping schedule check")
		return
	}
	var due *Schedule
	for _, sched := range s.schedules {
		if !sched.Due(now) {
			continue
		}
		if due == nil || sched.NextRun.Before(due.NextRun) {
			due = sched
		}
	}
	if due == nil {
		s.mu.Unlock()
		return
	}
	due.LastRun = now
	due.NextRun = now.Add(due.Interval)
	alg := due.Algorithm
	s.mu.Unlock()

	s.persistSchedules(ctx)

	if _, err := s.ExecuteWorkflow(ctx, alg, "scheduled"); err != nil {
		s.logger.Error().Err(err).
			Str("algorithm", string(alg)).
			Msg("Scheduled retraining failed")
	}
}

// EvaluateTriggers polls every unlatched trigger against live data. A
// trigger that crosses its threshold latches exactly once; it stays latched
// until ResetTrigger. Latched triggers with AutoExecute start a workflow
// when none is active.
func (s *Scheduler) EvaluateTriggers(ctx context.Context) {
	s.mu.Lock()
	var fired []*Trigger
	for _, trg := range s.triggers {
		if trg.Triggered {
			continue
		}
		value, crossed := s.measureLocked(trg)
		trg.CurrentValue = value
		if !crossed {
			continue
		}
		trg.Triggered = true
		trg.TriggeredAt = s.clock.Now().UTC()
		fired = append(fired, trg)
		metrics.TriggersFired.WithLabelValues(string(trg.Type)).Inc()
		s.logger.Info().
			Str("trigger", trg.ID).
			Float64("value", value).
			Float64("threshold", trg.ThresholdValue).
			Msg("Retraining trigger latched")
	}
	s.mu.Unlock()

	if len(fired) > 0 {
		s.persistTriggers(ctx)
	}

	for _, trg := range fired {
		if !trg.AutoExecute {
			continue
		}
		if _, err := s.ExecuteWorkflow(ctx, trg.Algorithm, "trigger:"+string(trg.Type)); err != nil {
			if errors.Is(err, ErrWorkflowActive) {
				// The trigger stays latched; the operator or the next
				// poll decides what to do once the active run finishes.
				s.logger.Debug().Str("trigger", trg.ID).Msg("Workflow active, trigger execution deferred")
				continue
			}
			s.logger.Error().Err(err).Str("trigger", trg.ID).Msg("Triggered retraining failed")
		}
	}
}

// measureLocked evaluates one trigger's condition against live data and
// reports the measured value and whether the threshold is crossed.
func (s *Scheduler) measureLocked(trg *Trigger) (float64, bool) {
	hist := s.history[trg.Algorithm]

	switch trg.Type {
	case TriggerPerformance:
		if len(hist) < 2 {
			return 0, false
		}
		drop := hist[len(hist)-2].Accuracy - hist[len(hist)-1].Accuracy
		return drop, drop > trg.ThresholdValue
	case TriggerDataDrift:
		if len(hist) == 0 {
			return 0, false
		}
		drift := hist[len(hist)-1].DriftScore
		return drift, drift > trg.ThresholdValue
	case TriggerVolume:
		buffered := float64(s.data.BufferedPoints())
		return buffered, buffered >= trg.ThresholdValue
	case TriggerQuality:
		if len(hist) == 0 {
			return 0, false
		}
		quality := hist[len(hist)-1].DataQuality
		return quality, quality < trg.ThresholdValue
	default:
		return 0, false
	}
}

// ResetTrigger clears a latched trigger so it may fire again.
func (s *Scheduler) ResetTrigger(ctx context.Context, id string) error {
	s.mu.Lock()
	trg, ok := s.triggers[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTrigger, id)
	}
	trg.Triggered = false
	trg.TriggeredAt = time.Time{}
	trg.CurrentValue = 0
	s.mu.Unlock()

	s.persistTriggers(ctx)
	s.logger.Info().Str("trigger", id).Msg("Trigger reset")
	return nil
}

// MonitorPerformance re-evaluates every algorithm against the latest test
// data and appends the snapshot to history. Runs on a timer so trigger
// comparisons always have fresh history, independent of workflow activity.
func (s *Scheduler) MonitorPerformance(ctx context.Context) {
	for _, alg := range pipeline.KnownAlgorithmTypes() {
		version := s.latestVersion(alg)
		result, err := s.evaluator.Evaluate(ctx, alg, version, nil)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("algorithm", string(alg)).
				Msg("Performance monitor evaluation failed")
			continue
		}
		s.appendHistory(ctx, result.Metrics)
	}
}

// appendHistory appends one snapshot, enforces the cap, and persists that
// algorithm's history under its own key.
func (s *Scheduler) appendHistory(ctx context.Context, m ModelPerformanceMetrics) {
	s.mu.Lock()
	hist := append(s.history[m.Algorithm], m)
	if len(hist) > historyCap {
		hist = hist[len(hist)-historyCap:]
	}
	s.history[m.Algorithm] = hist
	s.mu.Unlock()

	s.persistHistory(ctx, m.Algorithm)
}

// latestVersion returns the most recently evaluated model version for an
// algorithm, defaulting to 1.
func (s *Scheduler) latestVersion(alg pipeline.AlgorithmType) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist := s.history[alg]
	if len(hist) == 0 {
		return 1
	}
	return hist[len(hist)-1].ModelVersion
}

// Schedules returns a snapshot of all schedules.
func (s *Scheduler) Schedules() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Schedule, 0, len(s.schedules))
	for _, alg := range pipeline.KnownAlgorithmTypes() {
		if sched, ok := s.schedules[alg]; ok {
			out = append(out, *sched)
		}
	}
	return out
}

// UpdateSchedule replaces the schedule for its algorithm.
func (s *Scheduler) UpdateSchedule(ctx context.Context, sched Schedule) error {
	if !pipeline.ValidAlgorithmType(sched.Algorithm) {
		return fmt.Errorf("%w: %s", ErrUnknownAlgorithm, sched.Algorithm)
	}
	s.mu.Lock()
	copied := sched
	s.schedules[sched.Algorithm] = &copied
	s.mu.Unlock()

	s.persistSchedules(ctx)
	return nil
}

// ActiveTriggers returns all latched triggers.
func (s *Scheduler) ActiveTriggers() []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Trigger
	for _, trg := range s.triggers {
		if trg.Triggered {
			out = append(out, *trg)
		}
	}
	return out
}

// Triggers returns a snapshot of every trigger, latched or not.
func (s *Scheduler) Triggers() []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Trigger, 0, len(s.triggers))
	for _, trg := range s.triggers {
		out = append(out, *trg)
	}
	return out
}

// PerformanceHistory returns the recorded snapshots for one algorithm,
// oldest first.
func (s *Scheduler) PerformanceHistory(alg pipeline.AlgorithmType) ([]ModelPerformanceMetrics, error) {
	if !pipeline.ValidAlgorithmType(alg) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, alg)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ModelPerformanceMetrics, len(s.history[alg]))
	copy(out, s.history[alg])
	return out, nil
}

// Status is the scheduler's read-only state snapshot.
type Status struct {
	ActiveWorkflow *Workflow `json:"activeWorkflow,omitempty"`
	LastWorkflow   *Workflow `json:"lastWorkflow,omitempty"`
	LatchedCount   int       `json:"latchedCount"`
	BreakerState   string    `json:"breakerState"`
}

// CurrentStatus returns a point-in-time snapshot without side effects.
func (s *Scheduler) CurrentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{BreakerState: s.trainer.State()}
	if s.active != nil {
		w := *s.active
		st.ActiveWorkflow = &w
	}
	if s.lastRun != nil {
		w := *s.lastRun
		st.LastWorkflow = &w
	}
	for _, trg := range s.triggers {
		if trg.Triggered {
			st.LatchedCount++
		}
	}
	return st
}

// newWorkflowID is a hook for tests that need stable IDs.
var newWorkflowID = func() string { return uuid.New().String() }
