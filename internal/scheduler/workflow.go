// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/driftlab/feedcore/internal/metrics"
	"github.com/driftlab/feedcore/internal/pipeline"
)

// ErrEvaluationFailed blocks deployment of a model that did not pass
// evaluation.
var ErrEvaluationFailed = errors.New("model evaluation failed")

// ErrInsufficientData aborts the collect step below MinDataPoints.
var ErrInsufficientData = errors.New("insufficient data for retraining")

// runState carries typed intermediate artifacts between workflow steps.
type runState struct {
	points     []pipeline.RetrainingDataPoint
	quality    float64
	dataset    *pipeline.Dataset
	training   *TrainingResult
	evaluation *EvaluationResult
}

// stepFunc executes one workflow step and returns its typed output summary.
type stepFunc func(ctx context.Context, alg pipeline.AlgorithmType, state *runState) (any, error)

// newWorkflow builds the seven-step retraining workflow. Dependencies are
// strictly linear; monitor is the only optional step.
func (s *Scheduler) newWorkflow(alg pipeline.AlgorithmType, reason string) *Workflow {
	step := func(name, dep string, required bool) WorkflowStep {
		ws := WorkflowStep{
			Name:     name,
			Required: required,
			Timeout:  s.cfg.StepTimeout,
			Retries:  s.cfg.StepRetries,
		}
		if dep != "" {
			ws.Dependencies = []string{dep}
		}
		return ws
	}

	return &Workflow{
		ID:        newWorkflowID(),
		Algorithm: alg,
		Reason:    reason,
		Status:    WorkflowPending,
		CreatedAt: s.clock.Now().UTC(),
		Steps: []WorkflowStep{
			step(StepCollect, "", true),
			step(StepValidate, StepCollect, true),
			step(StepPreprocess, StepValidate, true),
			step(StepTrain, StepPreprocess, true),
			step(StepEvaluate, StepTrain, true),
			step(StepDeploy, StepEvaluate, true),
			step(StepMonitor, StepDeploy, false),
		},
	}
}

// ExecuteWorkflow runs a full retraining workflow for one algorithm. At
// most one workflow runs at a time across the scheduler; a second request
// while one is active returns ErrWorkflowActive.
//
// Steps run strictly in declared order. A step runs only when all of its
// declared dependencies completed; a required step failing (or having unmet
// dependencies) fails the whole workflow, an optional step is skipped or
// marked failed without aborting.
func (s *Scheduler) ExecuteWorkflow(ctx context.Context, alg pipeline.AlgorithmType, reason string) (*Workflow, error) {
	if !pipeline.ValidAlgorithmType(alg) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, alg)
	}

	wf := s.newWorkflow(alg, reason)

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return nil, ErrWorkflowActive
	}
	wf.Status = WorkflowRunning
	wf.StartedAt = s.clock.Now().UTC()
	s.active = wf
	s.mu.Unlock()

	s.logger.Info().
		Str("workflow_id", wf.ID).
		Str("algorithm", string(alg)).
		Str("reason", reason).
		Msg("Starting retraining workflow")

	err := s.runSteps(ctx, wf)

	s.mu.Lock()
	wf.CompletedAt = s.clock.Now().UTC()
	if err != nil {
		wf.Status = WorkflowFailed
		wf.Error = err.Error()
	} else {
		wf.Status = WorkflowCompleted
	}
	s.active = nil
	s.lastRun = wf
	s.mu.Unlock()

	metrics.WorkflowsExecuted.WithLabelValues(string(alg), string(wf.Status)).Inc()
	metrics.WorkflowDuration.WithLabelValues(string(alg)).
		Observe(wf.CompletedAt.Sub(wf.StartedAt).Seconds())

	if err != nil {
		s.logger.Error().Err(err).
			Str("workflow_id", wf.ID).
			Str("algorithm", string(alg)).
			Msg("Retraining workflow failed")
		return wf, fmt.Errorf("workflow %s: %w", wf.ID, err)
	}
	s.logger.Info().
		Str("workflow_id", wf.ID).
		Str("algorithm", string(alg)).
		Msg("Retraining workflow completed")
	return wf, nil
}

func (s *Scheduler) runSteps(ctx context.Context, wf *Workflow) error {
	funcs := map[string]stepFunc{
		StepCollect:    s.stepCollect,
		StepValidate:   s.stepValidate,
		StepPreprocess: s.stepPreprocess,
		StepTrain:      s.stepTrain,
		StepEvaluate:   s.stepEvaluate,
		StepDeploy:     s.stepDeploy,
		StepMonitor:    s.stepMonitor,
	}

	state := &runState{}
	for i := range wf.Steps {
		step := wf.Steps[i]
		if unmet := s.unmetDependency(wf, step); unmet != "" {
			if step.Required {
				res := StepResult{Name: step.Name, Status: StepFailed,
					Error: fmt.Sprintf("dependency %s did not complete", unmet)}
				wf.Results = append(wf.Results, res)
				return fmt.Errorf("step %s: dependency %s did not complete", step.Name, unmet)
			}
			wf.Results = append(wf.Results, StepResult{Name: step.Name, Status: StepSkipped})
			continue
		}

		res := s.runStep(ctx, wf.Algorithm, step, funcs[step.Name], state)
		wf.Results = append(wf.Results, res)

		if res.Status == StepFailed {
			metrics.WorkflowStepFailures.WithLabelValues(step.Name).Inc()
			if step.Required {
				return fmt.Errorf("step %s: %s", step.Name, res.Error)
			}
			s.logger.Warn().
				Str("workflow_id", wf.ID).
				Str("step", step.Name).
				Str("error", res.Error).
				Msg("Optional step failed, continuing")
		}
	}
	return nil
}

// unmetDependency returns the first dependency that has not completed, or
// "" when the step may run.
func (s *Scheduler) unmetDependency(wf *Workflow, step WorkflowStep) string {
	for _, dep := range step.Dependencies {
		res, ok := wf.resultFor(dep)
		if !ok || res.Status != StepCompleted {
			return dep
		}
	}
	return ""
}

// runStep executes one step with its timeout and retry budget. A timed-out
// attempt counts as a failure and consumes a retry.
func (s *Scheduler) runStep(ctx context.Context, alg pipeline.AlgorithmType, step WorkflowStep, fn stepFunc, state *runState) StepResult {
	res := StepResult{
		Name:      step.Name,
		Status:    StepRunning,
		StartedAt: s.clock.Now().UTC(),
	}

	var lastErr error
	for attempt := 0; attempt <= step.Retries; attempt++ {
		res.Attempts = attempt + 1

		stepCtx, cancel := context.WithTimeout(ctx, step.Timeout)
		output, err := fn(stepCtx, alg, state)
		cancel()

		if err == nil {
			res.Status = StepCompleted
			res.Output = output
			res.CompletedAt = s.clock.Now().UTC()
			return res
		}
		lastErr = err

		// Evaluation-gate and data-volume failures are deterministic;
		// retrying cannot change the outcome.
		if errors.Is(err, ErrEvaluationFailed) || errors.Is(err, ErrInsufficientData) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < step.Retries {
			s.logger.Warn().Err(err).
				Str("step", step.Name).
				Int("attempt", attempt+1).
				Msg("Step attempt failed, retrying")
		}
	}

	res.Status = StepFailed
	res.Error = lastErr.Error()
	res.CompletedAt = s.clock.Now().UTC()
	return res
}

func (s *Scheduler) stepCollect(ctx context.Context, alg pipeline.AlgorithmType, state *runState) (any, error) {
	batches, err := s.data.Aggregate(ctx, s.cfg.AggregationWindow)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}

	var (
		points  []pipeline.RetrainingDataPoint
		quality float64
		kept    int
	)
	for i := range batches {
		b := &batches[i]
		if b.AlgorithmType != alg {
			continue
		}
		if !b.VerifyIntegrity() {
			s.logger.Warn().
				Str("batch_id", b.BatchID).
				Msg("Dropping batch with integrity mismatch")
			continue
		}
		points = append(points, b.DataPoints...)
		quality += b.QualityScore
		kept++
	}
	if kept > 0 {
		quality /= float64(kept)
	}

	min := s.minDataPoints(alg)
	if len(points) < min {
		return nil, fmt.Errorf("%w: have %d points, need %d", ErrInsufficientData, len(points), min)
	}

	state.points = points
	state.quality = quality
	return CollectOutput{Batches: kept, Points: len(points), Quality: quality}, nil
}

func (s *Scheduler) stepValidate(_ context.Context, alg pipeline.AlgorithmType, state *runState) (any, error) {
	validator := pipeline.NewValidator(s.qualityThreshold(alg), s.logger)
	clean, drops := validator.ValidateAndClean(state.points)

	min := s.minDataPoints(alg)
	if len(clean) < min {
		return nil, fmt.Errorf("%w: %d points survived validation, need %d", ErrInsufficientData, len(clean), min)
	}

	state.points = clean
	return ValidateOutput{Accepted: len(clean), Dropped: drops.Total()}, nil
}

func (s *Scheduler) stepPreprocess(ctx context.Context, alg pipeline.AlgorithmType, state *runState) (any, error) {
	pre := pipeline.NewPreprocessor(s.cfg.Preprocess, s.logger)
	ds, err := pre.Preprocess(state.points)
	if err != nil {
		return nil, err
	}

	state.dataset = ds
	out := PreprocessOutput{
		Train:            len(ds.Train),
		Validation:       len(ds.Validation),
		Test:             len(ds.Test),
		OutliersRemoved:  ds.OutliersRemoved,
		SelectedFeatures: len(ds.SelectedFeatures),
	}

	if s.exporter != nil {
		result, expErr := s.exporter.Export(ctx, ds.Train, s.exportOpts)
		if expErr != nil {
			s.logger.Warn().Err(expErr).
				Str("algorithm", string(alg)).
				Msg("training split export failed")
		} else {
			out.ExportID = result.ExportID
			out.ExportKey = result.Key
		}
	}
	return out, nil
}

func (s *Scheduler) stepTrain(ctx context.Context, alg pipeline.AlgorithmType, state *runState) (any, error) {
	result, err := s.trainer.Train(ctx, TrainingRequest{
		Algorithm:    alg,
		Dataset:      state.dataset,
		BaseVersion:  s.latestVersion(alg),
		QualityScore: state.quality,
	})
	if err != nil {
		return nil, err
	}

	state.training = result
	return TrainOutput{
		ModelVersion: result.ModelVersion,
		TrainLoss:    result.TrainLoss,
		Duration:     result.Duration,
	}, nil
}

func (s *Scheduler) stepEvaluate(ctx context.Context, alg pipeline.AlgorithmType, state *runState) (any, error) {
	result, err := s.evaluator.Evaluate(ctx, alg, state.training.ModelVersion, state.dataset.Test)
	if err != nil {
		return nil, err
	}

	state.evaluation = result
	return EvaluateOutput{
		EvaluationPassed: result.EvaluationPassed,
		Accuracy:         result.Metrics.Accuracy,
		Threshold:        s.cfg.AccuracyThreshold,
	}, nil
}

func (s *Scheduler) stepDeploy(ctx context.Context, alg pipeline.AlgorithmType, state *runState) (any, error) {
	if !state.evaluation.EvaluationPassed {
		return nil, ErrEvaluationFailed
	}

	version := state.training.ModelVersion
	if err := s.deployer.Deploy(ctx, alg, version); err != nil {
		return nil, err
	}
	if s.sink != nil {
		s.sink.SetModelVersion(version)
	}
	return DeployOutput{ModelVersion: version}, nil
}

func (s *Scheduler) stepMonitor(ctx context.Context, alg pipeline.AlgorithmType, state *runState) (any, error) {
	s.appendHistory(ctx, state.evaluation.Metrics)

	s.mu.Lock()
	n := len(s.history[alg])
	s.mu.Unlock()
	return MonitorOutput{HistoryLen: n}, nil
}

func (s *Scheduler) minDataPoints(alg pipeline.AlgorithmType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sched, ok := s.schedules[alg]; ok && sched.MinDataPoints > 0 {
		return sched.MinDataPoints
	}
	return s.cfg.MinDataPoints
}

func (s *Scheduler) qualityThreshold(alg pipeline.AlgorithmType) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sched, ok := s.schedules[alg]; ok && sched.QualityThreshold > 0 {
		return sched.QualityThreshold
	}
	return s.cfg.QualityThreshold
}

