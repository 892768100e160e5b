// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package scheduler

import (
	"time"

	"github.com/driftlab/feedcore/internal/pipeline"
)

// Frequency names how often a schedule is meant to run. Interval carries the
// actual period; Frequency is a label surfaced through the read API.
type Frequency string

// Schedule frequencies.
const (
	FrequencyHourly Frequency = "hourly"
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
	FrequencyCustom Frequency = "custom"
)

// Schedule describes the periodic retraining cadence for one algorithm.
type Schedule struct {
	Algorithm            pipeline.AlgorithmType `json:"algorithm"`
	Frequency            Frequency              `json:"frequency"`
	Interval             time.Duration          `json:"interval"`
	LastRun              time.Time              `json:"lastRun"`
	NextRun              time.Time              `json:"nextRun"`
	MinDataPoints        int                    `json:"minDataPoints"`
	QualityThreshold     float64                `json:"qualityThreshold"`
	PerformanceThreshold float64                `json:"performanceThreshold"`
	Conditions           []string               `json:"conditions,omitempty"`
	Enabled              bool                   `json:"enabled"`
}

// Due reports whether the schedule should run at the given instant.
func (s *Schedule) Due(now time.Time) bool {
	return s.Enabled && !s.NextRun.After(now)
}

// TriggerType classifies what condition a retraining trigger watches.
type TriggerType string

// Trigger condition types.
const (
	TriggerPerformance TriggerType = "performance"
	TriggerDataDrift   TriggerType = "data_drift"
	TriggerVolume      TriggerType = "volume"
	TriggerQuality     TriggerType = "quality"
)

// Trigger is a one-shot latch: once Triggered flips to true the condition is
// not re-evaluated until ResetTrigger clears it. CurrentValue records the
// measurement that latched it.
type Trigger struct {
	ID             string                 `json:"id"`
	Type           TriggerType            `json:"type"`
	Algorithm      pipeline.AlgorithmType `json:"algorithm"`
	Condition      string                 `json:"condition"`
	Triggered      bool                   `json:"triggered"`
	TriggeredAt    time.Time              `json:"triggeredAt"`
	CurrentValue   float64                `json:"currentValue"`
	ThresholdValue float64                `json:"thresholdValue"`
	AutoExecute    bool                   `json:"autoExecute"`
}

// WorkflowStatus is the workflow finite state machine. There is no path back
// from completed or failed.
type WorkflowStatus string

// Workflow states.
const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// StepStatus tracks one workflow step.
type StepStatus string

// Step states.
const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Step names, in declared execution order.
const (
	StepCollect    = "collect"
	StepValidate   = "validate"
	StepPreprocess = "preprocess"
	StepTrain      = "train"
	StepEvaluate   = "evaluate"
	StepDeploy     = "deploy"
	StepMonitor    = "monitor"
)

// WorkflowStep declares one stage of a retraining workflow. Dependencies are
// step names that must have completed before this step may run; the step list
// is strictly linear so each step depends on at most its predecessor.
type WorkflowStep struct {
	Name         string        `json:"name"`
	Dependencies []string      `json:"dependencies,omitempty"`
	Required     bool          `json:"required"`
	Timeout      time.Duration `json:"timeout"`
	Retries      int           `json:"retries"`
}

// StepResult records the outcome of one executed step.
type StepResult struct {
	Name        string     `json:"name"`
	Status      StepStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt time.Time  `json:"completedAt"`
	Error       string     `json:"error,omitempty"`
	Output      any        `json:"output,omitempty"`
}

// Workflow is one retraining run for one algorithm.
type Workflow struct {
	ID          string                 `json:"id"`
	Algorithm   pipeline.AlgorithmType `json:"algorithm"`
	Reason      string                 `json:"reason"`
	Status      WorkflowStatus         `json:"status"`
	Steps       []WorkflowStep         `json:"steps"`
	Results     []StepResult           `json:"results"`
	CreatedAt   time.Time              `json:"createdAt"`
	StartedAt   time.Time              `json:"startedAt"`
	CompletedAt time.Time              `json:"completedAt"`
	Error       string                 `json:"error,omitempty"`
}

// resultFor returns the recorded result for a step, if it ran.
func (w *Workflow) resultFor(name string) (*StepResult, bool) {
	for i := range w.Results {
		if w.Results[i].Name == name {
			return &w.Results[i], true
		}
	}
	return nil, false
}

// ModelPerformanceMetrics is one evaluation snapshot for one algorithm.
// Appended to a per-algorithm history capped at historyCap entries.
type ModelPerformanceMetrics struct {
	Algorithm      pipeline.AlgorithmType `json:"algorithm"`
	ModelVersion   int32                  `json:"modelVersion"`
	Accuracy       float64                `json:"accuracy"`
	Precision      float64                `json:"precision"`
	Recall         float64                `json:"recall"`
	F1Score        float64                `json:"f1Score"`
	NDCG           float64                `json:"ndcg"`
	MAP            float64                `json:"map"`
	CTR            float64                `json:"ctr"`
	EngagementRate float64                `json:"engagementRate"`
	DriftScore     float64                `json:"driftScore"`
	DataQuality    float64                `json:"dataQuality"`
	EvaluatedAt    time.Time              `json:"evaluatedAt"`
}

// Step output payloads. Each step reports a small typed summary rather than
// an untyped map so results are distinguishable when serialized.

// CollectOutput summarizes the collect step.
type CollectOutput struct {
	Batches int     `json:"batches"`
	Points  int     `json:"points"`
	Quality float64 `json:"quality"`
}

// ValidateOutput summarizes the validate step.
type ValidateOutput struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

// PreprocessOutput summarizes the preprocess step.
type PreprocessOutput struct {
	Train            int `json:"train"`
	Validation       int `json:"validation"`
	Test             int `json:"test"`
	OutliersRemoved  int    `json:"outliersRemoved"`
	SelectedFeatures int    `json:"selectedFeatures"`
	ExportID         string `json:"exportId,omitempty"`
	ExportKey        string `json:"exportKey,omitempty"`
}

// TrainOutput summarizes the train step.
type TrainOutput struct {
	ModelVersion int32         `json:"modelVersion"`
	TrainLoss    float64       `json:"trainLoss"`
	Duration     time.Duration `json:"duration"`
}

// EvaluateOutput summarizes the evaluate step.
type EvaluateOutput struct {
	EvaluationPassed bool    `json:"evaluationPassed"`
	Accuracy         float64 `json:"accuracy"`
	Threshold        float64 `json:"threshold"`
}

// DeployOutput summarizes the deploy step.
type DeployOutput struct {
	ModelVersion int32 `json:"modelVersion"`
}

// MonitorOutput summarizes the monitor step.
type MonitorOutput struct {
	HistoryLen int `json:"historyLen"`
}
