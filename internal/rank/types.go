// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package rank

import (
	"context"
	"time"
)

// BatchType classifies how a clip batch was assembled.
type BatchType string

const (
	// BatchInitial is the first batch of a feedback-loop session.
	BatchInitial BatchType = "initial"
	// BatchAdaptive is a batch ranked under adapted weights.
	BatchAdaptive BatchType = "adaptive"
	// BatchExploration is a batch with a high exploration share.
	BatchExploration BatchType = "exploration"
	// BatchConvergence is a batch generated after satisfaction stabilized.
	BatchConvergence BatchType = "convergence"
)

// EngagementAction is an explicit positive interaction with a clip.
type EngagementAction string

const (
	ActionLike    EngagementAction = "like"
	ActionShare   EngagementAction = "share"
	ActionComment EngagementAction = "comment"
	ActionFollow  EngagementAction = "follow"
	ActionSave    EngagementAction = "save"
)

// ClipsBatch is one ranked micro-batch delivered as a single consumption unit.
type ClipsBatch struct {
	BatchID           string                 `json:"batch_id"`
	UserID            string                 `json:"user_id"`
	ClipIDs           []string               `json:"clip_ids"`
	BatchType         BatchType              `json:"batch_type"`
	Iteration         int                    `json:"iteration"`
	CandidatePoolSize int                    `json:"candidate_pool_size"`
	AdaptiveFactors   AdaptiveRankingFactors `json:"adaptive_factors"`
	Metrics           *BatchMetrics          `json:"metrics,omitempty"`
	PreviousSignals   int                    `json:"previous_signals"`
	CreatedAt         time.Time              `json:"created_at"`
}

// AdaptiveRankingFactors summarizes consumption of the last few batches and
// steers the next batch's personalization/exploration split.
type AdaptiveRankingFactors struct {
	AvgWatchPercentage float64 `json:"avg_watch_percentage"`
	AvgSkipRate        float64 `json:"avg_skip_rate"`
	AvgLoopCount       float64 `json:"avg_loop_count"`

	// Momentum is the engagement-rate delta between the oldest and newest
	// of the batches considered. Positive momentum means engagement is
	// improving under the current weights.
	Momentum float64 `json:"momentum"`
}

// BatchMetrics are computed once, when a batch completes.
type BatchMetrics struct {
	AvgWatchPercentage float64       `json:"avg_watch_percentage"`
	AvgLoopCount       float64       `json:"avg_loop_count"`
	SkipRate           float64       `json:"skip_rate"`
	CompletionRate     float64       `json:"completion_rate"`
	AvgDwellTime       time.Duration `json:"avg_dwell_time"`
	EngagementRate     float64       `json:"engagement_rate"`
	SatisfactionScore  float64       `json:"satisfaction_score"`
	CompletedAt        time.Time     `json:"completed_at"`
}

// ClipConsumptionStatus tracks consumption of one clip in the active batch.
type ClipConsumptionStatus struct {
	ClipID              string             `json:"clip_id"`
	WatchPercentage     float64            `json:"watch_percentage"`
	LoopCount           int                `json:"loop_count"`
	DwellTime           time.Duration      `json:"dwell_time"`
	SkipSignal          bool               `json:"skip_signal"`
	EngagementActions   []EngagementAction `json:"engagement_actions,omitempty"`
	SatisfactionScore   float64            `json:"satisfaction_score"`
	ConsumptionComplete bool               `json:"consumption_complete"`
}

// ConsumptionEvent is one inbound consumption update for a clip.
type ConsumptionEvent struct {
	ClipID          string
	WatchPercentage float64
	LoopCount       int
	DwellTime       time.Duration
	Actions         []EngagementAction

	// Terminal marks the user's final interaction with the clip (swipe
	// away, completion). A terminal event completes the clip.
	Terminal bool
}

// ScoringWeights is the per-user mutable weight vector for implicit-signal
// scoring. The three positive weights (watch, loop, share) are bounded:
// their sum may not exceed MaxPositiveWeightSum and is renormalized when it
// does.
type ScoringWeights struct {
	WatchPercentage float64 `json:"watch_percentage"`
	LoopCount       float64 `json:"loop_count"`
	ShareCount      float64 `json:"share_count"`
	SkipSignal      float64 `json:"skip_signal"`
	AdaptiveBonus   float64 `json:"adaptive_bonus"`
}

// AdaptationRecord captures one weight adaptation for audit and momentum
// computation.
type AdaptationRecord struct {
	Iteration    int            `json:"iteration"`
	Satisfaction float64        `json:"satisfaction"`
	Delta        float64        `json:"delta"`
	Weights      ScoringWeights `json:"weights"`
	At           time.Time      `json:"at"`
}

// FeedbackLoopState is the full per-user loop state. Snapshots of it are
// returned by the read API; the controller owns the mutable copy.
type FeedbackLoopState struct {
	UserID            string             `json:"user_id"`
	CurrentIteration  int                `json:"current_iteration"`
	TotalIterations   int                `json:"total_iterations"`
	ActiveBatch       *ClipsBatch        `json:"active_batch,omitempty"`
	PreviousBatches   []*ClipsBatch      `json:"previous_batches,omitempty"`
	Weights           ScoringWeights     `json:"weights"`
	AdaptiveRate      float64            `json:"adaptive_learning_rate"`
	ConvergenceScore  float64            `json:"convergence_score"`
	ExplorationRate   float64            `json:"exploration_rate"`
	AdaptationHistory []AdaptationRecord `json:"adaptation_history,omitempty"`
	CandidatePool     []string           `json:"-"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// ImpressionRecord is the outbound log record emitted per served clip.
type ImpressionRecord struct {
	UserID         string        `json:"user_id"`
	ContentID      string        `json:"content_id"`
	BatchID        string        `json:"batch_id"`
	BatchPosition  int           `json:"batch_position"`
	Features       FeatureVector `json:"features"`
	PredictedScore float64       `json:"predicted_score"`
	ModelVersion   int           `json:"model_version"`
	At             time.Time     `json:"at"`
}

// InteractionLogRecord is the outbound log record emitted per terminal
// interaction. It is the raw input of the retraining pipeline.
type InteractionLogRecord struct {
	UserID         string                `json:"user_id"`
	ContentID      string                `json:"content_id"`
	BatchID        string                `json:"batch_id"`
	Features       FeatureVector         `json:"features"`
	PredictedScore float64               `json:"predicted_score"`
	Consumption    ClipConsumptionStatus `json:"consumption"`
	ModelVersion   int                   `json:"model_version"`
	At             time.Time             `json:"at"`
}

// Recorder receives interaction log records for offline auditing and
// retraining. Implementations must be non-blocking or fast; the controller
// calls them while holding the per-user lock.
type Recorder interface {
	RecordImpression(ctx context.Context, rec ImpressionRecord)
	RecordInteraction(ctx context.Context, rec InteractionLogRecord)
}

// NopRecorder discards all records.
type NopRecorder struct{}

func (NopRecorder) RecordImpression(context.Context, ImpressionRecord) {}

func (NopRecorder) RecordInteraction(context.Context, InteractionLogRecord) {}
