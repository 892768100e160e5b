// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

// Package metrics exposes Prometheus collectors for FeedCore.
//
// Instrumented surfaces:
//   - Signal intake and dispatch
//   - Feedback-loop batch generation and completion
//   - Retraining pipeline validation and export
//   - Scheduler triggers and workflow execution
//   - HTTP API latency
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Signal intake metrics
	SignalsCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcore_signals_collected_total",
			Help: "Total number of user signals collected",
		},
		[]string{"signal_type"},
	)

	SignalsThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedcore_signals_throttled_total",
			Help: "Total number of signals rejected by the per-user rate limiter",
		},
	)

	SignalBatchesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcore_signal_batches_dispatched_total",
			Help: "Total number of signal batches dispatched to the event bus",
		},
		[]string{"compressed"},
	)

	// Feedback loop metrics
	BatchesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcore_clip_batches_generated_total",
			Help: "Total number of clip batches generated",
		},
		[]string{"batch_type"},
	)

	BatchesCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedcore_clip_batches_completed_total",
			Help: "Total number of clip batches fully consumed",
		},
	)

	WeightAdaptations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedcore_weight_adaptations_total",
			Help: "Total number of scoring weight adaptations applied",
		},
	)

	BatchSatisfaction = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedcore_batch_satisfaction_score",
			Help:    "Distribution of batch satisfaction scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	ActiveFeedbackLoops = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedcore_active_feedback_loops",
			Help: "Current number of users with live feedback-loop state",
		},
	)

	// Pipeline metrics
	DataPointsValidated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcore_pipeline_points_validated_total",
			Help: "Total validated retraining data points by outcome",
		},
		[]string{"outcome"}, // "accepted", "rejected", "duplicate"
	)

	PipelineBatchQuality = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedcore_pipeline_batch_quality_score",
			Help:    "Distribution of retraining batch quality scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	ExportsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcore_pipeline_exports_total",
			Help: "Total dataset exports by format",
		},
		[]string{"format"},
	)

	// Scheduler metrics
	TriggersFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcore_retraining_triggers_fired_total",
			Help: "Total retraining triggers latched by type",
		},
		[]string{"trigger_type"},
	)

	WorkflowsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcore_retraining_workflows_total",
			Help: "Total retraining workflows by final status",
		},
		[]string{"algorithm", "status"},
	)

	WorkflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedcore_retraining_workflow_duration_seconds",
			Help:    "End-to-end retraining workflow duration",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"algorithm"},
	)

	WorkflowStepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcore_retraining_step_failures_total",
			Help: "Total workflow step failures by step name",
		},
		[]string{"step"},
	)

	// API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcore_api_requests_total",
			Help: "Total API requests by endpoint, method, and status",
		},
		[]string{"endpoint", "method", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedcore_api_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// Store metrics
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedcore_store_operations_total",
			Help: "Total store operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)
)

// RecordAPIRequest records a completed API request.
func RecordAPIRequest(endpoint, method string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordStoreOperation records a store operation outcome.
func RecordStoreOperation(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	StoreOperations.WithLabelValues(operation, outcome).Inc()
}
