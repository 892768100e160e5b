// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

// Package pipeline turns logged interaction records into quality-scored,
// validated, preprocessed retraining datasets and exports them.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/driftlab/feedcore/internal/rank"
)

// AlgorithmType identifies the recommendation algorithm a data point trains.
type AlgorithmType string

const (
	AlgorithmCollaborative AlgorithmType = "collaborative_filtering"
	AlgorithmContentBased  AlgorithmType = "content_based"
	AlgorithmHybrid        AlgorithmType = "hybrid"
)

// KnownAlgorithmTypes returns the three trainable algorithm types.
func KnownAlgorithmTypes() []AlgorithmType {
	return []AlgorithmType{AlgorithmCollaborative, AlgorithmContentBased, AlgorithmHybrid}
}

// ValidAlgorithmType reports whether t is one of the known types.
func ValidAlgorithmType(t AlgorithmType) bool {
	switch t {
	case AlgorithmCollaborative, AlgorithmContentBased, AlgorithmHybrid:
		return true
	default:
		return false
	}
}

// DatasetSplit labels which partition a data point belongs to.
type DatasetSplit string

const (
	SplitTrain      DatasetSplit = "train"
	SplitValidation DatasetSplit = "validation"
	SplitTest       DatasetSplit = "test"
)

// EngagementOutcome is the observed outcome a prediction is trained
// against. Strength is the implicit-satisfaction score in [0, 1].
type EngagementOutcome struct {
	Type            string        `json:"type" validate:"required"`
	Strength        float64       `json:"strength" validate:"gte=0,lte=1"`
	WatchPercentage float64       `json:"watch_percentage" validate:"gte=0,lte=1"`
	DwellTime       time.Duration `json:"dwell_time" validate:"gte=0"`
}

// RetrainingDataPoint is one anonymized training example. Immutable once
// produced; consumed by the pipeline once per retraining cycle.
type RetrainingDataPoint struct {
	ID            string             `json:"id" validate:"required"`
	AlgorithmType AlgorithmType      `json:"algorithm_type" validate:"required"`
	Features      map[string]float64 `json:"features" validate:"required"`
	Categoricals  map[string]string  `json:"categoricals,omitempty"`
	PredictedRank float64            `json:"predicted_rank"`
	Engagement    EngagementOutcome  `json:"engagement"`
	ModelVersion  int                `json:"model_version" validate:"gte=1"`
	QualityScore  float64            `json:"quality_score" validate:"gte=0,lte=1"`
	Split         DatasetSplit       `json:"split,omitempty"`
	AnonymizedAt  time.Time          `json:"anonymized_at" validate:"required"`
}

// Fingerprint is the content hash deduplication keys on.
func (p *RetrainingDataPoint) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%.9f|%s|%d",
		p.AlgorithmType, p.PredictedRank, p.Engagement.Type, p.AnonymizedAt.UnixNano())
	return hex.EncodeToString(h.Sum(nil))
}

// RetrainingDataBatch groups validated data points of one algorithm type.
type RetrainingDataBatch struct {
	BatchID       string                `json:"batch_id"`
	AlgorithmType AlgorithmType         `json:"algorithm_type"`
	DataPoints    []RetrainingDataPoint `json:"data_points"`
	QualityScore  float64               `json:"quality_score"`
	IntegrityHash string                `json:"integrity_hash"`
	WindowStart   time.Time             `json:"window_start"`
	WindowEnd     time.Time             `json:"window_end"`
	CreatedAt     time.Time             `json:"created_at"`
}

// NewBatch seals data points into a batch with a content-addressed
// integrity hash.
func NewBatch(algorithm AlgorithmType, points []RetrainingDataPoint, windowStart, windowEnd time.Time) RetrainingDataBatch {
	return RetrainingDataBatch{
		BatchID:       uuid.New().String(),
		AlgorithmType: algorithm,
		DataPoints:    points,
		QualityScore:  avgQuality(points),
		IntegrityHash: ComputeIntegrityHash(points),
		WindowStart:   windowStart,
		WindowEnd:     windowEnd,
		CreatedAt:     time.Now().UTC(),
	}
}

// VerifyIntegrity recomputes the hash and reports whether the batch is
// unmodified.
func (b *RetrainingDataBatch) VerifyIntegrity() bool {
	return b.IntegrityHash == ComputeIntegrityHash(b.DataPoints)
}

// ComputeIntegrityHash hashes the data points in canonical fingerprint
// order, so the hash is stable under reordering.
func ComputeIntegrityHash(points []RetrainingDataPoint) string {
	prints := make([]string, len(points))
	for i := range points {
		prints[i] = points[i].Fingerprint()
	}
	sort.Strings(prints)

	h := sha256.New()
	for _, p := range prints {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func avgQuality(points []RetrainingDataPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for i := range points {
		sum += points[i].QualityScore
	}
	return sum / float64(len(points))
}

// PointFromInteraction anonymizes a logged interaction into a training
// example. The user ID is replaced with a truncated hash; clip identity is
// kept as a categorical for grouping, not identification.
func PointFromInteraction(rec rank.InteractionLogRecord, algorithm AlgorithmType, quality float64) RetrainingDataPoint {
	userHash := sha256.Sum256([]byte(rec.UserID))

	strength := rec.Consumption.SatisfactionScore
	engagementType := classifyEngagement(rec.Consumption)

	return RetrainingDataPoint{
		ID:            uuid.New().String(),
		AlgorithmType: algorithm,
		Features: map[string]float64{
			"author_affinity":  rec.Features.AuthorAffinity,
			"engagement_score": rec.Features.EngagementScore,
			"content_match":    rec.Features.ContentMatch,
			"recency_decay":    rec.Features.RecencyDecay,
			"social_proof":     rec.Features.SocialProof,
		},
		Categoricals: map[string]string{
			"user_hash":    hex.EncodeToString(userHash[:8]),
			"content_type": "clip",
		},
		PredictedRank: rec.PredictedScore,
		Engagement: EngagementOutcome{
			Type:            engagementType,
			Strength:        strength,
			WatchPercentage: rec.Consumption.WatchPercentage,
			DwellTime:       rec.Consumption.DwellTime,
		},
		ModelVersion: rec.ModelVersion,
		QualityScore: quality,
		AnonymizedAt: time.Now().UTC(),
	}
}

// classifyEngagement maps a consumption status to its strongest outcome
// class.
func classifyEngagement(c rank.ClipConsumptionStatus) string {
	for _, a := range c.EngagementActions {
		if a == rank.ActionShare {
			return "share"
		}
	}
	switch {
	case len(c.EngagementActions) > 0:
		return "engagement"
	case c.SkipSignal:
		return "skip"
	case c.WatchPercentage >= 0.9:
		return "completion"
	default:
		return "view"
	}
}
