// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package pipeline

import (
	"math"
	"time"

	"github.com/driftlab/feedcore/internal/rank"
)

// strengthRange is the plausible satisfaction-strength band for one
// engagement class. Points outside their band count as inconsistent.
type strengthRange struct {
	lo, hi float64
}

// plausibility maps engagement classes to their expected strength bands.
var plausibility = map[string]strengthRange{
	"skip":       {0, 0.45},
	"view":       {0, 0.75},
	"engagement": {0.25, 1},
	"completion": {0.4, 1},
	"share":      {0.35, 1},
}

// qualityHalfLife controls timeliness decay: data this old contributes
// half its freshness weight.
const qualityHalfLife = 24 * time.Hour

// Component weights of the overall quality score.
const (
	wCompleteness = 0.3
	wConsistency  = 0.3
	wAccuracy     = 0.2
	wTimeliness   = 0.2
)

// QualityScorer aggregates completeness, consistency, accuracy, and
// timeliness into a single [0, 1] score.
type QualityScorer struct{}

// NewQualityScorer creates a scorer.
func NewQualityScorer() *QualityScorer {
	return &QualityScorer{}
}

// QualityBreakdown exposes the component scores behind an overall score.
type QualityBreakdown struct {
	Completeness float64 `json:"completeness"`
	Consistency  float64 `json:"consistency"`
	Accuracy     float64 `json:"accuracy"`
	Timeliness   float64 `json:"timeliness"`
	Overall      float64 `json:"overall"`
}

// Score evaluates a set of data points. accuracy is supplied externally
// (model evaluation); pass a negative value when unknown to use a neutral
// 0.5.
func (s *QualityScorer) Score(points []RetrainingDataPoint, accuracy float64, now time.Time) QualityBreakdown {
	if len(points) == 0 {
		return QualityBreakdown{}
	}
	if accuracy < 0 {
		accuracy = 0.5
	}

	var complete, consistent, fresh float64
	for i := range points {
		complete += completeness(&points[i])
		if consistentPoint(&points[i]) {
			consistent++
		}
		fresh += timeliness(points[i].AnonymizedAt, now)
	}
	n := float64(len(points))

	b := QualityBreakdown{
		Completeness: complete / n,
		Consistency:  consistent / n,
		Accuracy:     clamp01(accuracy),
		Timeliness:   fresh / n,
	}
	b.Overall = clamp01(wCompleteness*b.Completeness +
		wConsistency*b.Consistency +
		wAccuracy*b.Accuracy +
		wTimeliness*b.Timeliness)
	return b
}

// PointQuality scores one raw interaction at ingest time, before external
// accuracy is known.
func (s *QualityScorer) PointQuality(rec rank.InteractionLogRecord, now time.Time) float64 {
	var complete float64
	if rec.UserID != "" {
		complete += 0.25
	}
	if rec.ContentID != "" {
		complete += 0.25
	}
	if rec.BatchID != "" {
		complete += 0.25
	}
	if rec.Consumption.ConsumptionComplete {
		complete += 0.25
	}

	consistent := 1.0
	class := classifyEngagement(rec.Consumption)
	if band, ok := plausibility[class]; ok {
		strength := rec.Consumption.SatisfactionScore
		if strength < band.lo || strength > band.hi {
			consistent = 0
		}
	}

	fresh := timeliness(rec.At, now)

	// Accuracy is unknown at ingest; weight it neutrally.
	return clamp01(wCompleteness*complete +
		wConsistency*consistent +
		wAccuracy*0.5 +
		wTimeliness*fresh)
}

// completeness is the share of populated fields a training example needs.
func completeness(p *RetrainingDataPoint) float64 {
	var score float64
	if len(p.Features) > 0 {
		score += 0.4
	}
	if p.Engagement.Type != "" {
		score += 0.3
	}
	if p.ModelVersion > 0 {
		score += 0.15
	}
	if len(p.Categoricals) > 0 {
		score += 0.15
	}
	return score
}

// consistentPoint checks the engagement strength against its class band.
func consistentPoint(p *RetrainingDataPoint) bool {
	band, ok := plausibility[p.Engagement.Type]
	if !ok {
		return false
	}
	return p.Engagement.Strength >= band.lo && p.Engagement.Strength <= band.hi
}

// timeliness decays exponentially with data age.
func timeliness(at, now time.Time) float64 {
	if at.IsZero() {
		return 0
	}
	age := now.Sub(at)
	if age < 0 {
		age = 0
	}
	return clamp01(math.Exp2(-age.Hours() / qualityHalfLife.Hours()))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
