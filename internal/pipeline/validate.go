// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package pipeline

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/driftlab/feedcore/internal/metrics"
)

// engagementClasses are the recognized outcome classes.
var engagementClasses = map[string]bool{
	"view":       true,
	"engagement": true,
	"skip":       true,
	"share":      true,
	"completion": true,
}

// maxDwell rejects implausible dwell times (clock bugs upstream).
const maxDwell = 24 * time.Hour

// Validator checks retraining data points structurally and semantically,
// and deduplicates by content fingerprint.
type Validator struct {
	validate   *validator.Validate
	minQuality float64
	logger     zerolog.Logger
}

// DropReport counts rejections by cause during one validation pass.
type DropReport struct {
	Structural int `json:"structural"`
	Domain     int `json:"domain"`
	Quality    int `json:"quality"`
	Duplicate  int `json:"duplicate"`
}

// Total is the number of points dropped.
func (r DropReport) Total() int {
	return r.Structural + r.Domain + r.Quality + r.Duplicate
}

// NewValidator creates a validator with the given quality floor.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewValidator(minQuality float64, logger zerolog.Logger) *Validator {
	return &Validator{
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		minQuality: minQuality,
		logger:     logger.With().Str("component", "pipeline-validator").Logger(),
	}
}

// ValidateAndClean returns the points that pass structural, domain,
// quality, and duplicate checks, preserving input order. Rejected points
// are counted, never repaired. The pass is idempotent: running it over its
// own output drops nothing.
func (v *Validator) ValidateAndClean(points []RetrainingDataPoint) ([]RetrainingDataPoint, DropReport) {
	clean := make([]RetrainingDataPoint, 0, len(points))
	seen := make(map[string]bool, len(points))
	var report DropReport

	for i := range points {
		p := &points[i]

		if err := v.validate.Struct(p); err != nil {
			report.Structural++
			v.logger.Debug().Err(err).Str("point", p.ID).Msg("structural reject")
			continue
		}
		if err := v.checkDomain(p); err != nil {
			report.Domain++
			v.logger.Debug().Err(err).Str("point", p.ID).Msg("domain reject")
			continue
		}
		if p.QualityScore < v.minQuality {
			report.Quality++
			continue
		}

		print := p.Fingerprint()
		if seen[print] {
			report.Duplicate++
			continue
		}
		seen[print] = true
		clean = append(clean, *p)
	}

	metrics.DataPointsValidated.WithLabelValues("accepted").Add(float64(len(clean)))
	metrics.DataPointsValidated.WithLabelValues("rejected").Add(float64(report.Total()))

	if report.Total() > 0 {
		v.logger.Info().
			Int("accepted", len(clean)).
			Int("structural", report.Structural).
			Int("domain", report.Domain).
			Int("quality", report.Quality).
			Int("duplicate", report.Duplicate).
			Msg("validation pass dropped points")
	}
	return clean, report
}

// checkDomain enforces the semantic rules structural tags cannot express.
func (v *Validator) checkDomain(p *RetrainingDataPoint) error {
	if !ValidAlgorithmType(p.AlgorithmType) {
		return fmt.Errorf("unknown algorithm type %q", p.AlgorithmType)
	}
	if !engagementClasses[p.Engagement.Type] {
		return fmt.Errorf("unknown engagement type %q", p.Engagement.Type)
	}
	if p.Engagement.DwellTime > maxDwell {
		return fmt.Errorf("implausible dwell time %s", p.Engagement.DwellTime)
	}
	for name, val := range p.Features {
		if val < 0 || val > 1 {
			return fmt.Errorf("feature %q = %f out of [0, 1]", name, val)
		}
	}
	if p.PredictedRank < 0 || p.PredictedRank > 1 {
		return fmt.Errorf("predicted rank %f out of [0, 1]", p.PredictedRank)
	}
	return nil
}
