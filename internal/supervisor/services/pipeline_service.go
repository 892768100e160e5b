// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package services

import (
	"context"

	"github.com/driftlab/feedcore/internal/pipeline"
)

// PipelineService supervises the retraining pipeline's consume loop.
type PipelineService struct {
	pipeline *pipeline.Pipeline
}

// NewPipelineService wraps a pipeline as a supervised service.
func NewPipelineService(p *pipeline.Pipeline) *PipelineService {
	return &PipelineService{pipeline: p}
}

// Serve implements suture.Service.
func (s *PipelineService) Serve(ctx context.Context) error {
	return s.pipeline.Serve(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (s *PipelineService) String() string {
	return "retraining-pipeline"
}
