// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package services

import (
	"context"

	"github.com/driftlab/feedcore/internal/signals"
)

// SignalBatcherService supervises the signal batcher's flush loop.
type SignalBatcherService struct {
	batcher *signals.Batcher
}

// NewSignalBatcherService wraps a batcher as a supervised service.
func NewSignalBatcherService(batcher *signals.Batcher) *SignalBatcherService {
	return &SignalBatcherService{batcher: batcher}
}

// Serve implements suture.Service.
func (s *SignalBatcherService) Serve(ctx context.Context) error {
	return s.batcher.Serve(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (s *SignalBatcherService) String() string {
	return "signal-batcher"
}
