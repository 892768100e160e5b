// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package eventlog

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/driftlab/feedcore/internal/rank"
)

// Recorder publishes ranking impression and interaction records on the bus.
// Publish failures are logged and dropped: the ranking path must never
// block or fail on logging.
type Recorder struct {
	bus    *Bus
	logger zerolog.Logger
}

// NewRecorder creates a bus-backed recorder.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewRecorder(bus *Bus, logger zerolog.Logger) *Recorder {
	return &Recorder{
		bus:    bus,
		logger: logger.With().Str("component", "recorder").Logger(),
	}
}

// RecordImpression publishes one served-clip record.
func (r *Recorder) RecordImpression(ctx context.Context, rec rank.ImpressionRecord) {
	if err := r.bus.PublishPayload(ctx, RecordImpression, rec); err != nil {
		r.logger.Warn().Err(err).
			Str("user", rec.UserID).
			Str("content", rec.ContentID).
			Msg("impression record dropped")
	}
}

// RecordInteraction publishes one terminal-interaction record.
func (r *Recorder) RecordInteraction(ctx context.Context, rec rank.InteractionLogRecord) {
	if err := r.bus.PublishPayload(ctx, RecordInteraction, rec); err != nil {
		r.logger.Warn().Err(err).
			Str("user", rec.UserID).
			Str("content", rec.ContentID).
			Msg("interaction record dropped")
	}
}

var _ rank.Recorder = (*Recorder)(nil)
