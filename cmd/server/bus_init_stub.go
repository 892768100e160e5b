// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

//go:build !nats

package main

import (
	"github.com/rs/zerolog"

	"github.com/driftlab/feedcore/internal/config"
	"github.com/driftlab/feedcore/internal/eventlog"
)

// newBus creates the in-process Go channel bus. Build with -tags=nats for
// the NATS JetStream transport.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func newBus(cfg config.BusConfig, logger zerolog.Logger) (*eventlog.Bus, error) {
	return eventlog.NewGoChannelBus(cfg.BufferSize, logger), nil
}
