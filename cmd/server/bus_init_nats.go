// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

//go:build nats

package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/driftlab/feedcore/internal/config"
	"github.com/driftlab/feedcore/internal/eventlog"
)

// newBus creates the bus over a NATS JetStream transport.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func newBus(cfg config.BusConfig, logger zerolog.Logger) (*eventlog.Bus, error) {
	natsCfg := eventlog.DefaultNATSConfig()
	if cfg.URL != "" {
		natsCfg.URL = cfg.URL
	}
	transport, err := eventlog.NewNATSTransport(natsCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("nats transport: %w", err)
	}
	return eventlog.NewBus(transport, logger), nil
}
