// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

//go:build !nats

package eventlog

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// NATSConfig configures the JetStream transport. Only meaningful when
// built with -tags=nats.
type NATSConfig struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectBuffer int
	QueueGroup      string
}

// DefaultNATSConfig returns production defaults for an external broker.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:             "nats://127.0.0.1:4222",
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectBuffer: 8 * 1024 * 1024,
		QueueGroup:      "feedcore",
	}
}

// NewNATSTransport returns an error when NATS support is not compiled in.
// Build with -tags=nats to enable the JetStream transport.
func NewNATSTransport(cfg NATSConfig, logger zerolog.Logger) (Transport, error) {
	return nil, fmt.Errorf("NATS transport not available: build with -tags=nats")
}
