// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

// Package eventlog is the ML logging boundary. Impression and interaction
// records from the ranking engine, and dispatched signal batches, are
// published on a Watermill bus; the retraining pipeline subscribes to fill
// its raw buffer.
//
// The default transport is an in-process Go channel pub/sub. Building with
// -tags=nats swaps in a NATS JetStream transport connecting to an external
// broker.
package eventlog
