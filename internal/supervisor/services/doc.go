// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

// Package services wraps FeedCore's long-running components as suture
// services. Components that already implement Serve(ctx) plus Stringer
// (the scheduler's periodic services) go into the tree directly; the
// wrappers here cover the ones that don't.
package services
