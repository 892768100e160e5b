// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

// Package rank implements the personalized feed ranking engine and its
// micro-batch feedback loop.
//
// The engine serves small fixed-size ranked batches of clips (default 7),
// tracks how each clip is consumed, computes batch-level satisfaction, and
// adapts the user's scoring weights between batches. A per-user iteration
// budget bounds every feedback-loop session.
//
// The package has no dependencies on other feedcore internal packages apart
// from the cache. Data boundaries are expressed as interfaces
// (strategies.ContentProvider, FeatureSource, Recorder) so the engine can be
// wired to any storage or transport without circular imports.
package rank
