// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

// Package catalog is the content storage layer behind the candidate
// strategies and the feature engine. It keeps clip metadata, follow
// relations, and engagement counters in memory with BadgerDB persistence,
// and maintains a short engagement event window for trending and viral
// queries. The event window is memory-only; after a restart trending
// rebuilds from fresh traffic while Fallback serves from the persisted
// counters.
package catalog
