// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

// Package scheduler owns model retraining: per-algorithm schedules,
// condition-based triggers, and the seven-step retraining workflow
// (collect, validate, preprocess, train, evaluate, deploy, monitor).
//
// At most one workflow runs at a time across the whole scheduler. Training,
// evaluation, and deployment are pluggable backends behind the Trainer,
// Evaluator, and Deployer interfaces; the Trainer is additionally guarded by
// a circuit breaker so a flapping training backend cannot wedge the
// scheduler's periodic loops.
//
// Schedules, triggers, and per-algorithm performance history persist under
// independent store keys. A corrupt key falls back to defaults without
// blocking the others.
package scheduler
