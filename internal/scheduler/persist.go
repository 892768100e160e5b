// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package scheduler

import (
	"context"
	"errors"

	"github.com/driftlab/feedcore/internal/pipeline"
	"github.com/driftlab/feedcore/internal/store"
)

// loadState restores schedules, triggers, and per-algorithm history. Each
// key loads independently: a missing or corrupt key logs a warning and falls
// back to defaults without touching the others.
func (s *Scheduler) loadState(ctx context.Context) {
	if s.st == nil {
		return
	}

	var schedules []Schedule
	switch err := s.st.Get(ctx, schedulesKey, &schedules); {
	case err == nil:
		for i := range schedules {
			sched := schedules[i]
			s.schedules[sched.Algorithm] = &sched
		}
	case errors.Is(err, store.ErrKeyNotFound):
	default:
		s.logger.Warn().Err(err).Msg("Failed to load schedules, using defaults")
	}

	var triggers []Trigger
	switch err := s.st.Get(ctx, triggersKey, &triggers); {
	case err == nil:
		for i := range triggers {
			trg := triggers[i]
			s.triggers[trg.ID] = &trg
		}
	case errors.Is(err, store.ErrKeyNotFound):
	default:
		s.logger.Warn().Err(err).Msg("Failed to load triggers, using defaults")
	}

	for _, alg := range pipeline.KnownAlgorithmTypes() {
		var hist []ModelPerformanceMetrics
		switch err := s.st.Get(ctx, historyKey+string(alg), &hist); {
		case err == nil:
			if len(hist) > historyCap {
				hist = hist[len(hist)-historyCap:]
			}
			s.history[alg] = hist
		case errors.Is(err, store.ErrKeyNotFound):
		default:
			s.logger.Warn().Err(err).
				Str("algorithm", string(alg)).
				Msg("Failed to load performance history, starting empty")
		}
	}
}

// Persistence is best effort: a failed save logs and the in-memory state
// stays authoritative until the next save attempt.

func (s *Scheduler) persistSchedules(ctx context.Context) {
	if s.st == nil {
		return
	}
	s.mu.Lock()
	out := make([]Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, *sched)
	}
	s.mu.Unlock()

	if err := s.st.Put(ctx, schedulesKey, out); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist schedules")
	}
}

func (s *Scheduler) persistTriggers(ctx context.Context) {
	if s.st == nil {
		return
	}
	s.mu.Lock()
	out := make([]Trigger, 0, len(s.triggers))
	for _, trg := range s.triggers {
		out = append(out, *trg)
	}
	s.mu.Unlock()

	if err := s.st.Put(ctx, triggersKey, out); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist triggers")
	}
}

func (s *Scheduler) persistHistory(ctx context.Context, alg pipeline.AlgorithmType) {
	if s.st == nil {
		return
	}
	s.mu.Lock()
	hist := make([]ModelPerformanceMetrics, len(s.history[alg]))
	copy(hist, s.history[alg])
	s.mu.Unlock()

	if err := s.st.Put(ctx, historyKey+string(alg), hist); err != nil {
		s.logger.Warn().Err(err).
			Str("algorithm", string(alg)).
			Msg("Failed to persist performance history")
	}
}
