// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package scheduler

import (
	"context"
	"time"
)

// The three periodic services wrap the scheduler for supervision. Each one
// is a suture.Service: a ticker loop that returns nil on context
// cancellation so the supervisor shuts it down cleanly.

// ScheduleService runs CheckAndRunScheduledJobs on an interval
// (hourly in production).
type ScheduleService struct {
	sched    *Scheduler
	interval time.Duration
}

// NewScheduleService wraps the scheduler's due-schedule check. A zero
// interval defaults to one hour.
func NewScheduleService(sched *Scheduler, interval time.Duration) *ScheduleService {
	if interval == 0 {
		interval = time.Hour
	}
	return &ScheduleService{sched: sched, interval: interval}
}

// Serve implements suture.Service.
func (s *ScheduleService) Serve(ctx context.Context) error {
	ticker := s.sched.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			s.sched.CheckAndRunScheduledJobs(ctx)
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *ScheduleService) String() string { return "retraining-schedule-check" }

// TriggerService polls trigger conditions on an interval (5 minutes in
// production).
type TriggerService struct {
	sched    *Scheduler
	interval time.Duration
}

// NewTriggerService wraps the scheduler's trigger poll. A zero interval
// defaults to five minutes.
func NewTriggerService(sched *Scheduler, interval time.Duration) *TriggerService {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	return &TriggerService{sched: sched, interval: interval}
}

// Serve implements suture.Service.
func (s *TriggerService) Serve(ctx context.Context) error {
	ticker := s.sched.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			s.sched.EvaluateTriggers(ctx)
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *TriggerService) String() string { return "retraining-trigger-poll" }

// MonitorService refreshes performance history on an interval (15 minutes
// in production) so trigger comparisons never run against stale data.
type MonitorService struct {
	sched    *Scheduler
	interval time.Duration
}

// NewMonitorService wraps the scheduler's performance monitor. A zero
// interval defaults to fifteen minutes.
func NewMonitorService(sched *Scheduler, interval time.Duration) *MonitorService {
	if interval == 0 {
		interval = 15 * time.Minute
	}
	return &MonitorService{sched: sched, interval: interval}
}

// Serve implements suture.Service.
func (s *MonitorService) Serve(ctx context.Context) error {
	ticker := s.sched.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			s.sched.MonitorPerformance(ctx)
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *MonitorService) String() string { return "retraining-performance-monitor" }
