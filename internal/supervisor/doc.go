// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

/*
Package supervisor provides process supervision for FeedCore using suture v4.

The tree organizes long-running services into three layers for failure
isolation:

	RootSupervisor ("feedcore")
	├── IntakeSupervisor ("intake-layer")
	│   └── SignalBatcherService
	├── RetrainingSupervisor ("retraining-layer")
	│   ├── PipelineService
	│   ├── ScheduleService
	│   ├── TriggerService
	│   └── MonitorService
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

A crash in the retraining layer never interrupts signal intake or the API;
each layer restarts independently with exponential backoff.

Services implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Returning nil stops the service permanently; returning an error restarts
it. On context cancellation services must return promptly.

Supervisor events flow into the application's zerolog stream through the
sutureslog adapter and the logging.Slog bridge.
*/
package supervisor
