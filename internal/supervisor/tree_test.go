// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/driftlab/feedcore/internal/logging"
)

// blockingService runs until its context is canceled and records that it
// started.
type blockingService struct {
	name    string
	started chan struct{}
}

func newBlockingService(name string) *blockingService {
	return &blockingService{name: name, started: make(chan struct{})}
}

func (s *blockingService) Serve(ctx context.Context) error {
	close(s.started)
	<-ctx.Done()
	return ctx.Err()
}

func (s *blockingService) String() string { return s.name }

func TestDefaultTreeConfig(t *testing.T) {
	cfg := DefaultTreeConfig()
	if cfg.FailureThreshold != 5.0 {
		t.Errorf("FailureThreshold = %v, want 5", cfg.FailureThreshold)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
}

func TestNewTreeAppliesDefaultsForZeroConfig(t *testing.T) {
	tree := NewTree(logging.Slog(), TreeConfig{})
	if tree.config.FailureThreshold != 5.0 {
		t.Errorf("FailureThreshold = %v, want 5", tree.config.FailureThreshold)
	}
	if tree.config.FailureBackoff != 15*time.Second {
		t.Errorf("FailureBackoff = %v, want 15s", tree.config.FailureBackoff)
	}
	if tree.Root() == nil {
		t.Fatal("nil root supervisor")
	}
}

func TestTreeServesAllLayers(t *testing.T) {
	tree := NewTree(logging.Slog(), DefaultTreeConfig())

	intake := newBlockingService("intake-probe")
	retraining := newBlockingService("retraining-probe")
	api := newBlockingService("api-probe")
	tree.AddIntakeService(intake)
	tree.AddRetrainingService(retraining)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	for _, svc := range []*blockingService{intake, retraining, api} {
		select {
		case <-svc.started:
		case <-time.After(5 * time.Second):
			t.Fatalf("service %s never started", svc)
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Fatalf("tree stopped with %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop after cancel")
	}
}

func TestRemoveStopsService(t *testing.T) {
	tree := NewTree(logging.Slog(), DefaultTreeConfig())
	svc := newBlockingService("removable")
	token := tree.Root().Add(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	select {
	case <-svc.started:
	case <-time.After(5 * time.Second):
		t.Fatal("service never started")
	}

	if err := tree.Remove(token); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}
