// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package rank

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftlab/feedcore/internal/rank/strategies"
)

// stubProvider implements strategies.ContentProvider with a fixed catalog.
type stubProvider struct {
	catalog  []string
	fail     bool
	fallback []string
}

func (p *stubProvider) Trending(ctx context.Context, window time.Duration, limit int) ([]string, error) {
	if p.fail {
		return nil, errors.New("provider down")
	}
	return p.catalog, nil
}

func (p *stubProvider) FollowedAuthors(ctx context.Context, userID string) ([]string, error) {
	if p.fail {
		return nil, errors.New("provider down")
	}
	return nil, nil
}

func (p *stubProvider) RecentByAuthors(ctx context.Context, authorIDs []string, window time.Duration, limit int) ([]string, error) {
	return nil, nil
}

func (p *stubProvider) SimilarUsers(ctx context.Context, userID string, limit int) ([]string, error) {
	if p.fail {
		return nil, errors.New("provider down")
	}
	return nil, nil
}

func (p *stubProvider) EngagedByUsers(ctx context.Context, userIDs []string, window time.Duration, limit int) ([]string, error) {
	return nil, nil
}

func (p *stubProvider) Fresh(ctx context.Context, window time.Duration, limit int) ([]string, error) {
	if p.fail {
		return nil, errors.New("provider down")
	}
	return nil, nil
}

func (p *stubProvider) Viral(ctx context.Context, window time.Duration, limit int) ([]string, error) {
	if p.fail {
		return nil, errors.New("provider down")
	}
	return nil, nil
}

func (p *stubProvider) Fallback(ctx context.Context, limit int) ([]string, error) {
	return p.fallback, nil
}

// captureRecorder collects emitted log records.
type captureRecorder struct {
	mu           sync.Mutex
	impressions  []ImpressionRecord
	interactions []InteractionLogRecord
}

func (r *captureRecorder) RecordImpression(ctx context.Context, rec ImpressionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.impressions = append(r.impressions, rec)
}

func (r *captureRecorder) RecordInteraction(ctx context.Context, rec InteractionLogRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interactions = append(r.interactions, rec)
}

func catalog(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("clip-%03d", i)
	}
	return out
}

func newTestController(t *testing.T, cfg Config, provider *stubProvider, rec Recorder) *Controller {
	t.Helper()
	gen := strategies.NewGenerator(strategies.DefaultStrategies(provider), zerolog.Nop())
	ctrl, err := NewController(cfg, gen, provider, nil, rec, zerolog.Nop())
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return ctrl
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CandidatePoolSize = 100
	return cfg
}

func TestInitializeCreatesFirstBatch(t *testing.T) {
	provider := &stubProvider{catalog: catalog(150)}
	rec := &captureRecorder{}
	ctrl := newTestController(t, testConfig(), provider, rec)

	batch, err := ctrl.InitializeFeedbackLoop(context.Background(), "u1")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if len(batch.ClipIDs) != 7 {
		t.Errorf("batch size = %d, want 7", len(batch.ClipIDs))
	}
	if batch.BatchType != BatchInitial {
		t.Errorf("batch type = %s, want initial", batch.BatchType)
	}
	if batch.Iteration != 0 {
		t.Errorf("iteration = %d, want 0", batch.Iteration)
	}

	// One impression per served clip.
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.impressions) != 7 {
		t.Errorf("impressions = %d, want 7", len(rec.impressions))
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	provider := &stubProvider{catalog: catalog(150)}
	ctrl := newTestController(t, testConfig(), provider, nil)
	ctx := context.Background()

	first, err := ctrl.InitializeFeedbackLoop(ctx, "u1")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	second, err := ctrl.InitializeFeedbackLoop(ctx, "u1")
	if err != nil {
		t.Fatalf("second initialize: %v", err)
	}
	if first.BatchID != second.BatchID {
		t.Error("second initialize must return the existing batch unchanged")
	}

	st, err := ctrl.LoopState("u1")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.TotalIterations != 1 {
		t.Errorf("total iterations after double init = %d, want 1", st.TotalIterations)
	}
}

func TestIterationBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIterations = 3
	provider := &stubProvider{catalog: catalog(150)}
	ctrl := newTestController(t, cfg, provider, nil)
	ctx := context.Background()

	if _, err := ctrl.InitializeFeedbackLoop(ctx, "u1"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	for i := 1; i < cfg.MaxIterations; i++ {
		if _, err := ctrl.GenerateNextBatch(ctx, "u1"); err != nil {
			t.Fatalf("generate %d: %v", i, err)
		}
	}

	// The budget is spent: the next call must refuse.
	if _, err := ctrl.GenerateNextBatch(ctx, "u1"); !errors.Is(err, ErrLoopExhausted) {
		t.Errorf("expected ErrLoopExhausted, got %v", err)
	}
}

func TestSingleActiveBatchInvariant(t *testing.T) {
	provider := &stubProvider{catalog: catalog(150)}
	ctrl := newTestController(t, testConfig(), provider, nil)
	ctx := context.Background()

	first, _ := ctrl.InitializeFeedbackLoop(ctx, "u1")
	second, err := ctrl.GenerateNextBatch(ctx, "u1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	current, err := ctrl.CurrentBatch("u1")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.BatchID != second.BatchID {
		t.Error("current batch should be the newest one")
	}
	if current.BatchID == first.BatchID {
		t.Error("stale batch still active")
	}
}

func TestCompleteBatchIdempotent(t *testing.T) {
	provider := &stubProvider{catalog: catalog(150)}
	ctrl := newTestController(t, testConfig(), provider, nil)
	ctx := context.Background()

	batch, _ := ctrl.InitializeFeedbackLoop(ctx, "u1")

	if err := ctrl.CompleteBatch(ctx, "u1", batch.BatchID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// Second completion of the same batch ID is a no-op.
	if err := ctrl.CompleteBatch(ctx, "u1", batch.BatchID); err != nil {
		t.Errorf("second complete should be a no-op, got %v", err)
	}

	st, _ := ctrl.LoopState("u1")
	if len(st.PreviousBatches) != 1 {
		t.Errorf("previous batches = %d, want 1 (no double completion)", len(st.PreviousBatches))
	}
}

func TestCompleteUnknownBatch(t *testing.T) {
	provider := &stubProvider{catalog: catalog(150)}
	ctrl := newTestController(t, testConfig(), provider, nil)
	ctx := context.Background()

	_, _ = ctrl.InitializeFeedbackLoop(ctx, "u1")
	if err := ctrl.CompleteBatch(ctx, "u1", "never-issued"); !errors.Is(err, ErrUnknownBatch) {
		t.Errorf("expected ErrUnknownBatch, got %v", err)
	}
}

func TestConsumptionCompletionTriggersNextBatch(t *testing.T) {
	provider := &stubProvider{catalog: catalog(150)}
	rec := &captureRecorder{}
	ctrl := newTestController(t, testConfig(), provider, rec)
	ctx := context.Background()

	batch, _ := ctrl.InitializeFeedbackLoop(ctx, "u1")
	for _, clipID := range batch.ClipIDs {
		err := ctrl.TrackClipConsumption(ctx, "u1", ConsumptionEvent{
			ClipID:          clipID,
			WatchPercentage: 0.9,
			DwellTime:       8 * time.Second,
			Terminal:        true,
		})
		if err != nil {
			t.Fatalf("track %s: %v", clipID, err)
		}
	}

	st, _ := ctrl.LoopState("u1")
	if st.ActiveBatch == nil {
		t.Fatal("expected a new active batch after completion")
	}
	if st.ActiveBatch.BatchID == batch.BatchID {
		t.Error("active batch should be the successor, not the completed one")
	}
	if st.ActiveBatch.Iteration != 1 {
		t.Errorf("successor iteration = %d, want 1", st.ActiveBatch.Iteration)
	}
	if len(st.PreviousBatches) != 1 || st.PreviousBatches[0].Metrics == nil {
		t.Error("completed batch with metrics should be in history")
	}

	// One terminal interaction log record per clip.
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.interactions) != len(batch.ClipIDs) {
		t.Errorf("interaction records = %d, want %d", len(rec.interactions), len(batch.ClipIDs))
	}
}

func TestNoBatchOverlapAcrossIterations(t *testing.T) {
	provider := &stubProvider{catalog: catalog(150)}
	ctrl := newTestController(t, testConfig(), provider, nil)
	ctx := context.Background()

	seen := map[string]bool{}
	batch, _ := ctrl.InitializeFeedbackLoop(ctx, "u1")
	for i := 0; i < 3; i++ {
		for _, clipID := range batch.ClipIDs {
			if seen[clipID] {
				t.Fatalf("clip %s served twice", clipID)
			}
			seen[clipID] = true
		}
		var err error
		batch, err = ctrl.GenerateNextBatch(ctx, "u1")
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
	}
}

func TestFallbackWhenAllStrategiesFail(t *testing.T) {
	provider := &stubProvider{fail: true, fallback: catalog(50)}
	ctrl := newTestController(t, testConfig(), provider, nil)

	batch, err := ctrl.InitializeFeedbackLoop(context.Background(), "u1")
	if err != nil {
		t.Fatalf("initialize with fallback: %v", err)
	}
	if len(batch.ClipIDs) != 7 {
		t.Errorf("fallback batch size = %d, want 7", len(batch.ClipIDs))
	}
}

func TestDeleteUserDataPurgesState(t *testing.T) {
	provider := &stubProvider{catalog: catalog(150)}
	ctrl := newTestController(t, testConfig(), provider, nil)
	ctx := context.Background()

	_, _ = ctrl.InitializeFeedbackLoop(ctx, "u1")
	if err := ctrl.DeleteUserData(ctx, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := ctrl.LoopState("u1"); !errors.Is(err, ErrNoState) {
		t.Errorf("state should be gone, got %v", err)
	}
	if _, err := ctrl.CurrentBatch("u1"); !errors.Is(err, ErrNoState) {
		t.Errorf("batch should be gone, got %v", err)
	}
	// Deleting again is harmless.
	if err := ctrl.DeleteUserData(ctx, "u1"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestUninitializedUserErrors(t *testing.T) {
	provider := &stubProvider{catalog: catalog(150)}
	ctrl := newTestController(t, testConfig(), provider, nil)
	ctx := context.Background()

	if _, err := ctrl.GenerateNextBatch(ctx, "ghost"); !errors.Is(err, ErrNoState) {
		t.Errorf("expected ErrNoState, got %v", err)
	}
	err := ctrl.TrackClipConsumption(ctx, "ghost", ConsumptionEvent{ClipID: "c"})
	if !errors.Is(err, ErrNoState) {
		t.Errorf("expected ErrNoState, got %v", err)
	}
}

func TestConcurrentUsersAreIndependent(t *testing.T) {
	provider := &stubProvider{catalog: catalog(500)}
	ctrl := newTestController(t, testConfig(), provider, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", n)
			batch, err := ctrl.InitializeFeedbackLoop(ctx, userID)
			if err != nil {
				t.Errorf("init %s: %v", userID, err)
				return
			}
			for _, clipID := range batch.ClipIDs {
				_ = ctrl.TrackClipConsumption(ctx, userID, ConsumptionEvent{
					ClipID: clipID, WatchPercentage: 0.5, DwellTime: 3 * time.Second, Terminal: true,
				})
			}
		}(i)
	}
	wg.Wait()

	if got := ctrl.ActiveUsers(); got != 8 {
		t.Errorf("active users = %d, want 8", got)
	}
}
