// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package rank

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/driftlab/feedcore/internal/metrics"
	"github.com/driftlab/feedcore/internal/rank/strategies"
)

var (
	// ErrLoopExhausted is returned once a user's iteration budget is spent.
	ErrLoopExhausted = errors.New("rank: feedback loop iteration budget exhausted")

	// ErrNoState is returned for users without an initialized feedback loop.
	ErrNoState = errors.New("rank: no feedback loop state for user")

	// ErrNoActiveBatch is returned when consumption arrives with no batch in flight.
	ErrNoActiveBatch = errors.New("rank: no active batch")

	// ErrUnknownBatch is returned for batch IDs the user never received.
	ErrUnknownBatch = errors.New("rank: unknown batch id")

	// ErrPoolExhausted is returned when the candidate pool cannot fill a batch.
	ErrPoolExhausted = errors.New("rank: candidate pool exhausted")
)

// defaultSeed keeps shuffling deterministic when no seed is configured.
const defaultSeed = 0x5eedc11b

// initialExplorationRate is the exploration rate of a fresh loop state.
const initialExplorationRate = 0.2

// adaptiveFactorWindow is how many completed batches feed the adaptive
// ranking factors.
const adaptiveFactorWindow = 3

// scoredClip holds the features and predicted score of one served clip, kept
// for interaction logging.
type scoredClip struct {
	Features FeatureVector
	Score    float64
	Position int
}

// userEntry is the per-user arena slot. Its mutex serializes every state
// mutation for that user; cross-user operations run in parallel.
type userEntry struct {
	mu          sync.Mutex
	state       *FeedbackLoopState
	tracker     *BatchConsumptionTracker
	scored      map[string]scoredClip
	served      map[string]bool
	bonus       map[string]float64
	signalCount int
}

// Controller runs the micro-batch feedback loop for all users.
// It is safe for concurrent use.
type Controller struct {
	cfg      Config
	gen      *strategies.Generator
	provider strategies.ContentProvider
	features *FeatureEngine
	recorder Recorder
	logger   zerolog.Logger

	mu    sync.RWMutex
	users map[string]*userEntry

	modelVersion atomic.Int32

	rng   *rand.Rand
	rngMu sync.Mutex
}

// NewController creates the feedback-loop controller.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewController(cfg Config, gen *strategies.Generator, provider strategies.ContentProvider,
	features *FeatureEngine, recorder Recorder, logger zerolog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rank config: %w", err)
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = defaultSeed
	}

	c := &Controller{
		cfg:      cfg,
		gen:      gen,
		provider: provider,
		features: features,
		recorder: recorder,
		logger:   logger.With().Str("component", "feedback-loop").Logger(),
		users:    make(map[string]*userEntry),
		rng:      rand.New(rand.NewSource(seed)),
	}
	c.modelVersion.Store(1)
	return c, nil
}

// SetModelVersion records the currently deployed model version. Called by
// the retraining scheduler after a successful deployment.
func (c *Controller) SetModelVersion(version int32) {
	c.modelVersion.Store(version)
}

// ModelVersion returns the currently deployed model version.
func (c *Controller) ModelVersion() int32 {
	return c.modelVersion.Load()
}

// InitializeFeedbackLoop builds the candidate pool and first batch for a
// user. It is an idempotent no-op when state already exists: the current
// active batch is returned unchanged.
func (c *Controller) InitializeFeedbackLoop(ctx context.Context, userID string) (*ClipsBatch, error) {
	entry := c.entryFor(userID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.state != nil {
		return copyBatch(entry.state.ActiveBatch), nil
	}

	pool, bonus, err := c.buildPool(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	entry.state = &FeedbackLoopState{
		UserID:          userID,
		Weights:         DefaultScoringWeights(),
		AdaptiveRate:    c.cfg.LearningRate,
		ExplorationRate: initialExplorationRate,
		CandidatePool:   pool,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	entry.served = make(map[string]bool)
	entry.bonus = bonus

	metrics.ActiveFeedbackLoops.Inc()

	batch, err := c.generateBatchLocked(ctx, entry)
	if err != nil {
		return nil, err
	}
	return copyBatch(batch), nil
}

// GenerateNextBatch produces the next ranked batch for a user. It returns
// ErrLoopExhausted once the iteration budget is spent and ErrNoState for
// uninitialized users. A failure leaves the user without an active batch;
// the caller must retry or fall back.
func (c *Controller) GenerateNextBatch(ctx context.Context, userID string) (*ClipsBatch, error) {
	entry := c.lookup(userID)
	if entry == nil {
		return nil, ErrNoState
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.state == nil {
		return nil, ErrNoState
	}

	batch, err := c.generateBatchLocked(ctx, entry)
	if err != nil {
		return nil, err
	}
	return copyBatch(batch), nil
}

// TrackClipConsumption applies one consumption event to the user's active
// batch. Events are applied in arrival order; when the last clip reaches
// terminal state the batch completes and the next one is generated.
func (c *Controller) TrackClipConsumption(ctx context.Context, userID string, ev ConsumptionEvent) error {
	entry := c.lookup(userID)
	if entry == nil {
		return ErrNoState
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	st := entry.state
	if st == nil {
		return ErrNoState
	}
	if st.ActiveBatch == nil || entry.tracker == nil {
		return ErrNoActiveBatch
	}

	if err := entry.tracker.Apply(ev, st.Weights, c.cfg.SkipThreshold); err != nil {
		return err
	}
	entry.signalCount++
	st.UpdatedAt = time.Now()

	if ev.Terminal {
		c.recordInteraction(ctx, entry, ev.ClipID)
	}

	if entry.tracker.Complete() {
		c.completeBatchLocked(ctx, entry, st.ActiveBatch.BatchID)
	}
	return nil
}

// CompleteBatch finalizes the given batch: metrics, weight adaptation,
// exploration-rate adjustment, then the next batch. Completing an
// already-completed batch is a no-op.
func (c *Controller) CompleteBatch(ctx context.Context, userID, batchID string) error {
	entry := c.lookup(userID)
	if entry == nil {
		return ErrNoState
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	st := entry.state
	if st == nil {
		return ErrNoState
	}

	if st.ActiveBatch != nil && st.ActiveBatch.BatchID == batchID {
		c.completeBatchLocked(ctx, entry, batchID)
		return nil
	}

	// Second completion of a finished batch is a no-op.
	for _, prev := range st.PreviousBatches {
		if prev.BatchID == batchID {
			return nil
		}
	}
	return ErrUnknownBatch
}

// DeleteUserData purges all loop state for a user: active batch, candidate
// pool, weights, history, and cached features.
func (c *Controller) DeleteUserData(ctx context.Context, userID string) error {
	c.mu.Lock()
	entry, ok := c.users[userID]
	if ok {
		delete(c.users, userID)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}

	// Hold the entry lock so an in-flight operation finishes first.
	entry.mu.Lock()
	entry.state = nil
	entry.tracker = nil
	entry.scored = nil
	entry.served = nil
	entry.bonus = nil
	entry.mu.Unlock()

	if c.features != nil {
		c.features.PurgeUser(userID)
	}
	metrics.ActiveFeedbackLoops.Dec()

	c.logger.Info().Str("user", userID).Msg("user feedback data deleted")
	return nil
}

// CurrentBatch returns a snapshot of the user's active batch.
func (c *Controller) CurrentBatch(userID string) (*ClipsBatch, error) {
	entry := c.lookup(userID)
	if entry == nil {
		return nil, ErrNoState
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.state == nil {
		return nil, ErrNoState
	}
	if entry.state.ActiveBatch == nil {
		return nil, ErrNoActiveBatch
	}
	return copyBatch(entry.state.ActiveBatch), nil
}

// LoopState returns a snapshot of the user's full feedback-loop state.
func (c *Controller) LoopState(userID string) (*FeedbackLoopState, error) {
	entry := c.lookup(userID)
	if entry == nil {
		return nil, ErrNoState
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.state == nil {
		return nil, ErrNoState
	}
	return copyState(entry.state), nil
}

// ActiveUsers returns the number of users with live loop state.
func (c *Controller) ActiveUsers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.users)
}

// entryFor returns the arena slot for a user, creating it when absent.
func (c *Controller) entryFor(userID string) *userEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.users[userID]
	if !ok {
		entry = &userEntry{}
		c.users[userID] = entry
	}
	return entry
}

// lookup returns the arena slot for a user, or nil.
func (c *Controller) lookup(userID string) *userEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.users[userID]
}

// buildPool generates and shuffles the candidate pool. When every strategy
// fails the provider's non-personalized fallback list is used instead.
func (c *Controller) buildPool(ctx context.Context, userID string) ([]string, map[string]float64, error) {
	candidates, err := c.gen.Generate(ctx, userID)
	if errors.Is(err, strategies.ErrAllStrategiesFailed) {
		c.logger.Warn().Str("user", userID).Msg("all strategies failed, using fallback pool")
		ids, fbErr := c.provider.Fallback(ctx, c.cfg.CandidatePoolSize)
		if fbErr != nil {
			return nil, nil, fmt.Errorf("fallback pool for %s: %w", userID, fbErr)
		}
		bonus := make(map[string]float64, len(ids))
		return c.shuffled(ids), bonus, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("candidate pool for %s: %w", userID, err)
	}

	pool := make([]string, 0, len(candidates))
	bonus := make(map[string]float64, len(candidates))
	for _, cand := range candidates {
		pool = append(pool, cand.ContentID)
		bonus[cand.ContentID] = cand.WeightBonus
	}
	pool = c.shuffled(pool)
	if len(pool) > c.cfg.CandidatePoolSize {
		pool = pool[:c.cfg.CandidatePoolSize]
	}
	return pool, bonus, nil
}

// generateBatchLocked assembles the next batch. Caller holds entry.mu.
func (c *Controller) generateBatchLocked(ctx context.Context, entry *userEntry) (*ClipsBatch, error) {
	st := entry.state
	if st.TotalIterations >= c.cfg.MaxIterations {
		return nil, ErrLoopExhausted
	}

	factors := adaptiveFactors(st)
	appetite := explorationAppetite(st, factors)
	personalCount, exploreCount := splitCounts(c.cfg.BatchSize, appetite)

	available := c.availableCandidates(ctx, entry)
	if len(available) == 0 {
		return nil, ErrPoolExhausted
	}
	if len(available) < c.cfg.BatchSize {
		// Short pool: serve what remains, personalized first.
		if personalCount > len(available) {
			personalCount = len(available)
			exploreCount = 0
		} else if personalCount+exploreCount > len(available) {
			exploreCount = len(available) - personalCount
		}
	}

	scored := c.scoreCandidates(ctx, st.UserID, available, entry.bonus)
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	chosen := make([]string, 0, c.cfg.BatchSize)
	features := make(map[string]scoredClip, c.cfg.BatchSize)
	for _, sc := range scored[:personalCount] {
		chosen = append(chosen, sc.id)
		features[sc.id] = scoredClip{Features: sc.features, Score: sc.score}
	}

	// Exploration slots are drawn uniformly from the remainder.
	remainder := scored[personalCount:]
	c.rngMu.Lock()
	c.rng.Shuffle(len(remainder), func(i, j int) {
		remainder[i], remainder[j] = remainder[j], remainder[i]
	})
	c.rngMu.Unlock()
	for i := 0; i < exploreCount && i < len(remainder); i++ {
		sc := remainder[i]
		chosen = append(chosen, sc.id)
		features[sc.id] = scoredClip{Features: sc.features, Score: sc.score}
	}

	// Shuffle the combined set so slot order does not reveal which clips
	// were exploratory.
	chosen = c.shuffled(chosen)

	batch := &ClipsBatch{
		BatchID:           uuid.New().String(),
		UserID:            st.UserID,
		ClipIDs:           chosen,
		BatchType:         c.batchType(st, appetite),
		Iteration:         st.TotalIterations,
		CandidatePoolSize: len(available),
		AdaptiveFactors:   factors,
		PreviousSignals:   entry.signalCount,
		CreatedAt:         time.Now(),
	}

	st.CurrentIteration = st.TotalIterations
	st.TotalIterations++
	st.ActiveBatch = batch
	st.UpdatedAt = batch.CreatedAt
	entry.tracker = NewTracker(batch)
	entry.signalCount = 0
	for pos, clipID := range chosen {
		entry.served[clipID] = true
		features[clipID] = scoredClip{
			Features: features[clipID].Features,
			Score:    features[clipID].Score,
			Position: pos,
		}
		c.recorder.RecordImpression(ctx, ImpressionRecord{
			UserID:         st.UserID,
			ContentID:      clipID,
			BatchID:        batch.BatchID,
			BatchPosition:  pos,
			Features:       features[clipID].Features,
			PredictedScore: features[clipID].Score,
			ModelVersion:   int(c.modelVersion.Load()),
			At:             batch.CreatedAt,
		})
	}
	entry.scored = features

	metrics.BatchesGenerated.WithLabelValues(string(batch.BatchType)).Inc()
	c.logger.Debug().
		Str("user", st.UserID).
		Str("batch", batch.BatchID).
		Str("type", string(batch.BatchType)).
		Int("iteration", batch.Iteration).
		Float64("appetite", appetite).
		Msg("batch generated")

	return batch, nil
}

// availableCandidates returns pool entries not yet served, replenishing the
// pool when it runs low.
func (c *Controller) availableCandidates(ctx context.Context, entry *userEntry) []string {
	st := entry.state

	available := unservedOf(st.CandidatePool, entry.served)
	if len(available) >= c.cfg.BatchSize {
		return available
	}

	// Pool running dry: pull a fresh round of candidates.
	candidates, err := c.gen.Generate(ctx, st.UserID)
	if err != nil {
		c.logger.Warn().Err(err).Str("user", st.UserID).Msg("pool replenish failed")
		return available
	}
	seen := make(map[string]bool, len(st.CandidatePool))
	for _, id := range st.CandidatePool {
		seen[id] = true
	}
	for _, cand := range candidates {
		if seen[cand.ContentID] {
			continue
		}
		st.CandidatePool = append(st.CandidatePool, cand.ContentID)
		entry.bonus[cand.ContentID] = cand.WeightBonus
	}
	return unservedOf(st.CandidatePool, entry.served)
}

type candidateScore struct {
	id       string
	score    float64
	features FeatureVector
}

// scoreCandidates computes the ensemble score of every available candidate.
// A failing feature vector degrades that candidate to its weight bonus
// rather than failing the batch.
func (c *Controller) scoreCandidates(ctx context.Context, userID string, ids []string, bonus map[string]float64) []candidateScore {
	scored := make([]candidateScore, 0, len(ids))
	for _, id := range ids {
		var vec FeatureVector
		if c.features != nil {
			v, err := c.features.Vector(ctx, userID, id)
			if err != nil {
				c.logger.Debug().Err(err).Str("content", id).Msg("feature vector unavailable")
			} else {
				vec = v
			}
		}
		score := 0.8*vec.Ensemble() + 0.2*clamp01(bonus[id])
		scored = append(scored, candidateScore{id: id, score: score, features: vec})
	}
	return scored
}

// batchType labels the batch by loop phase.
func (c *Controller) batchType(st *FeedbackLoopState, appetite float64) BatchType {
	switch {
	case st.TotalIterations == 0:
		return BatchInitial
	case st.ConvergenceScore >= c.cfg.ConvergenceScore:
		return BatchConvergence
	case appetite >= 0.3:
		return BatchExploration
	default:
		return BatchAdaptive
	}
}

// recordInteraction emits the terminal interaction log record for one clip.
func (c *Controller) recordInteraction(ctx context.Context, entry *userEntry, clipID string) {
	st := entry.state
	status, ok := entry.tracker.Clips[clipID]
	if !ok {
		return
	}
	sc := entry.scored[clipID]
	c.recorder.RecordInteraction(ctx, InteractionLogRecord{
		UserID:         st.UserID,
		ContentID:      clipID,
		BatchID:        st.ActiveBatch.BatchID,
		Features:       sc.Features,
		PredictedScore: sc.Score,
		Consumption:    *status,
		ModelVersion:   int(c.modelVersion.Load()),
		At:             time.Now(),
	})
}

// shuffled returns a shuffled copy of ids using the controller RNG.
func (c *Controller) shuffled(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	c.rngMu.Lock()
	c.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	c.rngMu.Unlock()
	return out
}

func unservedOf(pool []string, served map[string]bool) []string {
	out := make([]string, 0, len(pool))
	for _, id := range pool {
		if !served[id] {
			out = append(out, id)
		}
	}
	return out
}

// copyBatch returns a defensive copy for read APIs.
func copyBatch(b *ClipsBatch) *ClipsBatch {
	if b == nil {
		return nil
	}
	out := *b
	out.ClipIDs = append([]string(nil), b.ClipIDs...)
	if b.Metrics != nil {
		m := *b.Metrics
		out.Metrics = &m
	}
	return &out
}

// copyState returns a defensive copy for read APIs.
func copyState(st *FeedbackLoopState) *FeedbackLoopState {
	out := *st
	out.ActiveBatch = copyBatch(st.ActiveBatch)
	out.PreviousBatches = make([]*ClipsBatch, len(st.PreviousBatches))
	for i, b := range st.PreviousBatches {
		out.PreviousBatches[i] = copyBatch(b)
	}
	out.AdaptationHistory = append([]AdaptationRecord(nil), st.AdaptationHistory...)
	out.CandidatePool = nil
	return &out
}
