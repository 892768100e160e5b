// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/driftlab/feedcore/internal/eventlog"
	"github.com/driftlab/feedcore/internal/metrics"
	"github.com/driftlab/feedcore/internal/rank"
	"github.com/driftlab/feedcore/internal/store"
)

// bufferKey is the store key the overflow buffer persists under.
const bufferKey = "pipeline/buffer"

// Config bounds pipeline behavior. Loaded from the application config.
type Config struct {
	// BatchSize chunks aggregated points into batches of this many.
	BatchSize int
	// MinQualityScore is the per-point quality floor.
	MinQualityScore float64
	// DefaultQuality is assigned to points converted from raw
	// interactions before a scorer refines it.
	DefaultQuality float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:       500,
		MinQualityScore: 0.3,
		DefaultQuality:  0.7,
	}
}

// Pipeline consumes interaction records off the bus into a buffer and
// aggregates them into validated retraining batches on demand.
type Pipeline struct {
	cfg       Config
	bus       *eventlog.Bus
	store     *store.Store
	validator *Validator
	scorer    *QualityScorer
	logger    zerolog.Logger
	now       func() time.Time

	mu     sync.Mutex
	buffer []RetrainingDataPoint
}

// New creates the pipeline. The persisted overflow buffer is loaded
// immediately; a corrupt buffer key starts empty rather than failing.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(cfg Config, bus *eventlog.Bus, st *store.Store, logger zerolog.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.DefaultQuality <= 0 {
		cfg.DefaultQuality = 0.7
	}
	log := logger.With().Str("component", "pipeline").Logger()

	p := &Pipeline{
		cfg:       cfg,
		bus:       bus,
		store:     st,
		validator: NewValidator(cfg.MinQualityScore, logger),
		scorer:    NewQualityScorer(),
		logger:    log,
		now:       time.Now,
	}
	p.loadBuffer()
	return p
}

// loadBuffer restores the persisted overflow buffer.
func (p *Pipeline) loadBuffer() {
	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var buffered []RetrainingDataPoint
	err := p.store.Get(ctx, bufferKey, &buffered)
	switch {
	case err == nil:
		p.buffer = buffered
		p.logger.Info().Int("points", len(buffered)).Msg("overflow buffer restored")
	case errors.Is(err, store.ErrKeyNotFound):
	default:
		// Corrupt or unreadable buffer: start empty, keep serving.
		p.logger.Warn().Err(err).Msg("overflow buffer unreadable, starting empty")
	}
}

// saveBufferLocked persists the buffer best-effort. Caller holds p.mu.
func (p *Pipeline) saveBufferLocked(ctx context.Context) {
	if p.store == nil {
		return
	}
	if err := p.store.Put(ctx, bufferKey, p.buffer); err != nil {
		p.logger.Warn().Err(err).Msg("overflow buffer save failed")
	}
}

// Ingest converts an interaction record into data points, one per
// algorithm type, and buffers them.
func (p *Pipeline) Ingest(ctx context.Context, rec rank.InteractionLogRecord) {
	quality := p.scorer.PointQuality(rec, p.now())

	p.mu.Lock()
	for _, algorithm := range KnownAlgorithmTypes() {
		p.buffer = append(p.buffer, PointFromInteraction(rec, algorithm, quality))
	}
	p.saveBufferLocked(ctx)
	p.mu.Unlock()
}

// BufferedPoints returns the current buffer depth.
func (p *Pipeline) BufferedPoints() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

// Serve subscribes to the interaction topic and ingests records until the
// context is canceled. Run under the supervision tree.
func (p *Pipeline) Serve(ctx context.Context) error {
	msgs, err := p.bus.Subscribe(ctx, eventlog.TopicInteractions)
	if err != nil {
		return fmt.Errorf("subscribe interactions: %w", err)
	}

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			rec, err := p.bus.Decode(msg)
			if err != nil {
				p.logger.Warn().Err(err).Str("msg", msg.UUID).Msg("undecodable interaction dropped")
				msg.Ack()
				continue
			}
			var interaction rank.InteractionLogRecord
			if err := json.Unmarshal(rec.Payload, &interaction); err != nil {
				p.logger.Warn().Err(err).Str("record", rec.RecordID).Msg("malformed interaction dropped")
				msg.Ack()
				continue
			}
			p.Ingest(msg.Context(), interaction)
			msg.Ack()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Aggregate drains buffered points inside the time window into validated,
// algorithm-grouped batches of at most BatchSize points. Consumed points
// are removed from the buffer; points outside the window stay buffered.
func (p *Pipeline) Aggregate(ctx context.Context, window time.Duration) ([]RetrainingDataBatch, error) {
	if window <= 0 {
		return nil, fmt.Errorf("aggregate: window must be positive, got %s", window)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	end := p.now()
	start := end.Add(-window)

	inWindow := make([]RetrainingDataPoint, 0, len(p.buffer))
	remaining := make([]RetrainingDataPoint, 0, len(p.buffer))
	for i := range p.buffer {
		at := p.buffer[i].AnonymizedAt
		if at.After(start) && !at.After(end) {
			inWindow = append(inWindow, p.buffer[i])
		} else if at.After(end) {
			// Future-stamped points wait for the next window.
			remaining = append(remaining, p.buffer[i])
		}
		// Points older than the window are discarded with the consumed set.
	}

	clean, report := p.validator.ValidateAndClean(inWindow)
	if report.Total() > 0 {
		p.logger.Debug().Int("dropped", report.Total()).Msg("aggregation dropped points")
	}

	grouped := make(map[AlgorithmType][]RetrainingDataPoint)
	for i := range clean {
		grouped[clean[i].AlgorithmType] = append(grouped[clean[i].AlgorithmType], clean[i])
	}

	var batches []RetrainingDataBatch
	for _, algorithm := range KnownAlgorithmTypes() {
		points := grouped[algorithm]
		for len(points) > 0 {
			n := p.cfg.BatchSize
			if n > len(points) {
				n = len(points)
			}
			batch := NewBatch(algorithm, points[:n], start, end)
			metrics.PipelineBatchQuality.Observe(batch.QualityScore)
			batches = append(batches, batch)
			points = points[n:]
		}
	}

	p.buffer = remaining
	p.saveBufferLocked(ctx)

	p.logger.Info().
		Int("batches", len(batches)).
		Int("points", len(clean)).
		Int("buffered", len(remaining)).
		Msg("retraining data aggregated")
	return batches, nil
}
