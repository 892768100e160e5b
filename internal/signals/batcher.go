// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package signals

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/driftlab/feedcore/internal/eventlog"
	"github.com/driftlab/feedcore/internal/metrics"
)

// BatcherConfig bounds batch accumulation.
type BatcherConfig struct {
	// MaxSize dispatches a batch once it holds this many signals.
	MaxSize int
	// MaxAge dispatches a non-empty batch once its oldest signal is this old.
	MaxAge time.Duration
	// CompressThreshold is the marshaled size in bytes above which the
	// batch payload is zstd-compressed. Zero disables compression.
	CompressThreshold int
}

// DefaultBatcherConfig returns production defaults.
func DefaultBatcherConfig() BatcherConfig {
	return BatcherConfig{
		MaxSize:           50,
		MaxAge:            30 * time.Second,
		CompressThreshold: 4 * 1024,
	}
}

// Batcher accumulates signals and dispatches them as SignalBatch records
// on the event bus. It is safe for concurrent use.
type Batcher struct {
	cfg     BatcherConfig
	bus     *eventlog.Bus
	encoder *zstd.Encoder
	logger  zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	pending []UserSignal
	oldest  time.Time
}

// NewBatcher creates a batcher publishing on the given bus.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewBatcher(cfg BatcherConfig, bus *eventlog.Bus, logger zerolog.Logger) (*Batcher, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 50
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * time.Second
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	return &Batcher{
		cfg:     cfg,
		bus:     bus,
		encoder: encoder,
		logger:  logger.With().Str("component", "signal-batcher").Logger(),
		now:     time.Now,
	}, nil
}

// Add queues one signal. The batch dispatches immediately when the size
// cap is reached.
func (b *Batcher) Add(ctx context.Context, sig UserSignal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		b.oldest = b.now()
	}
	b.pending = append(b.pending, sig)

	if len(b.pending) >= b.cfg.MaxSize {
		return b.dispatchLocked(ctx)
	}
	return nil
}

// Flush dispatches whatever is pending, regardless of size or age.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}
	return b.dispatchLocked(ctx)
}

// FlushStale dispatches the pending batch when its oldest signal exceeds
// the age cap.
func (b *Batcher) FlushStale(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 || b.now().Sub(b.oldest) < b.cfg.MaxAge {
		return nil
	}
	return b.dispatchLocked(ctx)
}

// Pending returns the number of queued signals.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Serve runs the age-based flush loop as a supervised service. A final
// flush runs on shutdown so queued signals are not lost.
func (b *Batcher) Serve(ctx context.Context) error {
	interval := b.cfg.MaxAge / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.FlushStale(ctx); err != nil {
				b.logger.Warn().Err(err).Msg("stale batch flush failed")
			}
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := b.Flush(flushCtx); err != nil {
				b.logger.Warn().Err(err).Msg("final batch flush failed")
			}
			cancel()
			return ctx.Err()
		}
	}
}

// dispatchLocked seals the pending signals into a batch and publishes it.
// Caller holds b.mu. On publish failure the signals are requeued.
func (b *Batcher) dispatchLocked(ctx context.Context) error {
	batchID := uuid.New().String()
	signals := b.pending
	for i := range signals {
		signals[i].BatchID = batchID
		signals[i].BatchPosition = i
	}

	data, err := json.Marshal(signals)
	if err != nil {
		return fmt.Errorf("marshal signal batch: %w", err)
	}

	compressed := false
	if b.cfg.CompressThreshold > 0 && len(data) >= b.cfg.CompressThreshold {
		data = b.encoder.EncodeAll(data, make([]byte, 0, len(data)))
		compressed = true
	}

	batch := SignalBatch{
		BatchID:    batchID,
		Count:      len(signals),
		Compressed: compressed,
		Data:       data,
		CreatedAt:  b.now(),
	}

	if err := b.bus.PublishPayload(ctx, eventlog.RecordSignalBatch, batch); err != nil {
		// Keep the signals; the next flush retries with a new batch ID.
		for i := range signals {
			signals[i].BatchID = ""
			signals[i].BatchPosition = 0
		}
		return fmt.Errorf("publish signal batch: %w", err)
	}

	b.pending = nil
	metrics.SignalBatchesDispatched.WithLabelValues(fmt.Sprintf("%t", compressed)).Inc()
	b.logger.Debug().
		Str("batch", batchID).
		Int("count", batch.Count).
		Bool("compressed", compressed).
		Msg("signal batch dispatched")
	return nil
}

// DecodeBatchSignals unpacks a SignalBatch back into its signals,
// decompressing when needed. Used by bus subscribers.
func DecodeBatchSignals(batch SignalBatch) ([]UserSignal, error) {
	data := batch.Data
	if batch.Compressed {
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer decoder.Close()
		data, err = decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress signal batch: %w", err)
		}
	}

	var signals []UserSignal
	if err := json.Unmarshal(data, &signals); err != nil {
		return nil, fmt.Errorf("unmarshal signal batch: %w", err)
	}
	return signals, nil
}
