// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
)

// ErrBusClosed is returned for operations on a closed bus.
var ErrBusClosed = errors.New("eventlog: bus closed")

// metadata keys set on every published message.
const (
	MetadataRecordType    = "record_type"
	MetadataSchemaVersion = "schema_version"
)

// Transport is the underlying pub/sub pair a Bus runs on.
type Transport interface {
	message.Publisher
	message.Subscriber
}

// Bus publishes and subscribes versioned records over a Watermill transport.
// It is safe for concurrent use.
type Bus struct {
	transport  Transport
	serializer *Serializer
	logger     zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewGoChannelBus creates a bus over the in-process Go channel transport.
// bufferSize bounds each topic's output channel; subscribers slower than
// publishers block once the buffer fills.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewGoChannelBus(bufferSize int, logger zerolog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	transport := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(bufferSize),
	}, NewWatermillLogger(logger))
	return NewBus(transport, logger)
}

// NewBus creates a bus over the given transport.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewBus(transport Transport, logger zerolog.Logger) *Bus {
	return &Bus{
		transport:  transport,
		serializer: NewSerializer(),
		logger:     logger.With().Str("component", "eventlog").Logger(),
	}
}

// Publish serializes a record and publishes it on the topic derived from
// its type. The record ID doubles as the message UUID for deduplicating
// transports.
func (b *Bus) Publish(ctx context.Context, rec *Record) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	data, err := b.serializer.Marshal(rec)
	if err != nil {
		return err
	}

	msg := message.NewMessage(rec.RecordID, data)
	msg.Metadata.Set(MetadataRecordType, string(rec.Type))
	msg.Metadata.Set(MetadataSchemaVersion, fmt.Sprintf("%d", rec.SchemaVersion))
	msg.SetContext(ctx)

	if err := b.transport.Publish(rec.Topic(), msg); err != nil {
		return fmt.Errorf("publish %s: %w", rec.Topic(), err)
	}
	return nil
}

// PublishPayload wraps a payload in a fresh envelope and publishes it.
func (b *Bus) PublishPayload(ctx context.Context, typ RecordType, payload any) error {
	rec, err := b.serializer.Envelope(typ, payload)
	if err != nil {
		return err
	}
	return b.Publish(ctx, rec)
}

// Subscribe returns the message channel for a topic. Messages must be
// Acked or Nacked by the consumer.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	return b.transport.Subscribe(ctx, topic)
}

// Decode unmarshals a bus message back into a record.
func (b *Bus) Decode(msg *message.Message) (*Record, error) {
	return b.serializer.Unmarshal(msg.Payload)
}

// Close shuts the transport down. Further operations return ErrBusClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.transport.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

// compile-time checks against watermill's interfaces
var (
	_ message.Publisher       = (*gochannel.GoChannel)(nil)
	_ message.Subscriber      = (*gochannel.GoChannel)(nil)
	_ watermill.LoggerAdapter = (*watermillLogger)(nil)
)
