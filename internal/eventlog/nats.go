// FeedCore - Personalized Short-Form Feed Ranking and Retraining
// Copyright 2026 Driftlab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/driftlab/feedcore

//go:build nats

package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig configures the JetStream transport.
type NATSConfig struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectBuffer int
	QueueGroup      string
}

// DefaultNATSConfig returns production defaults for an external broker.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:             natsgo.DefaultURL,
		MaxReconnects:   -1, // retry forever
		ReconnectWait:   2 * time.Second,
		ReconnectBuffer: 8 * 1024 * 1024,
		QueueGroup:      "feedcore",
	}
}

// natsTransport pairs a JetStream publisher and subscriber behind the
// Transport interface.
type natsTransport struct {
	pub message.Publisher
	sub message.Subscriber
}

// NewNATSTransport connects to an external NATS broker with reconnection
// handling and returns a JetStream-backed transport. Message UUIDs are
// tracked for broker-side deduplication.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewNATSTransport(cfg NATSConfig, logger zerolog.Logger) (Transport, error) {
	wmLogger := NewWatermillLogger(logger)

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.ReconnectBufSize(cfg.ReconnectBuffer),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				wmLogger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			wmLogger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		QueueGroupPrefix: cfg.QueueGroup,
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: true,
			DurablePrefix: cfg.QueueGroup,
		},
	}, wmLogger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create nats subscriber: %w", err)
	}

	return &natsTransport{pub: pub, sub: sub}, nil
}

func (t *natsTransport) Publish(topic string, messages ...*message.Message) error {
	return t.pub.Publish(topic, messages...)
}

func (t *natsTransport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return t.sub.Subscribe(ctx, topic)
}

func (t *natsTransport) Close() error {
	pubErr := t.pub.Close()
	subErr := t.sub.Close()
	if pubErr != nil {
		return pubErr
	}
	return subErr
}
