// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

// Package relay republishes committed event batches to NATS JetStream
// so downstream consumers (analytics, audit, cross-region mirrors) can
// follow the logs without speaking the sync protocol.
//
// The relay sits strictly behind the commit: it receives batches after
// the writer lock is released and publishes fire-and-forget. A dead
// NATS server degrades the relay, never the sync path.
package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/tabularium/internal/config"
	"github.com/tomtom215/tabularium/internal/eventlog"
	"github.com/tomtom215/tabularium/internal/logging"
	"github.com/tomtom215/tabularium/internal/metrics"
)

// CommittedBatch is the relay's wire envelope: one message per
// committed push, carrying the batch exactly as stored.
type CommittedBatch struct {
	StoreID     string           `json:"storeId"`
	CommittedAt time.Time        `json:"committedAt"`
	Events      []eventlog.Event `json:"events"`
}

// Relay publishes committed batches to JetStream. It implements the
// sync handler's commit listener.
type Relay struct {
	publisher     message.Publisher
	breaker       *gobreaker.CircuitBreaker[any]
	embedded      *EmbeddedServer
	conn          *natsgo.Conn
	subjectPrefix string

	mu     sync.RWMutex
	closed bool
}

// New starts the relay: the embedded server when configured, the NATS
// connection, the JetStream stream, and the Watermill publisher.
func New(ctx context.Context, cfg config.RelayConfig) (*Relay, error) {
	r := &Relay{subjectPrefix: cfg.SubjectPrefix}

	url := cfg.URL
	if cfg.EmbeddedServer {
		embedded, err := NewEmbeddedServer(cfg.StoreDir)
		if err != nil {
			return nil, err
		}
		r.embedded = embedded
		url = embedded.ClientURL()
		logging.Info().Str("url", url).Msg("Embedded NATS server started")
	}

	conn, err := natsgo.Connect(url,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("Relay NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("Relay NATS reconnected")
		}),
	)
	if err != nil {
		r.shutdownEmbedded()
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	r.conn = conn

	if err := ensureStream(ctx, conn, cfg); err != nil {
		conn.Close()
		r.shutdownEmbedded()
		return nil, err
	}

	wmLogger := watermill.NewSlogLogger(logging.NewSlogLogger())
	publisher, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL: url,
		NatsOptions: []natsgo.Option{
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(-1),
			natsgo.ReconnectWait(2 * time.Second),
		},
		Marshaler: &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // stream is pre-created by ensureStream
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, wmLogger)
	if err != nil {
		conn.Close()
		r.shutdownEmbedded()
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}
	r.publisher = publisher

	r.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "relay-publish",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Relay circuit breaker state changed")
		},
	})

	return r, nil
}

// EventsCommitted publishes one envelope per committed batch.
// Publishing is fire-and-forget: failures are logged and counted, the
// push that produced the batch has already succeeded.
func (r *Relay) EventsCommitted(storeID string, batch []eventlog.Event) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed || len(batch) == 0 {
		return
	}

	envelope := CommittedBatch{
		StoreID:     storeID,
		CommittedAt: batch[0].CreatedAt,
		Events:      batch,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		metrics.RelayFailed.Inc()
		logging.Error().Err(err).Str("store_id", storeID).Msg("Relay envelope encoding failed")
		return
	}

	msg := message.NewMessage(uuid.NewString(), data)
	msg.Metadata.Set("store_id", storeID)
	msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)

	subject := r.Subject(storeID)
	_, err = r.breaker.Execute(func() (any, error) {
		return nil, r.publisher.Publish(subject, msg)
	})
	if err != nil {
		metrics.RelayFailed.Inc()
		logging.Error().Err(err).Str("store_id", storeID).Str("subject", subject).Msg("Relay publish failed")
		return
	}

	metrics.RelayPublished.Inc()
	logging.Debug().
		Str("store_id", storeID).
		Str("subject", subject).
		Int("events", len(batch)).
		Msg("Relay published committed batch")
}

// Subject returns the JetStream subject for a store.
func (r *Relay) Subject(storeID string) string {
	return r.subjectPrefix + "." + eventlog.SanitizeID(storeID)
}

// Close stops the publisher, the connection, and the embedded server.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	var firstErr error
	if err := r.publisher.Close(); err != nil {
		firstErr = fmt.Errorf("close publisher: %w", err)
	}
	r.conn.Close()
	if r.embedded != nil {
		if err := r.embedded.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Relay) shutdownEmbedded() {
	if r.embedded != nil {
		_ = r.embedded.Shutdown(context.Background())
	}
}
