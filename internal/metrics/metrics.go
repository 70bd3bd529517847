// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

// Package metrics provides Prometheus instrumentation for the sync
// server: connection lifecycle, per-message throughput, push/pull
// outcomes, broadcast delivery, storage latency and relay publishing.
//
// Collectors are registered with the default registry via promauto and
// exposed through promhttp on /metrics. Label cardinality is kept
// bounded: message tags and operation names only, never store ids or
// request ids.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics

	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabularium_ws_connections_active",
			Help: "Current number of open WebSocket connections",
		},
	)

	WSConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabularium_ws_connections_total",
			Help: "Total number of accepted WebSocket connections",
		},
	)

	WSHandshakeRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabularium_ws_handshake_rejections_total",
			Help: "Total number of WebSocket handshakes rejected before attach",
		},
		[]string{"reason"}, // "invalid_payload", "auth", "upgrade"
	)

	// Message metrics

	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabularium_messages_received_total",
			Help: "Total number of client messages received by tag",
		},
		[]string{"tag"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabularium_messages_sent_total",
			Help: "Total number of server messages sent by tag",
		},
		[]string{"tag"},
	)

	// Sync operation metrics

	PushesAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabularium_pushes_accepted_total",
			Help: "Total number of push batches durably appended",
		},
	)

	PushesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabularium_pushes_rejected_total",
			Help: "Total number of rejected push requests",
		},
		[]string{"reason"}, // "unauthenticated", "parent_mismatch", "storage"
	)

	PushedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabularium_pushed_events_total",
			Help: "Total number of events durably appended via push",
		},
	)

	PullsServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabularium_pulls_served_total",
			Help: "Total number of pull requests answered",
		},
	)

	PulledEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabularium_pulled_events_total",
			Help: "Total number of events returned to pull requests",
		},
	)

	AdminResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabularium_admin_resets_total",
			Help: "Total number of completed admin store resets",
		},
	)

	// Broadcast metrics

	BroadcastDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabularium_broadcast_deliveries_total",
			Help: "Total number of broadcast frames handed to subscriber send queues",
		},
	)

	BroadcastDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabularium_broadcast_drops_total",
			Help: "Total number of subscribers dropped for failing a broadcast send",
		},
	)

	// Storage metrics

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tabularium_db_query_duration_seconds",
			Help:    "Duration of event store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"}, // "ensure", "head", "events", "append", "reset"
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabularium_db_query_errors_total",
			Help: "Total number of event store operation errors",
		},
		[]string{"operation"},
	)

	// Relay metrics

	RelayPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabularium_relay_published_total",
			Help: "Total number of committed batches relayed to NATS",
		},
	)

	RelayFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tabularium_relay_failed_total",
			Help: "Total number of relay publish failures (including open breaker)",
		},
	)
)

// ObserveDBQuery records one storage operation's duration, and its
// failure when err is non-nil.
func ObserveDBQuery(operation string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation).Inc()
	}
}
