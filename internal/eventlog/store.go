// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

// Package eventlog defines the append-only per-store event log and the
// storage interface it is persisted behind.
//
// Each store owns an isolated partition holding a dense sequence of
// events: the first event has seq_num 1 and parent_seq_num 0, and every
// subsequent event's parent_seq_num equals its predecessor's seq_num.
// The head of a store is the seq_num of its last event, 0 when empty.
package eventlog

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// Event is one entry of a store's append-only log. Args is the
// client-supplied payload preserved structurally; nil means the event
// carries no payload.
type Event struct {
	SeqNum       int64
	ParentSeqNum int64
	Name         string
	Args         json.RawMessage
	ClientID     string
	SessionID    string
	CreatedAt    time.Time
}

// Store persists per-store event logs.
//
// Implementations surface storage faults unchanged: no retries, no
// masking. Callers decide how a fault is reported.
type Store interface {
	// EnsureStore creates the store's partition if it does not exist.
	// Idempotent.
	EnsureStore(ctx context.Context, storeID string) error

	// Head returns the store's greatest seq_num, or 0 for an empty or
	// absent partition.
	Head(ctx context.Context, storeID string) (int64, error)

	// Events returns all events with seq_num greater than cursor in
	// ascending seq_num order. A cursor of 0 reads from the beginning.
	Events(ctx context.Context, storeID string, cursor int64) ([]Event, error)

	// AppendBatch inserts the batch into the store's partition. Every
	// row is stamped with createdAt; per-event CreatedAt values on the
	// input are ignored.
	AppendBatch(ctx context.Context, storeID string, batch []Event, createdAt time.Time) error

	// ResetStore drops the store's partition and recreates it empty.
	ResetStore(ctx context.Context, storeID string) error

	// Close releases the store's resources.
	Close()
}
