// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

// Package memory provides an in-memory eventlog.Store for tests and
// ephemeral single-process deployments.
//
// Partitions are keyed exactly like the PostgreSQL implementation's
// table names, so store-id sanitization collisions behave the same in
// both backends.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/tabularium/internal/eventlog"
)

// Store is a map-backed eventlog.Store guarded by a single RWMutex.
type Store struct {
	mu            sync.RWMutex
	partitions    map[string][]eventlog.Event
	formatVersion int
	closed        bool
}

// New creates an empty in-memory store using the default log format
// version.
func New() *Store {
	return NewWithFormatVersion(eventlog.DefaultFormatVersion)
}

// NewWithFormatVersion creates an empty in-memory store with an
// explicit format version.
func NewWithFormatVersion(formatVersion int) *Store {
	return &Store{
		partitions:    make(map[string][]eventlog.Event),
		formatVersion: formatVersion,
	}
}

// EnsureStore creates the store's partition if it does not exist.
func (s *Store) EnsureStore(_ context.Context, storeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return eventlog.ErrStoreClosed
	}

	name := eventlog.PartitionName(s.formatVersion, storeID)
	if _, ok := s.partitions[name]; !ok {
		s.partitions[name] = nil
	}
	return nil
}

// Head returns the greatest seq_num in the store's partition.
func (s *Store) Head(_ context.Context, storeID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, eventlog.ErrStoreClosed
	}

	events, err := s.partition(storeID)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}
	return events[len(events)-1].SeqNum, nil
}

// Events returns all events after cursor in ascending seq_num order.
func (s *Store) Events(_ context.Context, storeID string, cursor int64) ([]eventlog.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, eventlog.ErrStoreClosed
	}

	events, err := s.partition(storeID)
	if err != nil {
		return nil, err
	}

	out := make([]eventlog.Event, 0, len(events))
	for _, ev := range events {
		if ev.SeqNum > cursor {
			out = append(out, ev)
		}
	}
	return out, nil
}

// AppendBatch inserts the batch, stamping every event with createdAt.
func (s *Store) AppendBatch(_ context.Context, storeID string, batch []eventlog.Event, createdAt time.Time) error {
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return eventlog.ErrStoreClosed
	}

	name := eventlog.PartitionName(s.formatVersion, storeID)
	events, ok := s.partitions[name]
	if !ok {
		return fmt.Errorf("partition %s does not exist", name)
	}

	seen := make(map[int64]struct{}, len(events)+len(batch))
	for _, ev := range events {
		seen[ev.SeqNum] = struct{}{}
	}
	for _, ev := range batch {
		if _, dup := seen[ev.SeqNum]; dup {
			return fmt.Errorf("%w: seq_num %d in partition %s", eventlog.ErrDuplicateSeqNum, ev.SeqNum, name)
		}
		seen[ev.SeqNum] = struct{}{}
	}

	for _, ev := range batch {
		ev.CreatedAt = createdAt
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].SeqNum < events[j].SeqNum })
	s.partitions[name] = events
	return nil
}

// ResetStore drops the partition's contents and recreates it empty.
func (s *Store) ResetStore(_ context.Context, storeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return eventlog.ErrStoreClosed
	}

	s.partitions[eventlog.PartitionName(s.formatVersion, storeID)] = nil
	return nil
}

// Close marks the store closed; subsequent operations fail with
// eventlog.ErrStoreClosed.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.partitions = nil
}

// partition resolves a store id to its event slice (read lock held).
func (s *Store) partition(storeID string) ([]eventlog.Event, error) {
	name := eventlog.PartitionName(s.formatVersion, storeID)
	events, ok := s.partitions[name]
	if !ok {
		return nil, fmt.Errorf("partition %s does not exist", name)
	}
	return events, nil
}
