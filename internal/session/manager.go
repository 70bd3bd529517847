// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

// Package session tracks live subscribers per store and owns the
// coordination state the sync protocol depends on: the per-store
// subscriber set, the cached head, and the per-store writer mutex
// that serializes pushes.
//
// Per-store state lives exactly as long as the store has subscribers.
// The first Attach creates it (ensuring the storage partition and
// priming the head cache); the last Detach deletes it. While at least
// one subscriber is attached, the cached head equals the storage head,
// because the only writer of new events also updates the cache and
// both happen under the writer mutex.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/tomtom215/tabularium/internal/eventlog"
	"github.com/tomtom215/tabularium/internal/logging"
	"github.com/tomtom215/tabularium/internal/metrics"
)

// Sender delivers one encoded frame to a subscriber. Implementations
// must be safe for concurrent use; a returned error means the
// subscriber is no longer usable and will be dropped.
type Sender interface {
	Send(data []byte) error
}

// closer is implemented by senders that can close their underlying
// channel with a close code, used during server shutdown.
type closer interface {
	Close(code int, reason string) error
}

// storeState is the per-store coordination state.
type storeState struct {
	subscribers map[Sender]struct{}

	// writer serializes the push pipeline for this store. It is a
	// pointer so in-flight WithWriterLock holders stay valid even if
	// the state is deleted concurrently by the last Detach.
	writer *sync.Mutex

	head int64
}

// Manager owns all per-store session state.
type Manager struct {
	store eventlog.Store

	mu     sync.RWMutex
	stores map[string]*storeState
}

// NewManager creates a Manager backed by the given event store. The
// store is used only to ensure partitions and prime head caches on
// first attach.
func NewManager(store eventlog.Store) *Manager {
	return &Manager{
		store:  store,
		stores: make(map[string]*storeState),
	}
}

// Attach registers a subscriber with a store. On the store's first
// subscriber the storage partition is ensured and the head cache is
// primed from storage; a storage fault leaves the manager unchanged
// and is returned to the caller.
func (m *Manager) Attach(ctx context.Context, storeID string, s Sender) error {
	m.mu.Lock()
	state, ok := m.stores[storeID]
	if ok {
		state.subscribers[s] = struct{}{}
		count := len(state.subscribers)
		m.mu.Unlock()
		logging.Debug().Str("store_id", storeID).Int("subscribers", count).Msg("Subscriber attached")
		return nil
	}
	m.mu.Unlock()

	// First subscriber: prime the head from storage outside the
	// manager lock, then install the state. A racing first attach may
	// have installed it meanwhile; the primed head is identical in
	// that case (nothing can append to a store with no state).
	if err := m.store.EnsureStore(ctx, storeID); err != nil {
		return fmt.Errorf("ensure store %s: %w", storeID, err)
	}
	head, err := m.store.Head(ctx, storeID)
	if err != nil {
		return fmt.Errorf("read head of store %s: %w", storeID, err)
	}

	m.mu.Lock()
	state, ok = m.stores[storeID]
	if !ok {
		state = &storeState{
			subscribers: make(map[Sender]struct{}),
			writer:      &sync.Mutex{},
			head:        head,
		}
		m.stores[storeID] = state
	}
	state.subscribers[s] = struct{}{}
	count := len(state.subscribers)
	m.mu.Unlock()

	logging.Debug().Str("store_id", storeID).Int("subscribers", count).Int64("head", head).Msg("Subscriber attached")
	return nil
}

// Detach removes a subscriber. When the store's subscriber set
// empties, its cached head and writer mutex are released; durable
// state is untouched. Detaching an unknown subscriber is a no-op.
func (m *Manager) Detach(storeID string, s Sender) {
	m.mu.Lock()
	state, ok := m.stores[storeID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(state.subscribers, s)
	count := len(state.subscribers)
	if count == 0 {
		delete(m.stores, storeID)
	}
	m.mu.Unlock()

	logging.Debug().Str("store_id", storeID).Int("subscribers", count).Msg("Subscriber detached")
}

// Head returns the cached head for a store, or 0 when the store has
// no live state. Outside the writer lock the value is only a hint.
func (m *Manager) Head(storeID string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if state, ok := m.stores[storeID]; ok {
		return state.head
	}
	return 0
}

// SetHead updates the cached head. The caller must hold the store's
// writer lock.
func (m *Manager) SetHead(storeID string, head int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.stores[storeID]; ok {
		state.head = head
	}
}

// ActiveConnections returns the store's current subscriber count.
func (m *Manager) ActiveConnections(storeID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if state, ok := m.stores[storeID]; ok {
		return len(state.subscribers)
	}
	return 0
}

// WithWriterLock runs fn while holding the store's writer mutex. It is
// the only serialization point in the server: push pipelines for one
// store run one at a time, in lock acquisition order. Not reentrant.
func (m *Manager) WithWriterLock(storeID string, fn func()) {
	m.mu.RLock()
	state, ok := m.stores[storeID]
	m.mu.RUnlock()
	if !ok {
		// No live state means no concurrent writers either; run
		// directly. Reached only by callers racing their own detach.
		fn()
		return
	}

	state.writer.Lock()
	defer state.writer.Unlock()
	fn()
}

// Broadcast sends data to every subscriber of the store except
// exclude (when non-nil). Delivery is best-effort: a failed send
// drops that subscriber from the set and moves on. Clients recover
// missed frames through cursor-based pull, never through retries
// here.
func (m *Manager) Broadcast(storeID string, data []byte, exclude Sender) {
	m.mu.RLock()
	state, ok := m.stores[storeID]
	if !ok {
		m.mu.RUnlock()
		return
	}
	targets := make([]Sender, 0, len(state.subscribers))
	for s := range state.subscribers {
		if s != exclude {
			targets = append(targets, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range targets {
		if err := s.Send(data); err != nil {
			logging.Warn().Err(err).Str("store_id", storeID).Msg("Dropping subscriber after failed broadcast send")
			metrics.BroadcastDrops.Inc()
			m.Detach(storeID, s)
			continue
		}
		metrics.BroadcastDeliveries.Inc()
	}
}

// CloseAll closes every subscriber channel with the given close code
// and clears all per-store state. Used during server shutdown.
func (m *Manager) CloseAll(code int, reason string) {
	m.mu.Lock()
	stores := m.stores
	m.stores = make(map[string]*storeState)
	m.mu.Unlock()

	for storeID, state := range stores {
		for s := range state.subscribers {
			c, ok := s.(closer)
			if !ok {
				continue
			}
			if err := c.Close(code, reason); err != nil {
				logging.Debug().Err(err).Str("store_id", storeID).Msg("Subscriber close failed during shutdown")
			}
		}
	}
}
