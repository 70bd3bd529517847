// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

package services

import (
	"context"
	"time"
)

// RelayCloser is the relay's lifecycle surface. The relay itself is
// passive (committed batches are pushed into it), so supervision only
// has to hold it open and close it on shutdown.
type RelayCloser interface {
	Close(ctx context.Context) error
}

// RelayService parks the relay under the supervisor tree so shutdown
// ordering is handled in one place.
type RelayService struct {
	relay        RelayCloser
	closeTimeout time.Duration
}

// NewRelayService wraps a relay as a supervised service.
func NewRelayService(relay RelayCloser, closeTimeout time.Duration) *RelayService {
	if closeTimeout <= 0 {
		closeTimeout = 10 * time.Second
	}
	return &RelayService{relay: relay, closeTimeout: closeTimeout}
}

// Serve implements suture.Service: it blocks until shutdown, then
// closes the relay with a bounded context.
func (r *RelayService) Serve(ctx context.Context) error {
	<-ctx.Done()

	closeCtx, cancel := context.WithTimeout(context.Background(), r.closeTimeout)
	defer cancel()
	if err := r.relay.Close(closeCtx); err != nil {
		return err
	}
	return ctx.Err()
}

// String identifies the service in suture's event log.
func (r *RelayService) String() string {
	return "nats-relay"
}
