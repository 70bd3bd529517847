// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRelay struct {
	closes   atomic.Int32
	closeErr error
}

func (f *fakeRelay) Close(ctx context.Context) error {
	f.closes.Add(1)
	return f.closeErr
}

func TestRelayServiceClosesOnShutdown(t *testing.T) {
	relay := &fakeRelay{}
	svc := NewRelayService(relay, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if n := relay.closes.Load(); n != 1 {
		t.Errorf("closes = %d, want 1", n)
	}
}

func TestRelayServiceSurfacesCloseError(t *testing.T) {
	relay := &fakeRelay{closeErr: errors.New("drain failed")}
	svc := NewRelayService(relay, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := svc.Serve(ctx); !errors.Is(err, relay.closeErr) {
		t.Errorf("Serve = %v, want close error", err)
	}
}
