// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tabularium/internal/logging"
)

// pinger is implemented by storage backends that can verify their
// connection; the readiness probe uses it when available.
type pinger interface {
	Ping(ctx context.Context) error
}

// Root serves the plain-text endpoint banner.
func (router *Router) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(rootInfo))
}

// HealthLive reports process liveness. It succeeds whenever the
// listener can serve requests at all.
func (router *Router) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, "alive")
}

// HealthReady reports readiness to serve sync traffic: the event store
// must answer a ping. Backends without a ping (the in-memory store)
// are always ready.
func (router *Router) HealthReady(w http.ResponseWriter, r *http.Request) {
	p, ok := router.store.(pinger)
	if !ok {
		writeHealth(w, http.StatusOK, "ready")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		logging.Warn().Err(err).Msg("Readiness probe failed")
		writeHealth(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeHealth(w, http.StatusOK, "ready")
}

func writeHealth(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": message}); err != nil {
		logging.Debug().Err(err).Msg("Health response write failed")
	}
}
