// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

// Package api provides HTTP routing using Chi router: the root info
// endpoint, the WebSocket handshake, health probes and Prometheus
// metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/tabularium/internal/auth"
	"github.com/tomtom215/tabularium/internal/config"
	"github.com/tomtom215/tabularium/internal/eventlog"
	"github.com/tomtom215/tabularium/internal/logging"
	"github.com/tomtom215/tabularium/internal/session"
	"github.com/tomtom215/tabularium/internal/sync"
)

// rootInfo is the plain-text response of GET /. Byte-identical to the
// reference server's banner so existing probes keep matching.
const rootInfo = "Info: WebSocket sync backend endpoint for @livestore/sync-cf (Go implementation)."

// Router wires the HTTP surface to the sync components.
type Router struct {
	cfg      *config.Config
	store    eventlog.Store
	sessions *session.Manager
	verifier auth.Verifier
	syncCfg  sync.Config
	audit    *logging.SecurityLogger
}

// NewRouter creates a Router. syncCfg is handed to every
// per-connection sync handler as-is.
func NewRouter(cfg *config.Config, store eventlog.Store, sessions *session.Manager, verifier auth.Verifier, syncCfg sync.Config) *Router {
	return &Router{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
		verifier: verifier,
		syncCfg:  syncCfg,
		audit:    logging.NewSecurityLogger(),
	}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order.
	r.Use(chimiddleware.RealIP)    // Extract real IP from X-Forwarded-For
	r.Use(chimiddleware.Recoverer) // Recover from panics
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: router.cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", router.Root)

	// The handshake endpoint carries the only rate limiter: one
	// upgrade storm from a single IP must not starve the listener.
	r.Group(func(r chi.Router) {
		if limit := router.cfg.Server.HandshakeRateLimit; limit > 0 {
			r.Use(httprate.LimitByRealIP(limit, router.cfg.Server.HandshakeRateWindow))
		}
		r.Get("/websocket", router.WebSocket)
	})

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", router.HealthLive)
		r.Get("/ready", router.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
