// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

// Package main is the entry point for the Tabularium server.
//
// Tabularium is a real-time event log synchronization backend: clients
// connect over WebSocket, each scoped to one store, and pull, push and
// administer append-only event logs persisted in PostgreSQL. Committed
// batches fan out to every live subscriber of the store and, when the
// relay is enabled, to NATS JetStream for downstream consumers.
//
// # Startup order
//
//  1. Configuration: Koanf v2 layered loading (env > file > defaults)
//  2. Logging: zerolog, configured from LOG_LEVEL / LOG_FORMAT
//  3. Event store: pgx connection pool against DATABASE_URL
//  4. Session manager, auth verifier, sync handler wiring
//  5. Relay (optional): NATS JetStream publisher, embedded or external
//  6. Supervisor tree: relay and HTTP server as supervised services
//
// # Shutdown
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP listener
// drains within SHUTDOWN_TIMEOUT, every live WebSocket receives close
// code 1001, the relay flushes, and the pool closes last.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	_ "go.uber.org/automaxprocs"

	"github.com/tomtom215/tabularium/internal/api"
	"github.com/tomtom215/tabularium/internal/auth"
	"github.com/tomtom215/tabularium/internal/config"
	"github.com/tomtom215/tabularium/internal/eventlog/postgres"
	"github.com/tomtom215/tabularium/internal/logging"
	"github.com/tomtom215/tabularium/internal/relay"
	"github.com/tomtom215/tabularium/internal/session"
	"github.com/tomtom215/tabularium/internal/supervisor"
	"github.com/tomtom215/tabularium/internal/supervisor/services"
	"github.com/tomtom215/tabularium/internal/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Int("format_version", cfg.Database.FormatVersion).
		Bool("relay_enabled", cfg.Relay.Enabled).
		Msg("Starting Tabularium")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := postgres.New(ctx, postgres.Config{
		URL:            cfg.Database.URL,
		MinConns:       cfg.Database.PoolMinConns,
		MaxConns:       cfg.Database.PoolMaxConns,
		CommandTimeout: cfg.Database.CommandTimeout,
		FormatVersion:  cfg.Database.FormatVersion,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to event store")
	}
	defer store.Close()
	logging.Info().Msg("Event store connected")

	sessions := session.NewManager(store)

	var jwtManager *auth.JWTManager
	if cfg.Auth.JWTSecret != "" {
		jwtManager, err = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to initialize JWT manager")
		}
		logging.Info().Msg("JWT handshake scheme enabled")
	}
	verifier := auth.NewPayloadVerifier(jwtManager, cfg.Auth.AuthToken, cfg.Auth.AdminSecret)

	tree := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})

	syncCfg := sync.Config{
		PullChunkSize: cfg.Database.PullChunkSize,
		AdminSecret:   cfg.Auth.AdminSecret,
	}
	if cfg.Relay.Enabled {
		rly, err := relay.New(ctx, cfg.Relay)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start relay")
		}
		syncCfg.OnCommit = rly
		tree.AddMessagingService(services.NewRelayService(rly, cfg.Server.ShutdownTimeout))
		logging.Info().Str("stream", cfg.Relay.StreamName).Msg("Relay started")
	}

	router := api.NewRouter(cfg, store, sessions, verifier, syncCfg)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Setup(),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		// No ReadTimeout/WriteTimeout: WebSocket connections are
		// hijacked and manage their own deadlines.
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutting down, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Tell every live client the server is going away, then wait for
	// the tree to drain.
	sessions.CloseAll(websocket.CloseGoingAway, "Server shutting down")

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Server stopped gracefully")
}
