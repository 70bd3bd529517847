// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gorilla "github.com/gorilla/websocket"

	"github.com/tomtom215/tabularium/internal/auth"
	"github.com/tomtom215/tabularium/internal/logging"
	"github.com/tomtom215/tabularium/internal/metrics"
	"github.com/tomtom215/tabularium/internal/sync"
	"github.com/tomtom215/tabularium/internal/websocket"
)

var upgrader = gorilla.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Browser clients connect cross-origin by design; access control
	// happens in the handshake payload, not the Origin header.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WebSocket performs the sync channel handshake:
//
//	GET /websocket?storeId=<id>&payload=<url-encoded JSON>
//
// A missing storeId fails with HTTP 400 before the upgrade. Everything
// after the upgrade is reported as a close code: 1003 for a malformed
// payload, 1008 for an authorization hard rejection, 1011 for internal
// faults, 1000 on normal teardown.
func (router *Router) WebSocket(w http.ResponseWriter, r *http.Request) {
	storeID := r.URL.Query().Get("storeId")
	if storeID == "" {
		metrics.WSHandshakeRejections.WithLabelValues("missing_store_id").Inc()
		http.Error(w, "storeId query parameter is required", http.StatusBadRequest)
		return
	}
	rawPayload := r.URL.Query().Get("payload")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		metrics.WSHandshakeRejections.WithLabelValues("upgrade_failed").Inc()
		logging.Debug().Err(err).Str("store_id", storeID).Msg("WebSocket upgrade failed")
		return
	}

	payload, err := decodePayload(rawPayload)
	if err != nil {
		metrics.WSHandshakeRejections.WithLabelValues("bad_payload").Inc()
		logging.Warn().Err(err).Str("store_id", storeID).Msg("Rejecting handshake with malformed payload")
		closeConn(conn, gorilla.CloseUnsupportedData, "Invalid JSON payload format")
		return
	}

	record, err := router.verifier.VerifyPayload(payload, storeID)
	if err != nil {
		if errors.Is(err, auth.ErrRejected) {
			metrics.WSHandshakeRejections.WithLabelValues("auth_rejected").Inc()
			router.audit.LogHandshakeRejected(storeID, payloadScheme(payload), r.RemoteAddr, rejectionReason(err))
			closeConn(conn, gorilla.ClosePolicyViolation, rejectionReason(err))
			return
		}
		metrics.WSHandshakeRejections.WithLabelValues("internal").Inc()
		logging.Error().Err(err).Str("store_id", storeID).Msg("Handshake verification fault")
		closeConn(conn, gorilla.CloseInternalServerErr, "Internal server error")
		return
	}

	client := websocket.NewClient(conn, router.cfg.Server.WSMessageRate, router.cfg.Server.WSMessageBurst)
	if err := router.sessions.Attach(r.Context(), storeID, client); err != nil {
		logging.Error().Err(err).Str("store_id", storeID).Msg("Session attach failed")
		_ = client.Close(gorilla.CloseInternalServerErr, "Internal server error")
		return
	}

	metrics.WSConnectionsActive.Inc()
	metrics.WSConnectionsTotal.Inc()
	router.audit.LogHandshakeAuthenticated(record.UserID, storeID, payloadScheme(payload), r.RemoteAddr)
	logging.Info().
		Str("store_id", storeID).
		Str("client_id", client.ID()).
		Str("user_id", record.UserID).
		Bool("authenticated", record.Authenticated).
		Bool("admin", record.IsAdmin).
		Msg("WebSocket connected")

	defer func() {
		router.sessions.Detach(storeID, client)
		metrics.WSConnectionsActive.Dec()

		if fault := recover(); fault != nil {
			logging.Error().Interface("panic", fault).Str("store_id", storeID).Str("client_id", client.ID()).Msg("Session loop panicked")
			_ = client.Close(gorilla.CloseInternalServerErr, "Internal server error")
			return
		}
		_ = client.Close(gorilla.CloseNormalClosure, "")
		logging.Info().Str("store_id", storeID).Str("client_id", client.ID()).Msg("WebSocket disconnected")
	}()

	handler := sync.NewHandler(router.store, router.sessions, router.syncCfg, storeID, record, client)
	client.Run(r.Context(), handler.HandleMessage)
}

// decodePayload parses the payload query parameter. The empty string
// yields a nil payload, which the verifier treats as anonymous.
func decodePayload(raw string) (*auth.Payload, error) {
	if raw == "" {
		return nil, nil
	}
	var payload auth.Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// payloadScheme names the credential scheme a payload leads with, for
// audit logging only; the verifier makes the actual decision.
func payloadScheme(payload *auth.Payload) string {
	switch {
	case payload == nil:
		return "anonymous"
	case payload.JWTToken != "" || payload.JWT != "":
		return "jwt"
	case payload.AuthToken != "" || payload.Auth != "":
		return "token"
	case payload.AdminSecret != "":
		return "admin_secret"
	default:
		return "anonymous"
	}
}

// rejectionReason strips the sentinel prefix so the close frame carries
// only the human-readable reason.
func rejectionReason(err error) string {
	reason := strings.TrimPrefix(err.Error(), auth.ErrRejected.Error()+": ")
	// Close frame payloads are capped at 125 bytes total.
	if len(reason) > 100 {
		reason = reason[:100]
	}
	return reason
}

// closeConn tears down a connection the handshake rejected before a
// Client existed for it.
func closeConn(conn *gorilla.Conn, code int, reason string) {
	deadline := time.Now().Add(5 * time.Second)
	message := gorilla.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(gorilla.CloseMessage, message, deadline); err != nil {
		logging.Debug().Err(err).Msg("Close frame write failed")
	}
	_ = conn.Close()
}
