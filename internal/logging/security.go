// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

package logging

import (
	"github.com/rs/zerolog"
)

// SecurityEvent represents a security-relevant event for audit logging.
type SecurityEvent struct {
	// Event is the type of event (e.g., "handshake_authenticated", "handshake_rejected").
	Event string
	// UserID is the user's identifier (if known).
	UserID string
	// StoreID is the store the connection is scoped to.
	StoreID string
	// Scheme is the credential scheme that decided the outcome (jwt, token, admin_secret, anonymous).
	Scheme string
	// IPAddress is the client's IP address.
	IPAddress string
	// Success indicates if the operation was successful.
	Success bool
	// Error is the reason if the operation failed.
	Error string
}

// SecurityLogger provides audit logging for authentication and admin
// decisions. Credential material never passes through it; callers supply
// only outcomes and identifiers, which are truncated before emission.
type SecurityLogger struct {
	logger zerolog.Logger
}

// NewSecurityLogger creates a new security logger.
func NewSecurityLogger() *SecurityLogger {
	return &SecurityLogger{
		logger: With().Str("component", "auth").Logger(),
	}
}

// NewSecurityLoggerWithLogger creates a security logger with a custom zerolog logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewSecurityLoggerWithLogger(logger zerolog.Logger) *SecurityLogger {
	return &SecurityLogger{
		logger: logger.With().Str("component", "auth").Logger(),
	}
}

// LogEvent logs a security event.
func (l *SecurityLogger) LogEvent(event *SecurityEvent) {
	e := l.logger.Info().Str("event", event.Event)

	if event.Success {
		e = e.Str("status", "success")
	} else {
		e = e.Str("status", "failed")
	}

	if event.UserID != "" {
		e = e.Str("user_id", truncateString(event.UserID, 64))
	}
	if event.StoreID != "" {
		e = e.Str("store_id", truncateString(event.StoreID, 128))
	}
	if event.Scheme != "" {
		e = e.Str("scheme", event.Scheme)
	}
	if event.IPAddress != "" {
		e = e.Str("ip", event.IPAddress)
	}
	if event.Error != "" && !event.Success {
		e = e.Str("error", event.Error)
	}

	e.Msg("")
}

// LogHandshakeAuthenticated logs an accepted channel handshake.
func (l *SecurityLogger) LogHandshakeAuthenticated(userID, storeID, scheme, ip string) {
	l.LogEvent(&SecurityEvent{
		Event:     "handshake_authenticated",
		UserID:    userID,
		StoreID:   storeID,
		Scheme:    scheme,
		IPAddress: ip,
		Success:   true,
	})
}

// LogHandshakeRejected logs a rejected channel handshake.
func (l *SecurityLogger) LogHandshakeRejected(storeID, scheme, ip, reason string) {
	l.LogEvent(&SecurityEvent{
		Event:     "handshake_rejected",
		StoreID:   storeID,
		Scheme:    scheme,
		IPAddress: ip,
		Success:   false,
		Error:     reason,
	})
}

// LogAdminDenied logs a rejected admin operation on an established channel.
func (l *SecurityLogger) LogAdminDenied(userID, storeID, operation string) {
	l.LogEvent(&SecurityEvent{
		Event:   "admin_denied",
		UserID:  userID,
		StoreID: storeID,
		Scheme:  operation,
		Success: false,
		Error:   "invalid admin secret or insufficient privileges",
	})
}

// truncateString limits a string to maxLen runes.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
