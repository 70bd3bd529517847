// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newCapturedSecurityLogger() (*SecurityLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.TraceLevel)
	return NewSecurityLoggerWithLogger(logger), &buf
}

func TestSecurityLogger_LogHandshakeAuthenticated(t *testing.T) {
	t.Parallel()

	l, buf := newCapturedSecurityLogger()
	l.LogHandshakeAuthenticated("user-1", "store-a", "jwt", "10.0.0.1")

	output := buf.String()
	for _, want := range []string{
		`"event":"handshake_authenticated"`,
		`"status":"success"`,
		`"user_id":"user-1"`,
		`"store_id":"store-a"`,
		`"scheme":"jwt"`,
		`"ip":"10.0.0.1"`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output: %s", want, output)
		}
	}
}

func TestSecurityLogger_LogHandshakeRejected(t *testing.T) {
	t.Parallel()

	l, buf := newCapturedSecurityLogger()
	l.LogHandshakeRejected("store-a", "token", "10.0.0.1", "Invalid authentication token")

	output := buf.String()
	if !strings.Contains(output, `"status":"failed"`) {
		t.Errorf("expected failed status: %s", output)
	}
	if !strings.Contains(output, `"error":"Invalid authentication token"`) {
		t.Errorf("expected rejection reason: %s", output)
	}
}

func TestSecurityLogger_TruncatesLongIdentifiers(t *testing.T) {
	t.Parallel()

	l, buf := newCapturedSecurityLogger()
	long := strings.Repeat("x", 300)
	l.LogHandshakeAuthenticated(long, "store-a", "token", "")

	output := buf.String()
	if strings.Contains(output, long) {
		t.Error("expected long user id to be truncated")
	}
	if !strings.Contains(output, strings.Repeat("x", 64)+"...") {
		t.Errorf("expected truncation marker in output: %s", output)
	}
}

func TestTruncateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exact", 5, "exact"},
		{"toolong", 4, "tool..."},
		{"", 4, ""},
	}

	for _, tt := range tests {
		if got := truncateString(tt.input, tt.maxLen); got != tt.want {
			t.Errorf("truncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}
