// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

package websocket

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/tabularium/internal/logging"
)

func init() {
	logging.SetLogger(logging.NewTestLogger(io.Discard))
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// dialTestClient upgrades a server-side Client and returns the
// client-side conn for driving it.
func dialTestClient(t *testing.T, messageRate float64, handler MessageHandler) (*websocket.Conn, *Client, func()) {
	t.Helper()

	serverSide := make(chan *Client, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		client := NewClient(conn, messageRate, 1)
		serverSide <- client
		client.Run(r.Context(), handler)
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	dialed, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	var client *Client
	select {
	case client = <-serverSide:
	case <-time.After(2 * time.Second):
		srv.Close()
		t.Fatal("server-side client never created")
	}

	cleanup := func() {
		dialed.Close()
		srv.Close()
	}
	return dialed, client, cleanup
}

func TestReadDispatchesInOrder(t *testing.T) {
	var mu sync.Mutex
	var received []string
	handler := func(_ context.Context, data []byte) {
		mu.Lock()
		received = append(received, string(data))
		mu.Unlock()
	}

	dialed, _, cleanup := dialTestClient(t, 0, handler)
	defer cleanup()

	for _, msg := range []string{"one", "two", "three"} {
		if err := dialed.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("received %d messages, want 3", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{"one", "two", "three"} {
		if received[i] != want {
			t.Errorf("received[%d] = %q, want %q", i, received[i], want)
		}
	}
}

func TestSendDeliversFrames(t *testing.T) {
	dialed, client, cleanup := dialTestClient(t, 0, func(context.Context, []byte) {})
	defer cleanup()

	if err := client.Send([]byte(`{"hello":"world"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := dialed.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("deadline: %v", err)
	}
	_, data, err := dialed.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"hello":"world"}` {
		t.Errorf("frame = %s", data)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	_, client, cleanup := dialTestClient(t, 0, func(context.Context, []byte) {})
	defer cleanup()

	if err := client.Close(websocket.CloseNormalClosure, "bye"); err != nil {
		t.Logf("close: %v", err) // close error after handshake teardown is acceptable
	}
	if err := client.Send([]byte("late")); err == nil {
		t.Error("Send after Close = nil error, want failure")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	_, client, cleanup := dialTestClient(t, 0, func(context.Context, []byte) {})
	defer cleanup()

	_ = client.Close(websocket.ClosePolicyViolation, "first")
	_ = client.Close(websocket.ClosePolicyViolation, "second") // must not panic
}

func TestBinaryFramesIgnored(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	handler := func(context.Context, []byte) {
		mu.Lock()
		calls++
		mu.Unlock()
	}

	dialed, _, cleanup := dialTestClient(t, 0, handler)
	defer cleanup()

	if err := dialed.WriteMessage(websocket.BinaryMessage, []byte{0x01}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	if err := dialed.WriteMessage(websocket.TextMessage, []byte("text")); err != nil {
		t.Fatalf("write text: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("text frame never dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1 (binary ignored)", calls)
	}
}
