// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

// Package websocket owns the transport side of a sync connection: the
// gorilla/websocket conn, its read and write pumps, and the buffered
// send queue the session manager broadcasts into.
//
// A Client is a session.Sender: Send enqueues a prepared text frame
// and fails when the queue is full or the client is closing, which is
// the signal the session manager uses to drop slow subscribers.
package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/tabularium/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024 * 1024 // 16 MB; push batches can be large
	sendBufferSize = 256
)

// MessageHandler processes one inbound text frame.
type MessageHandler func(ctx context.Context, data []byte)

// Client wraps one WebSocket connection.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	// limiter throttles inbound frames when configured; nil means
	// unthrottled.
	limiter *rate.Limiter

	closeOnce sync.Once
	done      chan struct{}
}

// NewClient wraps an upgraded connection. messageRate > 0 enables the
// inbound throttle at that many frames per second with the given
// burst.
func NewClient(conn *websocket.Conn, messageRate float64, messageBurst int) *Client {
	var limiter *rate.Limiter
	if messageRate > 0 {
		if messageBurst < 1 {
			messageBurst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(messageRate), messageBurst)
	}
	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		limiter: limiter,
		done:    make(chan struct{}),
	}
}

// ID returns the connection's unique identifier, used in logs.
func (c *Client) ID() string {
	return c.id
}

// Send enqueues a frame for the write pump. It never blocks: a full
// queue or a closing client returns an error, and the caller treats
// the subscriber as dead.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("client %s is closed", c.id)
	default:
	}

	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("client %s send buffer full", c.id)
	}
}

// Close sends a close control frame with the given code and tears the
// connection down. Safe to call more than once and concurrently with
// the pumps.
func (c *Client) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(writeWait)
		message := websocket.FormatCloseMessage(code, reason)
		if writeErr := c.conn.WriteControl(websocket.CloseMessage, message, deadline); writeErr != nil {
			logging.Debug().Err(writeErr).Str("client_id", c.id).Msg("Close frame write failed")
		}
		err = c.conn.Close()
	})
	return err
}

// Run drives both pumps and blocks until the connection dies or ctx
// is canceled. Each inbound text frame is handed to handler in
// arrival order; handler runs on the read pump goroutine, so one
// connection processes one message at a time.
func (c *Client) Run(ctx context.Context, handler MessageHandler) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(cancel)
	c.readPump(ctx, handler)
}

func (c *Client) readPump(ctx context.Context, handler MessageHandler) {
	defer func() {
		_ = c.Close(websocket.CloseNormalClosure, "")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Str("client_id", c.id).Msg("Failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}

		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Str("client_id", c.id).Msg("Unexpected websocket close")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
		}

		handler(ctx, data)
	}
}

func (c *Client) writePump(cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		_ = c.Close(websocket.CloseNormalClosure, "")
	}()

	for {
		select {
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Str("client_id", c.id).Msg("Failed to set write deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logging.Debug().Err(err).Str("client_id", c.id).Msg("Frame write failed")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
