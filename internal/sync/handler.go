// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

// Package sync implements the per-connection protocol state machine:
// it decodes tagged frames, dispatches pull, push, ping and admin
// operations against the event store and session manager, and writes
// the responses back to its own channel.
//
// One Handler exists per WebSocket connection. Handlers for the same
// store run concurrently; the session manager's per-store writer mutex
// is the only coordination between them. Protocol failures are data
// (Error frames); only transport failures terminate a connection.
package sync

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/tabularium/internal/auth"
	"github.com/tomtom215/tabularium/internal/eventlog"
	"github.com/tomtom215/tabularium/internal/logging"
	"github.com/tomtom215/tabularium/internal/metrics"
	"github.com/tomtom215/tabularium/internal/protocol"
	"github.com/tomtom215/tabularium/internal/session"
)

// Error strings sent to clients. These are wire contract: the
// reference clients match on them.
const (
	errAuthRequired   = "Authentication required for push operations"
	errAdminDenied    = "Invalid admin secret or insufficient privileges"
	parentMismatchFmt = "Invalid parent event number. Received e%d but expected e%d"
)

// infoIDPrefix is the synthetic durable-object identifier prefix
// reported by AdminInfoRes, kept byte-identical to the reference
// server for client compatibility.
const infoIDPrefix = "python-server-"

// CommitListener observes durably committed batches. It runs after
// the writer lock is released and must not block the caller for long;
// the relay publisher is the production implementation.
type CommitListener interface {
	EventsCommitted(storeID string, batch []eventlog.Event)
}

// Config carries the handler's tunables.
type Config struct {
	// PullChunkSize caps events per PullRes frame. Values < 1 fall
	// back to eventlog.AppendChunkSize.
	PullChunkSize int

	// AdminSecret authorizes per-message admin operations.
	AdminSecret string

	// OnCommit, when non-nil, is notified of every committed batch.
	OnCommit CommitListener
}

// Handler is the per-connection sync state machine.
type Handler struct {
	store    eventlog.Store
	sessions *session.Manager
	cfg      Config

	storeID string
	authz   auth.Record
	conn    session.Sender
	audit   *logging.SecurityLogger
}

// NewHandler creates a handler for one attached connection. The
// caller has already completed the handshake: the connection is
// attached to storeID and authz is its verified authorization.
func NewHandler(store eventlog.Store, sessions *session.Manager, cfg Config, storeID string, authz auth.Record, conn session.Sender) *Handler {
	if cfg.PullChunkSize < 1 {
		cfg.PullChunkSize = eventlog.AppendChunkSize
	}
	return &Handler{
		store:    store,
		sessions: sessions,
		cfg:      cfg,
		storeID:  storeID,
		authz:    authz,
		conn:     conn,
		audit:    logging.NewSecurityLogger(),
	}
}

// HandleMessage processes one inbound text frame. It never returns an
// error: every failure mode is either replied to as an Error frame or
// logged and ignored, keeping the connection open either way.
func (h *Handler) HandleMessage(ctx context.Context, data []byte) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownTag) {
			logging.Warn().Err(err).Str("store_id", h.storeID).Msg("Ignoring message with unknown tag")
			return
		}
		h.sendError(protocol.ExtractRequestID(data), err.Error())
		return
	}

	switch msg := msg.(type) {
	case *protocol.PullReq:
		metrics.MessagesReceived.WithLabelValues(protocol.TagPullReq).Inc()
		h.handlePull(ctx, msg)
	case *protocol.PushReq:
		metrics.MessagesReceived.WithLabelValues(protocol.TagPushReq).Inc()
		h.handlePush(ctx, msg)
	case *protocol.Ping:
		metrics.MessagesReceived.WithLabelValues(protocol.TagPing).Inc()
		h.send(protocol.NewPong(), protocol.TagPong)
	case *protocol.AdminResetRoomReq:
		metrics.MessagesReceived.WithLabelValues(protocol.TagAdminResetRoomReq).Inc()
		h.handleAdminReset(ctx, msg)
	case *protocol.AdminInfoReq:
		metrics.MessagesReceived.WithLabelValues(protocol.TagAdminInfoReq).Inc()
		h.handleAdminInfo(msg)
	}
}

// handlePull streams every event after the cursor back to the caller
// in chunks. Reads never take the writer lock: a pull concurrent with
// a push may observe any committed prefix of the log.
func (h *Handler) handlePull(ctx context.Context, msg *protocol.PullReq) {
	start := time.Now()
	events, err := h.store.Events(ctx, h.storeID, msg.CursorValue())
	metrics.ObserveDBQuery("events", start, err)
	if err != nil {
		logging.Error().Err(err).Str("store_id", h.storeID).Msg("Pull read failed")
		h.sendError(msg.RequestID, err.Error())
		return
	}

	metrics.PullsServed.Inc()
	metrics.PulledEvents.Add(float64(len(events)))

	if len(events) == 0 {
		h.send(protocol.NewPullRes(nil, protocol.ContextPull, msg.RequestID, 0), protocol.TagPullRes)
		return
	}

	for offset := 0; offset < len(events); offset += h.cfg.PullChunkSize {
		end := offset + h.cfg.PullChunkSize
		if end > len(events) {
			end = len(events)
		}
		items := pullItems(events[offset:end])
		remaining := len(events) - end
		h.send(protocol.NewPullRes(items, protocol.ContextPull, msg.RequestID, remaining), protocol.TagPullRes)
	}
}

// handlePush runs the serialized append pipeline. The writer lock
// spans validation, ack, durable append, head update and broadcast;
// the commit listener fires after the lock is released.
func (h *Handler) handlePush(ctx context.Context, msg *protocol.PushReq) {
	if !h.authz.Authenticated {
		metrics.PushesRejected.WithLabelValues("unauthenticated").Inc()
		h.sendError(msg.RequestID, errAuthRequired)
		return
	}

	var committed []eventlog.Event
	h.sessions.WithWriterLock(h.storeID, func() {
		if len(msg.Batch) == 0 {
			h.send(protocol.NewPushAck(msg.RequestID), protocol.TagPushAck)
			return
		}

		expected := h.sessions.Head(h.storeID)
		if first := msg.Batch[0]; first.ParentSeqNum != expected {
			metrics.PushesRejected.WithLabelValues("parent_mismatch").Inc()
			h.sendError(msg.RequestID, fmt.Sprintf(parentMismatchFmt, first.ParentSeqNum, expected))
			return
		}

		// The ack precedes the durable append: it is flow control,
		// not a durability receipt. Durability is confirmed by the
		// broadcast PullRes that follows.
		h.send(protocol.NewPushAck(msg.RequestID), protocol.TagPushAck)

		createdAt := time.Now().UTC()
		batch := storageBatch(msg.Batch)

		start := time.Now()
		err := h.store.AppendBatch(ctx, h.storeID, batch, createdAt)
		metrics.ObserveDBQuery("append", start, err)
		if err != nil {
			// Head cache untouched: it still matches storage, which
			// rejected the whole batch atomically.
			metrics.PushesRejected.WithLabelValues("storage").Inc()
			logging.Error().Err(err).Str("store_id", h.storeID).Msg("Push append failed")
			h.sendError(msg.RequestID, err.Error())
			return
		}

		h.sessions.SetHead(h.storeID, msg.Batch[len(msg.Batch)-1].SeqNum)
		metrics.PushesAccepted.Inc()
		metrics.PushedEvents.Add(float64(len(batch)))

		for i := range batch {
			batch[i].CreatedAt = createdAt
		}
		h.broadcastCommit(msg.RequestID, batch)
		committed = batch
	})

	if len(committed) > 0 && h.cfg.OnCommit != nil {
		h.cfg.OnCommit.EventsCommitted(h.storeID, committed)
	}
}

// broadcastCommit fans the committed batch out to every subscriber of
// the store, the pusher included: the broadcast is how every client
// learns the authoritative createdAt.
func (h *Handler) broadcastCommit(requestID string, batch []eventlog.Event) {
	items := pullItems(batch)
	frame := protocol.NewPullRes(items, protocol.ContextPush, requestID, 0)
	data, err := protocol.Encode(frame)
	if err != nil {
		logging.Error().Err(err).Str("store_id", h.storeID).Msg("Encoding broadcast frame failed")
		return
	}
	metrics.MessagesSent.WithLabelValues(protocol.TagPullRes).Add(float64(h.sessions.ActiveConnections(h.storeID)))
	h.sessions.Broadcast(h.storeID, data, nil)
}

func (h *Handler) handleAdminReset(ctx context.Context, msg *protocol.AdminResetRoomReq) {
	if !h.adminAuthorized(msg.AdminSecret) {
		h.audit.LogAdminDenied(h.authz.UserID, h.storeID, "admin_reset_room")
		h.sendError(msg.RequestID, errAdminDenied)
		return
	}

	start := time.Now()
	err := h.store.ResetStore(ctx, h.storeID)
	metrics.ObserveDBQuery("reset", start, err)
	if err != nil {
		logging.Error().Err(err).Str("store_id", h.storeID).Msg("Store reset failed")
		h.sendError(msg.RequestID, err.Error())
		return
	}

	h.sessions.SetHead(h.storeID, 0)
	metrics.AdminResets.Inc()
	logging.Info().Str("store_id", h.storeID).Str("user_id", h.authz.UserID).Msg("Store reset by admin")

	// No broadcast: other subscribers discover the reset on their
	// next push (parent mismatch against head 0) and re-pull.
	h.send(protocol.NewAdminResetRoomRes(msg.RequestID), protocol.TagAdminResetRoomRes)
}

func (h *Handler) handleAdminInfo(msg *protocol.AdminInfoReq) {
	if !h.adminAuthorized(msg.AdminSecret) {
		h.audit.LogAdminDenied(h.authz.UserID, h.storeID, "admin_info")
		h.sendError(msg.RequestID, errAdminDenied)
		return
	}

	info := map[string]any{
		"durableObjectId":   infoIDPrefix + h.storeID,
		"storeId":           h.storeID,
		"currentHead":       h.sessions.Head(h.storeID),
		"activeConnections": h.sessions.ActiveConnections(h.storeID),
	}
	h.send(protocol.NewAdminInfoRes(msg.RequestID, info), protocol.TagAdminInfoRes)
}

// adminAuthorized accepts a matching per-message admin secret or a
// session already verified as admin at the handshake.
func (h *Handler) adminAuthorized(secret string) bool {
	if h.authz.IsAdmin {
		return true
	}
	if secret == "" || h.cfg.AdminSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(h.cfg.AdminSecret)) == 1
}

// send encodes and writes one frame to the handler's own channel.
// Send failures are logged only; the read loop notices the dead
// transport on its own.
func (h *Handler) send(msg any, tag string) {
	data, err := protocol.Encode(msg)
	if err != nil {
		logging.Error().Err(err).Str("store_id", h.storeID).Str("tag", tag).Msg("Encoding frame failed")
		return
	}
	if err := h.conn.Send(data); err != nil {
		logging.Debug().Err(err).Str("store_id", h.storeID).Str("tag", tag).Msg("Send failed")
		return
	}
	metrics.MessagesSent.WithLabelValues(tag).Inc()
}

func (h *Handler) sendError(requestID, message string) {
	h.send(protocol.NewErrorMessage(requestID, message), protocol.TagError)
}

// pullItems converts storage events to wire batch items. An event
// with a zero timestamp carries None metadata.
func pullItems(events []eventlog.Event) []protocol.PullResItem {
	items := make([]protocol.PullResItem, 0, len(events))
	for _, ev := range events {
		metadata := protocol.NoneMetadata()
		if !ev.CreatedAt.IsZero() {
			metadata = protocol.SomeMetadata(ev.CreatedAt)
		}
		items = append(items, protocol.PullResItem{
			EventEncoded: protocol.Event{
				SeqNum:       ev.SeqNum,
				ParentSeqNum: ev.ParentSeqNum,
				Name:         ev.Name,
				Args:         ev.Args,
				ClientID:     ev.ClientID,
				SessionID:    ev.SessionID,
			},
			Metadata: metadata,
		})
	}
	return items
}

// storageBatch converts wire events to storage events.
func storageBatch(batch []protocol.Event) []eventlog.Event {
	out := make([]eventlog.Event, 0, len(batch))
	for _, ev := range batch {
		out = append(out, eventlog.Event{
			SeqNum:       ev.SeqNum,
			ParentSeqNum: ev.ParentSeqNum,
			Name:         ev.Name,
			Args:         ev.Args,
			ClientID:     ev.ClientID,
			SessionID:    ev.SessionID,
		})
	}
	return out
}
