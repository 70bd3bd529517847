// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

// Package protocol defines the WebSocket wire protocol shared with
// LiveStore sync clients.
//
// Frames are JSON text messages discriminated by a "_tag" field, with
// camelCase member names. Client-to-server tags are PullReq, PushReq,
// Ping, AdminResetRoomReq and AdminInfoReq; server-to-client tags are
// PullRes, PushAck, Pong, AdminResetRoomRes, AdminInfoRes and Error.
// Field names and tag strings are wire contract: changing them breaks
// every deployed client.
package protocol

import (
	"time"

	"github.com/goccy/go-json"
)

// Message tags carried in the "_tag" discriminator field.
const (
	TagPullReq           = "WSMessage.PullReq"
	TagPushReq           = "WSMessage.PushReq"
	TagPing              = "WSMessage.Ping"
	TagAdminResetRoomReq = "WSMessage.AdminResetRoomReq"
	TagAdminInfoReq      = "WSMessage.AdminInfoReq"

	TagPullRes           = "WSMessage.PullRes"
	TagPushAck           = "WSMessage.PushAck"
	TagPong              = "WSMessage.Pong"
	TagAdminResetRoomRes = "WSMessage.AdminResetRoomRes"
	TagAdminInfoRes      = "WSMessage.AdminInfoRes"
	TagError             = "WSMessage.Error"
)

// RequestID contexts used in PullRes responses.
const (
	ContextPull = "pull"
	ContextPush = "push"
)

// PingRequestID is the fixed requestId used by Ping and Pong frames.
const PingRequestID = "ping"

// Event is the wire encoding of a single event log entry.
//
// Args carries the client payload exactly as received. A JSON null is
// normalized to a nil RawMessage during decode so that it round-trips
// as an absent field, matching the reference implementation's
// exclude-none encoding.
type Event struct {
	SeqNum       int64           `json:"seqNum"`
	ParentSeqNum int64           `json:"parentSeqNum"`
	Name         string          `json:"name"`
	Args         json.RawMessage `json:"args,omitempty"`
	ClientID     string          `json:"clientId"`
	SessionID    string          `json:"sessionId"`
}

// Metadata is the option-typed sync metadata attached to events
// relayed to clients: {"_tag":"None"} or
// {"_tag":"Some","value":{"createdAt":"<ISO-8601>"}}.
type Metadata struct {
	Tag   string         `json:"_tag"`
	Value *MetadataValue `json:"value,omitempty"`
}

// MetadataValue holds the payload of a Some metadata option.
type MetadataValue struct {
	CreatedAt string `json:"createdAt"`
}

// NoneMetadata returns the None option.
func NoneMetadata() Metadata {
	return Metadata{Tag: "None"}
}

// SomeMetadata returns a Some option carrying the event's server-side
// append timestamp.
func SomeMetadata(createdAt time.Time) Metadata {
	return Metadata{
		Tag:   "Some",
		Value: &MetadataValue{CreatedAt: createdAt.UTC().Format(time.RFC3339Nano)},
	}
}

// PullReq asks for all events after the given cursor. A nil cursor
// means "from the beginning of the log".
type PullReq struct {
	Tag       string `json:"_tag"`
	RequestID string `json:"requestId"`
	Cursor    *int64 `json:"cursor,omitempty"`
}

// CursorValue returns the effective cursor, treating nil as 0.
func (m *PullReq) CursorValue() int64 {
	if m.Cursor == nil {
		return 0
	}
	return *m.Cursor
}

// PushReq appends a batch of events to the store's log.
type PushReq struct {
	Tag       string  `json:"_tag"`
	RequestID string  `json:"requestId"`
	Batch     []Event `json:"batch"`
}

// Ping is an application-level liveness probe. Its requestId is the
// literal "ping".
type Ping struct {
	Tag       string `json:"_tag"`
	RequestID string `json:"requestId"`
}

// AdminResetRoomReq drops and recreates the store's log partition.
type AdminResetRoomReq struct {
	Tag         string `json:"_tag"`
	RequestID   string `json:"requestId"`
	AdminSecret string `json:"adminSecret"`
}

// AdminInfoReq requests store diagnostics.
type AdminInfoReq struct {
	Tag         string `json:"_tag"`
	RequestID   string `json:"requestId"`
	AdminSecret string `json:"adminSecret"`
}

// PullResItem pairs an encoded event with its option-typed metadata.
type PullResItem struct {
	EventEncoded Event    `json:"eventEncoded"`
	Metadata     Metadata `json:"metadata"`
}

// PullResRequestID correlates a PullRes with the request that caused
// it: the client's own pull, or a push (its own or another
// subscriber's) being fanned out.
type PullResRequestID struct {
	Context   string `json:"context"`
	RequestID string `json:"requestId"`
}

// PullRes delivers a chunk of events. Remaining is the number of
// events still to come in subsequent frames for the same request.
type PullRes struct {
	Tag       string           `json:"_tag"`
	Batch     []PullResItem    `json:"batch"`
	RequestID PullResRequestID `json:"requestId"`
	Remaining int              `json:"remaining"`
}

// PushAck acknowledges receipt of a push batch. It is emitted before
// the batch is durably appended; it is flow control, not a durability
// receipt.
type PushAck struct {
	Tag       string `json:"_tag"`
	RequestID string `json:"requestId"`
}

// Pong answers a Ping.
type Pong struct {
	Tag       string `json:"_tag"`
	RequestID string `json:"requestId"`
}

// AdminResetRoomRes confirms a completed reset.
type AdminResetRoomRes struct {
	Tag       string `json:"_tag"`
	RequestID string `json:"requestId"`
}

// AdminInfoRes carries store diagnostics.
type AdminInfoRes struct {
	Tag       string         `json:"_tag"`
	RequestID string         `json:"requestId"`
	Info      map[string]any `json:"info"`
}

// ErrorMessage reports a per-request failure. Receiving one never
// implies the connection is closing.
type ErrorMessage struct {
	Tag       string `json:"_tag"`
	RequestID string `json:"requestId"`
	Message   string `json:"message"`
}

// NewPullRes builds a PullRes chunk. A nil item slice encodes as [].
func NewPullRes(items []PullResItem, context, requestID string, remaining int) *PullRes {
	if items == nil {
		items = []PullResItem{}
	}
	return &PullRes{
		Tag:       TagPullRes,
		Batch:     items,
		RequestID: PullResRequestID{Context: context, RequestID: requestID},
		Remaining: remaining,
	}
}

// NewPushAck builds a PushAck for the given request.
func NewPushAck(requestID string) *PushAck {
	return &PushAck{Tag: TagPushAck, RequestID: requestID}
}

// NewPong builds the Pong reply. Pong always carries the literal
// "ping" requestId, mirroring the fixed Ping requestId.
func NewPong() *Pong {
	return &Pong{Tag: TagPong, RequestID: PingRequestID}
}

// NewAdminResetRoomRes builds a reset confirmation.
func NewAdminResetRoomRes(requestID string) *AdminResetRoomRes {
	return &AdminResetRoomRes{Tag: TagAdminResetRoomRes, RequestID: requestID}
}

// NewAdminInfoRes builds an info response.
func NewAdminInfoRes(requestID string, info map[string]any) *AdminInfoRes {
	return &AdminInfoRes{Tag: TagAdminInfoRes, RequestID: requestID, Info: info}
}

// NewErrorMessage builds a per-request error reply.
func NewErrorMessage(requestID, message string) *ErrorMessage {
	return &ErrorMessage{Tag: TagError, RequestID: requestID, Message: message}
}
