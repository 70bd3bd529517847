// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ErrUnknownTag is returned by DecodeClientMessage when the frame is
// valid JSON but its "_tag" names no known client message. Callers log
// and ignore these frames rather than failing the connection.
var ErrUnknownTag = errors.New("unknown message tag")

var jsonNull = []byte("null")

// DecodeClientMessage parses a client frame into its concrete message
// type (*PullReq, *PushReq, *Ping, *AdminResetRoomReq or
// *AdminInfoReq).
//
// Malformed JSON and structurally invalid frames return a decode
// error; recognizable JSON with an unrecognized tag returns an error
// wrapping ErrUnknownTag.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Tag string `json:"_tag"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode message envelope: %w", err)
	}

	switch envelope.Tag {
	case TagPullReq:
		var msg PullReq
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", TagPullReq, err)
		}
		return &msg, nil

	case TagPushReq:
		var msg PushReq
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", TagPushReq, err)
		}
		for i := range msg.Batch {
			msg.Batch[i].Args = normalizeArgs(msg.Batch[i].Args)
		}
		return &msg, nil

	case TagPing:
		var msg Ping
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", TagPing, err)
		}
		return &msg, nil

	case TagAdminResetRoomReq:
		var msg AdminResetRoomReq
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", TagAdminResetRoomReq, err)
		}
		return &msg, nil

	case TagAdminInfoReq:
		var msg AdminInfoReq
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", TagAdminInfoReq, err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, envelope.Tag)
	}
}

// Encode serializes a server message for transmission.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// ExtractRequestID pulls a best-effort requestId out of a raw frame
// for error replies to messages that failed to decode. Returns
// "unknown" when the frame is unparseable or carries no string
// requestId.
func ExtractRequestID(data []byte) string {
	var probe struct {
		RequestID any `json:"requestId"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "unknown"
	}
	if id, ok := probe.RequestID.(string); ok && id != "" {
		return id
	}
	return "unknown"
}

// normalizeArgs maps a JSON null payload to nil so args round-trip as
// an absent field.
func normalizeArgs(args json.RawMessage) json.RawMessage {
	if len(args) == 0 || bytes.Equal(bytes.TrimSpace(args), jsonNull) {
		return nil
	}
	return args
}
