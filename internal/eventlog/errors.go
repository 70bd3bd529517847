// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

package eventlog

import "errors"

// ErrDuplicateSeqNum reports an append that collides with an existing
// seq_num in the partition. The serialized push pipeline makes this
// unreachable in normal operation; hitting it means a writer bypassed
// the store's writer lock.
var ErrDuplicateSeqNum = errors.New("duplicate sequence number")

// ErrStoreClosed reports an operation against a closed store.
var ErrStoreClosed = errors.New("event store is closed")
