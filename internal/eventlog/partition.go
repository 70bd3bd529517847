// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

package eventlog

import (
	"fmt"
	"regexp"
)

// DefaultFormatVersion is the current on-disk log format version.
// Bumping it points every store at a fresh partition, which is how
// incompatible format changes roll out without migrations.
const DefaultFormatVersion = 7

// AppendChunkSize caps how many rows an implementation writes per
// insert statement.
const AppendChunkSize = 100

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// SanitizeID maps a store id onto the [A-Za-z0-9_] alphabet shared by
// partition names and relay subjects. Store ids that differ only in
// punctuation therefore collide; deployments name stores accordingly.
func SanitizeID(storeID string) string {
	return nonAlphanumeric.ReplaceAllString(storeID, "_")
}

// PartitionName derives the storage partition identifier for a store:
// eventlog_<formatVersion>_<sanitized store id>.
func PartitionName(formatVersion int, storeID string) string {
	return fmt.Sprintf("eventlog_%d_%s", formatVersion, SanitizeID(storeID))
}
