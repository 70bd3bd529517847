// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

package eventlog

import "testing"

func TestPartitionName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		storeID string
		version int
		want    string
	}{
		{"plain", "todos", 7, "eventlog_7_todos"},
		{"uuid", "3f2c9a1e-8b4d-4f6a-9c0e-1d5b7a2e9f01", 7, "eventlog_7_3f2c9a1e_8b4d_4f6a_9c0e_1d5b7a2e9f01"},
		{"dots and slashes", "acme.com/workspace-1", 7, "eventlog_7_acme_com_workspace_1"},
		{"unicode", "störe", 7, "eventlog_7_st_re"},
		{"empty", "", 7, "eventlog_7_"},
		{"version bump", "todos", 8, "eventlog_8_todos"},
		{"mixed case preserved", "MyStore", 7, "eventlog_7_MyStore"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PartitionName(tt.version, tt.storeID); got != tt.want {
				t.Errorf("PartitionName(%d, %q) = %q, want %q", tt.version, tt.storeID, got, tt.want)
			}
		})
	}
}

func TestPartitionName_CollidingIDs(t *testing.T) {
	t.Parallel()

	// Punctuation-only differences collapse onto the same partition.
	a := PartitionName(DefaultFormatVersion, "store-a")
	b := PartitionName(DefaultFormatVersion, "store.a")
	if a != b {
		t.Errorf("expected identical partitions, got %q and %q", a, b)
	}
}
