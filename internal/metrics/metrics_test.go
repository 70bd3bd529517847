// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(PushesAccepted)
	PushesAccepted.Inc()
	if got := testutil.ToFloat64(PushesAccepted); got != before+1 {
		t.Errorf("PushesAccepted = %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(PushesRejected.WithLabelValues("parent_mismatch"))
	PushesRejected.WithLabelValues("parent_mismatch").Inc()
	if got := testutil.ToFloat64(PushesRejected.WithLabelValues("parent_mismatch")); got != before+1 {
		t.Errorf("PushesRejected{parent_mismatch} = %v, want %v", got, before+1)
	}
}

func TestConnectionGauge(t *testing.T) {
	before := testutil.ToFloat64(WSConnectionsActive)
	WSConnectionsActive.Inc()
	WSConnectionsActive.Dec()
	if got := testutil.ToFloat64(WSConnectionsActive); got != before {
		t.Errorf("WSConnectionsActive = %v, want %v after inc/dec", got, before)
	}
}

func TestObserveDBQuery(t *testing.T) {
	errsBefore := testutil.ToFloat64(DBQueryErrors.WithLabelValues("append"))

	ObserveDBQuery("append", time.Now(), nil)
	if got := testutil.ToFloat64(DBQueryErrors.WithLabelValues("append")); got != errsBefore {
		t.Errorf("DBQueryErrors{append} = %v, want unchanged %v on success", got, errsBefore)
	}

	ObserveDBQuery("append", time.Now(), errors.New("boom"))
	if got := testutil.ToFloat64(DBQueryErrors.WithLabelValues("append")); got != errsBefore+1 {
		t.Errorf("DBQueryErrors{append} = %v, want %v after failure", got, errsBefore+1)
	}
}
