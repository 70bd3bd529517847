// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

package relay

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tomtom215/tabularium/internal/config"
	"github.com/tomtom215/tabularium/internal/eventlog"
	"github.com/tomtom215/tabularium/internal/logging"
)

func init() {
	logging.SetLogger(logging.NewTestLogger(io.Discard))
}

// startRelay spins up an embedded JetStream server with a throwaway
// store dir.
func startRelay(t *testing.T) *Relay {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	cfg := config.RelayConfig{
		Enabled:        true,
		EmbeddedServer: true,
		StoreDir:       t.TempDir(),
		StreamName:     "EVENTLOG_TEST",
		SubjectPrefix:  "eventlog",
		RetentionDays:  1,
	}
	r, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("start relay: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	return r
}

func TestSubjectSanitizesStoreID(t *testing.T) {
	r := &Relay{subjectPrefix: "eventlog"}

	tests := []struct {
		storeID string
		want    string
	}{
		{"store1", "eventlog.store1"},
		{"my store!", "eventlog.my_store_"},
		{"a.b.c", "eventlog.a_b_c"},
	}
	for _, tt := range tests {
		t.Run(tt.storeID, func(t *testing.T) {
			if got := r.Subject(tt.storeID); got != tt.want {
				t.Errorf("Subject(%q) = %q, want %q", tt.storeID, got, tt.want)
			}
		})
	}
}

func TestEventsCommittedPublishesEnvelope(t *testing.T) {
	r := startRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	committedAt := time.Now().UTC().Truncate(time.Microsecond)
	batch := []eventlog.Event{
		{SeqNum: 1, ParentSeqNum: 0, Name: "v1.Created", Args: json.RawMessage(`{"k":1}`), ClientID: "c", SessionID: "s", CreatedAt: committedAt},
		{SeqNum: 2, ParentSeqNum: 1, Name: "v1.Updated", ClientID: "c", SessionID: "s", CreatedAt: committedAt},
	}
	r.EventsCommitted("relay-store", batch)

	// Read the message back through a JetStream consumer.
	nc, err := natsgo.Connect(r.embedded.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	consumer, err := js.CreateOrUpdateConsumer(ctx, "EVENTLOG_TEST", jetstream.ConsumerConfig{
		Durable:       "relay-test",
		FilterSubject: "eventlog.relay_store",
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		t.Fatalf("create consumer: %v", err)
	}

	msg, err := consumer.Next(jetstream.FetchMaxWait(10 * time.Second))
	if err != nil {
		t.Fatalf("fetch message: %v", err)
	}
	_ = msg.Ack()

	var envelope CommittedBatch
	if err := json.Unmarshal(msg.Data(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.StoreID != "relay-store" {
		t.Errorf("storeId = %q, want relay-store", envelope.StoreID)
	}
	if !envelope.CommittedAt.Equal(committedAt) {
		t.Errorf("committedAt = %v, want %v", envelope.CommittedAt, committedAt)
	}
	if len(envelope.Events) != 2 || envelope.Events[1].SeqNum != 2 {
		t.Errorf("events = %+v, want the full batch", envelope.Events)
	}
}

func TestEventsCommittedAfterCloseIsNoop(t *testing.T) {
	r := startRelay(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Must not panic or block.
	r.EventsCommitted("store1", []eventlog.Event{{SeqNum: 1, Name: "v1.Created"}})
}

func TestEmptyBatchIgnored(t *testing.T) {
	r := &Relay{subjectPrefix: "eventlog"}
	r.EventsCommitted("store1", nil) // no publisher configured: would panic if it tried to publish
}
