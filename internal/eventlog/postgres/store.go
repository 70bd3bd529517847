// Tabularium - Real-Time Event Log Synchronization Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tabularium

// Package postgres implements eventlog.Store on PostgreSQL via a
// pgxpool connection pool.
//
// Every store gets its own table named by eventlog.PartitionName.
// Partition names contain only [A-Za-z0-9_], so they are interpolated
// into DDL and DML directly; all values travel as bind parameters.
// Args are stored as JSONB, preserving the client payload
// structurally.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tomtom215/tabularium/internal/eventlog"
)

// Config holds pool and partitioning settings.
type Config struct {
	// URL is the PostgreSQL connection string.
	URL string

	// MinConns / MaxConns bound the pool.
	MinConns int
	MaxConns int

	// CommandTimeout bounds every storage operation. Zero means no
	// per-operation timeout beyond the caller's context.
	CommandTimeout time.Duration

	// FormatVersion is baked into partition names. Zero falls back to
	// eventlog.DefaultFormatVersion.
	FormatVersion int
}

// Store is a PostgreSQL-backed eventlog.Store. It owns its pool.
type Store struct {
	pool           *pgxpool.Pool
	formatVersion  int
	commandTimeout time.Duration
}

// New connects the pool and verifies the database is reachable.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	formatVersion := cfg.FormatVersion
	if formatVersion == 0 {
		formatVersion = eventlog.DefaultFormatVersion
	}

	return &Store{
		pool:           pool,
		formatVersion:  formatVersion,
		commandTimeout: cfg.CommandTimeout,
	}, nil
}

// NewWithPool wraps an existing pool; used by tests. The caller keeps
// ownership of the pool unless Close is called.
func NewWithPool(pool *pgxpool.Pool, formatVersion int, commandTimeout time.Duration) *Store {
	if formatVersion == 0 {
		formatVersion = eventlog.DefaultFormatVersion
	}
	return &Store{pool: pool, formatVersion: formatVersion, commandTimeout: commandTimeout}
}

// Ping verifies database reachability; the readiness probe uses it.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// EnsureStore creates the store's partition if it does not exist.
func (s *Store) EnsureStore(ctx context.Context, storeID string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	table := s.table(storeID)
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq_num        BIGINT PRIMARY KEY,
			parent_seq_num BIGINT NOT NULL,
			name           TEXT   NOT NULL,
			args           JSONB,
			created_at     TIMESTAMPTZ NOT NULL,
			client_id      TEXT NOT NULL,
			session_id     TEXT NOT NULL
		)`, table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create partition %s: %w", table, err)
	}

	index := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_seq ON %s (seq_num)", table, table)
	if _, err := s.pool.Exec(ctx, index); err != nil {
		return fmt.Errorf("create index on %s: %w", table, err)
	}
	return nil
}

// Head returns the partition's greatest seq_num, or 0 when empty.
func (s *Store) Head(ctx context.Context, storeID string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	table := s.table(storeID)
	var head int64
	query := fmt.Sprintf("SELECT COALESCE(MAX(seq_num), 0) FROM %s", table)
	if err := s.pool.QueryRow(ctx, query).Scan(&head); err != nil {
		return 0, fmt.Errorf("read head of %s: %w", table, err)
	}
	return head, nil
}

// Events returns all events after cursor in ascending seq_num order.
func (s *Store) Events(ctx context.Context, storeID string, cursor int64) ([]eventlog.Event, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	table := s.table(storeID)
	query := fmt.Sprintf(`
		SELECT seq_num, parent_seq_num, name, args, created_at, client_id, session_id
		FROM %s
		WHERE seq_num > $1
		ORDER BY seq_num ASC`, table)

	rows, err := s.pool.Query(ctx, query, cursor)
	if err != nil {
		return nil, fmt.Errorf("read events of %s: %w", table, err)
	}
	defer rows.Close()

	var events []eventlog.Event
	for rows.Next() {
		var ev eventlog.Event
		var args []byte
		if err := rows.Scan(&ev.SeqNum, &ev.ParentSeqNum, &ev.Name, &args, &ev.CreatedAt, &ev.ClientID, &ev.SessionID); err != nil {
			return nil, fmt.Errorf("scan event of %s: %w", table, err)
		}
		ev.Args = args
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events of %s: %w", table, err)
	}
	return events, nil
}

// AppendBatch inserts the batch transactionally, in sub-chunks of at
// most eventlog.AppendChunkSize rows per statement. The transaction
// makes the whole batch atomic regardless of chunking.
func (s *Store) AppendBatch(ctx context.Context, storeID string, batch []eventlog.Event, createdAt time.Time) error {
	if len(batch) == 0 {
		return nil
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	table := s.table(storeID)
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append to %s: %w", table, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for offset := 0; offset < len(batch); offset += eventlog.AppendChunkSize {
		end := offset + eventlog.AppendChunkSize
		if end > len(batch) {
			end = len(batch)
		}
		if err := insertChunk(ctx, tx, table, batch[offset:end], createdAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append to %s: %w", table, err)
	}
	return nil
}

// insertChunk writes one multi-row INSERT.
func insertChunk(ctx context.Context, tx pgx.Tx, table string, chunk []eventlog.Event, createdAt time.Time) error {
	const columns = 7
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (seq_num, parent_seq_num, name, args, created_at, client_id, session_id) VALUES ", table)

	args := make([]any, 0, len(chunk)*columns)
	for i, ev := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * columns
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)

		var eventArgs any
		if ev.Args != nil {
			eventArgs = []byte(ev.Args)
		}
		args = append(args, ev.SeqNum, ev.ParentSeqNum, ev.Name, eventArgs, createdAt, ev.ClientID, ev.SessionID)
	}

	if _, err := tx.Exec(ctx, sb.String(), args...); err != nil {
		var pgErr *pgconn.PgError
		// 23505 = unique_violation
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: partition %s: %v", eventlog.ErrDuplicateSeqNum, table, err)
		}
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

// ResetStore drops the partition and recreates it empty.
func (s *Store) ResetStore(ctx context.Context, storeID string) error {
	dropCtx, cancel := s.opContext(ctx)
	defer cancel()

	table := s.table(storeID)
	if _, err := s.pool.Exec(dropCtx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
		return fmt.Errorf("drop partition %s: %w", table, err)
	}
	return s.EnsureStore(ctx, storeID)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) table(storeID string) string {
	return eventlog.PartitionName(s.formatVersion, storeID)
}

// opContext applies the configured per-operation timeout.
func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.commandTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.commandTimeout)
}
