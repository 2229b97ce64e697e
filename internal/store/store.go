// Package store implements the durable, transactional record storage
// component (spec §4.A): mutation contexts for atomic read-modify-write
// across any subset of records in a single workspace, and query contexts for
// consistent point-in-time reads with secondary-index lookups.
//
// Maps to: erauner12-toolbridge-api internal/db/pg.go (pgxpool setup).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Store wraps a pooled Postgres connection and exposes transactional
// mutation/query entry points. It is the only mutable shared resource in the
// system (spec §5); all other state is per-request or per-workspace.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates the connection pool, verifies connectivity, and returns a Store.
//
// Maps to: erauner12-toolbridge-api internal/db/pg.go Open.
func Open(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log.Info().Int32("max_conns", cfg.MaxConns).Int32("min_conns", cfg.MinConns).
		Msg("postgres connection pool created")

	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// MutationContext wraps a single transaction. Writes that update or upsert
// a row (MarkTaskRunning, TerminalTransition, ResolveApproval,
// UpsertRequestedToolCall, the inventory writes) return its post-image;
// plain inserts and tool-call patches return only an error.
type MutationContext struct {
	tx          pgx.Tx
	workspaceID string
}

// QueryContext wraps a single read-only snapshot.
type QueryContext struct {
	tx          pgx.Tx
	workspaceID string
}

// Mutate runs fn inside a single transaction scoped to workspaceID. The
// transaction commits iff fn returns a nil error; any error rolls back.
func (s *Store) Mutate(ctx context.Context, workspaceID string, fn func(ctx context.Context, mc *MutationContext) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	mc := &MutationContext{tx: tx, workspaceID: workspaceID}
	if err := fn(ctx, mc); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Query runs fn inside a read-only transaction scoped to workspaceID.
func (s *Store) Query(ctx context.Context, workspaceID string, fn func(ctx context.Context, qc *QueryContext) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	qc := &QueryContext{tx: tx, workspaceID: workspaceID}
	return fn(ctx, qc)
}

func nowMs() int64 { return time.Now().UnixMilli() }
