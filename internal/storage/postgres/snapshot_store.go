// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harvestkit/harvestd/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for snapshot and
// accepted-content rows.
type Config struct {
	DSN             string
	SnapshotTable   string
	AcceptedTable   string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store appends domain snapshots and accepted-content records to Postgres.
type Store struct {
	pool          execCloser
	snapshotTable string
	acceptedTable string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("snapshots.dsn is required")
	}
	snapshotTable, acceptedTable, err := tableNames(cfg.SnapshotTable, cfg.AcceptedTable)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{
		pool:          pool,
		snapshotTable: snapshotTable,
		acceptedTable: acceptedTable,
	}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewWithPool(pool execCloser, snapshotTable, acceptedTable string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	st, at, err := tableNames(snapshotTable, acceptedTable)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, snapshotTable: st, acceptedTable: at}, nil
}

func tableNames(snapshotTable, acceptedTable string) (string, string, error) {
	if snapshotTable == "" {
		snapshotTable = "domain_snapshots"
	}
	if acceptedTable == "" {
		acceptedTable = "accepted_content"
	}
	for _, t := range []string{snapshotTable, acceptedTable} {
		if !validTableName.MatchString(t) {
			return "", "", fmt.Errorf("invalid table name %q", t)
		}
	}
	return snapshotTable, acceptedTable, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreSnapshot inserts one domain snapshot row.
func (s *Store) StoreSnapshot(ctx context.Context, snap harvest.DomainSnapshot, backoff float64) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("snapshot store is not configured")
	}
	if snap.Domain == "" {
		return fmt.Errorf("snapshot domain is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	domain,
	sample_count,
	error_rate,
	timeout_rate,
	latency_p50_ms,
	latency_p95_ms,
	mean_bytes,
	backoff_factor,
	last_outcome
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.snapshotTable)

	args := []any{
		snap.Domain,
		snap.SampleCount,
		snap.ErrorRate,
		snap.TimeoutRate,
		snap.LatencyP50.Milliseconds(),
		snap.LatencyP95.Milliseconds(),
		snap.MeanBytes,
		backoff,
		snap.LastOutcome,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// StoreAccepted inserts one accepted-content row.
func (s *Store) StoreAccepted(ctx context.Context, rec harvest.AcceptedContent) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("snapshot store is not configured")
	}
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	task_id,
	domain,
	blob_uri,
	digest,
	byte_size,
	stored_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, s.acceptedTable)

	args := []any{
		rec.ID,
		rec.TaskID,
		rec.Domain,
		rec.URI,
		rec.Digest,
		rec.ByteSize,
		rec.StoredAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert accepted content: %w", err)
	}
	return nil
}
