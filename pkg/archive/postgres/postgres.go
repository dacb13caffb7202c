// Package postgres provides a PostgreSQL-backed [archive.Store].
//
// Turns live in a single conversation_turns table keyed by (session_id, seq).
// The schema is managed with goose migrations embedded in the binary; [Open]
// applies pending migrations unless told otherwise.
//
// Usage:
//
//	store, err := postgres.Open(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Append(ctx, sessionID, turns)
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/MrWong99/lugha/pkg/archive"
)

var (
	_ archive.Store  = (*Store)(nil)
	_ archive.Pinger = (*Store)(nil)
)

//go:embed migrations/*.sql
var migrations embed.FS

// Option configures [Open].
type Option func(*options)

type options struct {
	migrate bool
}

// WithoutMigrations skips applying the embedded migrations on Open.
func WithoutMigrations() Option {
	return func(o *options) { o.migrate = false }
}

// Store is an [archive.Store] backed by a [pgxpool.Pool]. All operations are
// safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool to the database at dsn, verifies it, and
// runs [Migrate].
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	o := options{migrate: true}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive postgres: ping: %w", err)
	}
	if o.migrate {
		if err := Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return &Store{pool: pool}, nil
}

// Migrate applies every pending embedded migration.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("archive postgres: migrations: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	p, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		return fmt.Errorf("archive postgres: migrations: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("archive postgres: migrate: %w", err)
	}
	return nil
}

// Append implements [archive.Store]. All turns are written in one batch;
// rows that already exist are skipped.
func (s *Store) Append(ctx context.Context, sessionID string, turns []archive.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	const q = `
		INSERT INTO conversation_turns
		    (session_id, seq, role, text, started_at, finalized_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, seq) DO NOTHING`

	batch := &pgx.Batch{}
	for _, t := range turns {
		batch.Queue(q, sessionID, t.Seq, t.Role, t.Text, t.StartedAt, t.FinalizedAt)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("archive postgres: append: %w", err)
	}
	return nil
}

// Recent implements [archive.Store].
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]archive.Turn, error) {
	const q = `
		SELECT seq, role, text, started_at, finalized_at
		FROM (
		    SELECT seq, role, text, started_at, finalized_at
		    FROM   conversation_turns
		    WHERE  session_id = $1
		    ORDER  BY seq DESC
		    LIMIT  $2
		) newest
		ORDER BY seq`

	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, q, sessionID, lim)
	if err != nil {
		return nil, fmt.Errorf("archive postgres: recent: %w", err)
	}
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.Turn, error) {
		var t archive.Turn
		err := row.Scan(&t.Seq, &t.Role, &t.Text, &t.StartedAt, &t.FinalizedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("archive postgres: recent: %w", err)
	}
	return turns, nil
}

// Ping implements [archive.Pinger].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}
