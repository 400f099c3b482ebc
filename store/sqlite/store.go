// Package sqlite provides a SQLite-backed store using the pure-Go
// modernc.org/sqlite driver. Suited to single-process deployments and
// local development; the same conditional-UPDATE status coordination as
// the Postgres backend applies, serialized by SQLite's write lock.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/xraph/longhaul/job"
)

var _ job.Store = (*Store)(nil)

// Store is a SQLite implementation of store.Store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new SQLite store at the given path. Use ":memory:" for an
// ephemeral database.
func New(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("longhaul/sqlite: open: %w", err)
	}

	// SQLite permits one writer; a single pooled connection avoids
	// SQLITE_BUSY churn between the coordinator and operator calls.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Migrate creates the jobs table and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS longhaul_jobs (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL,
			owner           TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT 'pending',
			status_messages TEXT,
			internal_data   TEXT NOT NULL DEFAULT '{}',
			data            TEXT,
			resources       TEXT,
			created_at      TEXT NOT NULL,
			updated_at      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_longhaul_jobs_owner_status
			ON longhaul_jobs (owner, status)`,
		`CREATE INDEX IF NOT EXISTS idx_longhaul_jobs_created
			ON longhaul_jobs (created_at ASC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("longhaul/sqlite: migrate: %w", err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced usage.
func (s *Store) DB() *sql.DB {
	return s.db
}
