// Package store defines the aggregate persistence interface. The job store
// carries the framework's single shared mutable resource; the composite
// Store adds lifecycle management on top. Backends: Postgres, SQLite, and
// Memory.
package store

import (
	"context"

	"github.com/xraph/longhaul/job"
)

// Store is the aggregate persistence interface. A single backend
// (postgres, sqlite, memory) implements the job store plus lifecycle.
type Store interface {
	job.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
