// Package postgres provides a PostgreSQL-backed store using pgx/v5.
//
// The status column is the coordination point: every status change goes
// through a conditional UPDATE that only succeeds when the stored status
// still matches the caller's expectation, so concurrent coordinators and
// operator controls resolve races at the database row.
package postgres
