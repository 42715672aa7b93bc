// Package store is the data access layer for the jobs table. All operations
// run on pgx native connections from a shared pgxpool; the claim operation is
// a single conditional UPDATE with FOR UPDATE SKIP LOCKED, so no
// read-then-write round trip exists anywhere in this package.
package store

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the central data access object for jobs.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool. The pool is owned by the caller and
// must outlive the Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pgxpool for callers that need direct access
// (healthz ping, metrics collector).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }
