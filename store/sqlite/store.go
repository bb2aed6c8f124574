// Package sqlite implements the job store on SQLite. It is the
// single-node persistent backend: everything lives in one file, and
// optimistic versioning keeps concurrent part completions safe.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite" // register the pure-Go sqlite driver

	"github.com/voxpipe/voxpipe/job"
)

var _ job.Store = (*Store)(nil)

// Store is a database/sql implementation of the job store using the
// modernc SQLite driver. The caller owns the *sql.DB lifecycle; Store
// never closes it.
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

// New creates a SQLite store over an opened database handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the SQLite database at path and returns a store over it.
// The caller is responsible for closing the returned *sql.DB.
func Open(path string, opts ...Option) (*Store, *sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("voxpipe/sqlite: open %q: %w", path, err)
	}
	// SQLite allows one writer; serializing through a single connection
	// avoids SQLITE_BUSY churn under concurrent part completions.
	db.SetMaxOpenConns(1)
	return New(db, opts...), db, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("voxpipe/sqlite: migrate: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *sql.DB lifecycle.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a SQLite error is a unique constraint violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
