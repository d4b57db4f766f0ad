// Package store is the persisted relational store: a single writer
// connection serializes all mutations, a pooled read handle serves
// concurrent lookups, and a hand-built placeholder-join stands in for a
// native array-bind extension when querying bulk IN (...) sets.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Store wraps the two connections to one SQLite database file: a
// single-connection write handle and a pooled read-only handle.
type Store struct {
	write *sql.DB
	read  *sql.DB
}

// pragmas applied at connection-open time. Issued as ordinary statements
// (rather than DSN query params) so the same code works whichever SQLite
// driver the build tag in driver_cgo.go/driver_purego.go selects.
const openPragmas = `PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;`

// Open opens (creating if necessary) the database at path, applies WAL +
// synchronous=NORMAL pragmas, and runs the schema migration.
func Open(path string) (*Store, error) {
	write, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open write connection %s: %w", path, err)
	}
	write.SetMaxOpenConns(1)

	if _, err := write.Exec(openPragmas); err != nil {
		write.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := write.Exec(schema); err != nil {
		write.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	read, err := sql.Open(driverName, path)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read connection %s: %w", path, err)
	}
	read.SetMaxOpenConns(4)
	if _, err := read.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("apply read pragmas: %w", err)
	}

	return &Store{write: write, read: read}, nil
}

// OpenMemory opens an in-memory store, useful for tests.
func OpenMemory() (*Store, error) {
	write, err := sql.Open(driverName, "file::memory:?cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	write.SetMaxOpenConns(1)
	if _, err := write.Exec(schema); err != nil {
		write.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	// A second handle to the same shared in-memory database stands in for
	// the read pool; SQLite's shared-cache mode keeps them consistent.
	read, err := sql.Open(driverName, "file::memory:?cache=shared")
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open in-memory read handle: %w", err)
	}
	return &Store{write: write, read: read}, nil
}

// Close releases both connections.
func (s *Store) Close() error {
	werr := s.write.Close()
	rerr := s.read.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// querier is the statement surface shared by *sql.DB and *sql.Tx. No
// function in this package takes one; the Store methods use the write and
// read handles directly.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// BeginWrite starts a transaction on the single write connection. Callers
// must Commit or Rollback.
func (s *Store) BeginWrite(ctx context.Context) (*sql.Tx, error) {
	return s.write.BeginTx(ctx, nil)
}

// ReadDB exposes the pooled read connection for ad-hoc lookups.
func (s *Store) ReadDB() *sql.DB { return s.read }

// placeholders returns "?,?,...,?" (n times) for use in an IN (...) clause.
// database/sql has no native array-bind extension, so bulk lookups build
// the placeholder string by hand and pass the values as a flattened
// argument list.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anySlice[T any](items []T) []any {
	out := make([]any, len(items))
	for i, v := range items {
		out[i] = v
	}
	return out
}
