// Package dbopen opens the SQLite databases floatnote keeps its records in.
//
// Every connection gets:
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// Schemas are either inline DDL run on every open (WithSchema) or ordered
// migration steps tracked in PRAGMA user_version (WithMigrations).
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("floatnote.db", dbopen.WithMkdirAll(), dbopen.WithMigrations(steps...))
//
// Tests use an in-memory database closed by t.Cleanup:
//
//	db := dbopen.OpenMemory(t, dbopen.WithSchema(schema))
package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// ErrNewerSchema is returned when the database was migrated past the steps
// this binary knows.
var ErrNewerSchema = errors.New("dbopen: database schema is newer than this binary")

const memoryPath = ":memory:"

type options struct {
	busyTimeout int
	synchronous string
	mkdirAll    bool
	schemas     []string
	migrations  []string
}

// Option customises Open.
type Option func(*options)

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds.
func WithBusyTimeout(ms int) Option { return func(o *options) { o.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous.
func WithSynchronous(mode string) Option { return func(o *options) { o.synchronous = mode } }

// WithMkdirAll creates the parent directories of the database file.
func WithMkdirAll() Option { return func(o *options) { o.mkdirAll = true } }

// WithSchema runs idempotent DDL after the pragmas, on every open.
func WithSchema(ddl string) Option {
	return func(o *options) { o.schemas = append(o.schemas, ddl) }
}

// WithMigrations sets the ordered migration steps. Step i moves the
// database to user_version i+1; steps already applied are skipped.
func WithMigrations(steps ...string) Option {
	return func(o *options) { o.migrations = append(o.migrations, steps...) }
}

// Open opens the database at path. The SQLite driver registered as
// "sqlite" must be linked in by the caller.
func Open(path string, opts ...Option) (*sql.DB, error) {
	o := options{busyTimeout: 10_000, synchronous: "NORMAL"}
	for _, fn := range opts {
		fn(&o)
	}

	if o.mkdirAll && path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}
	if path == memoryPath {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := setup(db, &o); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func setup(db *sql.DB, o *options) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", o.busyTimeout),
		fmt.Sprintf("PRAGMA synchronous = %s", o.synchronous),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}
	for _, ddl := range o.schemas {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("dbopen: exec schema: %w", err)
		}
	}
	if len(o.migrations) > 0 {
		if err := migrate(context.Background(), db, o.migrations); err != nil {
			return err
		}
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("dbopen: ping: %w", err)
	}
	return nil
}

// Version returns the database's PRAGMA user_version.
func Version(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("dbopen: user_version: %w", err)
	}
	return v, nil
}

// migrate applies the pending steps, one transaction per step.
func migrate(ctx context.Context, db *sql.DB, steps []string) error {
	current, err := Version(ctx, db)
	if err != nil {
		return err
	}
	if current > len(steps) {
		return fmt.Errorf("%w: at version %d, know %d", ErrNewerSchema, current, len(steps))
	}
	for i := current; i < len(steps); i++ {
		step, version := steps[i], i+1
		err := RunTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, step); err != nil {
				return err
			}
			// PRAGMA does not take bound parameters.
			_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version))
			return err
		})
		if err != nil {
			return fmt.Errorf("dbopen: migration %d: %w", version, err)
		}
	}
	return nil
}

// OpenMemory opens an in-memory database for tests and closes it on
// cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(memoryPath, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
