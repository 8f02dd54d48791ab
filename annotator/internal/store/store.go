// Package store provides the SQLite persistence layer for annotations.
package store

import (
	"database/sql"
	"log/slog"

	"github.com/hazyhaar/floatnote/dbopen"
)

// Store is the annotation database handle.
type Store struct {
	DB *sql.DB

	// Logger receives rows skipped because their payload no longer decodes.
	Logger *slog.Logger
}

// Open opens (or creates) the database at path and migrates it.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithMigrations(Migrations...),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db, Logger: slog.Default()}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
