package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/floatnote/dbopen"
)

func TestOpen_Pragmas(t *testing.T) {
	db := dbopen.OpenMemory(t)

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatal(err)
	}
	// :memory: reports "memory" even though the PRAGMA ran.
	if journalMode != "wal" && journalMode != "memory" {
		t.Fatalf("journal_mode = %q, want wal or memory", journalMode)
	}

	var fk, sync, busy int
	db.QueryRow("PRAGMA foreign_keys").Scan(&fk)
	db.QueryRow("PRAGMA synchronous").Scan(&sync)
	db.QueryRow("PRAGMA busy_timeout").Scan(&busy)
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
	if sync != 1 {
		t.Errorf("synchronous = %d, want 1 (NORMAL)", sync)
	}
	if busy != 10_000 {
		t.Errorf("busy_timeout = %d, want 10000", busy)
	}
}

func TestOptions(t *testing.T) {
	db := dbopen.OpenMemory(t,
		dbopen.WithBusyTimeout(5000),
		dbopen.WithSynchronous("FULL"),
	)
	var sync, busy int
	db.QueryRow("PRAGMA synchronous").Scan(&sync)
	db.QueryRow("PRAGMA busy_timeout").Scan(&busy)
	if sync != 2 || busy != 5000 {
		t.Errorf("sync=%d busy=%d", sync, busy)
	}
}

func TestWithMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")
	steps := []string{
		`CREATE TABLE notes (id TEXT PRIMARY KEY)`,
		`ALTER TABLE notes ADD COLUMN body TEXT NOT NULL DEFAULT ''`,
	}

	db, err := dbopen.Open(path, dbopen.WithMigrations(steps[:1]...))
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := dbopen.Version(context.Background(), db); v != 1 {
		t.Errorf("version = %d, want 1", v)
	}
	db.Exec(`INSERT INTO notes (id) VALUES ('a')`)
	db.Close()

	// Reopening applies only the new step; the existing row survives.
	db, err = dbopen.Open(path, dbopen.WithMigrations(steps...))
	if err != nil {
		t.Fatal(err)
	}
	var body string
	if err := db.QueryRow(`SELECT body FROM notes WHERE id = 'a'`).Scan(&body); err != nil {
		t.Fatalf("migrated row: %v", err)
	}
	if v, _ := dbopen.Version(context.Background(), db); v != 2 {
		t.Errorf("version = %d, want 2", v)
	}
	db.Close()

	if _, err := dbopen.Open(path, dbopen.WithMigrations(steps[:1]...)); !errors.Is(err, dbopen.ErrNewerSchema) {
		t.Errorf("downgrade err = %v", err)
	}
}

func TestWithMigrations_FailedStepRollsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.db")
	_, err := dbopen.Open(path, dbopen.WithMigrations(
		`CREATE TABLE ok (id TEXT)`,
		`CREATE TABLUH nope`,
	))
	if err == nil {
		t.Fatal("expected migration error")
	}
	db, err := dbopen.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if v, _ := dbopen.Version(context.Background(), db); v != 1 {
		t.Errorf("version = %d, want 1", v)
	}
}

func TestWithSchema(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE t (id TEXT PRIMARY KEY, name TEXT);`))
	if _, err := db.Exec(`INSERT INTO t (id, name) VALUES ('1', 'hello')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var name string
	if err := db.QueryRow(`SELECT name FROM t WHERE id = '1'`).Scan(&name); err != nil || name != "hello" {
		t.Fatalf("name = %q, %v", name, err)
	}
}

func TestWithSchema_Invalid(t *testing.T) {
	_, err := dbopen.Open(":memory:", dbopen.WithSchema(`CREATE TABLUH nope`))
	if err == nil {
		t.Fatal("expected schema error")
	}
}

func TestWithMkdirAll(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "deep", "annotations.db")
	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Fatalf("directory not created: %v", err)
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("some other error"), false},
		{errors.New("prefix: SQLITE_BUSY (5)"), true},
		{errors.New("database is locked"), true},
		{errors.New("database table is locked"), true},
	}
	for _, tt := range tests {
		if got := dbopen.IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRunTx(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE tx (id TEXT PRIMARY KEY)`))
	ctx := context.Background()

	if err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO tx (id) VALUES ('1')`)
		return err
	}); err != nil {
		t.Fatalf("RunTx: %v", err)
	}

	sentinel := errors.New("rollback me")
	calls := 0
	err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		calls++
		tx.Exec(`INSERT INTO tx (id) VALUES ('2')`)
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if calls != 1 {
		t.Errorf("non-busy error retried %d times", calls)
	}

	var count int
	db.QueryRow(`SELECT COUNT(*) FROM tx`).Scan(&count)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestRunTx_RetriesBusy(t *testing.T) {
	db := dbopen.OpenMemory(t)
	calls := 0
	err := dbopen.RunTx(context.Background(), db, func(*sql.Tx) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunTx: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRunTx_BusyExhausted(t *testing.T) {
	db := dbopen.OpenMemory(t)
	calls := 0
	err := dbopen.RunTx(context.Background(), db, func(*sql.Tx) error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	if !dbopen.IsBusy(err) {
		t.Fatalf("err = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestExec(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE ex (id TEXT PRIMARY KEY)`))
	res, err := dbopen.Exec(context.Background(), db, `INSERT INTO ex (id) VALUES (?)`, "1")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Errorf("rows = %d", n)
	}
}

func TestRunTx_ContextCancelled(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := dbopen.RunTx(ctx, db, func(*sql.Tx) error { return nil }); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
