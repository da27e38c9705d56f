// Package sqlite implements a SQLite-backed storage.Sink using database/sql
// and the pure-Go modernc.org/sqlite driver. Each batch is inserted inside one
// transaction; SQLite has no bulk-load API like Postgres COPY, but
// transactions keep performance acceptable for moderate volumes.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"ecoetl/internal/ddl"
	"ecoetl/internal/storage"
	"ecoetl/pkg/records"
)

// Config holds SQLite sink configuration.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:etl.db?_pragma=busy_timeout(5000)"
	//   "etl.db"
	DSN string
}

// Repository is a SQLite-backed implementation of storage.Sink.
type Repository struct {
	db *sql.DB
}

// NewRepository opens a SQLite connection using the provided DSN and returns
// a Repository plus a Close function for cleanup.
//
// The pool is limited to one connection: SQLite serializes writers anyway,
// and an in-memory database exists only on the connection that created it.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;")

	closeFn := func() { db.Close() }
	return &Repository{db: db}, closeFn, nil
}

// Insert writes recs to table in one transaction. Lists and vectors are
// stored as JSON text.
func (r *Repository) Insert(ctx context.Context, table string, recs []records.Record) error {
	if len(recs) == 0 {
		return nil
	}
	cols := records.Columns(recs)
	err := storage.ExecBatch(ctx, r.db, insertSQL(table, cols), records.Rows(recs, cols, storage.JSONText))
	return storage.Classify("insert", table, err, isRejected)
}

// DeleteAll removes every row of table.
func (r *Repository) DeleteAll(ctx context.Context, table string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM "+ddl.SQLite.QuoteFQN(table))
	return storage.Classify("delete_all", table, err, isRejected)
}

// CreateTable creates def when missing.
func (r *Repository) CreateTable(ctx context.Context, def ddl.TableDef) error {
	stmt, err := ddl.SQLite.CreateTable(def)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sqlite: create table: %w", err)
	}
	return nil
}

func insertSQL(table string, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = ddl.SQLite.Quote(c)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		ddl.SQLite.QuoteFQN(table),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
	)
}

// isRejected reports SQLite result codes caused by the data or the
// statement. Busy, locked, I/O and open failures are unavailability.
func isRejected(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_MISMATCH, sqlite3.SQLITE_ERROR,
		sqlite3.SQLITE_TOOBIG, sqlite3.SQLITE_RANGE:
		return true
	}
	return false
}
