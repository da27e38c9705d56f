// Package duckdb implements a DuckDB sink, for loading datasets into a local
// analytical database file. Each batch is inserted inside one transaction.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"ecoetl/internal/ddl"
	"ecoetl/internal/storage"
	"ecoetl/pkg/records"
)

// Repository is the DuckDB-backed storage.Sink.
type Repository struct {
	db *sql.DB
}

// NewRepository opens the database at dsn ("" or ":memory:" for in-memory).
func NewRepository(ctx context.Context, dsn string) (*Repository, func(), error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("duckdb: open: %w", err)
	}
	// One writer connection; an in-memory database is per connector anyway.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("duckdb: ping: %w", err)
	}
	return &Repository{db: db}, func() { _ = db.Close() }, nil
}

// Insert writes recs to table. Lists and vectors are stored as JSON text.
func (r *Repository) Insert(ctx context.Context, table string, recs []records.Record) error {
	if len(recs) == 0 {
		return nil
	}
	cols := records.Columns(recs)
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = ddl.DuckDB.Quote(c)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ddl.DuckDB.QuoteFQN(table),
		strings.Join(quoted, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
	)
	err := storage.ExecBatch(ctx, r.db, query, records.Rows(recs, cols, storage.JSONText))
	return storage.Classify("insert", table, err, isRejected)
}

// DeleteAll removes every row of table.
func (r *Repository) DeleteAll(ctx context.Context, table string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM "+ddl.DuckDB.QuoteFQN(table))
	return storage.Classify("delete_all", table, err, isRejected)
}

// CreateTable creates def when missing.
func (r *Repository) CreateTable(ctx context.Context, def ddl.TableDef) error {
	stmt, err := ddl.DuckDB.CreateTable(def)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("duckdb: create table: %w", err)
	}
	return nil
}

// DuckDB error messages carry their class as a prefix.
var rejectedPrefixes = []string{
	"Constraint Error",
	"Conversion Error",
	"Catalog Error",
	"Binder Error",
	"Invalid Input Error",
	"Out of Range Error",
}

func isRejected(err error) bool {
	msg := err.Error()
	for _, p := range rejectedPrefixes {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

type wrappedRepo struct {
	*Repository
	closeFn func()
}

func (w *wrappedRepo) Close() error {
	w.closeFn()
	return nil
}

func init() {
	storage.Register("duckdb", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		r, closeFn, err := NewRepository(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
}
