// Package mssql implements a Microsoft SQL Server sink using the go-mssqldb
// bulk copy API. Each batch is bulk-copied inside its own transaction.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"ecoetl/internal/ddl"
	"ecoetl/internal/storage"
	"ecoetl/pkg/records"
)

// Config holds MSSQL sink configuration.
type Config struct {
	DSN string
	// Tablock requests a table lock for bulk copies.
	Tablock bool
}

// Repository is an MSSQL-backed implementation of storage.Sink.
type Repository struct {
	db  *sql.DB
	cfg Config
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	close := func() { _ = db.Close() }
	return &Repository{db: db, cfg: cfg}, close, nil
}

// Insert bulk-copies recs into table. Lists and vectors are sent as JSON text.
func (r *Repository) Insert(ctx context.Context, table string, recs []records.Record) error {
	if len(recs) == 0 {
		return nil
	}
	cols := records.Columns(recs)
	rows := records.Rows(recs, cols, storage.JSONText)
	return storage.Classify("bulk_copy", table, r.copyIn(ctx, table, cols, rows), isRejected)
}

func (r *Repository) copyIn(ctx context.Context, table string, cols []string, rows [][]any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	rollback := func() { _ = tx.Rollback() }

	opts := mssql.BulkOptions{Tablock: r.cfg.Tablock}
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(msFQN(table), opts, cols...))
	if err != nil {
		rollback()
		return fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			rollback()
			return fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		rollback()
		return fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		rollback()
		return fmt.Errorf("rows affected: %w", err)
	}
	if int(n) != len(rows) {
		rollback()
		return fmt.Errorf("bulk copied %d of %d rows", n, len(rows))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeleteAll removes every row of table.
func (r *Repository) DeleteAll(ctx context.Context, table string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM "+msFQN(table))
	return storage.Classify("delete_all", table, err, isRejected)
}

// CreateTable creates def when missing.
func (r *Repository) CreateTable(ctx context.Context, def ddl.TableDef) error {
	stmt, err := ddl.MSSQL.CreateTable(def)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("mssql: create table: %w", err)
	}
	return nil
}

// rejectedNumbers are server error numbers caused by the batch contents or
// the target schema.
var rejectedNumbers = map[int32]bool{
	207:  true, // invalid column name
	208:  true, // invalid object name
	245:  true, // conversion failed
	515:  true, // cannot insert NULL
	547:  true, // constraint conflict
	2601: true, // duplicate key (unique index)
	2627: true, // duplicate key (constraint)
	2628: true, // string or binary data would be truncated
	4815: true, // bulk load: invalid column length
	8114: true, // error converting data type
	8152: true, // string or binary data would be truncated
}

func isRejected(err error) bool {
	var me mssql.Error
	if errors.As(err, &me) {
		return rejectedNumbers[me.Number]
	}
	var mp *mssql.Error
	if errors.As(err, &mp) {
		return rejectedNumbers[mp.Number]
	}
	return false
}

// msIdent safely quotes a SQL Server identifier using [brackets], escaping ].
func msIdent(id string) string { return `[` + strings.ReplaceAll(id, `]`, `]]`) + `]` }

// msFQN quotes a possibly schema-qualified name like "dbo.hr_events" to
// "[dbo].[hr_events]". If no dot is present, returns a single quoted ident.
func msFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = msIdent(p)
	}
	return strings.Join(parts, ".")
}
