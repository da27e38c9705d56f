// Package mysql implements a MySQL sink on go-sql-driver/mysql. Each batch is
// written with multi-row INSERT statements inside one transaction.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"ecoetl/internal/ddl"
	"ecoetl/internal/storage"
	"ecoetl/pkg/records"
)

// maxPlaceholders is the server's prepared-statement parameter limit.
const maxPlaceholders = 65535

// Config holds MySQL sink configuration.
type Config struct {
	// DSN in go-sql-driver form, e.g. "user:pass@tcp(localhost:3306)/etl".
	DSN string
}

// Repository is the MySQL-backed storage.Sink.
type Repository struct {
	db *sql.DB
}

// NewRepository opens the pool, pings it and returns a Close function.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql dsn: %w", err)
	}
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetConnMaxLifetime(3 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping: %w", err)
	}
	return &Repository{db: db}, func() { _ = db.Close() }, nil
}

// Insert writes recs to table. Lists and vectors are sent as JSON text.
func (r *Repository) Insert(ctx context.Context, table string, recs []records.Record) error {
	if len(recs) == 0 {
		return nil
	}
	cols := records.Columns(recs)
	rows := records.Rows(recs, cols, storage.JSONText)
	return storage.Classify("insert", table, r.insert(ctx, table, cols, rows), isRejected)
}

func (r *Repository) insert(ctx context.Context, table string, cols []string, rows [][]any) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	per := max(1, maxPlaceholders/len(cols))
	for lo := 0; lo < len(rows); lo += per {
		chunk := rows[lo:min(lo+per, len(rows))]
		query, args := multiInsert(table, cols, chunk)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert rows %d..%d: %w", lo, lo+len(chunk)-1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// multiInsert builds INSERT INTO t (a, b) VALUES (?, ?), (?, ?) ...
func multiInsert(table string, cols []string, rows [][]any) (string, []any) {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = ddl.MySQL.Quote(c)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", ddl.MySQL.QuoteFQN(table), strings.Join(quoted, ", "))
	args := make([]any, 0, len(rows)*len(cols))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
		args = append(args, row...)
	}
	return b.String(), args
}

// DeleteAll removes every row of table.
func (r *Repository) DeleteAll(ctx context.Context, table string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM "+ddl.MySQL.QuoteFQN(table))
	return storage.Classify("delete_all", table, err, isRejected)
}

// CreateTable creates def when missing.
func (r *Repository) CreateTable(ctx context.Context, def ddl.TableDef) error {
	stmt, err := ddl.MySQL.CreateTable(def)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("mysql: create table: %w", err)
	}
	return nil
}

// rejectedNumbers are server errors caused by batch contents or the schema.
var rejectedNumbers = map[uint16]bool{
	1048: true, // column cannot be null
	1054: true, // unknown column
	1062: true, // duplicate entry
	1146: true, // table doesn't exist
	1264: true, // out of range value
	1292: true, // incorrect value
	1366: true, // incorrect string value
	1406: true, // data too long
	1452: true, // foreign key constraint fails
	3140: true, // invalid JSON text
}

func isRejected(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && rejectedNumbers[me.Number]
}
