// Package postgres implements a Postgres sink using pgx v5. Each batch is a
// single COPY into the destination table, which Postgres applies atomically.
// Batches for tables with pgvector columns are inserted in one transaction
// instead.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ecoetl/internal/ddl"
	"ecoetl/internal/storage"
	"ecoetl/pkg/records"
)

// Config holds Postgres sink configuration.
type Config struct {
	DSN string // connection string for pgxpool
	// MaxConns caps the pool size; zero keeps the pgxpool default.
	MaxConns int32
}

// Repository is the Postgres-backed storage.Sink.
type Repository struct {
	pool *pgxpool.Pool
	// vecCols caches vectorColumns per table.
	vecCols sync.Map
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	return &Repository{pool: pool}, pool.Close, nil
}

// Insert copies recs into table in one COPY statement, or one transaction of
// INSERTs when a batch column is a pgvector column.
func (r *Repository) Insert(ctx context.Context, table string, recs []records.Record) error {
	if len(recs) == 0 {
		return nil
	}
	cols := records.Columns(recs)
	vec, err := r.vectorColumns(ctx, table)
	if err != nil {
		return storage.Classify("copy", table, err, isRejected)
	}
	if hasAny(cols, vec) {
		return r.insertVectors(ctx, table, cols, vec, recs)
	}
	rows := records.Rows(recs, cols, nil)

	n, err := r.pool.CopyFrom(ctx, splitFQN(table), cols, pgx.CopyFromRows(rows))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			err = fmt.Errorf("copy: %w (%s)", err, pgErr.Detail)
		}
		return storage.Classify("copy", table, err, isRejected)
	}
	if int(n) != len(recs) {
		return storage.Classify("copy", table, fmt.Errorf("copied %d of %d rows", n, len(recs)), nil)
	}
	return nil
}

func hasAny(cols []string, set map[string]bool) bool {
	for _, c := range cols {
		if set[c] {
			return true
		}
	}
	return false
}

// DeleteAll removes every row of table.
func (r *Repository) DeleteAll(ctx context.Context, table string) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM "+pgFQN(table))
	return storage.Classify("delete_all", table, err, isRejected)
}

// CreateTable creates def when missing.
func (r *Repository) CreateTable(ctx context.Context, def ddl.TableDef) error {
	stmt, err := ddl.Postgres.CreateTable(def)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: create table: %w", err)
	}
	return nil
}

// isRejected reports server errors about the data or the statement itself.
// Connection, resource and shutdown classes are treated as unavailability.
func isRejected(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch {
	case strings.HasPrefix(pgErr.Code, "22"), // data exception
		strings.HasPrefix(pgErr.Code, "23"), // integrity constraint violation
		strings.HasPrefix(pgErr.Code, "42"): // syntax error or access rule violation
		return true
	}
	return false
}

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name like "public.hr_events" to
// "public"."hr_events". If no dot is present, returns a single quoted ident.
func pgFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, ".")
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
// If no dot is present, returns {"table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}
