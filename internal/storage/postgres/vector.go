package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"ecoetl/internal/storage"
	"ecoetl/pkg/records"
)

// Tables created by CreateTable hold embeddings as real[], which COPY fills
// from []float32 directly. Existing tables may instead declare a pgvector
// "vector" column. pgx has no codec for that extension type, so batches
// touching one are written with INSERT statements that cast a text literal.

const vectorColumnsSQL = `SELECT a.attname
FROM pg_attribute a JOIN pg_type t ON t.oid = a.atttypid
WHERE a.attrelid = to_regclass($1) AND a.attnum > 0 AND NOT a.attisdropped
  AND t.typname = 'vector'`

// vectorColumns returns the pgvector columns of table, looked up once per
// table.
func (r *Repository) vectorColumns(ctx context.Context, table string) (map[string]bool, error) {
	if v, ok := r.vecCols.Load(table); ok {
		return v.(map[string]bool), nil
	}
	rows, err := r.pool.Query(ctx, vectorColumnsSQL, pgFQN(table))
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	cols := make(map[string]bool, len(names))
	for _, n := range names {
		cols[n] = true
	}
	r.vecCols.Store(table, cols)
	return cols, nil
}

// insertVectors writes recs in one transaction, one INSERT per row.
func (r *Repository) insertVectors(ctx context.Context, table string, cols []string, vec map[string]bool, recs []records.Record) error {
	stmt := insertSQL(table, cols, vec)
	b := &pgx.Batch{}
	for _, row := range records.Rows(recs, cols, nil) {
		for i, c := range cols {
			if vec[c] {
				row[i] = vectorLiteral(row[i])
			}
		}
		b.Queue(stmt, row...)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storage.Classify("insert", table, err, isRejected)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return storage.Classify("insert", table, err, isRejected)
	}
	return storage.Classify("insert", table, tx.Commit(ctx), isRejected)
}

// insertSQL builds a positional INSERT casting pgvector columns from text.
func insertSQL(table string, cols []string, vec map[string]bool) string {
	names := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		names[i] = pgIdent(c)
		params[i] = "$" + strconv.Itoa(i+1)
		if vec[c] {
			params[i] += "::text::vector"
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgFQN(table), strings.Join(names, ", "), strings.Join(params, ", "))
}

// vectorLiteral renders an embedding in pgvector's text form, "[0.1,0.2]".
// Nil and unrecognized values pass through.
func vectorLiteral(v any) any {
	var fs []float64
	switch x := v.(type) {
	case []float32:
		if x == nil {
			return nil
		}
		fs = make([]float64, len(x))
		for i, f := range x {
			fs[i] = float64(f)
		}
		return formatVector(fs, 32)
	case []float64:
		if x == nil {
			return nil
		}
		return formatVector(x, 64)
	}
	return v
}

func formatVector(fs []float64, bits int) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range fs {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(f, 'g', -1, bits))
	}
	sb.WriteByte(']')
	return sb.String()
}
