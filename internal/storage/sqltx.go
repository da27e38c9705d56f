package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// ExecBatch runs the prepared statement query once per row inside a single
// transaction, so the rows commit together or not at all. It is the insert
// path of database/sql backends without a bulk-load API.
func ExecBatch(ctx context.Context, db *sql.DB, query string, rows [][]any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
