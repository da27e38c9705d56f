package mssql

import (
	"context"

	"ecoetl/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
var newRepository = NewRepository

var (
	_ storage.Sink         = (*wrappedRepo)(nil)
	_ storage.TableCreator = (*wrappedRepo)(nil)
)

// init registers the "mssql" backend. Options:
//
//	tablock: take a table lock during bulk copy (bool)
func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		r, closeFn, err := newRepository(ctx, Config{
			DSN:     cfg.DSN,
			Tablock: cfg.Options.Bool("tablock", false),
		})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
}

type wrappedRepo struct {
	*Repository
	closeFn func()
}

func (w *wrappedRepo) Close() error {
	w.closeFn()
	return nil
}
