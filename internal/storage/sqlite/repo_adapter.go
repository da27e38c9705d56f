package sqlite

import (
	"context"

	"ecoetl/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

// wrappedRepo adds a Close method that calls the cleanup function returned
// by NewRepository.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

// Close implements storage.Sink.Close.
func (w *wrappedRepo) Close() error {
	if w.closeFn != nil {
		w.closeFn()
	}
	return nil
}

var (
	_ storage.Sink         = (*wrappedRepo)(nil)
	_ storage.TableCreator = (*wrappedRepo)(nil)
)

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		r, closeFn, err := newRepository(ctx, Config{DSN: cfg.DSN})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
}
