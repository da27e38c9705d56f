package postgres

import (
	"context"

	"ecoetl/internal/storage"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

// wrappedRepo adds a Close method that calls the close function returned by
// NewRepository.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

var (
	_ storage.Sink         = (*wrappedRepo)(nil)
	_ storage.TableCreator = (*wrappedRepo)(nil)
)

// Close implements storage.Sink.Close.
func (w *wrappedRepo) Close() error {
	if w.closeFn != nil {
		w.closeFn()
	}
	return nil
}

// init registers the "postgres" backend with the storage factory. Options:
//
//	max_conns: pool size cap (int)
func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Sink, error) {
		r, closeFn, err := newRepository(ctx, Config{
			DSN:      cfg.DSN,
			MaxConns: int32(cfg.Options.Int("max_conns", 0)),
		})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})
}
