// Package storage defines the Storage Sink contract, the backend registry, and
// the batch loader that drives a sink.
//
// Backends live in sub-packages and register themselves at init time; import
// ecoetl/internal/storage/all to enable every built-in kind.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"ecoetl/internal/config"
	"ecoetl/pkg/records"
)

// Sink is the external store records land in.
//
// Insert applies all records of one call atomically: either every record is
// persisted or none is. Calls are independent of each other and may run
// concurrently.
type Sink interface {
	Insert(ctx context.Context, table string, recs []records.Record) error
	DeleteAll(ctx context.Context, table string) error
	Close() error
}

// Config is the backend-agnostic sink configuration.
type Config struct {
	Kind    string
	DSN     string
	Table   string
	Options config.Options
}

// Factory opens a Sink for cfg.
type Factory func(ctx context.Context, cfg Config) (Sink, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[kind] = f
}

// New opens a Sink of cfg.Kind.
func New(ctx context.Context, cfg Config) (Sink, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ConfigFromProfile derives the sink configuration of a profile.
func ConfigFromProfile(p config.Profile) Config {
	return Config{
		Kind:    p.Storage.Kind,
		DSN:     p.Storage.DSN,
		Table:   p.Storage.Table,
		Options: p.Storage.Options,
	}
}
