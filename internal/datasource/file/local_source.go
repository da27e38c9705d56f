// Package file implements the local filesystem source adapters: a single
// file, or every file in a directory matching a pattern.
package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"ecoetl/internal/etlerr"
)

// Local is a filesystem data source that opens one file from the local disk.
type Local struct{ path string }

// NewLocal returns a Local source bound to path. It is safe for concurrent
// use as long as the file is.
func NewLocal(path string) *Local { return &Local{path: path} }

// Name returns the path.
func (l *Local) Name() string { return l.path }

// Open opens the configured path for reading.
//
// A canceled context short-circuits without touching the filesystem. Every
// failure is a SourceUnavailable error that still satisfies errors.Is for the
// underlying cause (os.ErrNotExist, context.Canceled).
func (l *Local) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, etlerr.New(etlerr.SourceUnavailable, "open", l.path, ctx.Err())
	default:
	}
	f, err := os.Open(l.path)
	if err != nil {
		return nil, etlerr.New(etlerr.SourceUnavailable, "open", l.path, fmt.Errorf("open %s: %w", l.path, err))
	}
	adviseSequential(f)
	return f, nil
}

// Glob resolves every regular file in dir whose base name matches pattern
// (filepath.Match syntax), sorted by name. No match is a SourceUnavailable
// error: a folder dataset with nothing in it cannot be loaded.
func Glob(dir, pattern string) ([]*Local, error) {
	if pattern == "" {
		pattern = "*"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, etlerr.New(etlerr.SourceUnavailable, "glob", dir, fmt.Errorf("pattern %q: %w", pattern, err))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, etlerr.New(etlerr.SourceUnavailable, "glob", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if ok, _ := filepath.Match(pattern, e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, etlerr.New(etlerr.SourceUnavailable, "glob", dir, fmt.Errorf("no files match %q", pattern))
	}
	sort.Strings(names)

	out := make([]*Local, len(names))
	for i, n := range names {
		out[i] = NewLocal(filepath.Join(dir, n))
	}
	return out, nil
}
