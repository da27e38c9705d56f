// Package datasource declares the source adapter contract. Implementations
// live in the file, httpds, archive and s3src subpackages.
package datasource

import (
	"context"
	"io"
)

// Source yields the raw bytes of one delimited-text input. Open is called at
// most once per run; the caller closes the returned reader.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Name() string
}
