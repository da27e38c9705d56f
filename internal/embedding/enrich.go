package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"ecoetl/pkg/records"
)

// Defaults for Options.
const (
	DefaultChunkSize = 64
	DefaultWorkers   = 2
)

// Options configures Enrich.
type Options struct {
	// Fields are concatenated with a single space to form the text.
	Fields []string
	// Target is the new column holding the []float32 vector.
	Target    string
	ChunkSize int
	Workers   int
}

// Enrich returns a copy of ds with a Target column holding one vector per
// row. Rows whose text is empty get nil. Chunks are embedded concurrently on
// an ants pool; the first failure cancels the remaining chunks and is
// returned, so no partially enriched dataset ever leaves this function.
func Enrich(ctx context.Context, ds *records.Dataset, opt Options, emb Embedder) (*records.Dataset, error) {
	if _, exists := ds.Index(opt.Target); exists {
		return nil, fmt.Errorf("embedding: target column %q already exists", opt.Target)
	}
	pos := make([]int, 0, len(opt.Fields))
	for _, f := range opt.Fields {
		j, ok := ds.Index(f)
		if !ok {
			return nil, fmt.Errorf("embedding: source field %q not in dataset", f)
		}
		pos = append(pos, j)
	}
	chunkSize := opt.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	workers := opt.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	// Only non-empty texts are sent; idx maps them back to rows.
	var texts []string
	var idx []int
	for i, row := range ds.Rows {
		if t := rowText(row, pos); t != "" {
			texts = append(texts, t)
			idx = append(idx, i)
		}
	}

	vectors := make([][]float32, len(texts))
	if len(texts) > 0 {
		if err := embedChunks(ctx, emb, texts, vectors, chunkSize, workers); err != nil {
			return nil, err
		}
	}

	cols := append(append([]string(nil), ds.Columns...), opt.Target)
	out := records.NewDataset(cols)
	out.Rows = make([][]any, len(ds.Rows))
	for i, row := range ds.Rows {
		nr := make([]any, len(row)+1)
		copy(nr, row)
		out.Rows[i] = nr
	}
	for k, i := range idx {
		out.Rows[i][len(cols)-1] = vectors[k]
	}

	slog.Default().Debug("embedded rows", "component", "embedding",
		"rows", len(ds.Rows), "texts", len(texts), "dims", emb.Dimensions())
	return out, nil
}

func embedChunks(ctx context.Context, emb Embedder, texts []string, dst [][]float32, chunkSize, workers int) error {
	pool, err := ants.NewPool(workers)
	if err != nil {
		return fmt.Errorf("embedding: pool: %w", err)
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for lo := 0; lo < len(texts); lo += chunkSize {
		hi := min(lo+chunkSize, len(texts))
		chunk := lo / chunkSize
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			vecs, err := emb.EmbedTexts(ctx, texts[lo:hi])
			if err != nil {
				fail(fmt.Errorf("embedding: chunk %d: %w", chunk, err))
				return
			}
			if len(vecs) != hi-lo {
				fail(fmt.Errorf("embedding: chunk %d: got %d vectors for %d texts", chunk, len(vecs), hi-lo))
				return
			}
			for k, v := range vecs {
				if len(v) != emb.Dimensions() {
					fail(fmt.Errorf("embedding: chunk %d: vector has %d dimensions, want %d", chunk, len(v), emb.Dimensions()))
					return
				}
				dst[lo+k] = v
			}
		})
		if submitErr != nil {
			wg.Done()
			fail(fmt.Errorf("embedding: submit chunk %d: %w", chunk, submitErr))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func rowText(row []any, pos []int) string {
	var b strings.Builder
	for _, j := range pos {
		s, ok := row[j].(string)
		if !ok || s == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
	}
	return b.String()
}
