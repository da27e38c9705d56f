// This file implements the Batch Loader: it partitions normalized records
// into contiguous batches and submits each batch to a Sink in one Insert call.
//
// A failed batch is recorded and the loader moves on; it is never retried and
// never aborts the remaining batches. Writes may run with bounded concurrency.
//
// Logging: on every successful batch, a concise progress line is emitted with
// running totals and instantaneous rows/sec since the previous batch.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ecoetl/internal/etlerr"
	"ecoetl/pkg/records"
)

// DefaultWriteTimeout bounds one Insert when LoadOptions.WriteTimeout is zero.
const DefaultWriteTimeout = 60 * time.Second

// LoadOptions tunes Load.
type LoadOptions struct {
	// Workers caps concurrent batch writes. Values below 1 mean 1.
	Workers int
	// WriteTimeout bounds each Insert call.
	WriteTimeout time.Duration
	// OnBatch observes every attempted batch. Calls are serialized.
	OnBatch func(BatchResult)
	Logger  *slog.Logger
}

// BatchResult describes one attempted batch.
type BatchResult struct {
	Index   int
	Size    int
	Err     error
	Elapsed time.Duration
}

// BatchFailure is a batch the sink did not persist.
type BatchFailure struct {
	Index int
	Size  int
	Kind  etlerr.Kind
	Err   error
}

// Outcome summarizes a Load call.
type Outcome struct {
	// Batches counts the batches submitted to the sink.
	Batches int
	// Failed counts the submitted batches that returned an error.
	Failed int
	// Persisted counts records in successful batches.
	Persisted int
	// NotDispatched counts records never submitted because ctx was canceled.
	NotDispatched int
	// Canceled reports that dispatch stopped early.
	Canceled bool
	// Failures lists failed batches ordered by index.
	Failures []BatchFailure
}

// FailedRecords returns the number of records in failed batches.
func (o Outcome) FailedRecords() int {
	n := 0
	for _, f := range o.Failures {
		n += f.Size
	}
	return n
}

// Load writes recs to table in batches of batchSize.
//
// Cancellation of ctx stops dispatch between batches; a batch already handed
// to the sink runs to completion, bounded only by WriteTimeout. A write that
// exceeds WriteTimeout is a SinkUnavailable failure of that batch.
//
// The returned error is non-nil only for invalid arguments. Batch failures
// are reported through Outcome.
func Load(
	ctx context.Context,
	recs []records.Record,
	table string,
	batchSize int,
	sink Sink,
	opt LoadOptions,
) (Outcome, error) {
	if batchSize <= 0 {
		return Outcome{}, fmt.Errorf("batchSize must be > 0")
	}
	if sink == nil {
		return Outcome{}, fmt.Errorf("sink must not be nil")
	}
	workers := opt.Workers
	if workers < 1 {
		workers = 1
	}
	timeout := opt.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "loader", "table", table)

	var (
		out         Outcome
		mu          sync.Mutex
		start       = time.Now()
		lastFlushTS = start
		lastTotal   int
		succeeded   int
	)

	record := func(res BatchResult) {
		mu.Lock()
		defer mu.Unlock()

		out.Batches++
		if res.Err != nil {
			kind := etlerr.KindOf(res.Err)
			out.Failed++
			out.Failures = append(out.Failures, BatchFailure{Index: res.Index, Size: res.Size, Kind: kind, Err: res.Err})
			logger.Warn("batch failed",
				"batch", res.Index,
				"size", res.Size,
				"kind", kind.String(),
				"err", res.Err,
			)
		} else {
			out.Persisted += res.Size
			succeeded++
			now := time.Now()
			sinceLast := now.Sub(lastFlushTS)
			rps := float64(0)
			if sinceLast > 0 {
				rps = float64(out.Persisted-lastTotal) / sinceLast.Seconds()
			}
			logger.Info(fmt.Sprintf(
				"batch #%d: rps=%.0f inserted=%d total_inserted=%d elapsed=%s since_last=%s",
				succeeded,
				rps,
				res.Size,
				out.Persisted,
				now.Sub(start).Truncate(time.Millisecond),
				sinceLast.Truncate(time.Millisecond),
			))
			lastFlushTS = now
			lastTotal = out.Persisted
		}
		if opt.OnBatch != nil {
			opt.OnBatch(res)
		}
	}

	skip := func(n int) {
		mu.Lock()
		out.NotDispatched += n
		out.Canceled = true
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(workers)

	for idx, lo := 0, 0; lo < len(recs); idx, lo = idx+1, lo+batchSize {
		hi := min(lo+batchSize, len(recs))
		if ctx.Err() != nil {
			skip(len(recs) - lo)
			break
		}
		batch := recs[lo:hi]
		g.Go(func() error {
			// A slot may free up only after cancellation.
			if ctx.Err() != nil {
				skip(len(batch))
				return nil
			}
			began := time.Now()
			err := write(ctx, sink, table, batch, timeout)
			record(BatchResult{Index: idx, Size: len(batch), Err: err, Elapsed: time.Since(began)})
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(out.Failures, func(i, j int) bool { return out.Failures[i].Index < out.Failures[j].Index })
	logger.Info("load finished",
		"batches", out.Batches,
		"failed", out.Failed,
		"persisted", out.Persisted,
		"not_dispatched", out.NotDispatched,
		"elapsed", time.Since(start).Truncate(time.Millisecond),
	)
	return out, nil
}

// write runs one Insert detached from ctx's cancellation but bounded by
// timeout, so a canceled run never interrupts a batch mid-write.
func write(ctx context.Context, sink Sink, table string, batch []records.Record, timeout time.Duration) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	err := sink.Insert(wctx, table, batch)
	if err == nil {
		return nil
	}
	if errors.Is(wctx.Err(), context.DeadlineExceeded) && etlerr.KindOf(err) != etlerr.SinkUnavailable {
		return etlerr.New(etlerr.SinkUnavailable, "insert", table, fmt.Errorf("write timeout after %s: %w", timeout, err))
	}
	return Classify("insert", table, err, nil)
}

