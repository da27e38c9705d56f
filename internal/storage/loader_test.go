package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecoetl/internal/etlerr"
	"ecoetl/pkg/records"
)

func makeRecords(n int) []records.Record {
	out := make([]records.Record, n)
	for i := range out {
		out[i] = records.Record{"cpf_cnpj": fmt.Sprintf("%011d", i), "valor_multa": float64(i)}
	}
	return out
}

// scriptedSink records batch sizes and fails the calls listed in failOn
// (1-based call numbers).
type scriptedSink struct {
	mu     sync.Mutex
	sizes  []int
	calls  int
	failOn map[int]error
	hook   func(ctx context.Context, call int)

	inflight, peak int32
}

func (s *scriptedSink) Insert(ctx context.Context, _ string, recs []records.Record) error {
	n := atomic.AddInt32(&s.inflight, 1)
	defer atomic.AddInt32(&s.inflight, -1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}

	s.mu.Lock()
	s.calls++
	call := s.calls
	s.sizes = append(s.sizes, len(recs))
	err := s.failOn[call]
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		hook(ctx, call)
	}
	return err
}

func (s *scriptedSink) DeleteAll(context.Context, string) error { return nil }
func (s *scriptedSink) Close() error                            { return nil }

func TestLoad_SecondBatchFailureIsIsolated(t *testing.T) {
	t.Parallel()

	sink := &scriptedSink{failOn: map[int]error{2: errors.New("connection reset")}}
	var seen []BatchResult

	out, err := Load(context.Background(), makeRecords(1200), "public.autuacoes", 500, sink, LoadOptions{
		OnBatch: func(r BatchResult) { seen = append(seen, r) },
	})
	require.NoError(t, err)

	assert.Equal(t, []int{500, 500, 200}, sink.sizes)
	assert.Equal(t, 3, out.Batches)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, 700, out.Persisted)
	assert.Equal(t, 500, out.FailedRecords())
	assert.False(t, out.Canceled)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, 1, out.Failures[0].Index)
	assert.Equal(t, 500, out.Failures[0].Size)
	assert.Equal(t, etlerr.SinkUnavailable, out.Failures[0].Kind)
	assert.ErrorIs(t, out.Failures[0].Err, etlerr.SinkUnavailable)
	assert.Len(t, seen, 3)
}

func TestLoad_RejectedKindIsKept(t *testing.T) {
	t.Parallel()

	rejected := etlerr.New(etlerr.SinkRejected, "insert", "t", errors.New("violates not-null constraint"))
	sink := &scriptedSink{failOn: map[int]error{1: rejected}}

	out, err := Load(context.Background(), makeRecords(3), "t", 2, sink, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, etlerr.SinkRejected, out.Failures[0].Kind)
	assert.Equal(t, 1, out.Persisted)
}

func TestLoad_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	sink := &scriptedSink{hook: func(context.Context, int) { time.Sleep(5 * time.Millisecond) }}

	out, err := Load(context.Background(), makeRecords(1000), "t", 50, sink, LoadOptions{Workers: 3})
	require.NoError(t, err)
	assert.Equal(t, 20, out.Batches)
	assert.Equal(t, 1000, out.Persisted)
	assert.LessOrEqual(t, atomic.LoadInt32(&sink.peak), int32(3))
}

func TestLoad_CancelStopsBetweenBatches(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var writeCtxErr error
	sink := &scriptedSink{hook: func(wctx context.Context, call int) {
		if call == 1 {
			cancel()
			writeCtxErr = wctx.Err()
		}
	}}

	out, err := Load(ctx, makeRecords(1200), "t", 500, sink, LoadOptions{})
	require.NoError(t, err)

	assert.NoError(t, writeCtxErr, "in-flight batch must not observe run cancellation")
	assert.Equal(t, 1, out.Batches)
	assert.Equal(t, 500, out.Persisted)
	assert.Equal(t, 700, out.NotDispatched)
	assert.True(t, out.Canceled)
	assert.Equal(t, []int{500}, sink.sizes)
}

func TestLoad_WriteTimeoutIsUnavailable(t *testing.T) {
	t.Parallel()

	sink := &blockingSink{}
	out, err := Load(context.Background(), makeRecords(2), "t", 10, sink, LoadOptions{WriteTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	require.Len(t, out.Failures, 1)
	assert.Equal(t, etlerr.SinkUnavailable, out.Failures[0].Kind)
	assert.ErrorIs(t, out.Failures[0].Err, context.DeadlineExceeded)
	assert.Equal(t, 0, out.Persisted)
}

type blockingSink struct{}

func (blockingSink) Insert(ctx context.Context, _ string, _ []records.Record) error {
	<-ctx.Done()
	return ctx.Err()
}
func (blockingSink) DeleteAll(context.Context, string) error { return nil }
func (blockingSink) Close() error                            { return nil }

func TestLoad_InvalidArguments(t *testing.T) {
	t.Parallel()

	_, err := Load(context.Background(), nil, "t", 0, &scriptedSink{}, LoadOptions{})
	assert.Error(t, err)
	_, err = Load(context.Background(), nil, "t", 10, nil, LoadOptions{})
	assert.Error(t, err)

	out, err := Load(context.Background(), nil, "t", 10, &scriptedSink{}, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, Outcome{}, out)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	constraint := errors.New("duplicate key")
	isConstraint := func(err error) bool { return errors.Is(err, constraint) }

	tests := []struct {
		name string
		err  error
		want etlerr.Kind
	}{
		{"rejected by backend", constraint, etlerr.SinkRejected},
		{"unknown error", errors.New("eof"), etlerr.SinkUnavailable},
		{"deadline", fmt.Errorf("copy: %w", context.DeadlineExceeded), etlerr.SinkUnavailable},
		{"network", &net.OpError{Op: "dial", Err: errors.New("refused")}, etlerr.SinkUnavailable},
		{"already classified", etlerr.New(etlerr.SinkRejected, "insert", "t", nil), etlerr.SinkRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Classify("insert", "t", tt.err, isConstraint)
			assert.Equal(t, tt.want, etlerr.KindOf(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}
	assert.NoError(t, Classify("insert", "t", nil, nil))
}

func TestJSONTextInRows(t *testing.T) {
	t.Parallel()

	recs := []records.Record{
		{"b": "x", "a": []string{"lei", "fauna"}},
		{"a": nil, "c": []float32{0.5, 1}},
	}
	cols := records.Columns(recs)
	assert.Equal(t, []string{"a", "b", "c"}, cols)

	rows := records.Rows(recs, cols, JSONText)
	assert.Equal(t, [][]any{
		{`["lei","fauna"]`, "x", nil},
		{nil, nil, "[0.5,1]"},
	}, rows)
}
