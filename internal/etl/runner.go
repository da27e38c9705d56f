// Package etl runs one Dataset Profile end to end: extract, transform and
// load, tracked by a small state machine and summarized in a Result.
//
// A run fails only while Extracting or Transforming. Once Loading starts the
// run always completes; batch failures are part of the outcome, not of the
// run state.
package etl

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"ecoetl/internal/config"
	"ecoetl/internal/embedding"
	"ecoetl/internal/etlerr"
	"ecoetl/internal/metrics"
	"ecoetl/internal/parser"
	"ecoetl/internal/parser/csv"
	"ecoetl/internal/storage"
	"ecoetl/internal/telemetry"
	"ecoetl/internal/textenc"
	"ecoetl/internal/transformer"
	"ecoetl/internal/transformer/builtin"
	"ecoetl/pkg/records"
)

// Stage names used in logs, metrics and spans.
const (
	StageExtract   = "extract"
	StageTransform = "transform"
	StagePrepare   = "prepare"
	StageLoad      = "load"
)

// Outcome accumulates what happened to the rows of one run.
//
//	Extracted = Skipped + Parsed
//	Parsed    = Filtered + Deduplicated + Ready
//	Ready     = persisted + in failed batches + not dispatched
//
// The last line does not hold for dry runs, which never load.
type Outcome struct {
	Extracted    int
	Skipped      int
	Parsed       int
	Filtered     int
	Deduplicated int
	// Ready counts the records handed to the loader.
	Ready int
	// Replaced reports that the table was emptied before loading.
	Replaced bool
	Load     storage.Outcome
}

// Persisted is the number of records the sink accepted.
func (o Outcome) Persisted() int { return o.Load.Persisted }

// Balanced checks the accounting identities.
func (o Outcome) Balanced(dryRun bool) bool {
	if o.Extracted != o.Skipped+o.Parsed {
		return false
	}
	if o.Parsed != o.Filtered+o.Deduplicated+o.Ready {
		return false
	}
	if dryRun {
		return true
	}
	return o.Ready == o.Load.Persisted+o.Load.FailedRecords()+o.Load.NotDispatched
}

// Result is the report of one run.
type Result struct {
	ID          uuid.UUID
	Job         string
	State       State
	Outcome     Outcome
	Err         error
	Transitions []Transition
	Started     time.Time
	Finished    time.Time
}

// Runner executes profiles. The zero value resolves sources and opens the
// sink from the profile.
type Runner struct {
	// Sources resolves the profile's sources. Nil means ProfileSources.
	Sources SourceResolver
	// Sink overrides the profile's storage. The runner never closes a sink
	// it did not open.
	Sink storage.Sink
	// Embedder overrides the profile's embedding provider.
	Embedder embedding.Embedder
	// Clock stamps transitions. Nil means time.Now.
	Clock  func() time.Time
	Logger *slog.Logger
	// DryRun stops after transforming: nothing is deleted or written.
	DryRun bool
	// OnBatch observes every attempted batch.
	OnBatch func(storage.BatchResult)
	// RetryBackoff is the first wait before re-fetching a source when
	// runtime.fetch_retries allows it. Zero means DefaultRetryBackoff.
	RetryBackoff time.Duration
	// RunID labels the run's logs, spans and Result. Zero means a fresh one.
	RunID uuid.UUID
}

// Run executes p, which must already carry defaults and have passed
// validation. The returned error equals Result.Err.
func (r *Runner) Run(ctx context.Context, p config.Profile) (Result, error) {
	now := r.Clock
	if now == nil {
		now = time.Now
	}
	id := r.RunID
	if id == uuid.Nil {
		id = uuid.New()
	}
	res := Result{ID: id, Job: p.Job, Started: now()}
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "etl", "job", p.Job, "run_id", res.ID.String())

	ctx, span := telemetry.Start(ctx, "run",
		attribute.String("job", p.Job),
		attribute.String("run_id", res.ID.String()),
		attribute.String("table", p.Storage.Table),
	)

	m := newMachine(now)
	finish := func(err error) (Result, error) {
		if err != nil {
			m.to(Failed)
			log.Error("run failed", "state_before", m.log[len(m.log)-1].From.String(),
				"kind", etlerr.KindOf(err).String(), "err", err)
		}
		res.State = m.state
		res.Transitions = m.log
		res.Err = err
		res.Finished = now()
		metrics.RecordRun(p.Job, res.State.String())
		telemetry.End(span, err)
		return res, err
	}

	log.Info("run started", "source", p.Source.Kind, "storage", p.Storage.Kind, "table", p.Storage.Table)

	// Extracting
	ds, err := r.stage(ctx, log, p.Job, StageExtract, func(ctx context.Context) (*records.Dataset, error) {
		return r.extract(ctx, log, p, &res.Outcome)
	})
	if err != nil {
		return finish(err)
	}
	metrics.RecordRows(p.Job, "extracted", res.Outcome.Extracted)
	metrics.RecordRows(p.Job, "skipped", res.Outcome.Skipped)

	// Transforming
	m.to(Transforming)
	ds, err = r.stage(ctx, log, p.Job, StageTransform, func(ctx context.Context) (*records.Dataset, error) {
		return r.transform(ctx, p, ds, &res.Outcome)
	})
	if err != nil {
		return finish(err)
	}
	metrics.RecordRows(p.Job, "filtered", res.Outcome.Filtered)
	metrics.RecordRows(p.Job, "deduplicated", res.Outcome.Deduplicated)
	res.Outcome.Ready = ds.Len()

	var sink storage.Sink
	if !r.DryRun {
		_, err = r.stage(ctx, log, p.Job, StagePrepare, func(ctx context.Context) (*records.Dataset, error) {
			var err error
			sink, err = r.prepare(ctx, log, p, &res.Outcome)
			return nil, err
		})
		if err != nil {
			return finish(err)
		}
		if sink != r.Sink {
			defer func() {
				if cerr := sink.Close(); cerr != nil {
					log.Warn("close sink", "err", cerr)
				}
			}()
		}
	}

	// Loading
	m.to(Loading)
	if r.DryRun {
		log.Info("dry run: skipping load", "ready", res.Outcome.Ready)
	} else {
		_, _ = r.stage(ctx, log, p.Job, StageLoad, func(ctx context.Context) (*records.Dataset, error) {
			res.Outcome.Load = r.load(ctx, log, p, ds, sink)
			return nil, nil
		})
		metrics.RecordRows(p.Job, "persisted", res.Outcome.Load.Persisted)
		metrics.RecordRows(p.Job, "failed", res.Outcome.Load.FailedRecords())
		metrics.RecordRows(p.Job, "not_dispatched", res.Outcome.Load.NotDispatched)
	}
	m.to(Completed)

	o := res.Outcome
	attrs := []any{
		"extracted", o.Extracted,
		"skipped", o.Skipped,
		"parsed", o.Parsed,
		"filtered", o.Filtered,
		"deduplicated", o.Deduplicated,
		"ready", o.Ready,
		"batches", o.Load.Batches,
		"batches_failed", o.Load.Failed,
		"persisted", o.Load.Persisted,
		"not_dispatched", o.Load.NotDispatched,
	}
	if o.Balanced(r.DryRun) {
		log.Info("run completed", attrs...)
	} else {
		log.Error("run completed with unbalanced accounting", attrs...)
	}
	return finish(nil)
}

// stage times fn and records its metrics and span.
func (r *Runner) stage(
	ctx context.Context,
	log *slog.Logger,
	job, name string,
	fn func(context.Context) (*records.Dataset, error),
) (*records.Dataset, error) {
	ctx, span := telemetry.Start(ctx, name)
	start := time.Now()
	ds, err := fn(ctx)
	d := time.Since(start)
	metrics.RecordStage(job, name, err, d)
	telemetry.End(span, err)
	if err == nil {
		log.Debug("stage done", "stage", name, "elapsed", d.Truncate(time.Millisecond), "rows", ds.Len())
	}
	return ds, err
}

func (r *Runner) extract(ctx context.Context, log *slog.Logger, p config.Profile, o *Outcome) (*records.Dataset, error) {
	resolve := r.Sources
	if resolve == nil {
		resolve = ProfileSources
	}
	srcs, err := resolve(ctx, p)
	if err != nil {
		return nil, err
	}
	opt, err := ParserOptions(p)
	if err != nil {
		return nil, err
	}
	opt.Logger = log

	var ds *records.Dataset
	for _, src := range srcs {
		opt.Name = src.Name()
		part, st, err := r.fetch(ctx, log, p, src, opt)
		if err != nil {
			return nil, err
		}
		o.Extracted += st.Extracted
		o.Skipped += st.Skipped
		o.Parsed += st.Parsed
		log.Info("source parsed", "source", src.Name(), "rows", st.Parsed, "skipped", st.Skipped)
		ds = records.Concat(ds, part)
	}
	if ds == nil {
		ds = records.NewDataset(nil)
	}
	return ds, nil
}

// ParserOptions translates the profile's parser block. An unknown encoding is
// a SourceFormat error.
func ParserOptions(p config.Profile) (csv.Options, error) {
	enc, err := textenc.Lookup(p.Parser.Encoding)
	if err != nil {
		return csv.Options{}, etlerr.New(etlerr.SourceFormat, "decode", p.Job, err)
	}
	scrub := make([]csv.Replacement, len(p.Parser.Scrub))
	for i, s := range p.Parser.Scrub {
		scrub[i] = csv.Replacement{From: []byte(s.From), To: []byte(s.To)}
	}
	return csv.Options{
		Comma:      p.Parser.Comma(),
		Encoding:   enc,
		TrimSpace:  p.Parser.Trim(),
		LazyQuotes: p.Parser.LazyQuotes,
		Scrub:      scrub,
	}, nil
}

// parseOne opens one source under the fetch timeout, which also bounds
// reading the body.
func parseOne(
	ctx context.Context,
	p config.Profile,
	name string,
	open func(context.Context) (io.ReadCloser, error),
	opt csv.Options,
) (*records.Dataset, csv.Stats, error) {
	if t := p.Runtime.FetchTimeout.D(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	rc, err := open(ctx)
	if err != nil {
		return nil, csv.Stats{}, err
	}
	defer rc.Close()

	var ps parser.Parser = csv.NewParser(opt)
	ds, st, err := ps.Parse(rc)
	if err != nil && ctx.Err() != nil && etlerr.KindOf(err) == etlerr.Unknown {
		err = etlerr.New(etlerr.SourceUnavailable, "fetch", name, err)
	}
	return ds, st, err
}

func (r *Runner) transform(ctx context.Context, p config.Profile, ds *records.Dataset, o *Outcome) (*records.Dataset, error) {
	mappings := make([]transformer.Mapping, len(p.Columns))
	specs := make(map[string]builtin.Spec, len(p.Columns))
	for i, c := range p.Columns {
		mappings[i] = transformer.Mapping{Source: c.Source, Field: c.Field}
		specs[c.Field] = c.Rule.Spec()
	}
	norm, err := transformer.Compile(specs)
	if err != nil {
		return nil, fmt.Errorf("compile rules: %w", err)
	}

	mapped, err := transformer.Map(ds, mappings)
	if err != nil {
		return nil, err
	}
	out := norm.Apply(mapped)

	out, o.Filtered = builtin.Require{Fields: p.Mandatory}.Apply(out)

	if p.Dedupe != nil {
		out, o.Deduplicated = builtin.DeDup{Keys: p.Dedupe.Keys, Policy: p.Dedupe.Policy}.Apply(out)
	}

	if e := p.Embedding; e != nil {
		emb := r.Embedder
		if emb == nil {
			emb, err = embedding.New(embedding.Config{
				Provider:   e.Provider,
				Model:      e.Model,
				BaseURL:    e.BaseURL,
				Token:      e.Token,
				Dimensions: e.Dimensions,
			})
			if err != nil {
				return nil, err
			}
		}
		out, err = embedding.Enrich(ctx, out, embedding.Options{
			Fields:    e.Fields,
			Target:    e.Target,
			ChunkSize: e.ChunkSize,
			Workers:   e.Workers,
		}, emb)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// prepare opens the sink and readies the table. Replacing the table happens
// here, after every transform succeeded, so a failed run never leaves it
// empty because of bad input.
func (r *Runner) prepare(ctx context.Context, log *slog.Logger, p config.Profile, o *Outcome) (storage.Sink, error) {
	if p.Runtime.BatchSize <= 0 {
		return nil, fmt.Errorf("runtime.batch_size must be > 0, got %d", p.Runtime.BatchSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sink := r.Sink
	if sink == nil {
		var err error
		sink, err = storage.New(ctx, storage.ConfigFromProfile(p))
		if err != nil {
			if etlerr.KindOf(err) == etlerr.Unknown {
				err = etlerr.New(etlerr.SinkUnavailable, "open", p.Storage.Kind, err)
			}
			return nil, err
		}
	}
	fail := func(err error) (storage.Sink, error) {
		if sink != r.Sink {
			_ = sink.Close()
		}
		return nil, err
	}

	table := p.Storage.Table
	if p.Storage.AutoCreateTable {
		if _, ok := sink.(storage.TableCreator); !ok {
			log.Warn("auto_create_table ignored: sink cannot create tables", "kind", p.Storage.Kind)
		} else if err := storage.EnsureTable(ctx, sink, p); err != nil {
			return fail(storage.Classify("create_table", table, err, nil))
		}
	}
	if p.Storage.Replace {
		if err := sink.DeleteAll(ctx, table); err != nil {
			return fail(storage.Classify("delete_all", table, err, nil))
		}
		o.Replaced = true
		log.Info("table emptied before load", "table", table)
	}
	return sink, nil
}

func (r *Runner) load(ctx context.Context, log *slog.Logger, p config.Profile, ds *records.Dataset, sink storage.Sink) storage.Outcome {
	out, err := storage.Load(ctx, ds.Records(), p.Storage.Table, p.Runtime.BatchSize, sink, storage.LoadOptions{
		Workers:      p.Runtime.LoaderWorkers,
		WriteTimeout: p.Runtime.WriteTimeout.D(),
		Logger:       log,
		OnBatch: func(b storage.BatchResult) {
			status := "success"
			if b.Err != nil {
				status = etlerr.KindOf(b.Err).String()
			}
			metrics.RecordBatch(p.Job, status, b.Elapsed)
			if r.OnBatch != nil {
				r.OnBatch(b)
			}
		},
	})
	if err != nil {
		// Arguments were checked in prepare.
		log.Error("load rejected its arguments", "err", err)
	}
	if out.Canceled {
		log.Warn("load canceled between batches", "not_dispatched", out.NotDispatched,
			"cause", context.Cause(ctx))
	}
	return out
}
