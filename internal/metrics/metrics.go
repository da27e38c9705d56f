// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from the ingestion pipeline.
//
// The package exposes a narrow interface (Backend) focused on counters and
// timing data, and a global, pluggable backend that defaults to a no-op
// implementation, so metrics are always safe to call even when no real
// backend is configured. Concrete systems live in subpackages (prompush,
// datadog) and are selected by the CLI.
package metrics

import (
	"time"

	"ecoetl/internal/etlerr"
)

// Metric names.
const (
	StageTotal    = "ecoetl_stage_total"
	StageDuration = "ecoetl_stage_duration_seconds"
	RecordsTotal  = "ecoetl_records_total"
	BatchesTotal  = "ecoetl_batches_total"
	BatchDuration = "ecoetl_batch_duration_seconds"
	RunsTotal     = "ecoetl_runs_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStage measures latency and outcome of one pipeline stage. Failures
// carry the error's taxonomy kind as a label.
func RecordStage(job, stage string, err error, d time.Duration) {
	status, kind := "success", ""
	if err != nil {
		status, kind = "failure", etlerr.KindOf(err).String()
	}
	lbls := Labels{
		"job":    job,
		"stage":  stage,
		"status": status,
		"kind":   kind,
	}
	backend.IncCounter(StageTotal, 1, lbls)
	backend.ObserveHistogram(StageDuration, d.Seconds(), lbls)
}

// RecordRows increments a record-level counter for the given job and kind.
//
// Kinds mirror the outcome fields: extracted, skipped, parsed, filtered,
// deduplicated, persisted, failed, not_dispatched.
func RecordRows(job, kind string, n int) {
	if n <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(n), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordBatch counts one attempted batch and its write latency. status is
// "success" or the failure's taxonomy kind.
func RecordBatch(job, status string, d time.Duration) {
	lbls := Labels{"job": job, "status": status}
	backend.IncCounter(BatchesTotal, 1, lbls)
	backend.ObserveHistogram(BatchDuration, d.Seconds(), lbls)
}

// RecordRun counts a finished run by terminal state.
func RecordRun(job, state string) {
	backend.IncCounter(RunsTotal, 1, Labels{"job": job, "state": state})
}
