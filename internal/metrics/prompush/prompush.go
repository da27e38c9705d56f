// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// This package adapts the generic metrics.Backend interface to Prometheus by:
//
//   - Using client_golang CounterVec and SummaryVec collectors.
//   - Mapping the pipeline labels (stage, status, kind, state) onto Prometheus
//     labels.
//   - Pushing collected metrics to a Prometheus Pushgateway instance instead of
//     exposing an HTTP scrape endpoint. A run is a batch job; nothing would be
//     left to scrape once it exits.
package prompush

import (
	"fmt"

	"ecoetl/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

var objectives = map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001}

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	reg        *prometheus.Registry

	// Stage-level metrics
	stageCounter  *prometheus.CounterVec // ecoetl_stage_total
	stageDuration *prometheus.SummaryVec // ecoetl_stage_duration_seconds

	recordCounter *prometheus.CounterVec // ecoetl_records_total

	batchCounter  *prometheus.CounterVec // ecoetl_batches_total
	batchDuration *prometheus.SummaryVec // ecoetl_batch_duration_seconds

	runCounter *prometheus.CounterVec // ecoetl_runs_total
}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name, usually the profile name.
// gatewayURL: base URL of the Pushgateway server.
//
// The job label is carried by the Pushgateway grouping key, so it is not a
// collector label here.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "ecoetl"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stageCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metrics.StageTotal,
				Help: "Pipeline stage executions by stage, status and error kind.",
			},
			[]string{"stage", "status", "kind"},
		),
		stageDuration: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name:       metrics.StageDuration,
				Help:       "Duration of pipeline stages in seconds.",
				Objectives: objectives,
			},
			[]string{"stage", "status", "kind"},
		),
		recordCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metrics.RecordsTotal,
				Help: "Record counts per kind (extracted, skipped, filtered, persisted, ...).",
			},
			[]string{"kind"},
		),
		batchCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metrics.BatchesTotal,
				Help: "Batches submitted to the sink by status.",
			},
			[]string{"status"},
		),
		batchDuration: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name:       metrics.BatchDuration,
				Help:       "Sink write latency per batch in seconds.",
				Objectives: objectives,
			},
			[]string{"status"},
		),
		runCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metrics.RunsTotal,
				Help: "Finished runs by terminal state.",
			},
			[]string{"state"},
		),
	}

	for name, c := range map[string]prometheus.Collector{
		"stage counter":  b.stageCounter,
		"stage summary":  b.stageDuration,
		"record counter": b.recordCounter,
		"batch counter":  b.batchCounter,
		"batch summary":  b.batchDuration,
		"run counter":    b.runCounter,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StageTotal:
		if b.stageCounter == nil {
			return
		}
		b.stageCounter.WithLabelValues(labels["stage"], labels["status"], labels["kind"]).Add(delta)

	case metrics.RecordsTotal:
		if b.recordCounter == nil {
			return
		}
		b.recordCounter.WithLabelValues(labels["kind"]).Add(delta)

	case metrics.BatchesTotal:
		if b.batchCounter == nil {
			return
		}
		b.batchCounter.WithLabelValues(labels["status"]).Add(delta)

	case metrics.RunsTotal:
		if b.runCounter == nil {
			return
		}
		b.runCounter.WithLabelValues(labels["state"]).Add(delta)

	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	switch name {
	case metrics.StageDuration:
		if b.stageDuration == nil {
			return
		}
		b.stageDuration.WithLabelValues(labels["stage"], labels["status"], labels["kind"]).Observe(value)

	case metrics.BatchDuration:
		if b.batchDuration == nil {
			return
		}
		b.batchDuration.WithLabelValues(labels["status"]).Observe(value)
	}
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
