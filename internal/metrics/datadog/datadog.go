// Package datadog ships pipeline metrics to a DogStatsD agent.
//
// Every metric carries the tags of the run that emitted it (job, run_id,
// sink kind and destination table) so dashboards can pivot one ingestion
// across stages. Metric names drop the shared "ecoetl_" prefix and use dots,
// so metrics.BatchDuration is sent as "<namespace>batch.duration.seconds".
package datadog

import (
	"fmt"
	"sort"
	"strings"

	"ecoetl/internal/metrics"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/google/uuid"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "ecoetl."

// Run identifies the ingestion run the backend reports for.
type Run struct {
	Job   string
	ID    uuid.UUID
	Sink  string
	Table string
}

// tags renders the run as constant tags. Zero fields are left out.
func (r Run) tags() []string {
	var out []string
	add := func(k, v string) {
		if v != "" {
			out = append(out, k+":"+v)
		}
	}
	add("job", r.Job)
	if r.ID != uuid.Nil {
		add("run_id", r.ID.String())
	}
	add("sink", r.Sink)
	add("table", r.Table)
	return out
}

// Config holds Datadog backend configuration.
type Config struct {
	// Addr is the DogStatsD address, e.g. "127.0.0.1:8125" or "unix:///path/to/socket".
	Addr string
	// Namespace prefixes metric names. Empty means DefaultNamespace.
	Namespace string
	Run       Run
	// ExtraTags are appended to the run tags, e.g. "env:prod".
	ExtraTags []string
}

// Backend is a metrics.Backend over a statsd client. Durations are sent as
// distributions so percentiles aggregate across runs server side.
type Backend struct {
	client *statsd.Client
}

// NewBackend dials the agent. Addr is required.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("datadog: Addr is required")
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	tags := append(cfg.Run.tags(), cfg.ExtraTags...)

	opts := []statsd.Option{statsd.WithoutTelemetry(), statsd.WithNamespace(ns)}
	if len(tags) > 0 {
		opts = append(opts, statsd.WithTags(tags))
	}
	c, err := statsd.New(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("datadog: create client: %w", err)
	}
	return &Backend{client: c}, nil
}

// IncCounter sends a Count. Record counts are whole numbers, so delta is
// truncated.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if b.client == nil {
		return
	}
	_ = b.client.Count(metricName(name), int64(delta), labelsToTags(labels), 1)
}

// ObserveHistogram sends a Distribution.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if b.client == nil {
		return
	}
	_ = b.client.Distribution(metricName(name), value, labelsToTags(labels), 1)
}

// Flush closes the client, which sends anything still buffered. Call it once
// at the end of the run.
func (b *Backend) Flush() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

// metricName maps "ecoetl_records_total" to "records.total".
func metricName(name string) string {
	return strings.ReplaceAll(strings.TrimPrefix(name, "ecoetl_"), "_", ".")
}

// labelsToTags renders labels as sorted "key:value" tags. The job label is
// already a constant tag and empty values carry nothing.
func labelsToTags(lbls metrics.Labels) []string {
	if len(lbls) == 0 {
		return nil
	}
	out := make([]string, 0, len(lbls))
	for k, v := range lbls {
		if v == "" || k == "job" {
			continue
		}
		out = append(out, k+":"+v)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
