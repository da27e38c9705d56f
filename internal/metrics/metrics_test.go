package metrics

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ecoetl/internal/etlerr"
)

// fakeBackend is a simple in-memory Backend implementation for tests.
type fakeBackend struct {
	mu sync.Mutex

	callsCounters   []counterCall
	callsHistograms []histCall
	flushCount      int
}

type counterCall struct {
	name   string
	delta  float64
	labels Labels
}

type histCall struct {
	name   string
	value  float64
	labels Labels
}

func (f *fakeBackend) IncCounter(name string, delta float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callsCounters = append(f.callsCounters, counterCall{name, delta, labels})
}

func (f *fakeBackend) ObserveHistogram(name string, value float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callsHistograms = append(f.callsHistograms, histCall{name, value, labels})
}

func (f *fakeBackend) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushCount++
	return nil
}

func TestRecordStage_SuccessAndFailure(t *testing.T) {
	orig := backend
	defer func() { backend = orig }()

	fb := &fakeBackend{}
	backend = fb

	RecordStage("ibama_autuacoes", "extract", nil, 2*time.Second)
	err := etlerr.New(etlerr.SchemaMismatch, "map", "", errors.New("missing"))
	RecordStage("termos_embargo", "transform", fmt.Errorf("run: %w", err), 1500*time.Millisecond)

	if len(fb.callsCounters) != 2 {
		t.Fatalf("expected 2 counter calls, got %d", len(fb.callsCounters))
	}
	if len(fb.callsHistograms) != 2 {
		t.Fatalf("expected 2 histogram calls, got %d", len(fb.callsHistograms))
	}

	cc0 := fb.callsCounters[0]
	if cc0.name != StageTotal || cc0.delta != 1 {
		t.Fatalf("counter[0] = %#v; want name=%s, delta=1", cc0, StageTotal)
	}
	if cc0.labels["job"] != "ibama_autuacoes" || cc0.labels["stage"] != "extract" {
		t.Fatalf("counter[0] labels = %v", cc0.labels)
	}
	if cc0.labels["status"] != "success" || cc0.labels["kind"] != "" {
		t.Fatalf("counter[0] status/kind = %v", cc0.labels)
	}

	h0 := fb.callsHistograms[0]
	if h0.name != StageDuration {
		t.Fatalf("hist[0].name=%q; want %s", h0.name, StageDuration)
	}
	if h0.value < 2.0-0.001 || h0.value > 2.0+0.001 {
		t.Fatalf("hist[0].value=%v; want ~2.0", h0.value)
	}

	cc1 := fb.callsCounters[1]
	if cc1.labels["status"] != "failure" || cc1.labels["kind"] != "schema_mismatch" {
		t.Fatalf("counter[1] labels = %v; want failure/schema_mismatch", cc1.labels)
	}
	if h1 := fb.callsHistograms[1]; h1.value < 1.5-0.001 || h1.value > 1.5+0.001 {
		t.Fatalf("hist[1].value=%v; want ~1.5", h1.value)
	}
}

func TestRecordRowsBatchAndRun(t *testing.T) {
	orig := backend
	defer func() { backend = orig }()

	fb := &fakeBackend{}
	backend = fb

	RecordRows("ctf", "extracted", 3)
	RecordRows("ctf", "skipped", 0) // ignored
	RecordRows("ctf", "persisted", 5)
	RecordBatch("ctf", "sink_rejected", 250*time.Millisecond)
	RecordRun("ctf", "completed")

	if len(fb.callsCounters) != 4 {
		t.Fatalf("expected 4 counter calls, got %d", len(fb.callsCounters))
	}
	if c := fb.callsCounters[0]; c.name != RecordsTotal || c.delta != 3 || c.labels["kind"] != "extracted" {
		t.Fatalf("counter[0] = %#v", c)
	}
	if c := fb.callsCounters[1]; c.delta != 5 || c.labels["kind"] != "persisted" {
		t.Fatalf("counter[1] = %#v", c)
	}
	if c := fb.callsCounters[2]; c.name != BatchesTotal || c.labels["status"] != "sink_rejected" {
		t.Fatalf("counter[2] = %#v", c)
	}
	if c := fb.callsCounters[3]; c.name != RunsTotal || c.labels["state"] != "completed" {
		t.Fatalf("counter[3] = %#v", c)
	}
	if len(fb.callsHistograms) != 1 || fb.callsHistograms[0].name != BatchDuration {
		t.Fatalf("histograms = %#v", fb.callsHistograms)
	}
}

func TestSetBackendAndFlush(t *testing.T) {
	orig := backend
	defer func() { backend = orig }()

	fb := &fakeBackend{}
	SetBackend(fb)

	if backend != fb {
		t.Fatal("SetBackend did not replace global backend")
	}

	if err := Flush(); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if fb.flushCount != 1 {
		t.Fatalf("expected flushCount=1, got %d", fb.flushCount)
	}

	// SetBackend(nil) should not nil out the backend.
	SetBackend(nil)
	if backend != fb {
		t.Fatal("SetBackend(nil) should not change backend")
	}
}
