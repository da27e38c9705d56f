// Package etlerr defines the error taxonomy shared by the ingestion stages.
//
// Source and schema errors are run-fatal: they are raised before anything is
// written and move the run to Failed. Sink errors are batch-local: the loader
// records them in the outcome and moves on to the next batch.
//
// Callers classify with errors.Is against the Kind sentinels:
//
//	if errors.Is(err, etlerr.SourceUnavailable) { ... }
package etlerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one member of the error taxonomy. A Kind is itself an error so it
// can be used as an errors.Is target.
type Kind int

const (
	// Unknown is returned by KindOf for errors outside the taxonomy.
	Unknown Kind = iota
	// SourceUnavailable: raw bytes could not be obtained (network, file, timeout).
	SourceUnavailable
	// SourceFormat: the container or header is fundamentally unparseable.
	SourceFormat
	// SchemaMismatch: required source columns are absent.
	SchemaMismatch
	// SinkUnavailable: a batch write could not reach the sink.
	SinkUnavailable
	// SinkRejected: the sink refused the data of a specific batch.
	SinkRejected
)

var kindNames = [...]string{
	Unknown:           "unknown",
	SourceUnavailable: "source_unavailable",
	SourceFormat:      "source_format_error",
	SchemaMismatch:    "schema_mismatch",
	SinkUnavailable:   "sink_unavailable",
	SinkRejected:      "sink_rejected",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error makes Kind usable as a sentinel.
func (k Kind) Error() string { return k.String() }

// RunFatal reports whether errors of this kind abort the run.
func (k Kind) RunFatal() bool {
	return k == SourceUnavailable || k == SourceFormat || k == SchemaMismatch
}

// Error is the structured error carried through the pipeline.
type Error struct {
	Kind    Kind
	Op      string   // operation, e.g. "open", "fetch", "insert"
	Target  string   // path, URL or table
	Status  int      // HTTP status when applicable
	Missing []string // missing columns for SchemaMismatch
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Target != "" {
		b.WriteByte(' ')
		b.WriteString(e.Target)
	}
	if e.Status > 0 {
		fmt.Fprintf(&b, " [%d]", e.Status)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing columns %s", strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a Kind sentinel.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New builds an *Error of kind k.
func New(k Kind, op, target string, err error) *Error {
	return &Error{Kind: k, Op: op, Target: target, Err: err}
}

// KindOf returns the taxonomy kind of err, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Unknown
}
