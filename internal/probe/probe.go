// Package probe samples the head of a profile's source and reports how the
// header lines up with the column mapping before a full run is attempted:
// which mapped columns are missing, which header columns are not mapped, a
// suggested rule for every column and a few normalized sample values.
//
// The probe reads at most Options.MaxBytes from the first source, cut back to
// the last complete line, so it stays cheap against multi-gigabyte exports.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"ecoetl/internal/config"
	"ecoetl/internal/datasource"
	"ecoetl/internal/etl"
	"ecoetl/internal/etlerr"
	"ecoetl/internal/parser/csv"
	"ecoetl/internal/transformer"
	"ecoetl/internal/transformer/builtin"
)

// Defaults for Options.
const (
	DefaultMaxBytes = 256 << 10
	DefaultSamples  = 3
)

// Options control sampling.
type Options struct {
	// MaxBytes read from the start of the source.
	MaxBytes int
	// Samples is the number of example values kept per column.
	Samples int
	// Sources overrides source resolution, mainly for tests.
	Sources etl.SourceResolver
}

// Column is one header column of the sample.
type Column struct {
	Header string
	// Field is the canonical field the profile maps the column to, or empty.
	Field string
	// Rule is the configured rule kind for mapped columns.
	Rule string
	// Suggested is the rule kind inferred from the sampled values, with date
	// patterns appended as "date:DMY".
	Suggested string
	// Proposed is a field name derived from the header for unmapped columns.
	Proposed string
	Filled   int
	Samples  []string
}

// Report is the result of a probe.
type Report struct {
	Source    string
	Truncated bool
	Rows      int
	Skipped   int
	Columns   []Column
	// Missing lists mapped source columns absent from the header.
	Missing []string
}

// Mapped reports whether every mapped column is present.
func (r Report) Mapped() bool { return len(r.Missing) == 0 }

// Run samples the first source of p.
func Run(ctx context.Context, p config.Profile, opt Options) (Report, error) {
	if opt.MaxBytes <= 0 {
		opt.MaxBytes = DefaultMaxBytes
	}
	if opt.Samples <= 0 {
		opt.Samples = DefaultSamples
	}
	resolve := opt.Sources
	if resolve == nil {
		resolve = etl.ProfileSources
	}
	srcs, err := resolve(ctx, p)
	if err != nil {
		return Report{}, err
	}
	if len(srcs) == 0 {
		return Report{}, etlerr.New(etlerr.SourceUnavailable, "probe", p.Job, errors.New("no sources"))
	}
	src := srcs[0]

	data, truncated, err := head(ctx, src, opt.MaxBytes, p.Runtime.FetchTimeout.D())
	if err != nil {
		return Report{}, err
	}

	popt, err := etl.ParserOptions(p)
	if err != nil {
		return Report{}, err
	}
	popt.Name = src.Name()
	ds, st, err := csv.NewParser(popt).Parse(bytes.NewReader(data))
	if err != nil {
		return Report{}, err
	}

	rep := Report{Source: src.Name(), Truncated: truncated, Rows: st.Parsed, Skipped: st.Skipped}

	mappings := make([]transformer.Mapping, len(p.Columns))
	bySource := make(map[string]config.Column, len(p.Columns))
	for i, c := range p.Columns {
		mappings[i] = transformer.Mapping{Source: c.Source, Field: c.Field}
		bySource[c.Source] = c
	}
	if _, err := transformer.Map(ds, mappings); err != nil {
		var e *etlerr.Error
		if !errors.As(err, &e) || e.Kind != etlerr.SchemaMismatch {
			return Report{}, err
		}
		rep.Missing = e.Missing
	}

	for j, h := range ds.Columns {
		values := make([]string, 0, len(ds.Rows))
		for _, row := range ds.Rows {
			if v := row[j]; v != nil {
				values = append(values, fmt.Sprint(v))
			}
		}
		col := Column{Header: h, Filled: len(values), Suggested: suggest(values)}

		rule := builtin.Rule(builtin.Passthrough)
		if c, ok := bySource[h]; ok {
			col.Field = c.Field
			col.Rule = builtin.KindPassthrough
			if c.Rule != nil && c.Rule.Kind != "" {
				col.Rule = c.Rule.Kind
			}
			if compiled, err := builtin.Compile(c.Rule.Spec()); err == nil {
				rule = compiled
			}
		} else {
			col.Proposed = FieldName(h)
		}
		for _, v := range values[:min(len(values), opt.Samples)] {
			col.Samples = append(col.Samples, display(rule(v)))
		}
		rep.Columns = append(rep.Columns, col)
	}
	return rep, nil
}

// head reads up to n bytes of src. When the limit is hit the partial last
// line is dropped.
func head(ctx context.Context, src datasource.Source, n int, timeout time.Duration) ([]byte, bool, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, false, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, int64(n)+1))
	if err != nil {
		return nil, false, etlerr.New(etlerr.SourceUnavailable, "probe", src.Name(), err)
	}
	if len(data) <= n {
		return data, false, nil
	}
	data = data[:n]
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[:i+1]
	}
	return data, true, nil
}

// datePatterns are tried in order; the first alias that parses every value
// wins.
var datePatterns = []string{"ISO", "DMY", "YMD", "MDY"}

// suggest infers a rule kind from non-empty sample values. Dates are tried
// before document numbers since both use '-' and '/'.
func suggest(values []string) string {
	if len(values) == 0 {
		return builtin.KindPassthrough
	}
	for _, pat := range datePatterns {
		rule, err := builtin.Compile(builtin.Spec{Kind: builtin.KindDate, Patterns: []string{pat}})
		if err != nil {
			continue
		}
		if allMatch(values, func(s string) bool { return rule(s) != nil }) {
			return builtin.KindDate + ":" + pat
		}
	}
	if allMatch(values, isDocumentNumber) {
		return builtin.KindDigitsOnly
	}
	if anyMatch(values, func(s string) bool { return strings.Contains(s, ",") }) {
		rule, _ := builtin.Compile(builtin.Spec{Kind: builtin.KindDecimal, Separator: ",", Thousands: "."})
		if allMatch(values, func(s string) bool { return rule(s) != nil }) {
			return builtin.KindDecimal
		}
		if allMatch(values, func(s string) bool { return strings.Contains(s, ",") }) {
			return builtin.KindSplit
		}
	}
	return builtin.KindPassthrough
}

// isDocumentNumber matches masked or zero-padded registry numbers such as
// CPF and CNPJ: digits with '.', '/' or '-' separators, or at least eleven
// bare digits.
func isDocumentNumber(s string) bool {
	digits, seps := 0, 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.' || r == '/' || r == '-':
			seps++
		default:
			return false
		}
	}
	if digits == 0 {
		return false
	}
	if seps > 0 {
		return strings.ContainsAny(s, "/-") || seps >= 2
	}
	return digits >= 11
}

func allMatch(vals []string, fn func(string) bool) bool {
	for _, v := range vals {
		if !fn(v) {
			return false
		}
	}
	return true
}

func anyMatch(vals []string, fn func(string) bool) bool {
	for _, v := range vals {
		if fn(v) {
			return true
		}
	}
	return false
}

func display(v any) string {
	switch t := v.(type) {
	case nil:
		return "<nil>"
	case []string:
		return "[" + strings.Join(t, " | ") + "]"
	default:
		return fmt.Sprint(t)
	}
}

// FieldName converts header text into a lowercase ASCII identifier:
// accents are stripped, space, dash and dot become a single underscore and
// anything else outside [a-z0-9_] is dropped. Names longer than 63 bytes keep
// their first 10 and last 53 bytes. An empty result is "col".
func FieldName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	ascii, _, _ := transform.String(t, s)

	var b strings.Builder
	prevUnderscore := false
	for _, r := range ascii {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		case r == '_' || r == ' ' || r == '-' || r == '.' || r == '/':
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		return "col"
	}
	if len(name) > 63 {
		name = name[:10] + name[len(name)-53:]
	}
	return name
}
