// Package builtin contains the reusable per-field rules and row-level
// transforms of the pipeline.
//
// Field rules form a closed set of kinds evaluated by one compiler. A compiled
// Rule is a pure, total function: it never errors at run time, and input it
// cannot interpret normalizes to nil. One bad cell degrades to null instead of
// rejecting the row or aborting the run.
package builtin

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"ecoetl/internal/textenc"
)

// Rule kinds.
const (
	KindDigitsOnly  = "digits_only"
	KindDecimal     = "decimal"
	KindDate        = "date"
	KindReencode    = "reencode"
	KindPassthrough = "passthrough"
	KindSplit       = "split"
)

// Kinds lists every supported rule kind.
var Kinds = []string{KindDigitsOnly, KindDecimal, KindDate, KindReencode, KindPassthrough, KindSplit}

// DateLayout is the canonical output of the date rule.
const DateLayout = "2006-01-02"

// datePatterns maps pattern aliases to the Go layouts they accept.
var datePatterns = map[string][]string{
	"ISO": {
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		time.RFC3339,
		"2006/01/02",
	},
	"YMD": {"2006-01-02", "2006/01/02", "2006.01.02", "2006-01-02 15:04:05", "20060102"},
	"DMY": {"2/1/2006", "2/1/2006 15:04:05", "2/1/2006 15:04", "2-1-2006", "2.1.2006", "2.1.2006 15:04:05"},
	"MDY": {"1/2/2006", "1/2/2006 15:04:05", "1/2/2006 15:04"},
}

var defaultDatePatterns = []string{"ISO", "DMY"}

// Spec is the declarative form of a rule as written in a profile.
type Spec struct {
	Kind string

	// Separator is the decimal separator (decimal, default ",") or the list
	// separator (split, default ",").
	Separator string
	// Thousands is an optional grouping separator removed before parsing.
	Thousands string
	// Patterns are date pattern aliases (ISO, YMD, DMY, MDY) or Go layouts.
	Patterns []string
	// From is the encoding the text was wrongly decoded as (reencode).
	From string
}

// Rule normalizes one optional scalar.
type Rule func(v any) any

// Compile validates s and returns its evaluator.
func Compile(s Spec) (Rule, error) {
	switch strings.ToLower(strings.TrimSpace(s.Kind)) {
	case KindDigitsOnly:
		return DigitsOnly, nil

	case KindDecimal:
		sep := s.Separator
		if sep == "" {
			sep = ","
		}
		if s.Thousands != "" && s.Thousands == sep {
			return nil, fmt.Errorf("decimal: thousands separator equals decimal separator %q", sep)
		}
		return func(v any) any { return Decimal(v, sep, s.Thousands) }, nil

	case KindDate:
		layouts, err := dateLayouts(s.Patterns)
		if err != nil {
			return nil, err
		}
		return func(v any) any { return Date(v, layouts) }, nil

	case KindReencode:
		from := s.From
		if from == "" {
			from = "latin-1"
		}
		enc, err := textenc.Lookup(from)
		if err != nil {
			return nil, fmt.Errorf("reencode: %w", err)
		}
		return func(v any) any {
			str, ok := v.(string)
			if !ok {
				return Passthrough(v)
			}
			return Passthrough(textenc.Repair(str, enc))
		}, nil

	case KindPassthrough, "":
		return Passthrough, nil

	case KindSplit:
		sep := s.Separator
		if sep == "" {
			sep = ","
		}
		return func(v any) any { return Split(v, sep) }, nil

	default:
		return nil, fmt.Errorf("unknown rule kind %q", s.Kind)
	}
}

// dateLayouts expands aliases; anything else must look like a Go layout.
func dateLayouts(patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		patterns = defaultDatePatterns
	}
	var out []string
	seen := map[string]struct{}{}
	for _, p := range patterns {
		layouts, ok := datePatterns[strings.ToUpper(strings.TrimSpace(p))]
		if !ok {
			if !strings.Contains(p, "2006") && !strings.Contains(p, "06") {
				return nil, fmt.Errorf("date: pattern %q is neither an alias nor a Go layout", p)
			}
			layouts = []string{p}
		}
		for _, l := range layouts {
			if _, dup := seen[l]; !dup {
				seen[l] = struct{}{}
				out = append(out, l)
			}
		}
	}
	return out, nil
}

// DigitsOnly keeps the decimal digits of v. An empty result is nil.
func DigitsOnly(v any) any {
	s, ok := scalarString(v)
	if !ok {
		return nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	if b.Len() == 0 {
		return nil
	}
	return b.String()
}

// Decimal parses v as a number written with the given separators.
func Decimal(v any, sep, thousands string) any {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if thousands != "" {
		s = strings.ReplaceAll(s, thousands, "")
	}
	if sep != "." {
		s = strings.ReplaceAll(s, sep, ".")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

// Date parses v against layouts and returns it as YYYY-MM-DD.
func Date(v any, layouts []string) any {
	if t, ok := v.(time.Time); ok {
		if t.IsZero() {
			return nil
		}
		return t.Format(DateLayout)
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.Format(DateLayout)
		}
	}
	return nil
}

// Passthrough returns v, with the empty string unified to nil.
func Passthrough(v any) any {
	if s, ok := v.(string); ok && s == "" {
		return nil
	}
	return v
}

// Split breaks a delimited string into trimmed, non-empty items.
func Split(v any, sep string) any {
	s, ok := v.(string)
	if !ok {
		if l, ok := v.([]string); ok && len(l) > 0 {
			return l
		}
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// scalarString renders strings and numbers as text.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}
