// Package csv implements the tabular parser: it decodes delimited text in a
// declared encoding into a records.Dataset whose column names are the raw
// header names. Malformed data rows are skipped and counted; only an input
// with no header at all is a format failure.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"

	"ecoetl/internal/etlerr"
	"ecoetl/pkg/records"
)

// Options configures the CSV parser. Zero values are usable defaults.
type Options struct {
	// Comma specifies the field delimiter. When zero, ',' is used.
	Comma rune

	// Encoding decodes the input bytes. Nil means UTF-8.
	Encoding encoding.Encoding

	// TrimSpace trims leading/trailing whitespace from each cell.
	TrimSpace bool

	// LazyQuotes tolerates quotes inside unquoted fields.
	LazyQuotes bool

	// Scrub rewrites literal byte sequences after decoding and before
	// tokenization.
	Scrub []Replacement

	// Name labels log lines, typically the source name.
	Name string

	// Logger receives skipped-row diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// Stats counts what Parse saw. Extracted excludes the header and always
// equals Parsed + Skipped.
type Stats struct {
	Extracted int
	Parsed    int
	Skipped   int
}

// Parser parses CSV input according to Options. It is safe to reuse across
// inputs, but Parser itself is not concurrency-safe.
type Parser struct{ opt Options }

// NewParser constructs a Parser with the provided Options.
func NewParser(opt Options) *Parser { return &Parser{opt: opt} }

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// skipLogLimit caps per-row skip diagnostics; the count is always exact.
const skipLogLimit = 50

// Parse reads the header and every data row of r. Rows whose field count
// differs from the header, or that the tokenizer rejects, are skipped. A
// quoted field that never closes costs only the line that opened it. Empty
// cells become nil. An input without a header line fails with a
// SourceFormat error; a read failure of the underlying stream fails with
// SourceUnavailable.
func (p *Parser) Parse(r io.Reader) (*records.Dataset, Stats, error) {
	var st Stats
	log := p.opt.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "csv", "source", p.opt.Name)

	if p.opt.Encoding != nil {
		r = transform.NewReader(r, p.opt.Encoding.NewDecoder())
	}
	r = newScrubber(r, p.opt.Scrub)
	fr := newFramer(r, p.opt.Comma, p.opt.LazyQuotes, log)

	cr := csv.NewReader(fr)
	if p.opt.Comma != 0 {
		cr.Comma = p.opt.Comma
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = p.opt.LazyQuotes
	cr.ReuseRecord = true

	h, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, st, etlerr.New(etlerr.SourceFormat, "parse", p.opt.Name, errors.New("input has no header line"))
		}
		return nil, st, classifyRead(p.opt.Name, fmt.Errorf("read header: %w", err))
	}
	headers := uniqueHeaders(StripHeaderBOM(cloneTrimmed(h)))
	if len(headers) == 1 && headers[0] == "" {
		return nil, st, etlerr.New(etlerr.SourceFormat, "parse", p.opt.Name, errors.New("empty header line"))
	}

	ds := records.NewDataset(headers)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return nil, st, classifyRead(p.opt.Name, err)
			}
			st.Extracted++
			st.Skipped++
			if st.Skipped <= skipLogLimit {
				log.Warn("skipping malformed row", "line", pe.StartLine, "err", pe.Err)
			}
			continue
		}
		st.Extracted++

		if len(row) != len(headers) {
			st.Skipped++
			if st.Skipped <= skipLogLimit {
				line, _ := cr.FieldPos(0)
				log.Warn("skipping row with wrong field count", "line", line, "want", len(headers), "got", len(row))
			}
			continue
		}

		vals := make([]any, len(row))
		for i, v := range row {
			if p.opt.TrimSpace {
				v = strings.TrimSpace(v)
			}
			vals[i] = emptyToNil(v)
		}
		ds.Rows = append(ds.Rows, vals)
	}

	st.Extracted += fr.dropped
	st.Skipped += fr.dropped
	st.Parsed = ds.Len()
	if st.Skipped > skipLogLimit {
		log.Warn("skipped rows beyond log limit", "skipped", st.Skipped)
	}
	return ds, st, nil
}

// classifyRead keeps a kind assigned upstream (e.g. a corrupt archive
// member), maps tokenizer errors to SourceFormat and anything else to
// SourceUnavailable.
func classifyRead(name string, err error) error {
	if etlerr.KindOf(err) != etlerr.Unknown {
		return err
	}
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return etlerr.New(etlerr.SourceFormat, "parse", name, err)
	}
	return etlerr.New(etlerr.SourceUnavailable, "parse", name, err)
}

// cloneTrimmed copies h (the reader reuses its slice) and trims every name.
func cloneTrimmed(h []string) []string {
	out := make([]string, len(h))
	for i, c := range h {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

// uniqueHeaders suffixes repeated names with .1, .2, ... so every column
// stays addressable. Suffixes never collide with names already present.
func uniqueHeaders(h []string) []string {
	taken := make(map[string]bool, len(h))
	for _, c := range h {
		taken[c] = true
	}
	seen := make(map[string]bool, len(h))
	for i, c := range h {
		if !seen[c] {
			seen[c] = true
			continue
		}
		for n := 1; ; n++ {
			cand := fmt.Sprintf("%s.%d", c, n)
			if !taken[cand] {
				h[i] = cand
				taken[cand] = true
				seen[cand] = true
				break
			}
		}
	}
	return h
}

// emptyToNil converts an empty string to nil; all other values are returned as-is.
func emptyToNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
