// Package records defines the in-memory tabular model shared by every pipeline
// stage: a Dataset of positional rows aligned to an ordered column list, and
// the Record map handed to storage sinks.
//
// Stages treat a Dataset as immutable. Each stage builds a new Dataset rather
// than editing rows of its input, so a later stage never observes a half
// transformed value from an earlier one.
package records

import (
	"fmt"
	"sort"
)

// Record is a single normalized row keyed by canonical field name. Every field
// of the originating dataset is present as a key; missing values are nil.
type Record map[string]any

// Dataset is an ordered list of columns plus ordered rows. Every row holds
// exactly len(Columns) values in column order.
type Dataset struct {
	Columns []string
	Rows    [][]any

	index map[string]int
}

// NewDataset returns an empty dataset with a private copy of columns.
func NewDataset(columns []string) *Dataset {
	cols := append([]string(nil), columns...)
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		if _, dup := idx[c]; !dup {
			idx[c] = i
		}
	}
	return &Dataset{Columns: cols, index: idx}
}

// Append adds a row. The row must be aligned to the dataset's columns.
func (d *Dataset) Append(row []any) error {
	if len(row) != len(d.Columns) {
		return fmt.Errorf("records: row has %d values, dataset has %d columns", len(row), len(d.Columns))
	}
	d.Rows = append(d.Rows, row)
	return nil
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Rows)
}

// Index returns the position of column name.
func (d *Dataset) Index(name string) (int, bool) {
	if d.index == nil {
		d.index = make(map[string]int, len(d.Columns))
		for i, c := range d.Columns {
			if _, dup := d.index[c]; !dup {
				d.index[c] = i
			}
		}
	}
	i, ok := d.index[name]
	return i, ok
}

// Value returns the value of column name in row i, or nil when the column
// does not exist.
func (d *Dataset) Value(i int, name string) any {
	j, ok := d.Index(name)
	if !ok {
		return nil
	}
	return d.Rows[i][j]
}

// Records converts rows into Records keyed by column name.
func (d *Dataset) Records() []Record {
	out := make([]Record, len(d.Rows))
	for i, row := range d.Rows {
		r := make(Record, len(d.Columns))
		for j, c := range d.Columns {
			r[c] = row[j]
		}
		out[i] = r
	}
	return out
}

// Concat returns a new dataset holding the rows of a followed by the rows of
// b. Columns are the union of both in first-seen order; values a side does not
// have become nil.
func Concat(a, b *Dataset) *Dataset {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}

	cols := append([]string(nil), a.Columns...)
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		seen[c] = struct{}{}
	}
	for _, c := range b.Columns {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			cols = append(cols, c)
		}
	}

	out := NewDataset(cols)
	out.Rows = make([][]any, 0, len(a.Rows)+len(b.Rows))
	for _, src := range []*Dataset{a, b} {
		pos := make([]int, len(cols))
		for k, c := range cols {
			if j, ok := src.Index(c); ok {
				pos[k] = j
			} else {
				pos[k] = -1
			}
		}
		for _, row := range src.Rows {
			nr := make([]any, len(cols))
			for k, j := range pos {
				if j >= 0 {
					nr[k] = row[j]
				}
			}
			out.Rows = append(out.Rows, nr)
		}
	}
	return out
}

// Columns returns the sorted union of keys across recs. SQL sinks use it as
// the column list of a batch insert.
func Columns(recs []Record) []string {
	seen := make(map[string]struct{})
	for _, r := range recs {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Rows projects recs onto columns, producing positional rows for bulk APIs.
// conv, when non-nil, converts each value.
func Rows(recs []Record, columns []string, conv func(any) any) [][]any {
	out := make([][]any, len(recs))
	for i, r := range recs {
		row := make([]any, len(columns))
		for j, c := range columns {
			v := r[c]
			if conv != nil {
				v = conv(v)
			}
			row[j] = v
		}
		out[i] = row
	}
	return out
}
