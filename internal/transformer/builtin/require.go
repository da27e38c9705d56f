package builtin

import "ecoetl/pkg/records"

// Require drops every row missing a value for any of Fields. It is the single
// gate deciding whether a row is eligible for persistence and must run after
// normalization, so a value that normalized to nil counts as missing.
type Require struct {
	Fields []string
}

// Apply returns a new dataset with the surviving rows and the number of rows
// dropped. A field absent from the dataset makes every row fail.
func (r Require) Apply(in *records.Dataset) (*records.Dataset, int) {
	out := records.NewDataset(in.Columns)
	if len(r.Fields) == 0 {
		out.Rows = append(out.Rows, in.Rows...)
		return out, 0
	}

	pos := make([]int, len(r.Fields))
	for i, f := range r.Fields {
		j, ok := in.Index(f)
		if !ok {
			return out, len(in.Rows)
		}
		pos[i] = j
	}

	out.Rows = make([][]any, 0, len(in.Rows))
	dropped := 0
	for _, row := range in.Rows {
		if present(row, pos) {
			out.Rows = append(out.Rows, row)
		} else {
			dropped++
		}
	}
	return out, dropped
}

func present(row []any, pos []int) bool {
	for _, j := range pos {
		switch v := row[j].(type) {
		case nil:
			return false
		case string:
			if v == "" {
				return false
			}
		}
	}
	return true
}
