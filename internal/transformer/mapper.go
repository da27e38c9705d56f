// Package transformer turns a parsed dataset into canonical, normalized rows:
// the schema mapper selects and renames source columns, and the normalizer
// applies one compiled rule per canonical field.
package transformer

import (
	"ecoetl/internal/etlerr"
	"ecoetl/pkg/records"
)

// Mapping renames one source column to a canonical field.
type Mapping struct {
	Source string
	Field  string
}

// Map restricts ds to the mapped source columns, renamed and in mapping
// order, preserving row order. If any source column is absent from the
// header it fails with a SchemaMismatch error naming every missing column and
// produces no output.
func Map(ds *records.Dataset, mappings []Mapping) (*records.Dataset, error) {
	pos := make([]int, len(mappings))
	fields := make([]string, len(mappings))
	var missing []string
	for i, m := range mappings {
		j, ok := ds.Index(m.Source)
		if !ok {
			missing = append(missing, m.Source)
			continue
		}
		pos[i] = j
		fields[i] = m.Field
	}
	if len(missing) > 0 {
		return nil, &etlerr.Error{Kind: etlerr.SchemaMismatch, Op: "map", Missing: missing}
	}

	out := records.NewDataset(fields)
	out.Rows = make([][]any, len(ds.Rows))
	for r, row := range ds.Rows {
		nr := make([]any, len(pos))
		for i, j := range pos {
			nr[i] = row[j]
		}
		out.Rows[r] = nr
	}
	return out, nil
}
