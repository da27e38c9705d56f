package transformer

import (
	"fmt"
	"sort"

	"ecoetl/internal/transformer/builtin"
	"ecoetl/pkg/records"
)

// Normalizer applies one compiled rule per canonical field. Each Apply binds
// rules to column positions, so a field's rule only ever sees that field's
// value and field order is irrelevant.
type Normalizer struct {
	rules map[string]builtin.Rule
}

// Compile validates every rule spec once. Errors name the offending field.
func Compile(specs map[string]builtin.Spec) (*Normalizer, error) {
	n := &Normalizer{rules: make(map[string]builtin.Rule, len(specs))}

	// Sorted for deterministic error reporting.
	fields := make([]string, 0, len(specs))
	for f := range specs {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, f := range fields {
		r, err := builtin.Compile(specs[f])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f, err)
		}
		n.rules[f] = r
	}
	return n, nil
}

// Fields returns the fields carrying a rule, sorted.
func (n *Normalizer) Fields() []string {
	out := make([]string, 0, len(n.rules))
	for f := range n.rules {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Apply returns a new dataset with every rule applied. Columns without a rule
// pass through with the empty string unified to nil. Rules for fields the
// dataset does not have are ignored.
func (n *Normalizer) Apply(in *records.Dataset) *records.Dataset {
	plan := make([]builtin.Rule, len(in.Columns))
	for j, c := range in.Columns {
		if r, ok := n.rules[c]; ok {
			plan[j] = r
		} else {
			plan[j] = builtin.Passthrough
		}
	}

	out := records.NewDataset(in.Columns)
	out.Rows = make([][]any, len(in.Rows))
	for i, row := range in.Rows {
		nr := make([]any, len(row))
		for j, v := range row {
			nr[j] = plan[j](v)
		}
		out.Rows[i] = nr
	}
	return out
}
