package builtin

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"ecoetl/pkg/records"
)

// DeDup collapses rows sharing a business key and picks a winner per policy:
//
//   - "keep-first"   : the earliest occurrence
//   - "keep-last"    : the latest occurrence (default)
//   - "most-complete": the row with the most non-empty fields; ties go to
//     the later row
//
// Keys are hashed with xxh3 over the key values joined by a unit separator;
// nil is encoded as "\x00" so it never collides with "". When a key column
// is missing from the dataset nothing can be keyed and rows pass through.
type DeDup struct {
	Keys   []string
	Policy string
}

// Policies lists the accepted policy names.
var Policies = []string{"keep-first", "keep-last", "most-complete"}

// Apply returns a new dataset without duplicates and the number of rows
// removed. Winners keep their original relative order.
func (d DeDup) Apply(in *records.Dataset) (*records.Dataset, int) {
	out := records.NewDataset(in.Columns)
	if len(in.Rows) == 0 || len(d.Keys) == 0 {
		out.Rows = append(out.Rows, in.Rows...)
		return out, 0
	}

	pos := make([]int, 0, len(d.Keys))
	for _, k := range d.Keys {
		j, ok := in.Index(k)
		if !ok {
			out.Rows = append(out.Rows, in.Rows...)
			return out, 0
		}
		pos = append(pos, j)
	}

	policy := strings.ToLower(strings.TrimSpace(d.Policy))
	if policy == "" {
		policy = "keep-last"
	}

	type slot struct {
		index int
		score int
	}
	winners := make(map[xxh3.Uint128]slot, len(in.Rows))

	var buf []byte
	for i, row := range in.Rows {
		buf = keyBytes(buf[:0], row, pos)
		key := xxh3.Hash128(buf)

		switch policy {
		case "keep-first":
			if _, exists := winners[key]; !exists {
				winners[key] = slot{index: i}
			}
		case "most-complete":
			s := slot{index: i, score: completeness(row)}
			if prev, exists := winners[key]; !exists || s.score >= prev.score {
				winners[key] = s
			}
		default:
			winners[key] = slot{index: i}
		}
	}

	idx := make([]int, 0, len(winners))
	for _, s := range winners {
		idx = append(idx, s.index)
	}
	sort.Ints(idx)

	out.Rows = make([][]any, 0, len(idx))
	for _, i := range idx {
		out.Rows = append(out.Rows, in.Rows[i])
	}
	return out, len(in.Rows) - len(idx)
}

func keyBytes(dst []byte, row []any, pos []int) []byte {
	for n, j := range pos {
		if n > 0 {
			dst = append(dst, '\x1f')
		}
		switch t := row[j].(type) {
		case nil:
			dst = append(dst, '\x00')
		case string:
			dst = append(dst, t...)
		default:
			dst = fmt.Append(dst, t)
		}
	}
	return dst
}

func completeness(row []any) int {
	n := 0
	for _, v := range row {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			if t == "" {
				continue
			}
		}
		n++
	}
	return n
}
