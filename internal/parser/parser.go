// Package parser declares the tabular parser contract. The delimited-text
// implementation lives in parser/csv.
package parser

import (
	"io"

	"ecoetl/internal/parser/csv"
	"ecoetl/pkg/records"
)

// Parser turns a byte stream into a dataset with raw header names.
type Parser interface {
	Parse(r io.Reader) (*records.Dataset, csv.Stats, error)
}

var _ Parser = (*csv.Parser)(nil)
