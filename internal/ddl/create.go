// Package ddl defines a small, backend-agnostic model for destination tables
// and renders it as CREATE TABLE statements for each supported SQL dialect.
//
// Tables are described with logical column types (text, number, date, list,
// vector); a Dialect maps those to concrete SQL types and supplies identifier
// quoting and the "create if missing" form.
package ddl

import (
	"fmt"
	"strings"
)

// Dialect renders DDL for one SQL backend.
type Dialect struct {
	Name string
	// Quote quotes a single identifier segment.
	Quote func(string) string
	// MapType returns the SQL type of a column.
	MapType func(ColumnDef) string
	// Guard wraps a plain CREATE TABLE so it is a no-op when the table
	// exists. Nil means the dialect supports CREATE TABLE IF NOT EXISTS.
	Guard func(quotedFQN, create string) string
}

// QuoteFQN quotes every non-empty segment of a dotted name.
func (d Dialect) QuoteFQN(fqn string) string {
	parts := strings.Split(fqn, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, d.Quote(p))
	}
	return strings.Join(out, ".")
}

// CreateTable renders a deterministic statement that creates t when missing.
//
// Rules:
//   - t.FQN must be non-empty.
//   - Each column must have a non-empty Name.
//   - Primary-key columns are always rendered as NOT NULL.
//   - PRIMARY KEY is rendered as a separate constraint clause.
func (d Dialect) CreateTable(t TableDef) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("%s ddl: table FQN must not be empty", d.Name)
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("%s ddl: at least one column is required", d.Name)
	}

	cols := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, len(t.Columns))

	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("%s ddl: column with empty name in table %s", d.Name, fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			typ = d.MapType(c)
		}
		if c.Type == Vector && c.Dims <= 0 && c.SQLType == "" {
			return "", fmt.Errorf("%s ddl: vector column %s needs positive dimensions", d.Name, name)
		}

		var sb strings.Builder
		sb.WriteString(d.Quote(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable || c.PrimaryKey {
			sb.WriteString(" NOT NULL")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			sb.WriteString(def)
		}
		cols = append(cols, sb.String())

		if c.PrimaryKey {
			pks = append(pks, d.Quote(name))
		}
	}
	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	quoted := d.QuoteFQN(fqn)
	body := fmt.Sprintf("(\n  %s\n)", strings.Join(cols, ",\n  "))
	if d.Guard != nil {
		return d.Guard(quoted, fmt.Sprintf("CREATE TABLE %s %s", quoted, body)), nil
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s %s;", quoted, body), nil
}
