package ddl

import "strings"

// Type is the logical type of a destination column. Dialects map it to a
// concrete SQL type.
type Type int

const (
	Text Type = iota
	Number
	Date
	List   // ordered list of strings
	Vector // fixed-length float32 embedding
)

var typeNames = [...]string{Text: "text", Number: "number", Date: "date", List: "list", Vector: "vector"}

func (t Type) String() string {
	if int(t) >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "text"
}

// TypeForRule returns the logical type produced by a normalization rule kind.
func TypeForRule(kind string) Type {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "decimal":
		return Number
	case "date":
		return Date
	case "split":
		return List
	default:
		return Text
	}
}

// ColumnDef describes a single column of a table definition.
//
// SQLType, when set, overrides the dialect's mapping of Type. Default is a
// raw SQL expression emitted as-is.
type ColumnDef struct {
	Name       string
	Type       Type
	Dims       int // Vector length
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Default    string
}

// TableDef holds the table name in dotted form ("schema.table") and its
// ordered columns. Renderers quote each segment.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
}
