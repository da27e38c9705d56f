package ddl

import (
	"fmt"
	"strings"
)

func doubleQuote(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

func backtick(id string) string { return "`" + strings.ReplaceAll(id, "`", "``") + "`" }

func bracket(id string) string { return "[" + strings.ReplaceAll(id, "]", "]]") + "]" }

// Postgres stores lists and vectors as native arrays.
var Postgres = Dialect{
	Name:  "postgres",
	Quote: doubleQuote,
	MapType: func(c ColumnDef) string {
		switch c.Type {
		case Number:
			return "double precision"
		case Date:
			return "date"
		case List:
			return "text[]"
		case Vector:
			return "real[]"
		default:
			return "text"
		}
	},
}

// SQLite stores dates as ISO-8601 text and lists and vectors as JSON text.
var SQLite = Dialect{
	Name:  "sqlite",
	Quote: doubleQuote,
	MapType: func(c ColumnDef) string {
		if c.Type == Number {
			return "REAL"
		}
		return "TEXT"
	},
}

// DuckDB stores lists and vectors as JSON text.
var DuckDB = Dialect{
	Name:  "duckdb",
	Quote: doubleQuote,
	MapType: func(c ColumnDef) string {
		switch c.Type {
		case Number:
			return "DOUBLE"
		case Date:
			return "DATE"
		default:
			return "VARCHAR"
		}
	},
}

// MySQL stores lists and vectors in JSON columns.
var MySQL = Dialect{
	Name:  "mysql",
	Quote: backtick,
	MapType: func(c ColumnDef) string {
		switch c.Type {
		case Number:
			return "DOUBLE"
		case Date:
			return "DATE"
		case List, Vector:
			return "JSON"
		default:
			return "TEXT"
		}
	},
}

// MSSQL has no CREATE TABLE IF NOT EXISTS; the statement is guarded with
// OBJECT_ID instead.
var MSSQL = Dialect{
	Name:  "mssql",
	Quote: bracket,
	MapType: func(c ColumnDef) string {
		switch c.Type {
		case Number:
			return "FLOAT"
		case Date:
			return "DATE"
		default:
			return "NVARCHAR(MAX)"
		}
	},
	Guard: func(quotedFQN, create string) string {
		return fmt.Sprintf(
			"IF OBJECT_ID(N'%s', N'U') IS NULL\nBEGIN\n  %s;\nEND;",
			strings.ReplaceAll(quotedFQN, "'", "''"),
			create,
		)
	},
}
