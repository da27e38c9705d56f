package storage

import (
	"context"
	"fmt"

	"ecoetl/internal/config"
	"ecoetl/internal/ddl"
)

// TableCreator is implemented by sinks that can create their destination
// table. Backends render the definition in their own dialect.
type TableCreator interface {
	CreateTable(ctx context.Context, def ddl.TableDef) error
}

// TableDefFromProfile infers the destination table of a profile: one column
// per canonical field, typed by its rule, NOT NULL when mandatory, plus the
// embedding target as a vector column.
func TableDefFromProfile(p config.Profile) ddl.TableDef {
	mandatory := make(map[string]bool, len(p.Mandatory))
	for _, f := range p.Mandatory {
		mandatory[f] = true
	}

	def := ddl.TableDef{FQN: p.Storage.Table}
	for _, c := range p.Columns {
		kind := ""
		if c.Rule != nil {
			kind = c.Rule.Kind
		}
		def.Columns = append(def.Columns, ddl.ColumnDef{
			Name:     c.Field,
			Type:     ddl.TypeForRule(kind),
			Nullable: !mandatory[c.Field],
		})
	}
	if e := p.Embedding; e != nil && e.Target != "" {
		def.Columns = append(def.Columns, ddl.ColumnDef{
			Name:     e.Target,
			Type:     ddl.Vector,
			Dims:     e.Dimensions,
			Nullable: true,
		})
	}
	return def
}

// EnsureTable creates the profile's destination table when the sink supports
// it. Sinks without DDL support return an error; callers only invoke this
// when auto_create_table is set.
func EnsureTable(ctx context.Context, sink Sink, p config.Profile) error {
	tc, ok := sink.(TableCreator)
	if !ok {
		return fmt.Errorf("storage.kind=%s cannot create tables", p.Storage.Kind)
	}
	if err := tc.CreateTable(ctx, TableDefFromProfile(p)); err != nil {
		return fmt.Errorf("ensure table %s: %w", p.Storage.Table, err)
	}
	return nil
}
