// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each backend, which register their
// factories with the storage package:
//
//   - "postgres" (ecoetl/internal/storage/postgres)
//   - "sqlite"   (ecoetl/internal/storage/sqlite)
//   - "mssql"    (ecoetl/internal/storage/mssql)
//   - "mysql"    (ecoetl/internal/storage/mysql)
//   - "duckdb"   (ecoetl/internal/storage/duckdb)
//   - "rest"     (ecoetl/internal/storage/rest)
//
// Typical usage (in cmd/ecoetl):
//
//	import _ "ecoetl/internal/storage/all"
//
//	sink, err := storage.New(ctx, storage.ConfigFromProfile(profile))
//	if err != nil {
//	    // handle error
//	}
//	defer sink.Close()
package all

import (
	_ "ecoetl/internal/storage/duckdb"
	_ "ecoetl/internal/storage/mssql"
	_ "ecoetl/internal/storage/mysql"
	_ "ecoetl/internal/storage/postgres"
	_ "ecoetl/internal/storage/rest"
	_ "ecoetl/internal/storage/sqlite"
)
