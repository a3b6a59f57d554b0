// Package all wires all built-in sinks into the storage registry.
//
// Importing it (as a blank import) runs the init functions of each concrete
// sink, which register their factories. After that the following kinds are
// available to storage.New:
//
//   - "parquet"  (changesets/internal/storage/parquet)
//   - "sqlite"   (changesets/internal/storage/sqlite)
//   - "postgres" (changesets/internal/storage/postgres)
//   - "mssql"    (changesets/internal/storage/mssql)
//
// A binary that needs only a subset can import the sink packages directly.
package all

import (
	_ "changesets/internal/storage/mssql"
	_ "changesets/internal/storage/parquet"
	_ "changesets/internal/storage/postgres"
	_ "changesets/internal/storage/sqlite"
)
