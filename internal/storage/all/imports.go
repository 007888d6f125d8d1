// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each concrete backend, which register
// their factories with the storage package. It makes the following shard
// kinds available at runtime:
//
//   - "mysql"    (shardload/internal/storage/mysql)
//   - "postgres" (shardload/internal/storage/postgres)
//   - "mssql"    (shardload/internal/storage/mssql)
//   - "sqlite"   (shardload/internal/storage/sqlite)
//
// Binaries that only need a subset can blank-import the individual backend
// packages instead.
package all

import (
	_ "shardload/internal/storage/mssql"
	_ "shardload/internal/storage/mysql"
	_ "shardload/internal/storage/postgres"
	_ "shardload/internal/storage/sqlite"
)
