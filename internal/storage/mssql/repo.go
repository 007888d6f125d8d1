// Package mssql wires the SQL Server backend into the storage factory via
// the generic sqlrepo.
package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"shardload/internal/storage"
	"shardload/internal/storage/sqlrepo"
)

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		db, err := sql.Open("sqlserver", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("mssql: open: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("mssql: ping: %w", err)
		}
		return sqlrepo.New(db, Dialect()), nil
	})
}

// Dialect returns the SQL Server surface for sqlrepo. The 2100-parameter
// statement cap is the reason inserts are chunked aggressively here.
func Dialect() sqlrepo.Dialect {
	return sqlrepo.Dialect{
		Name:        "mssql",
		Placeholder: func(n int) string { return fmt.Sprintf("@p%d", n) },
		QuoteIdent:  func(s string) string { return "[" + s + "]" },
		MaxParams:   2000,
	}
}
