// Package sqlite wires the SQLite backend (modernc.org/sqlite, cgo-free)
// into the storage factory via the generic sqlrepo. It is primarily used by
// the end-to-end tests and for small local targets.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"shardload/internal/storage"
	"shardload/internal/storage/sqlrepo"
)

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		db, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("sqlite: open: %w", err)
		}
		// A file-backed SQLite database serializes writers; a single
		// connection avoids SQLITE_BUSY under concurrent consumers.
		db.SetMaxOpenConns(1)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: ping: %w", err)
		}
		return sqlrepo.New(db, Dialect()), nil
	})
}

// Dialect returns the SQLite surface for sqlrepo.
func Dialect() sqlrepo.Dialect {
	return sqlrepo.Dialect{
		Name:        "sqlite",
		Placeholder: func(int) string { return "?" },
		QuoteIdent:  func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` },
		MaxParams:   999,
	}
}
