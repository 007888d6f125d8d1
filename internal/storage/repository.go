// Package storage contains the storage-agnostic contracts for shard
// repositories and the factory that backends register themselves with.
//
// Backend packages (postgres, mysql, mssql, sqlite) register a factory for
// their kind at init time; importing shardload/internal/storage/all (even
// blank) makes every built-in backend available. The rest of the program
// depends only on the Repository interface and never imports database
// drivers directly.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// Config selects and configures one shard connection.
type Config struct {
	// Kind selects the registered backend ("mysql", "postgres", "mssql",
	// "sqlite").
	Kind string

	// DSN is the backend-specific connection string.
	DSN string
}

// ErrShowCreateUnsupported is returned by backends that cannot produce a
// server-side CREATE statement; callers fall back to rendering one from
// resolved field metadata.
var ErrShowCreateUnsupported = errors.New("storage: SHOW CREATE not supported by this backend")

// Repository is one shard's write surface. All batch methods take rows
// aligned to the columns order; they return the number of affected rows.
//
// Implementations must be safe for concurrent use by multiple consumer
// workers.
type Repository interface {
	// Insert bulk-inserts rows into table.
	Insert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// Update applies one UPDATE per row inside a single transaction, setting
	// every non-key column and matching on keyColumns.
	Update(ctx context.Context, table string, columns, keyColumns []string, rows [][]any) (int64, error)

	// Delete applies one DELETE per row inside a single transaction,
	// matching on keyColumns. Non-key fields of each row are ignored.
	Delete(ctx context.Context, table string, columns, keyColumns []string, rows [][]any) (int64, error)

	// Exec runs an arbitrary statement (DDL bootstrap).
	Exec(ctx context.Context, query string, args ...any) error

	// ShowCreate returns the server's CREATE statement for table, or
	// ErrShowCreateUnsupported.
	ShowCreate(ctx context.Context, table string) (string, error)

	// DB exposes a database/sql handle for read-only metadata queries, or
	// nil when the backend has none.
	DB() *sql.DB

	// Close releases the underlying pool.
	Close()
}

// Factory constructs a Repository for a Config.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for a storage kind. It is
// typically called from backend packages' init functions.
func Register(kind string, fn Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = fn
}

// New opens a Repository of the configured kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	regMu.RLock()
	fn, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("storage: no backend registered for kind %q", cfg.Kind)
	}
	return fn(ctx, cfg)
}
