// Package postgres implements a Postgres shard repository using pgx v5.
// Inserts go through the COPY protocol; updates and deletes are executed as
// pipelined batches inside a transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"shardload/internal/storage"
)

var _ storage.Repository = (*Repository)(nil)

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return NewRepository(ctx, cfg.DSN)
	})
}

// Repository is a pgx-backed implementation of storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
	sdb  *sql.DB // database/sql view over the same pool, for metadata queries
}

// NewRepository opens a pool for dsn and verifies connectivity.
func NewRepository(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgxpool ping: %w", err)
	}
	return &Repository{pool: pool, sdb: stdlib.OpenDBFromPool(pool)}, nil
}

// Insert bulk-loads rows via COPY, pgx's fastest ingest path.
func (r *Repository) Insert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := r.pool.CopyFrom(ctx, splitFQN(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			return n, fmt.Errorf("copy into %s: %s (%s)", table, pgErr.Detail, pgErr.SQLState())
		}
		return n, fmt.Errorf("copy into %s: %w", table, err)
	}
	return n, nil
}

// Update executes one UPDATE per row as a pipelined batch in a transaction.
func (r *Repository) Update(ctx context.Context, table string, columns, keyColumns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	setCols, setIdx, keyIdx, err := splitColumns(columns, keyColumns)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", table, err)
	}
	if len(setCols) == 0 {
		return 0, fmt.Errorf("update %s: every column is part of the key", table)
	}

	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(pgFQN(table))
	b.WriteString(" SET ")
	p := 1
	for i, c := range setCols {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = $%d", pgIdent(c), p)
		p++
	}
	b.WriteString(" WHERE ")
	for i, c := range keyColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s = $%d", pgIdent(c), p)
		p++
	}

	return r.execBatch(ctx, b.String(), rows, append(setIdx, keyIdx...))
}

// Delete executes one DELETE per row as a pipelined batch in a transaction.
func (r *Repository) Delete(ctx context.Context, table string, columns, keyColumns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	_, _, keyIdx, err := splitColumns(columns, keyColumns)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}

	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(pgFQN(table))
	b.WriteString(" WHERE ")
	for i, c := range keyColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s = $%d", pgIdent(c), i+1)
	}

	return r.execBatch(ctx, b.String(), rows, keyIdx)
}

// execBatch queues query once per row with arguments pulled from argIdx and
// sends the whole batch inside a transaction.
func (r *Repository) execBatch(ctx context.Context, query string, rows [][]any, argIdx []int) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, row := range rows {
		args := make([]any, len(argIdx))
		for i, idx := range argIdx {
			args[i] = row[idx]
		}
		batch.Queue(query, args...)
	}

	br := tx.SendBatch(ctx, batch)
	var total int64
	for range rows {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return total, fmt.Errorf("batch exec: %w", err)
		}
		total += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return total, fmt.Errorf("batch close: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return total, fmt.Errorf("commit: %w", err)
	}
	return total, nil
}

// Exec runs an arbitrary statement (DDL bootstrap).
func (r *Repository) Exec(ctx context.Context, query string, args ...any) error {
	_, err := r.pool.Exec(ctx, query, args...)
	return err
}

// ShowCreate is not available server-side in Postgres; callers render the
// statement from resolved metadata instead.
func (r *Repository) ShowCreate(ctx context.Context, table string) (string, error) {
	return "", storage.ErrShowCreateUnsupported
}

// DB returns a database/sql view over the pool for metadata queries.
func (r *Repository) DB() *sql.DB { return r.sdb }

// Close closes the stdlib view and the pool.
func (r *Repository) Close() {
	r.sdb.Close()
	r.pool.Close()
}

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name like "public.orders_3" to
// "public"."orders_3". If no dot is present, returns a single quoted ident.
func pgFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, ".")
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
// If no dot is present, returns {"table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}

// splitColumns partitions columns into non-key and key sets, returning the
// row indexes of each.
func splitColumns(columns, keyColumns []string) (setCols []string, setIdx, keyIdx []int, err error) {
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}
	isKey := make(map[string]bool, len(keyColumns))
	for _, k := range keyColumns {
		i, ok := pos[k]
		if !ok {
			return nil, nil, nil, fmt.Errorf("key column %q not in column set", k)
		}
		isKey[k] = true
		keyIdx = append(keyIdx, i)
	}
	for i, c := range columns {
		if !isKey[c] {
			setCols = append(setCols, c)
			setIdx = append(setIdx, i)
		}
	}
	return setCols, setIdx, keyIdx, nil
}
