// Package sqlrepo implements storage.Repository over database/sql for every
// backend whose write path is plain parameterized SQL (mysql, mssql,
// sqlite). Engine differences are confined to a small Dialect value:
// placeholder style, identifier quoting, and the engine's bind-parameter
// cap, which bounds multi-row insert chunks.
package sqlrepo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"shardload/internal/storage"
)

// Dialect captures the engine-specific SQL surface.
type Dialect struct {
	// Name labels the dialect in errors.
	Name string

	// Placeholder renders the n-th (1-based) bind placeholder.
	Placeholder func(n int) string

	// QuoteIdent quotes a single identifier.
	QuoteIdent func(s string) string

	// MaxParams caps bind parameters per statement; inserts are chunked to
	// stay under it. 0 means no cap.
	MaxParams int
}

// Repo is a database/sql-backed shard repository.
type Repo struct {
	db *sql.DB
	d  Dialect
}

// New wraps an open handle. The Repo takes ownership: Close closes db.
func New(db *sql.DB, d Dialect) *Repo { return &Repo{db: db, d: d} }

// Insert builds multi-row INSERT statements, chunked to respect the
// dialect's bind-parameter cap.
func (r *Repo) Insert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("%s: insert into %s: no columns", r.d.Name, table)
	}

	chunk := len(rows)
	if r.d.MaxParams > 0 {
		perRow := len(columns)
		if c := r.d.MaxParams / perRow; c < chunk {
			chunk = c
		}
		if chunk == 0 {
			return 0, fmt.Errorf("%s: %d columns exceed the parameter cap", r.d.Name, len(columns))
		}
	}

	var total int64
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		n, err := r.insertChunk(ctx, table, columns, rows[start:end])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *Repo) insertChunk(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(r.d.QuoteIdent(table))
	b.WriteString(" (")
	b.WriteString(r.quoteList(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("%s: insert into %s: row has %d values, want %d", r.d.Name, table, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(",")
			}
			b.WriteString(r.d.Placeholder(p))
			p++
		}
		b.WriteString(")")
		args = append(args, row...)
	}

	res, err := r.db.ExecContext(ctx, b.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("%s: insert into %s: %w", r.d.Name, table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Engines without RowsAffected still inserted; report the batch size.
		return int64(len(rows)), nil
	}
	return n, nil
}

// Update applies one prepared UPDATE per row inside a transaction. Every
// column not in keyColumns is set; keyColumns form the predicate.
func (r *Repo) Update(ctx context.Context, table string, columns, keyColumns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	setCols, setIdx, keyIdx, err := splitColumns(columns, keyColumns)
	if err != nil {
		return 0, fmt.Errorf("%s: update %s: %w", r.d.Name, table, err)
	}
	if len(setCols) == 0 {
		return 0, fmt.Errorf("%s: update %s: every column is part of the key", r.d.Name, table)
	}

	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(r.d.QuoteIdent(table))
	b.WriteString(" SET ")
	p := 1
	for i, c := range setCols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(r.d.QuoteIdent(c))
		b.WriteString(" = ")
		b.WriteString(r.d.Placeholder(p))
		p++
	}
	b.WriteString(" WHERE ")
	for i, c := range keyColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString(r.d.QuoteIdent(c))
		b.WriteString(" = ")
		b.WriteString(r.d.Placeholder(p))
		p++
	}

	return r.execPerRow(ctx, b.String(), table, columns, rows, append(setIdx, keyIdx...))
}

// Delete applies one prepared DELETE per row inside a transaction, matching
// on keyColumns.
func (r *Repo) Delete(ctx context.Context, table string, columns, keyColumns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	_, _, keyIdx, err := splitColumns(columns, keyColumns)
	if err != nil {
		return 0, fmt.Errorf("%s: delete from %s: %w", r.d.Name, table, err)
	}

	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(r.d.QuoteIdent(table))
	b.WriteString(" WHERE ")
	for i, c := range keyColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString(r.d.QuoteIdent(c))
		b.WriteString(" = ")
		b.WriteString(r.d.Placeholder(i + 1))
	}

	return r.execPerRow(ctx, b.String(), table, columns, rows, keyIdx)
}

// execPerRow prepares query once and executes it per row inside one
// transaction, pulling each row's arguments from the given column indexes.
func (r *Repo) execPerRow(ctx context.Context, query, table string, columns []string, rows [][]any, argIdx []int) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin: %w", r.d.Name, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("%s: prepare: %w", r.d.Name, err)
	}
	defer stmt.Close()

	var total int64
	args := make([]any, len(argIdx))
	for _, row := range rows {
		if len(row) != len(columns) {
			return total, fmt.Errorf("%s: %s: row has %d values, want %d", r.d.Name, table, len(row), len(columns))
		}
		for i, idx := range argIdx {
			args[i] = row[idx]
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return total, fmt.Errorf("%s: %s: %w", r.d.Name, table, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		} else {
			total++
		}
	}
	if err := tx.Commit(); err != nil {
		return total, fmt.Errorf("%s: commit: %w", r.d.Name, err)
	}
	return total, nil
}

// Exec runs an arbitrary statement.
func (r *Repo) Exec(ctx context.Context, query string, args ...any) error {
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// ShowCreate is unsupported in the generic repo; engine adapters that have a
// server-side statement (mysql) wrap and override it.
func (r *Repo) ShowCreate(ctx context.Context, table string) (string, error) {
	return "", storage.ErrShowCreateUnsupported
}

// DB exposes the underlying handle for metadata queries.
func (r *Repo) DB() *sql.DB { return r.db }

// Close closes the underlying pool.
func (r *Repo) Close() { r.db.Close() }

func (r *Repo) quoteList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = r.d.QuoteIdent(c)
	}
	return strings.Join(out, ",")
}

// splitColumns partitions columns into non-key and key sets, returning the
// row indexes of each. keyColumns must all be present in columns.
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
