// Package mysql wires the MySQL backend into the storage factory. The write
// path is the generic sqlrepo with MySQL quoting; SHOW CREATE TABLE is
// supported natively for DDL export.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"shardload/internal/storage"
	"shardload/internal/storage/sqlrepo"
)

var _ storage.Repository = (*repo)(nil)

func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		db, err := sql.Open("mysql", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("mysql: open: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("mysql: ping: %w", err)
		}
		return &repo{Repo: sqlrepo.New(db, Dialect())}, nil
	})
}

// Dialect returns the MySQL SQL surface for sqlrepo.
func Dialect() sqlrepo.Dialect {
	return sqlrepo.Dialect{
		Name:        "mysql",
		Placeholder: func(int) string { return "?" },
		QuoteIdent:  quoteIdent,
		MaxParams:   60000, // server cap is 65535; leave headroom
	}
}

type repo struct{ *sqlrepo.Repo }

// ShowCreate returns the server-rendered CREATE TABLE statement.
func (r *repo) ShowCreate(ctx context.Context, table string) (string, error) {
	var name, ddl string
	q := "SHOW CREATE TABLE " + quoteIdent(table)
	if err := r.DB().QueryRowContext(ctx, q).Scan(&name, &ddl); err != nil {
		return "", fmt.Errorf("mysql: show create table %s: %w", table, err)
	}
	return ddl, nil
}

func quoteIdent(s string) string {
	return "`" + s + "`"
}
