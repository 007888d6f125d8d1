package meta

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"shardload/internal/config"
)

// Dialect abstracts the catalog queries that differ between database
// engines. Implementations must be read-only.
type Dialect interface {
	// PrimaryKey returns the ordered primary-key column names of table, or
	// an empty slice when the table has no primary key.
	PrimaryKey(ctx context.Context, db *sql.DB, table string) ([]string, error)

	// Columns returns the full ordered column metadata of table.
	Columns(ctx context.Context, db *sql.DB, table string) ([]Column, error)
}

// DialectFor returns the metadata dialect for a shard kind.
func DialectFor(kind string) (Dialect, error) {
	switch kind {
	case "mysql":
		return infoSchema{schemaExpr: "DATABASE()", ph: "?"}, nil
	case "postgres":
		return infoSchema{schemaExpr: "current_schema()", ph: "$1"}, nil
	case "mssql":
		return infoSchema{schemaExpr: "SCHEMA_NAME()", ph: "@p1"}, nil
	case "sqlite":
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("no metadata dialect for shard kind %q", kind)
	}
}

// infoSchema implements Dialect via the standard information_schema views,
// parameterized by the engine's current-schema expression and placeholder
// style.
type infoSchema struct {
	schemaExpr string
	ph         string
}

func (d infoSchema) PrimaryKey(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	q := fmt.Sprintf(`SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name
 AND tc.table_schema = kcu.table_schema
 AND tc.table_name = kcu.table_name
WHERE tc.constraint_type = 'PRIMARY KEY'
  AND tc.table_schema = %s
  AND tc.table_name = %s
ORDER BY kcu.ordinal_position`, d.schemaExpr, d.ph)

	rows, err := db.QueryContext(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("query primary key of %s: %w", table, err)
	}
	defer rows.Close()

	var pk []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan primary key of %s: %w", table, err)
		}
		pk = append(pk, name)
	}
	return pk, rows.Err()
}

func (d infoSchema) Columns(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	q := fmt.Sprintf(`SELECT column_name, ordinal_position, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = %s
  AND table_name = %s
ORDER BY ordinal_position`, d.schemaExpr, d.ph)

	rows, err := db.QueryContext(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("query columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		var nullable string
		if err := rows.Scan(&c.Name, &c.Ordinal, &c.DataType, &nullable); err != nil {
			return nil, fmt.Errorf("scan columns of %s: %w", table, err)
		}
		c.Nullable = strings.EqualFold(nullable, "YES")
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// sqliteDialect implements Dialect via PRAGMA table_info, which has no
// information_schema equivalent in SQLite.
type sqliteDialect struct{}

func (sqliteDialect) tableInfo(ctx context.Context, db *sql.DB, table string) (*sql.Rows, error) {
	// PRAGMA takes no placeholders; quote the identifier instead.
	q := `PRAGMA table_info("` + strings.ReplaceAll(table, `"`, `""`) + `")`
	return db.QueryContext(ctx, q)
}

func (d sqliteDialect) PrimaryKey(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := d.tableInfo(ctx, db, table)
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	// pk is the column's 1-based position within the primary key, 0 if not
	// part of it.
	byPos := map[int]string{}
	for rows.Next() {
		var (
			cid, notnull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table_info %s: %w", table, err)
		}
		if pk > 0 {
			byPos[pk] = name
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(byPos))
	for i := 1; i <= len(byPos); i++ {
		out = append(out, byPos[i])
	}
	return out, nil
}

func (d sqliteDialect) Columns(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	rows, err := d.tableInfo(ctx, db, table)
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid, notnull, pk int
			name, typ        string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("scan table_info %s: %w", table, err)
		}
		cols = append(cols, Column{
			Name:     name,
			Ordinal:  cid + 1,
			DataType: typ,
			Nullable: notnull == 0,
		})
	}
	return cols, rows.Err()
}

// Resolve queries the target database once per table and builds the
// immutable catalog. db must be a connection to a shard that carries the
// authoritative schema (by convention shard 0). Any failure, including a
// table with no resolvable columns or a missing primary key for update or
// delete, is fatal: no partial catalog is ever returned.
func Resolve(ctx context.Context, db *sql.DB, d Dialect, spec config.Spec) (*Catalog, error) {
	cat := &Catalog{
		Tables:     make(map[string]*Table, len(spec.Tables)),
		ShardCount: len(spec.Shards),
	}

	for _, name := range spec.Tables {
		cols, err := d.Columns(ctx, db, name)
		if err != nil {
			return nil, err
		}
		if len(cols) == 0 {
			return nil, fmt.Errorf("table %s: no columns resolved (missing table?)", name)
		}
		if len(spec.Columns) > 0 {
			if cols, err = subsetColumns(name, cols, spec.Columns); err != nil {
				return nil, err
			}
		}

		pk, err := d.PrimaryKey(ctx, db, name)
		if err != nil {
			return nil, err
		}
		if (spec.Op == "update" || spec.Op == "delete") && len(pk) == 0 {
			return nil, fmt.Errorf("table %s: op %s requires a primary key", name, spec.Op)
		}

		t := &Table{
			Name:         name,
			Columns:      cols,
			PrimaryKey:   pk,
			PartitionKey: spec.Routing.PartitionKey[name],
			Topology:     buildTopology(name, spec.Routing.PhysicalName, len(spec.Shards)),
		}
		if t.keyIdx, err = keyIndexes(t); err != nil {
			return nil, err
		}
		cat.Tables[name] = t
	}
	return cat, nil
}

// subsetColumns restricts cols to the configured subset, in configured order.
func subsetColumns(table string, cols []Column, want []string) ([]Column, error) {
	byName := make(map[string]Column, len(cols))
	for _, c := range cols {
		byName[c.Name] = c
	}
	out := make([]Column, 0, len(want))
	for _, w := range want {
		c, ok := byName[w]
		if !ok {
			return nil, fmt.Errorf("table %s: configured column %q does not exist", table, w)
		}
		out = append(out, c)
	}
	return out, nil
}

// buildTopology expands the physical-name template for every shard.
// "{table}" and "{shard}" are substituted; an empty template keeps the
// logical name on every shard.
func buildTopology(table, template string, shards int) []Physical {
	out := make([]Physical, shards)
	for i := 0; i < shards; i++ {
		name := table
		if template != "" {
			name = strings.NewReplacer(
				"{table}", table,
				"{shard}", fmt.Sprintf("%d", i),
			).Replace(template)
		}
		out[i] = Physical{Shard: i, Name: name}
	}
	return out
}

// keyIndexes locates the partition-key columns within the effective column
// set.
func keyIndexes(t *Table) ([]int, error) {
	idx := make([]int, 0, len(t.PartitionKey))
	for _, k := range t.PartitionKey {
		found := -1
		for i, c := range t.Columns {
			if c.Name == k {
				found = i
				break
			}
		}
		if found < 0 {
			return nil, fmt.Errorf("table %s: partition key column %q not in effective column set", t.Name, k)
		}
		idx = append(idx, found)
	}
	return idx, nil
}
