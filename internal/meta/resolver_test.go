package meta

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"shardload/internal/config"
)

func specFor(op string, tables ...string) config.Spec {
	return config.Spec{
		Op:     op,
		Tables: tables,
		Shards: []config.Shard{
			{Name: "ds0", Kind: "mysql", DSN: "dsn0"},
			{Name: "ds1", Kind: "mysql", DSN: "dsn1"},
		},
		Routing: config.Routing{
			PartitionKey: map[string][]string{"orders": {"customer_id"}},
			PhysicalName: "{table}_{shard}",
		},
	}
}

func expectColumns(mock sqlmock.Sqlmock, table string, cols ...[4]any) {
	rows := sqlmock.NewRows([]string{"column_name", "ordinal_position", "data_type", "is_nullable"})
	for _, c := range cols {
		rows.AddRow(c[0], c[1], c[2], c[3])
	}
	mock.ExpectQuery("FROM information_schema.columns").WithArgs(table).WillReturnRows(rows)
}

func expectPrimaryKey(mock sqlmock.Sqlmock, table string, pk ...string) {
	rows := sqlmock.NewRows([]string{"column_name"})
	for _, c := range pk {
		rows.AddRow(c)
	}
	mock.ExpectQuery("constraint_type = 'PRIMARY KEY'").WithArgs(table).WillReturnRows(rows)
}

func TestResolveBuildsCatalog(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	expectColumns(mock, "orders",
		[4]any{"id", 1, "bigint", "NO"},
		[4]any{"customer_id", 2, "varchar", "NO"},
		[4]any{"note", 3, "text", "YES"},
	)
	expectPrimaryKey(mock, "orders", "id")

	d, err := DialectFor("mysql")
	if err != nil {
		t.Fatal(err)
	}
	cat, err := Resolve(context.Background(), db, d, specFor("insert", "orders"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	tbl, err := cat.Table("orders")
	if err != nil {
		t.Fatal(err)
	}
	if got := tbl.ColumnNames(); len(got) != 3 || got[0] != "id" || got[2] != "note" {
		t.Fatalf("columns = %v", got)
	}
	if len(tbl.PrimaryKey) != 1 || tbl.PrimaryKey[0] != "id" {
		t.Fatalf("primary key = %v, want [id]", tbl.PrimaryKey)
	}
	if !tbl.Columns[2].Nullable || tbl.Columns[0].Nullable {
		t.Fatalf("nullability wrong: %+v", tbl.Columns)
	}

	// Topology from the physical-name template, one entry per shard.
	if name, _ := tbl.PhysicalName(0); name != "orders_0" {
		t.Fatalf("physical name on shard 0 = %q", name)
	}
	if name, _ := tbl.PhysicalName(1); name != "orders_1" {
		t.Fatalf("physical name on shard 1 = %q", name)
	}
	if cat.ShardCount != 2 {
		t.Fatalf("shard count = %d, want 2", cat.ShardCount)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestResolveMissingTableIsFatal(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	expectColumns(mock, "orders") // zero columns resolved

	d, _ := DialectFor("mysql")
	if _, err := Resolve(context.Background(), db, d, specFor("insert", "orders")); err == nil {
		t.Fatal("resolve of a missing table succeeded")
	}
}

func TestResolveUpdateRequiresPrimaryKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	expectColumns(mock, "orders", [4]any{"id", 1, "bigint", "NO"})
	expectPrimaryKey(mock, "orders") // no PK

	d, _ := DialectFor("mysql")
	if _, err := Resolve(context.Background(), db, d, specFor("update", "orders")); err == nil {
		t.Fatal("update without a primary key accepted")
	}
}

func TestResolveColumnSubset(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	expectColumns(mock, "orders",
		[4]any{"id", 1, "bigint", "NO"},
		[4]any{"customer_id", 2, "varchar", "NO"},
		[4]any{"note", 3, "text", "YES"},
	)
	expectPrimaryKey(mock, "orders", "id")

	spec := specFor("insert", "orders")
	spec.Columns = []string{"customer_id", "id"}

	d, _ := DialectFor("mysql")
	cat, err := Resolve(context.Background(), db, d, spec)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	tbl, _ := cat.Table("orders")
	if got := tbl.ColumnNames(); len(got) != 2 || got[0] != "customer_id" || got[1] != "id" {
		t.Fatalf("effective columns = %v, want configured order", got)
	}
}

func TestResolveUnknownSubsetColumn(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	expectColumns(mock, "orders", [4]any{"id", 1, "bigint", "NO"})

	spec := specFor("insert", "orders")
	spec.Columns = []string{"ghost"}

	d, _ := DialectFor("mysql")
	if _, err := Resolve(context.Background(), db, d, spec); err == nil {
		t.Fatal("unknown configured column accepted")
	}
}

func TestResolvePartitionKeyMustExist(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	expectColumns(mock, "orders", [4]any{"id", 1, "bigint", "NO"})
	expectPrimaryKey(mock, "orders", "id")

	// Partition key names a column outside the effective set.
	d, _ := DialectFor("mysql")
	if _, err := Resolve(context.Background(), db, d, specFor("insert", "orders")); err == nil {
		t.Fatal("partition key outside the column set accepted")
	}
}

func TestDialectFor(t *testing.T) {
	for _, kind := range []string{"mysql", "postgres", "mssql", "sqlite"} {
		if _, err := DialectFor(kind); err != nil {
			t.Errorf("DialectFor(%q): %v", kind, err)
		}
	}
	if _, err := DialectFor("oracle"); err == nil {
		t.Error("DialectFor accepted an unknown kind")
	}
}
