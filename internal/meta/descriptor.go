// Package meta resolves and holds the per-table descriptors that routing and
// write building depend on: ordered primary-key columns, field metadata,
// shard topology, and the partition key.
//
// Descriptors are resolved once before workers start and are immutable
// afterwards, so they are safe to share across all consumer workers without
// synchronization. Resolution failure for any required table is fatal for
// the whole run: routing with partial metadata would silently misplace rows.
package meta

import "fmt"

// Column describes one column of a logical table.
type Column struct {
	Name     string
	Ordinal  int // 1-based position in the table definition
	DataType string
	Nullable bool
}

// Physical names a logical table's materialization on one shard.
type Physical struct {
	Shard int    // shard index in the run's shard list
	Name  string // table name on that shard
}

// Table is the immutable descriptor for one logical target table.
type Table struct {
	Name string

	// Columns is the effective ordered column set: the full table definition,
	// or the configured subset when one was given. Input rows align to this
	// order.
	Columns []Column

	// PrimaryKey is the ordered primary-key column names. Required for
	// update and delete, which build per-row predicates from it.
	PrimaryKey []string

	// PartitionKey is the ordered column(s) whose values determine the
	// target shard.
	PartitionKey []string

	// Topology maps the logical table to its physical name on every shard,
	// indexed by shard.
	Topology []Physical

	// keyIdx holds the positions of PartitionKey within Columns,
	// precomputed so routing does no per-row lookups.
	keyIdx []int
}

// ColumnNames returns the effective column names in order.
func (t *Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// PhysicalName returns the table's name on the given shard.
func (t *Table) PhysicalName(shard int) (string, error) {
	if shard < 0 || shard >= len(t.Topology) {
		return "", fmt.Errorf("table %s: no topology entry for shard %d", t.Name, shard)
	}
	return t.Topology[shard].Name, nil
}

// Catalog holds the resolved descriptors for all target tables of a run.
type Catalog struct {
	Tables     map[string]*Table
	ShardCount int
}

// Table returns the descriptor for name.
func (c *Catalog) Table(name string) (*Table, error) {
	t, ok := c.Tables[name]
	if !ok {
		return nil, fmt.Errorf("no metadata resolved for table %s", name)
	}
	return t, nil
}
