// Package ddl renders CREATE TABLE statements from resolved table metadata
// and writes schema export files.
//
// The renderer stays generic: it does not quote identifiers or emit
// dialect-specific clauses. Backends with a server-side statement (MySQL's
// SHOW CREATE TABLE) bypass it entirely; the renderer is the fallback for
// engines without one, and the source for auto-created physical tables.
package ddl

import (
	"fmt"
	"strings"

	"shardload/internal/meta"
)

// BuildCreateTableSQL renders a CREATE TABLE statement for the given
// physical table name from resolved column metadata.
//
// Each column is rendered as:
//
//	<name> <data type> [NOT NULL]
//
// and the table's primary-key columns, if any, as a trailing
// PRIMARY KEY (<col1>, <col2>, ...) clause.
func BuildCreateTableSQL(physicalName string, t *meta.Table) (string, error) {
	if strings.TrimSpace(physicalName) == "" {
		return "", fmt.Errorf("ddl: table name must not be empty")
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("ddl: table %s has no columns", physicalName)
	}

	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		typ := c.DataType
		if typ == "" {
			typ = "TEXT"
		}
		var sb strings.Builder
		sb.WriteString(c.Name)
		sb.WriteByte(' ')
		sb.WriteString(typ)
		if !c.Nullable {
			sb.WriteString(" NOT NULL")
		}
		defs = append(defs, "  "+sb.String())
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, "  PRIMARY KEY ("+strings.Join(t.PrimaryKey, ", ")+")")
	}

	return "CREATE TABLE " + physicalName + " (\n" + strings.Join(defs, ",\n") + "\n)", nil
}
