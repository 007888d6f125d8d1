package ddl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"shardload/internal/meta"
	"shardload/internal/storage"
)

// Exporter writes schema definitions as SQL text. It is strictly
// sequential: one comment header and one CREATE statement per object,
// each statement terminated by ";" and followed by a blank line.
type Exporter struct {
	w *bufio.Writer
}

// NewExporter wraps w. Call Flush when done.
func NewExporter(w io.Writer) *Exporter {
	return &Exporter{w: bufio.NewWriter(w)}
}

// WriteDatabase emits the database-level header, its CREATE statement, and
// a USE line so the file replays into a fresh server.
func (e *Exporter) WriteDatabase(name, createStmt string) error {
	e.comment(fmt.Sprintf("Database structure for database `%s`", name))
	e.line(createStmt + ";")
	e.line("")
	e.line(fmt.Sprintf("use %s;", name))
	e.line("")
	return e.w.Flush()
}

// WriteTable emits the table-level header and its CREATE statement.
func (e *Exporter) WriteTable(name, createStmt string) error {
	e.comment(fmt.Sprintf("Table structure for table `%s`", name))
	e.line(createStmt + ";")
	e.line("")
	return e.w.Flush()
}

// Flush flushes buffered output.
func (e *Exporter) Flush() error { return e.w.Flush() }

func (e *Exporter) comment(text string) {
	e.line("--")
	e.line("-- " + text)
	e.line("--")
}

func (e *Exporter) line(s string) {
	e.w.WriteString(s)
	e.w.WriteByte('\n')
}

// ExportTables writes the CREATE statement of every table in the catalog,
// in the given order. The statement comes from the repository's server-side
// renderer when available and is otherwise rebuilt from resolved metadata.
func ExportTables(ctx context.Context, e *Exporter, repo storage.Repository, cat *meta.Catalog, tables []string) error {
	for _, name := range tables {
		t, err := cat.Table(name)
		if err != nil {
			return err
		}
		stmt, err := repo.ShowCreate(ctx, name)
		if errors.Is(err, storage.ErrShowCreateUnsupported) {
			stmt, err = BuildCreateTableSQL(name, t)
		}
		if err != nil {
			return fmt.Errorf("export %s: %w", name, err)
		}
		log.Printf("ddl: exporting table %s", name)
		if err := e.WriteTable(name, stmt); err != nil {
			return fmt.Errorf("export %s: %w", name, err)
		}
	}
	return nil
}
