// Package csv turns delimited input files into field slices for the import
// pipeline. It wraps encoding/csv with the single-character separator
// contract, optional charset decoding via x/text, and header/BOM handling.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// Config controls a LineReader.
type Config struct {
	// Separator is the field separator. Exactly one character; Validate
	// enforces this before a run starts, NewLineReader re-checks.
	Separator string

	// Encoding names the input charset. "" and "utf-8" read bytes as-is;
	// anything else must resolve via x/text htmlindex ("latin1", "gbk").
	Encoding string

	// HasHeader skips the first record.
	HasHeader bool

	// TrimSpace trims leading/trailing whitespace from every field.
	TrimSpace bool

	// LazyQuotes tolerates bare quotes inside unquoted fields.
	LazyQuotes bool
}

// ParseError wraps a recoverable per-line parse failure so callers can apply
// the configured skip/abort policy without string matching.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

const utf8BOM = "\uFEFF"

// LineReader reads one delimited record at a time.
type LineReader struct {
	cr   *csv.Reader
	cfg  Config
	line int // 1-based line of the record about to be read
}

// NewLineReader builds a LineReader over r. When cfg.HasHeader is set the
// header record is consumed immediately so that Read only ever returns data
// records and record indexes align with block accounting.
func NewLineReader(r io.Reader, cfg Config) (*LineReader, error) {
	sep, err := separatorRune(cfg.Separator)
	if err != nil {
		return nil, err
	}
	dr, err := DecodeReader(r, cfg.Encoding)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(dr)
	cr.Comma = sep
	cr.ReuseRecord = false // rows outlive the read; blocks are buffered
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = cfg.LazyQuotes
	cr.TrimLeadingSpace = cfg.TrimSpace

	lr := &LineReader{cr: cr, cfg: cfg, line: 1}
	if cfg.HasHeader {
		if _, err := cr.Read(); err != nil && err != io.EOF {
			return nil, fmt.Errorf("read header: %w", err)
		}
		lr.line++
	}
	return lr, nil
}

// Read returns the next record's fields.
//
//   - io.EOF signals clean end of input.
//   - A *ParseError signals a malformed line; the reader has skipped past it
//     and the caller may continue per its policy.
//   - Any other error is an I/O failure and is fatal for this file.
func (lr *LineReader) Read() ([]string, error) {
	rec, err := lr.cr.Read()
	line := lr.line
	lr.line++
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			return nil, &ParseError{Line: perr.Line, Err: perr.Err}
		}
		return nil, fmt.Errorf("read line %d: %w", line, err)
	}

	if line == 1 {
		rec = stripBOM(rec)
	}
	if lr.cfg.TrimSpace {
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
	}
	return rec, nil
}

// Skip discards n records, cheaply advancing past blocks that a resumed run
// already drained. Skipped records are parsed only enough to find record
// boundaries (quoted fields may span lines, so raw line counting would be
// wrong). Malformed records count toward n even though the pass that wrote
// the blocks excluded them, so skipping may stop a little early: a resume can
// re-read rows that were already written, never lose rows that were not.
// Returns the number actually skipped; fewer than n means EOF.
func (lr *LineReader) Skip(n int) (int, error) {
	for i := 0; i < n; i++ {
		_, err := lr.cr.Read()
		lr.line++
		if err == io.EOF {
			return i, nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue // still one record consumed
			}
			return i, fmt.Errorf("skip: %w", err)
		}
	}
	return n, nil
}

// DecodeReader wraps r with a charset decoder for the named encoding.
// Empty, "utf8" and "utf-8" return r unchanged.
func DecodeReader(r io.Reader, name string) (io.Reader, error) {
	switch strings.ToLower(name) {
	case "", "utf8", "utf-8":
		return r, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// stripBOM removes a UTF-8 BOM from the first cell of the first record.
func stripBOM(rec []string) []string {
	if len(rec) > 0 {
		rec[0] = strings.TrimPrefix(rec[0], utf8BOM)
	}
	return rec
}

func separatorRune(s string) (rune, error) {
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("separator must be exactly one character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}
