package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"shardload/internal/config"
	"shardload/internal/datasource/file"
	"shardload/internal/metrics"
	csvparse "shardload/internal/parser/csv"
	"shardload/internal/ring"
)

// Producer reads one input file at a time, groups records into fixed-size
// blocks, and publishes one event per block. The pending counter for a block
// is always registered before its event is published.
type Producer struct {
	Job    string
	Source config.Source
	Ring   *ring.Ring
	State  *State
	Stats  *Counters

	// ExpectedFields, when positive, rejects records whose field count does
	// not match the effective column set. Zero disables the check.
	ExpectedFields int
}

// Run processes the file at path as file index fileIdx, starting at block
// startBlock (nonzero on resume; earlier blocks are skipped, not re-read
// into the pipeline). It returns once the file is exhausted or on the first
// fatal error.
func (p *Producer) Run(ctx context.Context, fileIdx int, path string, startBlock int) (err error) {
	start := time.Now()
	defer func() { metrics.RecordStage(p.Job, "produce", err, time.Since(start)) }()

	src := file.NewLocal(path)
	rc, err := src.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()

	lr, err := csvparse.NewLineReader(rc, csvparse.Config{
		Separator: p.Source.Separator,
		Encoding:  p.Source.Encoding,
		HasHeader: p.Source.HasHeader,
	})
	if err != nil {
		return fmt.Errorf("file %s: %w", path, err)
	}

	if startBlock > 0 {
		want := startBlock * p.Source.BlockSize
		got, err := lr.Skip(want)
		if err != nil {
			return fmt.Errorf("file %s: %w", path, err)
		}
		if got < want {
			// The resume point is at or past EOF: everything here is drained.
			p.State.MarkFileDone(fileIdx)
			log.Printf("producer: file=%s already drained, skipped=%d", path, got)
			return nil
		}
	}

	abort := p.Source.OnParseError == "abort"
	block := startBlock
	blocks := 0
	var parseErrs int64
	rows := make([][]string, 0, p.Source.BlockSize)

	publish := func() error {
		p.State.Register(fileIdx, block, 1)
		if err := p.Ring.Publish(ctx, ring.Event{File: fileIdx, Block: block, Rows: rows}); err != nil {
			return fmt.Errorf("file %s block %d: publish: %w", path, block, err)
		}
		block++
		blocks++
		rows = make([][]string, 0, p.Source.BlockSize)
		return nil
	}

	record := 0
	for {
		rec, rerr := lr.Read()
		if rerr == io.EOF {
			break
		}
		record++

		var perr *csvparse.ParseError
		if errors.As(rerr, &perr) {
			parseErrs++
			p.Stats.ParseErrors.Add(1)
			if abort {
				return fmt.Errorf("file %s: %w", path, perr)
			}
			log.Printf("producer: file=%s skipping malformed line: %v", path, perr)
			continue
		}
		if rerr != nil {
			return fmt.Errorf("file %s: %w", path, rerr)
		}

		if p.ExpectedFields > 0 && len(rec) != p.ExpectedFields {
			parseErrs++
			p.Stats.ParseErrors.Add(1)
			ferr := fmt.Errorf("file %s record %d: got %d fields, want %d", path, record, len(rec), p.ExpectedFields)
			if abort {
				return ferr
			}
			log.Printf("producer: skipping: %v", ferr)
			continue
		}

		rows = append(rows, rec)
		p.Stats.RowsRead.Add(1)
		if len(rows) == p.Source.BlockSize {
			if err := publish(); err != nil {
				return err
			}
		}
	}
	if len(rows) > 0 {
		if err := publish(); err != nil {
			return err
		}
	}

	p.State.MarkFileDone(fileIdx)
	metrics.RecordRows(p.Job, "parse_errors", parseErrs)
	log.Printf("producer: file=%s done blocks=%d records=%d parse_errors=%d", path, blocks, record, parseErrs)
	return nil
}
