package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"shardload/internal/checkpoint"
	"shardload/internal/metrics"
)

// Tracker periodically scans the drain state and persists the resume
// position. It is the checkpoint file's single writer. Scan and save errors
// are logged, never propagated: a missed checkpoint costs redone work after
// a crash, not correctness.
type Tracker struct {
	path     string
	job      string
	runID    string
	files    int
	interval time.Duration
	state    *State

	mu   sync.Mutex
	last checkpoint.Record
}

// NewTracker builds a tracker resuming from rec (the record loaded at
// startup, or a zero record for a fresh run). The tracker never moves the
// checkpoint behind rec.
func NewTracker(path, job, runID string, files int, interval time.Duration, st *State, rec checkpoint.Record) *Tracker {
	return &Tracker{
		path:     path,
		job:      job,
		runID:    runID,
		files:    files,
		interval: interval,
		state:    st,
		last:     rec,
	}
}

// Run scans on a fixed delay until ctx is canceled. The timer re-arms after
// each scan completes, so a slow save never stacks scans.
func (t *Tracker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.interval):
		}
		t.saveIfAdvanced(t.scan())
	}
}

// scan computes the current resume position: the first file, in index
// order, that is not fully drained. Within it the position is the lowest
// in-flight block, or block 0 when nothing is in flight but the producer is
// still reading. Restart bookkeeping is block-granular, so re-reading
// drained-but-uncheckpointed blocks on resume is safe; skipping an in-flight
// one is not.
//
// The done flag is loaded before the pending scan. Registration stops once
// the flag is set, so an empty scan after a set flag proves the file drained;
// with the opposite order a block registered mid-scan could slip past.
func (t *Tracker) scan() checkpoint.Record {
	rec := checkpoint.Record{
		RunID: t.runID,
		Job:   t.job,
		State: checkpoint.StateRunning,
	}
	for i := 0; i < t.files; i++ {
		done := t.state.FileDone(i)
		if blk, ok := t.state.MinPending(i); ok {
			rec.NextFileIndex, rec.NextBlockIndex = i, blk
			return rec
		}
		if !done {
			rec.NextFileIndex, rec.NextBlockIndex = i, 0
			return rec
		}
	}
	rec.NextFileIndex, rec.NextBlockIndex = t.files, 0
	return rec
}

// saveIfAdvanced persists rec when it is strictly ahead of the last saved
// position. A scan taken before resumed producers have registered anything
// must never drag the checkpoint backwards.
func (t *Tracker) saveIfAdvanced(rec checkpoint.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec.NextFileIndex < t.last.NextFileIndex ||
		(rec.NextFileIndex == t.last.NextFileIndex && rec.NextBlockIndex <= t.last.NextBlockIndex) {
		return
	}
	t.persist(rec)
}

// Final writes the terminal checkpoint. A successful run records
// (files, 0) in state "done"; a failed run records the conservative scan
// position in state "failed", clamped so it never passes the last saved
// position backwards.
func (t *Tracker) Final(ok bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var rec checkpoint.Record
	if ok {
		rec = checkpoint.Record{
			RunID:         t.runID,
			Job:           t.job,
			NextFileIndex: t.files,
			State:         checkpoint.StateDone,
		}
	} else {
		rec = t.scan()
		rec.State = checkpoint.StateFailed
		if rec.NextFileIndex < t.last.NextFileIndex ||
			(rec.NextFileIndex == t.last.NextFileIndex && rec.NextBlockIndex < t.last.NextBlockIndex) {
			rec.NextFileIndex = t.last.NextFileIndex
			rec.NextBlockIndex = t.last.NextBlockIndex
		}
	}
	return t.persist(rec)
}

func (t *Tracker) persist(rec checkpoint.Record) error {
	start := time.Now()
	err := checkpoint.Save(t.path, rec)
	metrics.RecordStage(t.job, "checkpoint", err, time.Since(start))
	if err != nil {
		log.Printf("tracker: save checkpoint: %v", err)
		return err
	}
	t.last = rec
	return nil
}
