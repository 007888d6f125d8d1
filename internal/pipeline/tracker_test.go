package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"shardload/internal/checkpoint"
)

func newTestTracker(t *testing.T, files int, st *State, resume checkpoint.Record) (*Tracker, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.checkpoint")
	return NewTracker(path, "job", "run-1", files, time.Hour, st, resume), path
}

func TestTrackerScanPositions(t *testing.T) {
	st := NewState(3)
	tr, _ := newTestTracker(t, 3, st, checkpoint.Record{})

	// Nothing produced yet: position is the start of file 0.
	if rec := tr.scan(); rec.NextFileIndex != 0 || rec.NextBlockIndex != 0 {
		t.Fatalf("scan = (%d,%d), want (0,0)", rec.NextFileIndex, rec.NextBlockIndex)
	}

	// File 0 fully drained, file 1 has block 2 in flight.
	st.Register(0, 0, 1)
	st.Done(0, 0)
	st.MarkFileDone(0)
	st.Register(1, 0, 1)
	st.Register(1, 1, 1)
	st.Register(1, 2, 1)
	st.Done(1, 0)
	st.Done(1, 1)

	if rec := tr.scan(); rec.NextFileIndex != 1 || rec.NextBlockIndex != 2 {
		t.Fatalf("scan = (%d,%d), want (1,2)", rec.NextFileIndex, rec.NextBlockIndex)
	}

	// Block 2 drains but the file is still producing: the position is the
	// start of the file. Block-granular bookkeeping re-reads drained blocks
	// on resume rather than guess at what production has not registered yet.
	st.Done(1, 2)
	if rec := tr.scan(); rec.NextFileIndex != 1 || rec.NextBlockIndex != 0 {
		t.Fatalf("scan = (%d,%d), want (1,0)", rec.NextFileIndex, rec.NextBlockIndex)
	}

	// Everything drained: position is one past the last file.
	st.MarkFileDone(1)
	st.MarkFileDone(2)
	if rec := tr.scan(); rec.NextFileIndex != 3 || rec.NextBlockIndex != 0 {
		t.Fatalf("scan = (%d,%d), want (3,0)", rec.NextFileIndex, rec.NextBlockIndex)
	}
}

func TestTrackerProducingFileScansToBlockZero(t *testing.T) {
	st := NewState(1)
	tr, _ := newTestTracker(t, 1, st, checkpoint.Record{})

	// Every registered block is drained but the producer has not marked the
	// file done: more blocks may register at any moment, so the only position
	// that can never overtake one is the start of the file.
	st.Register(0, 0, 1)
	st.Done(0, 0)

	if rec := tr.scan(); rec.NextFileIndex != 0 || rec.NextBlockIndex != 0 {
		t.Fatalf("scan = (%d,%d), want (0,0)", rec.NextFileIndex, rec.NextBlockIndex)
	}
}

func TestTrackerNeverAdvancesPastInFlight(t *testing.T) {
	st := NewState(2)
	tr, _ := newTestTracker(t, 2, st, checkpoint.Record{})

	// File 0 block 0 is stuck in flight while later work drains around it.
	st.Register(0, 0, 1)
	st.Register(0, 1, 1)
	st.Done(0, 1)
	st.MarkFileDone(0)
	st.Register(1, 0, 1)
	st.Done(1, 0)
	st.MarkFileDone(1)

	if rec := tr.scan(); rec.NextFileIndex != 0 || rec.NextBlockIndex != 0 {
		t.Fatalf("scan = (%d,%d), want (0,0): stuck block must pin the checkpoint", rec.NextFileIndex, rec.NextBlockIndex)
	}
}

func TestTrackerMonotonicSave(t *testing.T) {
	st := NewState(5)
	resume := checkpoint.Record{Job: "job", NextFileIndex: 2, NextBlockIndex: 5, State: checkpoint.StateRunning}
	tr, path := newTestTracker(t, 5, st, resume)

	// A scan before resumed producers register anything reports (0,0);
	// saving it would drag the checkpoint backwards, so nothing is written.
	tr.saveIfAdvanced(tr.scan())
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("checkpoint written despite position behind resume record (stat err=%v)", err)
	}

	// Real progress past the resume point is persisted.
	for f := 0; f < 3; f++ {
		st.MarkFileDone(f)
	}
	st.Register(3, 0, 1)
	tr.saveIfAdvanced(tr.scan())

	got, err := checkpoint.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.NextFileIndex != 3 || got.NextBlockIndex != 0 {
		t.Fatalf("saved (%d,%d), want (3,0)", got.NextFileIndex, got.NextBlockIndex)
	}
	if got.State != checkpoint.StateRunning {
		t.Fatalf("state = %q, want running", got.State)
	}
}

func TestTrackerFinal(t *testing.T) {
	t.Run("done", func(t *testing.T) {
		st := NewState(2)
		tr, path := newTestTracker(t, 2, st, checkpoint.Record{})
		if err := tr.Final(true); err != nil {
			t.Fatalf("final: %v", err)
		}
		rec, err := checkpoint.Load(path)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if rec.State != checkpoint.StateDone {
			t.Fatalf("state = %q, want done", rec.State)
		}
		if rec.NextFileIndex != 2 || rec.NextBlockIndex != 0 {
			t.Fatalf("final position = (%d,%d), want (2,0)", rec.NextFileIndex, rec.NextBlockIndex)
		}
	})

	t.Run("failed keeps conservative position", func(t *testing.T) {
		st := NewState(2)
		st.Register(0, 0, 1)
		st.Register(0, 1, 1)
		st.Done(0, 1) // block 0 lost in flight
		tr, path := newTestTracker(t, 2, st, checkpoint.Record{})

		if err := tr.Final(false); err != nil {
			t.Fatalf("final: %v", err)
		}
		rec, err := checkpoint.Load(path)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if rec.State != checkpoint.StateFailed {
			t.Fatalf("state = %q, want failed", rec.State)
		}
		if rec.NextFileIndex != 0 || rec.NextBlockIndex != 0 {
			t.Fatalf("failed position = (%d,%d), want (0,0)", rec.NextFileIndex, rec.NextBlockIndex)
		}
	})
}
