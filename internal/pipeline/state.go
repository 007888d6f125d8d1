// Package pipeline wires the import run together: per-file producers feed
// parsed row blocks into the ring, routing consumers drain it into the shard
// repositories, and the progress tracker turns the shared drain state into a
// restart-safe checkpoint.
package pipeline

import (
	"sync"
	"sync/atomic"
)

// State is the shared drain-accounting structure. Producers register a
// pending count per (file, block) before publishing the block's event;
// slot releases decrement it. The tracker reads the same structure to find
// the resume position. All operations are lock-free on the hot path.
type State struct {
	files  []fileState
	failed atomic.Bool
}

type fileState struct {
	// pending maps block index to its in-flight counter. Entries are removed
	// once drained, so a scan only walks live blocks.
	pending sync.Map // int -> *atomic.Int64

	done atomic.Bool
}

// NewState builds drain state for fileCount input files.
func NewState(fileCount int) *State {
	return &State{files: make([]fileState, fileCount)}
}

// Register adds delta to the pending counter of (file, block). It must be
// called before the block's event is published so the tracker can never
// observe a published-but-uncounted block.
func (s *State) Register(file, block, delta int) {
	f := &s.files[file]
	v, _ := f.pending.LoadOrStore(block, new(atomic.Int64))
	v.(*atomic.Int64).Add(int64(delta))
}

// Done decrements the pending counter of (file, block). It is installed as
// the ring's release hook. A counter that reaches zero is removed; the block
// is drained and never comes back.
func (s *State) Done(file, block int) {
	f := &s.files[file]
	v, ok := f.pending.Load(block)
	if !ok {
		return
	}
	if v.(*atomic.Int64).Add(-1) == 0 {
		f.pending.Delete(block)
	}
}

// MinPending returns the lowest block index of file with a nonzero pending
// counter. ok is false when nothing is in flight.
func (s *State) MinPending(file int) (block int, ok bool) {
	s.files[file].pending.Range(func(k, v any) bool {
		if v.(*atomic.Int64).Load() <= 0 {
			return true
		}
		b := k.(int)
		if !ok || b < block {
			block, ok = b, true
		}
		return true
	})
	return block, ok
}

// MarkFileDone records that the file's producer has exhausted its input. No
// Register may follow it; with an empty pending set it means the file is
// fully drained.
func (s *State) MarkFileDone(file int) {
	s.files[file].done.Store(true)
}

// FileDone reports whether the file's producer has finished.
func (s *State) FileDone(file int) bool {
	return s.files[file].done.Load()
}

// Fail latches the run-failed flag. A failed run never writes a terminal
// "done" checkpoint.
func (s *State) Fail() {
	s.failed.Store(true)
}

// Failed reports whether any worker latched a failure.
func (s *State) Failed() bool {
	return s.failed.Load()
}

// Counters aggregates run statistics across all workers.
type Counters struct {
	RowsRead    atomic.Int64
	ParseErrors atomic.Int64
	RowsWritten atomic.Int64
	Batches     atomic.Int64
	Blocks      atomic.Int64
}
