// Package checkpoint persists the resume position of a run.
//
// The record is a small JSON file holding the next (file, block) coordinate
// that has not been fully drained, plus the run state. It is written by a
// single writer (the progress tracker) and read once at process start.
// Writes go through a temp file followed by an atomic rename so a reader
// never observes a partially written record; after a crash the file is
// either the previous complete record or the new complete record.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Run states stored in the record.
const (
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
)

// Record is the persisted resume position.
//
// NextFileIndex/NextBlockIndex name the first position that is NOT known to
// be fully drained: a resumed run skips files below NextFileIndex entirely
// and, within file NextFileIndex, starts at block NextBlockIndex. A fresh
// run starts from the zero record.
type Record struct {
	// RunID identifies the run that wrote this record.
	RunID string `json:"run_id,omitempty"`

	// Job is the configured job name; a resumed run refuses a record written
	// under a different job name.
	Job string `json:"job,omitempty"`

	NextFileIndex  int `json:"next_file_index"`
	NextBlockIndex int `json:"next_block_index"`

	// State is one of StateRunning, StateDone, StateFailed.
	State string `json:"state,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Load reads the record at path. A missing file is a fresh run: Load returns
// a zero Record and no error.
func Load(path string) (Record, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Record{State: StateRunning}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return rec, nil
}

// Save writes rec to path atomically: the record is written to a temp file
// in the same directory, fsynced, and renamed over the target.
func Save(path string, rec Record) error {
	rec.UpdatedAt = time.Now().UTC()
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	b = append(b, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create checkpoint temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Lock takes an exclusive advisory flock on path+".lock" and returns a
// release func. It fails immediately (no blocking) when another live process
// holds the lock, which guards against two concurrent runs of the same job
// corrupting each other's counters through a shared checkpoint.
func Lock(path string) (release func(), err error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint lock %s: %w", lockPath, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("checkpoint %s is locked by another run: %w", path, err)
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
