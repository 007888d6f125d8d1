package pipeline

import (
	"sync"
	"testing"
)

func TestStateRegisterDone(t *testing.T) {
	s := NewState(2)

	s.Register(0, 0, 1)
	s.Register(0, 1, 1)
	s.Register(0, 2, 1)

	if blk, ok := s.MinPending(0); !ok || blk != 0 {
		t.Fatalf("MinPending = (%d,%v), want (0,true)", blk, ok)
	}

	// Draining out of order: min must track the lowest survivor.
	s.Done(0, 0)
	if blk, ok := s.MinPending(0); !ok || blk != 1 {
		t.Fatalf("MinPending after drain 0 = (%d,%v), want (1,true)", blk, ok)
	}
	s.Done(0, 2)
	if blk, ok := s.MinPending(0); !ok || blk != 1 {
		t.Fatalf("MinPending after drain 2 = (%d,%v), want (1,true)", blk, ok)
	}
	s.Done(0, 1)
	if _, ok := s.MinPending(0); ok {
		t.Fatal("MinPending reports pending work on a drained file")
	}
}

func TestStateFileDone(t *testing.T) {
	s := NewState(1)
	if s.FileDone(0) {
		t.Fatal("new file reported done")
	}
	s.MarkFileDone(0)
	if !s.FileDone(0) {
		t.Fatal("MarkFileDone did not stick")
	}
}

func TestStateFailLatch(t *testing.T) {
	s := NewState(1)
	if s.Failed() {
		t.Fatal("new state reported failed")
	}
	s.Fail()
	if !s.Failed() {
		t.Fatal("Fail did not latch")
	}
}

func TestStateConcurrentDrain(t *testing.T) {
	const blocks = 500
	s := NewState(1)
	for b := 0; b < blocks; b++ {
		s.Register(0, b, 1)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for b := w; b < blocks; b += 8 {
				s.Done(0, b)
			}
		}(w)
	}
	wg.Wait()

	if blk, ok := s.MinPending(0); ok {
		t.Fatalf("block %d still pending after full drain", blk)
	}
}
