// Package ring implements the bounded multi-producer/multi-consumer event
// channel that carries parsed row blocks from file producers to routing
// consumers.
//
// The ring owns a fixed set of slots. Publish takes a free slot, blocking
// while all slots are in flight; that wait is the pipeline's only
// backpressure path. It fills the slot and hands it to the ready queue.
// Claim is competitive: each
// published event is delivered to exactly one consumer. A consumer must call
// Release on the claimed slot when it has durably handled the event; only
// then does the slot return to the free list and the release hook (the
// per-(file,block) pending-counter decrement) run.
//
// Concurrency model: both queues are buffered channels of identical capacity,
// so the interior hand-off from filled slot to ready queue can never block. No
// ordering is guaranteed across blocks or files once events are in flight.
package ring

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Claim once intake is closed and every published
// event has been claimed.
var ErrClosed = errors.New("ring: closed and drained")

// ErrWaitExceeded reports that a publish or claim exceeded the configured
// wait bound. It is a liveness fault, not data corruption: the event was
// neither published nor lost.
var ErrWaitExceeded = errors.New("ring: wait bound exceeded")

// Event is the unit carried by the ring: one parsed block of rows plus its
// provenance.
type Event struct {
	// File and Block locate the event's origin for progress accounting.
	File  int
	Block int

	// Seq is the global emission sequence number, assigned on publish.
	Seq uint64

	// Rows holds the block's parsed lines, each already split into fields.
	Rows [][]string
}

// Slot is a claimed ring slot. The consumer owns Event until Release.
type Slot struct {
	Event Event

	r        *Ring
	released atomic.Bool
}

// Release returns the slot to the free list and runs the ring's release
// hook exactly once. Calling Release twice is a no-op.
func (s *Slot) Release() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	if s.r.onRelease != nil {
		s.r.onRelease(s.Event.File, s.Event.Block)
	}
	s.Event.Rows = nil
	s.r.free <- s
}

// Ring is the bounded event channel. See the package comment for the
// contract.
type Ring struct {
	free  chan *Slot
	ready chan *Slot

	// wait bounds a single Publish/Claim block; zero waits forever.
	wait time.Duration

	// onRelease runs on each slot release with the event's provenance.
	onRelease func(file, block int)

	seq       atomic.Uint64
	closeOnce sync.Once
}

// New builds a ring with the given slot capacity. onRelease may be nil.
// wait bounds each publish/claim block; 0 disables the bound.
func New(capacity int, wait time.Duration, onRelease func(file, block int)) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	r := &Ring{
		free:      make(chan *Slot, capacity),
		ready:     make(chan *Slot, capacity),
		wait:      wait,
		onRelease: onRelease,
	}
	for i := 0; i < capacity; i++ {
		s := &Slot{r: r}
		s.released.Store(true)
		r.free <- s
	}
	return r
}

// Publish places ev on the ring, blocking while every slot is in flight.
// It returns ctx.Err() on cancellation and ErrWaitExceeded when the
// configured wait bound elapses first. Events are never dropped: an error
// means the event was not published.
func (r *Ring) Publish(ctx context.Context, ev Event) error {
	var timeout <-chan time.Time
	if r.wait > 0 {
		t := time.NewTimer(r.wait)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case s := <-r.free:
		ev.Seq = r.seq.Add(1)
		s.Event = ev
		s.released.Store(false)
		// Cannot block: cap(ready) == total slots.
		r.ready <- s
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return ErrWaitExceeded
	}
}

// Claim returns the next published event. Exactly one consumer receives any
// given event. Claim blocks while the ring is empty and returns ErrClosed
// once intake is closed and all published events have been claimed.
func (r *Ring) Claim(ctx context.Context) (*Slot, error) {
	// Fast path: drain anything already published, even if ctx is done or
	// intake is closed.
	select {
	case s, ok := <-r.ready:
		if !ok {
			return nil, ErrClosed
		}
		return s, nil
	default:
	}

	var timeout <-chan time.Time
	if r.wait > 0 {
		t := time.NewTimer(r.wait)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case s, ok := <-r.ready:
		if !ok {
			return nil, ErrClosed
		}
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, ErrWaitExceeded
	}
}

// CloseIntake signals that no further events will be published. Pending
// events remain claimable; afterwards Claim returns ErrClosed. It must only
// be called after every producer has returned.
func (r *Ring) CloseIntake() {
	r.closeOnce.Do(func() { close(r.ready) })
}
