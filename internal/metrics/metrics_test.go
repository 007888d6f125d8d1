package metrics

import (
	"fmt"
	"testing"
	"time"
)

// captureBackend records every call for assertions.
type captureBackend struct {
	counters   map[string]float64
	histograms map[string][]float64
	labels     map[string]Labels
	flushed    int
}

func newCapture() *captureBackend {
	return &captureBackend{
		counters:   map[string]float64{},
		histograms: map[string][]float64{},
		labels:     map[string]Labels{},
	}
}

func (c *captureBackend) IncCounter(name string, delta float64, labels Labels) {
	c.counters[name] += delta
	c.labels[name] = labels
}

func (c *captureBackend) ObserveHistogram(name string, value float64, labels Labels) {
	c.histograms[name] = append(c.histograms[name], value)
	c.labels[name] = labels
}

func (c *captureBackend) Flush() error {
	c.flushed++
	return nil
}

func withBackend(t *testing.T, b Backend) {
	t.Helper()
	prev := backend
	SetBackend(b)
	t.Cleanup(func() { backend = prev })
}

func TestRecordStage(t *testing.T) {
	c := newCapture()
	withBackend(t, c)

	RecordStage("job1", "produce", nil, 250*time.Millisecond)
	RecordStage("job1", "produce", fmt.Errorf("boom"), time.Second)

	if got := c.counters["shardload_stage_total"]; got != 2 {
		t.Fatalf("stage counter = %v, want 2", got)
	}
	if got := c.labels["shardload_stage_total"]["status"]; got != "failure" {
		t.Fatalf("last status label = %q, want failure", got)
	}
	if got := len(c.histograms["shardload_stage_duration_seconds"]); got != 2 {
		t.Fatalf("duration observations = %d, want 2", got)
	}
}

func TestRecordRows(t *testing.T) {
	c := newCapture()
	withBackend(t, c)

	RecordRows("job1", "written", 42)
	RecordRows("job1", "written", 0)  // no-op
	RecordRows("job1", "written", -5) // no-op

	if got := c.counters["shardload_rows_total"]; got != 42 {
		t.Fatalf("rows counter = %v, want 42", got)
	}
	if got := c.labels["shardload_rows_total"]["kind"]; got != "written" {
		t.Fatalf("kind label = %q", got)
	}
}

func TestRecordBatches(t *testing.T) {
	c := newCapture()
	withBackend(t, c)

	RecordBatches("job1", "ds0", 3)
	if got := c.counters["shardload_batches_total"]; got != 3 {
		t.Fatalf("batch counter = %v, want 3", got)
	}
	if got := c.labels["shardload_batches_total"]["shard"]; got != "ds0" {
		t.Fatalf("shard label = %q", got)
	}
}

func TestSetBackendNilKeepsCurrent(t *testing.T) {
	c := newCapture()
	withBackend(t, c)
	SetBackend(nil)

	RecordBatches("job1", "ds0", 1)
	if c.counters["shardload_batches_total"] != 1 {
		t.Fatal("nil SetBackend replaced the installed backend")
	}
}

func TestFlushDelegates(t *testing.T) {
	c := newCapture()
	withBackend(t, c)
	if err := Flush(); err != nil {
		t.Fatal(err)
	}
	if c.flushed != 1 {
		t.Fatalf("flushed = %d, want 1", c.flushed)
	}
}

func TestNopBackendIsSafe(t *testing.T) {
	withBackend(t, nopBackend{})
	RecordStage("j", "s", nil, time.Second)
	RecordRows("j", "k", 1)
	RecordBatches("j", "ds0", 1)
	if err := Flush(); err != nil {
		t.Fatal(err)
	}
}
