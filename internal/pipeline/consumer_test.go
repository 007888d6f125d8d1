package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"shardload/internal/meta"
	"shardload/internal/ring"
	"shardload/internal/storage"
)

// fakeRepo records writes and can be told to fail.
type fakeRepo struct {
	mu      sync.Mutex
	rows    [][]any
	batches int
	fail    error
	ops     []string
}

func (f *fakeRepo) write(ctx context.Context, op string, rows [][]any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if f.fail != nil {
		return 0, f.fail
	}
	f.ops = append(f.ops, op)
	f.rows = append(f.rows, rows...)
	f.batches++
	return int64(len(rows)), nil
}

func (f *fakeRepo) Insert(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	return f.write(ctx, "insert", rows)
}
func (f *fakeRepo) Update(ctx context.Context, table string, columns, keyColumns []string, rows [][]any) (int64, error) {
	return f.write(ctx, "update", rows)
}
func (f *fakeRepo) Delete(ctx context.Context, table string, columns, keyColumns []string, rows [][]any) (int64, error) {
	return f.write(ctx, "delete", rows)
}
func (f *fakeRepo) Exec(ctx context.Context, query string, args ...any) error { return nil }
func (f *fakeRepo) ShowCreate(ctx context.Context, table string) (string, error) {
	return "", storage.ErrShowCreateUnsupported
}
func (f *fakeRepo) DB() *sql.DB { return nil }
func (f *fakeRepo) Close()      {}

func singleShardCatalog() *meta.Catalog {
	return &meta.Catalog{
		ShardCount: 1,
		Tables: map[string]*meta.Table{
			"t": {
				Name: "t",
				Columns: []meta.Column{
					{Name: "id", Ordinal: 1},
					{Name: "name", Ordinal: 2},
				},
				PrimaryKey: []string{"id"},
				Topology:   []meta.Physical{{Shard: 0, Name: "t"}},
			},
		},
	}
}

func newTestConsumer(t *testing.T, repo storage.Repository, r *ring.Ring, st *State) *Consumer {
	t.Helper()
	cat := singleShardCatalog()
	router, err := meta.NewRouter(cat, meta.RuleHash)
	if err != nil {
		t.Fatal(err)
	}
	return &Consumer{
		Job:          "test",
		Op:           "insert",
		Tables:       []string{"t"},
		Catalog:      cat,
		Router:       router,
		Shards:       []ShardWriter{{Name: "ds0", Repo: repo}},
		Ring:         r,
		State:        st,
		Stats:        &Counters{},
		BatchSize:    2,
		MaxRetries:   2,
		RetryInitial: time.Millisecond,
	}
}

func TestConsumerWritesAndReleases(t *testing.T) {
	st := NewState(1)
	r := ring.New(4, 0, st.Done)
	repo := &fakeRepo{}
	c := newTestConsumer(t, repo, r, st)

	ctx := context.Background()
	st.Register(0, 0, 1)
	rows := [][]string{{"1", "a"}, {"2", "b"}, {"3", "c"}}
	if err := r.Publish(ctx, ring.Event{File: 0, Block: 0, Rows: rows}); err != nil {
		t.Fatal(err)
	}
	r.CloseIntake()

	if err := c.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(repo.rows) != 3 {
		t.Fatalf("wrote %d rows, want 3", len(repo.rows))
	}
	// BatchSize 2 splits the 3-row block into two writes.
	if repo.batches != 2 {
		t.Fatalf("batches = %d, want 2", repo.batches)
	}
	if _, ok := st.MinPending(0); ok {
		t.Fatal("slot not released: block still pending")
	}
	if got := c.Stats.RowsWritten.Load(); got != 3 {
		t.Fatalf("rows written counter = %d, want 3", got)
	}
}

func TestConsumerOpSelection(t *testing.T) {
	for _, op := range []string{"insert", "update", "delete"} {
		t.Run(op, func(t *testing.T) {
			st := NewState(1)
			r := ring.New(4, 0, st.Done)
			repo := &fakeRepo{}
			c := newTestConsumer(t, repo, r, st)
			c.Op = op

			ctx := context.Background()
			st.Register(0, 0, 1)
			if err := r.Publish(ctx, ring.Event{Rows: [][]string{{"1", "a"}}}); err != nil {
				t.Fatal(err)
			}
			r.CloseIntake()
			if err := c.Run(ctx); err != nil {
				t.Fatalf("run: %v", err)
			}
			if len(repo.ops) != 1 || repo.ops[0] != op {
				t.Fatalf("ops = %v, want [%s]", repo.ops, op)
			}
		})
	}
}

func TestConsumerRetryExhaustionMarksFailed(t *testing.T) {
	st := NewState(1)
	r := ring.New(4, 0, st.Done)
	repo := &fakeRepo{fail: fmt.Errorf("shard down")}
	c := newTestConsumer(t, repo, r, st)

	ctx := context.Background()
	st.Register(0, 5, 1)
	if err := r.Publish(ctx, ring.Event{File: 0, Block: 5, Rows: [][]string{{"1", "a"}}}); err != nil {
		t.Fatal(err)
	}
	r.CloseIntake()

	err := c.Run(ctx)
	if err == nil {
		t.Fatal("run succeeded despite permanent write failure")
	}
	if !st.Failed() {
		t.Fatal("run-failed flag not latched")
	}
	// The failed block must stay pending so the checkpoint cannot pass it.
	if blk, ok := st.MinPending(0); !ok || blk != 5 {
		t.Fatalf("MinPending = (%d,%v), want (5,true)", blk, ok)
	}
}

func TestConsumerCanceledStopIsNotAFailure(t *testing.T) {
	st := NewState(1)
	r := ring.New(4, 0, st.Done)
	repo := &fakeRepo{}
	c := newTestConsumer(t, repo, r, st)

	ctx, cancel := context.WithCancel(context.Background())
	st.Register(0, 0, 1)
	if err := r.Publish(ctx, ring.Event{File: 0, Block: 0, Rows: [][]string{{"1", "a"}}}); err != nil {
		t.Fatal(err)
	}
	cancel()

	// The already-published event is still claimed; its write fails on the
	// canceled context. That is an operator stop, not a data failure.
	if err := c.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("run = %v, want context.Canceled", err)
	}
	if st.Failed() {
		t.Fatal("operator stop latched the run-failed flag")
	}
	// Unreleased, so the block stays pending and pins the checkpoint.
	if blk, ok := st.MinPending(0); !ok || blk != 0 {
		t.Fatalf("MinPending = (%d,%v), want (0,true)", blk, ok)
	}
}

func TestConsumerReturnsCleanlyWhenDrained(t *testing.T) {
	st := NewState(1)
	r := ring.New(2, 0, st.Done)
	c := newTestConsumer(t, &fakeRepo{}, r, st)
	r.CloseIntake()

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("run on empty closed ring: %v", err)
	}
}
