package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"shardload/internal/meta"
	"shardload/internal/metrics"
	"shardload/internal/ring"
	"shardload/internal/storage"
)

// ShardWriter pairs a shard's configured name with its open repository.
// Slice index is the shard id the router targets.
type ShardWriter struct {
	Name string
	Repo storage.Repository
}

// Consumer claims events from the ring, routes each row to its shard, and
// flushes per-shard batches through the repositories. A slot is released
// only after every row of its event is durably written; on retry exhaustion
// the consumer marks the run failed and stops without releasing, so the
// checkpoint can never advance past the lost block.
type Consumer struct {
	Job     string
	Op      string
	Tables  []string
	Catalog *meta.Catalog
	Router  *meta.Router
	Shards  []ShardWriter
	Ring    *ring.Ring
	State   *State
	Stats   *Counters

	BatchSize    int
	MaxRetries   int
	RetryInitial time.Duration
	WriteTimeout time.Duration
}

// Run claims and applies events until intake is closed and drained, the
// context is canceled, or a write fails permanently.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		slot, err := c.Ring.Claim(ctx)
		if errors.Is(err, ring.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}

		ev := slot.Event
		if err := c.apply(ctx, ev); err != nil {
			if ctx.Err() != nil {
				// Operator stop, not a data failure. The unreleased slot
				// keeps the block pending, so the checkpoint cannot pass it.
				return ctx.Err()
			}
			c.State.Fail()
			return fmt.Errorf("file %d block %d: %w", ev.File, ev.Block, err)
		}
		slot.Release()
		c.Stats.Blocks.Add(1)
	}
}

// apply routes the event's rows and writes every per-shard batch.
func (c *Consumer) apply(ctx context.Context, ev ring.Event) error {
	for _, table := range c.Tables {
		t, err := c.Catalog.Table(table)
		if err != nil {
			return err
		}

		byShard := make([][][]any, len(c.Shards))
		for _, row := range ev.Rows {
			shard, err := c.Router.Route(table, row)
			if err != nil {
				return err
			}
			vals := make([]any, len(row))
			for i, f := range row {
				vals[i] = f
			}
			byShard[shard] = append(byShard[shard], vals)
		}

		cols := t.ColumnNames()
		for shard, rows := range byShard {
			for len(rows) > 0 {
				n := c.BatchSize
				if n > len(rows) {
					n = len(rows)
				}
				if err := c.writeBatch(ctx, t, shard, cols, rows[:n]); err != nil {
					return err
				}
				rows = rows[n:]
			}
		}
	}
	return nil
}

// writeBatch writes one batch to one shard with bounded exponential backoff.
// Every error, including a per-attempt timeout, is retried until MaxRetries
// attempts are spent.
func (c *Consumer) writeBatch(ctx context.Context, t *meta.Table, shard int, cols []string, rows [][]any) error {
	physical, err := t.PhysicalName(shard)
	if err != nil {
		return err
	}
	repo := c.Shards[shard].Repo

	attempt := 0
	op := func() error {
		attempt++
		wctx := ctx
		if c.WriteTimeout > 0 {
			var cancel context.CancelFunc
			wctx, cancel = context.WithTimeout(ctx, c.WriteTimeout)
			defer cancel()
		}

		var werr error
		switch c.Op {
		case "update":
			_, werr = repo.Update(wctx, physical, cols, t.PrimaryKey, rows)
		case "delete":
			_, werr = repo.Delete(wctx, physical, cols, t.PrimaryKey, rows)
		default:
			_, werr = repo.Insert(wctx, physical, cols, rows)
		}
		if werr != nil {
			log.Printf("consumer: shard=%s table=%s attempt=%d rows=%d: %v",
				c.Shards[shard].Name, physical, attempt, len(rows), werr)
		}
		return werr
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.RetryInitial
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.MaxRetries)), ctx)); err != nil {
		return fmt.Errorf("%s %s on shard %s after %d attempts: %w", c.Op, physical, c.Shards[shard].Name, attempt, err)
	}

	c.Stats.RowsWritten.Add(int64(len(rows)))
	c.Stats.Batches.Add(1)
	metrics.RecordBatches(c.Job, c.Shards[shard].Name, 1)
	return nil
}
