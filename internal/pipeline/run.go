package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"shardload/internal/checkpoint"
	"shardload/internal/config"
	"shardload/internal/datasource/file"
	"shardload/internal/ddl"
	"shardload/internal/meta"
	"shardload/internal/metrics"
	"shardload/internal/ring"
	"shardload/internal/storage"
)

// Summary reports what a run did.
type Summary struct {
	RunID       string
	Files       int
	RowsRead    int64
	ParseErrors int64
	RowsWritten int64
	Batches     int64
	Blocks      int64
	Duration    time.Duration
}

// Run executes one import/update/delete run described by spec. With fresh
// set, any existing checkpoint is ignored and the run starts from the first
// file. The returned summary is valid even when err is non-nil.
func Run(ctx context.Context, spec config.Spec, fresh bool) (*Summary, error) {
	start := time.Now()
	spec = spec.Normalize()

	issues := config.Validate(spec)
	for _, is := range issues {
		if is.Severity == config.SeverityWarning {
			log.Printf("config: warning: %v", is)
		}
	}
	if config.HasErrors(issues) {
		return nil, fmt.Errorf("invalid run spec: %w", firstError(issues))
	}

	files, err := file.List(spec.Source.Files, spec.Source.Dir, spec.Source.Pattern)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no input files (files list empty and pattern matched nothing)")
	}

	release, err := checkpoint.Lock(spec.Checkpoint.Path)
	if err != nil {
		return nil, err
	}
	defer release()

	var rec checkpoint.Record
	if !fresh {
		if rec, err = checkpoint.Load(spec.Checkpoint.Path); err != nil {
			return nil, err
		}
		if rec.Job != "" && rec.Job != spec.Job {
			return nil, fmt.Errorf("checkpoint %s belongs to job %q, not %q", spec.Checkpoint.Path, rec.Job, spec.Job)
		}
		if rec.State == checkpoint.StateDone {
			return nil, fmt.Errorf("job %q already completed; pass -fresh to run again from the start", spec.Job)
		}
	} else {
		rec = checkpoint.Record{State: checkpoint.StateRunning}
	}

	runID := uuid.NewString()
	sum := &Summary{RunID: runID, Files: len(files)}
	log.Printf("run: job=%s run_id=%s op=%s files=%d resume=(%d,%d)",
		spec.Job, runID, spec.Op, len(files), rec.NextFileIndex, rec.NextBlockIndex)

	shards, err := openShards(ctx, spec.Shards)
	if err != nil {
		return sum, err
	}
	defer func() {
		for _, s := range shards {
			s.Repo.Close()
		}
	}()

	// Shard 0 carries the authoritative schema for resolution.
	dialect, err := meta.DialectFor(spec.Shards[0].Kind)
	if err != nil {
		return sum, err
	}
	cat, err := meta.Resolve(ctx, shards[0].Repo.DB(), dialect, spec)
	if err != nil {
		return sum, fmt.Errorf("resolve metadata: %w", err)
	}
	router, err := meta.NewRouter(cat, spec.Routing.Rule)
	if err != nil {
		return sum, err
	}

	if spec.AutoCreate {
		targets := make([]ddl.ShardTarget, len(shards))
		for i, s := range shards {
			targets[i] = ddl.ShardTarget{Kind: spec.Shards[i].Kind, Repo: s.Repo}
		}
		if err := ddl.Bootstrap(ctx, targets, cat, spec.Tables); err != nil {
			return sum, err
		}
	}

	state := NewState(len(files))
	// Files before the resume point were proven drained by the checkpoint;
	// no producer runs for them.
	for i := 0; i < rec.NextFileIndex && i < len(files); i++ {
		state.MarkFileDone(i)
	}
	stats := &Counters{}
	wait := time.Duration(spec.Runtime.ChannelWaitSeconds) * time.Second
	rng := ring.New(spec.Runtime.RingSize, wait, state.Done)

	expectedFields := 0
	if len(spec.Tables) == 1 {
		t, _ := cat.Table(spec.Tables[0])
		expectedFields = len(t.Columns)
	}

	tracker := NewTracker(spec.Checkpoint.Path, spec.Job, runID, len(files),
		time.Duration(spec.Checkpoint.IntervalSeconds)*time.Second, state, rec)
	tctx, tcancel := context.WithCancel(context.Background())
	trackerDone := make(chan struct{})
	go func() {
		defer close(trackerDone)
		tracker.Run(tctx)
	}()

	g, gctx := errgroup.WithContext(ctx)

	// Producer stage: one producer per file from the resume point on, at
	// most ProducerWorkers running at once. Intake closes when all of them
	// have returned, success or not, so consumers always drain and exit.
	g.Go(func() error {
		defer rng.CloseIntake()

		pg := &errgroup.Group{}
		pg.SetLimit(spec.Runtime.ProducerWorkers)
		for i := rec.NextFileIndex; i < len(files); i++ {
			i := i
			startBlock := 0
			if i == rec.NextFileIndex {
				startBlock = rec.NextBlockIndex
			}
			p := &Producer{
				Job:            spec.Job,
				Source:         spec.Source,
				Ring:           rng,
				State:          state,
				Stats:          stats,
				ExpectedFields: expectedFields,
			}
			pg.Go(func() error { return p.Run(gctx, i, files[i], startBlock) })
		}
		return pg.Wait()
	})

	for w := 0; w < spec.Runtime.ConsumerWorkers; w++ {
		c := &Consumer{
			Job:          spec.Job,
			Op:           spec.Op,
			Tables:       spec.Tables,
			Catalog:      cat,
			Router:       router,
			Shards:       shards,
			Ring:         rng,
			State:        state,
			Stats:        stats,
			BatchSize:    spec.Runtime.BatchSize,
			MaxRetries:   spec.Runtime.MaxRetries,
			RetryInitial: time.Duration(spec.Runtime.RetryInitialMS) * time.Millisecond,
			WriteTimeout: time.Duration(spec.Runtime.WriteTimeoutSeconds) * time.Second,
		}
		g.Go(func() error { return c.Run(gctx) })
	}

	runErr := g.Wait()
	tcancel()
	<-trackerDone

	if errors.Is(runErr, context.Canceled) && !state.Failed() {
		// Operator stop. The checkpoint stays in state "running" at the last
		// saved position so the next invocation resumes.
		log.Printf("run: job=%s run_id=%s interrupted, resume from checkpoint %s", spec.Job, runID, spec.Checkpoint.Path)
	} else if ferr := tracker.Final(runErr == nil && !state.Failed()); ferr != nil && runErr == nil {
		runErr = ferr
	}

	sum.RowsRead = stats.RowsRead.Load()
	sum.ParseErrors = stats.ParseErrors.Load()
	sum.RowsWritten = stats.RowsWritten.Load()
	sum.Batches = stats.Batches.Load()
	sum.Blocks = stats.Blocks.Load()
	sum.Duration = time.Since(start)

	metrics.RecordRows(spec.Job, "read", sum.RowsRead)
	metrics.RecordRows(spec.Job, "written", sum.RowsWritten)
	metrics.RecordStage(spec.Job, "run", runErr, sum.Duration)

	log.Printf("run: job=%s run_id=%s rows_read=%d rows_written=%d parse_errors=%d batches=%d blocks=%d duration=%s err=%v",
		spec.Job, runID, sum.RowsRead, sum.RowsWritten, sum.ParseErrors, sum.Batches, sum.Blocks,
		sum.Duration.Round(time.Millisecond), runErr)
	return sum, runErr
}

// openShards opens a repository per configured shard, in shard-index order.
// On any failure the already opened repositories are closed.
func openShards(ctx context.Context, specs []config.Shard) ([]ShardWriter, error) {
	out := make([]ShardWriter, 0, len(specs))
	for i, sh := range specs {
		repo, err := storage.New(ctx, storage.Config{Kind: sh.Kind, DSN: sh.DSN})
		if err != nil {
			for _, o := range out {
				o.Repo.Close()
			}
			return nil, fmt.Errorf("open shard %d (%s): %w", i, sh.Name, err)
		}
		out = append(out, ShardWriter{Name: sh.Name, Repo: repo})
	}
	return out, nil
}

func firstError(issues []config.Issue) error {
	for _, is := range issues {
		if is.Severity == config.SeverityError {
			return is
		}
	}
	return fmt.Errorf("unknown validation failure")
}
