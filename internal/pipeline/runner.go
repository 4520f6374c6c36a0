package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/renlowe/paradrop/internal/domain/procstate"
	"github.com/renlowe/paradrop/internal/watcher"
)

// Runner connects the watcher to the processor with a bounded worker
// pool and replays interrupted work on startup.
type Runner struct {
	proc   *Processor
	watch  *watcher.Watcher
	sem    *semaphore.Weighted
	logger *slog.Logger
}

// NewRunner creates a runner with the given worker count.
func NewRunner(proc *Processor, watch *watcher.Watcher, workers int, logger *slog.Logger) *Runner {
	if workers <= 0 {
		workers = 1
	}
	return &Runner{
		proc:   proc,
		watch:  watch,
		sem:    semaphore.NewWeighted(int64(workers)),
		logger: logger,
	}
}

// Run starts the watcher and the dispatch loop and blocks until ctx is
// canceled or the watcher fails.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Recover(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.watch.Run(gctx)
	})
	g.Go(func() error {
		return r.dispatch(gctx)
	})
	return g.Wait()
}

func (r *Runner) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-r.watch.Events():
			if err := r.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			go func(ev watcher.Event) {
				defer r.sem.Release(1)
				if err := r.proc.Intake(ctx, ev); err != nil && ctx.Err() == nil {
					r.logger.Error("processing failed",
						"document", ev.Key, "error", err)
				}
			}(ev)
		}
	}
}

// Recover resumes every non-terminal record left over from a previous
// run, each from its persisted state. Records interrupted mid-step
// simply re-enter that step.
func (r *Runner) Recover(ctx context.Context) error {
	records, err := r.proc.tracker.Active(ctx)
	if err != nil {
		return fmt.Errorf("listing active records: %w", err)
	}

	for i := range records {
		rec := &records[i]
		r.logger.Info("resuming interrupted document",
			"document", rec.DocumentKey, "state", rec.State)
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		go func(rec *procstate.Record) {
			defer r.sem.Release(1)
			if err := r.proc.Process(ctx, rec); err != nil && ctx.Err() == nil {
				r.logger.Error("resume failed",
					"document", rec.DocumentKey, "error", err)
			}
		}(rec)
	}
	return nil
}
