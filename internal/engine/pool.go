package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc"
)

// Start recovers orphaned in-progress items and launches the worker
// pool. Each worker claims one item at a time and drives it to a
// terminal status.
func (e *Engine) Start(ctx context.Context) {
	e.RecoverInProgress(ctx)

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	var wg conc.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Go(func() {
			e.workerLoop(ctx)
		})
	}
	go func() {
		wg.Wait()
		close(e.done)
	}()
	e.logger.InfoContext(ctx, "engine started", slog.Int("workers", e.workers))
}

// Stop cancels the workers and waits for them to exit.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.logger.Info("engine stopped")
}

// Wake nudges an idle worker to check the queue immediately instead of
// waiting out the poll interval.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		item := e.ClaimQueueItem(ctx)
		if item == nil {
			select {
			case <-ctx.Done():
				return
			case <-e.wake:
			case <-time.After(e.pollInterval):
			}
			continue
		}

		for item.Status == StatusRunning && ctx.Err() == nil {
			item = e.ExecuteOneStep(ctx, item)
			if item.Status == StatusRunning {
				if err := e.UpdateInProgress(item); err != nil {
					e.logger.WarnContext(ctx, "failed to persist step progress",
						slog.String("execution_id", item.ID), slog.String("error", err.Error()))
				}
			}
		}

		switch item.Status {
		case StatusCompleted, StatusError:
			if err := e.CompleteExecution(ctx, item); err != nil {
				e.logger.ErrorContext(ctx, "failed to archive execution",
					slog.String("execution_id", item.ID), slog.String("error", err.Error()))
			}
		case StatusRunning:
			// Shutdown mid-execution: hand the item back so the next
			// start recovers it.
			if err := e.ReleaseToQueue(item); err != nil {
				e.logger.WarnContext(ctx, "failed to release item on shutdown",
					slog.String("execution_id", item.ID), slog.String("error", err.Error()))
			}
		}
	}
}
