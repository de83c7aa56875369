package worker

import (
	"context"

	"ensemble/internal/async"
	"ensemble/internal/logging"
)

// RunAll runs every worker in its own goroutine until ctx is cancelled.
// A panicking worker loop is logged and does not stop the others.
func RunAll(ctx context.Context, workers []*Worker, logger logging.Logger) {
	logger = logging.OrNop(logger)
	group := async.NewGroup(logger)
	for _, w := range workers {
		group.Go(ctx, "worker "+w.ID(), func(ctx context.Context) {
			_ = w.Run(ctx)
		})
	}
	logger.Info("started %d workers", len(workers))
	group.Wait()
}
