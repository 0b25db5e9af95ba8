package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration.
// ctx stops the loops from taking new jobs; jobsCtx bounds the jobs they run.
func (w *Worker) spawnWorkerPool(ctx, jobsCtx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, jobsCtx, i)
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

// workerLoop is the main processing loop for each worker goroutine. It drains
// the queue, then sleeps until the poll interval passes or a notification arrives.
func (w *Worker) workerLoop(ctx, jobsCtx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	logger := w.logger.With(slog.String("worker_name", workerName))
	logger.Debug("Worker goroutine started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			logger.Debug("Worker goroutine stopping - context canceled")
			return
		}

		jobID, ok, err := w.queue.Dequeue(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			logger.Error("Failed to dequeue job",
				slog.Any("error", err),
			)
		case ok:
			logger.Info("Worker received job",
				slog.String("job_id", jobID),
			)
			if err := w.processJob(jobsCtx, jobID); err != nil {
				logger.Error("Job processing failed",
					slog.String("job_id", jobID),
					slog.Any("error", err),
				)
			}
			// More work may be waiting
			continue
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		case <-w.wake:
		}
	}
}
