package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/compression-service/internal/compress"
	"github.com/cuongbtq/compression-service/internal/domain"
)

// finalizeTimeout bounds the ledger writes after compression, which still run
// when the job context is gone
const finalizeTimeout = 10 * time.Second

// errJobLost cancels a job whose ledger row stopped accepting heartbeats
var errJobLost = errors.New("job no longer owned by this worker")

// processJob claims jobID and runs it to a terminal status or back to pending
func (w *Worker) processJob(ctx context.Context, jobID string) error {
	logger := w.logger.With(
		slog.String("job_id", jobID),
		slog.String("worker_id", w.workerID),
	)

	// Step 1: Claim job from the ledger (pending -> in_progress)
	job, err := w.ledger.Claim(ctx, jobID, w.now())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrConflict):
			logger.Warn("Job already claimed or no longer pending, skipping",
				slog.Any("error", err),
			)
			return nil
		case errors.Is(err, domain.ErrNotFound):
			logger.Warn("Queued job has no ledger row, skipping")
			return nil
		}
		// The row is still pending, so reconciliation queues it again
		return fmt.Errorf("failed to claim job: %w", err)
	}

	logger = logger.With(
		slog.String("algorithm", job.Algorithm),
		slog.Int("retry_count", job.RetryCount),
	)
	logger.Info("Processing job")

	// Step 2: Bound the run by the job timeout; a lost heartbeat cancels it early
	ownedCtx, release := context.WithCancelCause(ctx)
	defer release(nil)

	jobCtx := ownedCtx
	if w.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ownedCtx, w.jobTimeout)
		defer cancel()
	}

	// Step 3: Start heartbeat goroutine
	var heartbeat sync.WaitGroup
	heartbeatDone := make(chan struct{})
	heartbeat.Add(1)
	go func() {
		defer heartbeat.Done()
		w.sendJobHeartbeat(jobCtx, job.ID, release, heartbeatDone)
	}()

	// Step 4: Compress
	started := time.Now()
	execErr := w.executeJob(jobCtx, job)
	elapsed := time.Since(started)

	close(heartbeatDone)
	heartbeat.Wait()

	// Step 5: Record the outcome, even when ctx was canceled by shutdown
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if errors.Is(context.Cause(ownedCtx), errJobLost) {
		logger.Warn("Job was taken over while running, dropping this attempt",
			slog.Any("error", execErr),
		)
		return nil
	}

	if execErr != nil {
		return w.failJob(finalCtx, logger, job, execErr, elapsed)
	}
	return w.finishJob(finalCtx, logger, job, elapsed)
}

// sendJobHeartbeat refreshes the job heartbeat until done is closed. A
// heartbeat rejected by the ledger means the watchdog gave the job away.
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, lost context.CancelCauseFunc, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			err := w.ledger.Heartbeat(ctx, jobID, w.now())
			switch {
			case err == nil:
				w.logger.Debug("Job heartbeat updated",
					slog.String("job_id", jobID),
				)
			case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotFound):
				w.logger.Warn("Job heartbeat rejected, abandoning job",
					slog.String("job_id", jobID),
					slog.Any("error", err),
				)
				lost(errJobLost)
				return
			default:
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.Any("error", err),
				)
			}
		}
	}
}

// executeJob compresses the staged input of job into its result file
func (w *Worker) executeJob(ctx context.Context, job *domain.CompressionJob) error {
	ext, err := compress.Extension(job.Algorithm, job.Params)
	if err != nil {
		return err
	}

	src := w.storage.PendingPath(job.ID, job.OriginalName)
	dst := w.storage.ResultPath(job.ID, ext)

	if err := w.compress(ctx, job.Algorithm, job.Params, src, dst, entryName(job)); err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}
	return nil
}

func (w *Worker) finishJob(ctx context.Context, logger *slog.Logger, job *domain.CompressionJob, elapsed time.Duration) error {
	if err := w.ledger.Transition(ctx, job.ID, domain.StatusInProgress, domain.StatusFinished, w.now()); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			logger.Warn("Job changed status before it could finish",
				slog.Any("error", err),
			)
			return nil
		}
		// Left in_progress without heartbeats, the watchdog requeues it
		return fmt.Errorf("failed to mark job finished: %w", err)
	}

	w.metrics.JobCompleted(ctx, job.Algorithm, string(domain.StatusFinished), elapsed)
	w.discardInput(logger, job)

	logger.Info("Job completed successfully",
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

// failJob requeues job while it has retries left and fails it otherwise.
// Errors no retry can fix fail the job straight away.
func (w *Worker) failJob(ctx context.Context, logger *slog.Logger, job *domain.CompressionJob, cause error, elapsed time.Duration) error {
	if permanent(cause) || job.RetryCount >= w.maxRetries {
		if err := w.ledger.Transition(ctx, job.ID, domain.StatusInProgress, domain.StatusFailed, w.now()); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				logger.Warn("Job changed status before it could fail",
					slog.Any("error", err),
				)
				return nil
			}
			return fmt.Errorf("failed to mark job failed: %w (cause: %v)", err, cause)
		}

		w.metrics.JobCompleted(ctx, job.Algorithm, string(domain.StatusFailed), elapsed)
		w.discardInput(logger, job)

		logger.Warn("Job failed",
			slog.Int("max_retries", w.maxRetries),
			slog.Any("error", cause),
		)
		return fmt.Errorf("job failed: %w", cause)
	}

	if err := w.ledger.Requeue(ctx, job.ID, domain.StatusInProgress); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			logger.Warn("Job changed status before it could be requeued",
				slog.Any("error", err),
			)
			return nil
		}
		return fmt.Errorf("failed to requeue job: %w (cause: %v)", err, cause)
	}
	w.metrics.JobRequeued(ctx, "error")

	if err := w.queue.Enqueue(ctx, job.ID); err != nil {
		logger.Error("Requeued job could not be enqueued, leaving it to reconciliation",
			slog.Any("error", err),
		)
	} else if w.notifier != nil {
		if err := w.notifier.JobRequeued(ctx, job.ID, job.Algorithm); err != nil {
			logger.Warn("Failed to notify workers",
				slog.Any("error", err),
			)
		}
	}

	logger.Info("Job will be retried",
		slog.Int("max_retries", w.maxRetries),
		slog.Any("error", cause),
	)
	return fmt.Errorf("job will be retried: %w", cause)
}

func (w *Worker) discardInput(logger *slog.Logger, job *domain.CompressionJob) {
	if err := w.storage.Discard(job.ID, job.OriginalName); err != nil {
		logger.Warn("Failed to remove staged input",
			slog.Any("error", err),
		)
	}
}

// permanent reports errors that would repeat on every retry
func permanent(err error) bool {
	return errors.Is(err, domain.ErrValidation) || errors.Is(err, os.ErrNotExist)
}

// entryName is the name the input gets inside the archive: the client
// filename without any directory part, which may use either separator
func entryName(job *domain.CompressionJob) string {
	name := job.OriginalName
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." || name == ".." {
		return job.ID
	}
	return name
}
