// Package watchdog repairs the two ways a job can get stuck: a worker that
// stopped heartbeating, and a pending job whose id never reached (or fell out
// of) the dispatch queue.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/compression-service/internal/domain"
	"github.com/cuongbtq/compression-service/internal/ledger"
	"github.com/cuongbtq/compression-service/internal/metrics"
)

// Ledger is the subset of the job ledger used by the watchdog
type Ledger interface {
	GetJobs(ctx context.Context, ids []string) (map[string]*domain.CompressionJob, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.CompressionJob, error)
	ListByStatus(ctx context.Context, status domain.Status, createdBefore time.Time, after *ledger.JobCursor, limit int) ([]*domain.CompressionJob, error)
	RequeueStale(ctx context.Context, id string, cutoff time.Time) error
	FailStale(ctx context.Context, id string, cutoff, at time.Time) error
}

// Queue is the subset of the dispatch queue used by the watchdog
type Queue interface {
	Enqueue(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) (int, error)
	Snapshot(ctx context.Context) ([]string, error)
}

// Notifier announces requeued jobs to workers
type Notifier interface {
	JobRequeued(ctx context.Context, jobID, algorithm string) error
}

// Config holds watchdog thresholds
type Config struct {
	// MaxRetries is the retry count at which a stalled job is failed instead of requeued
	MaxRetries int
	// StaleAfter is how old an in_progress heartbeat may get before the job counts as stalled
	StaleAfter time.Duration
	// ReconcileGrace skips pending jobs younger than this, whose enqueue may still be in flight
	ReconcileGrace time.Duration
	// BatchSize bounds the stale rows reaped per sweep and the page size of the pending scan
	BatchSize int
}

// Report summarizes one sweep
type Report struct {
	Requeued   int
	Failed     int
	Reconciled int
	Dropped    int
}

// Watchdog reaps stalled jobs and reconciles the ledger with the queue
type Watchdog struct {
	ledger   Ledger
	queue    Queue
	notifier Notifier
	metrics  *metrics.Recorder
	config   Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a new Watchdog. notifier may be nil.
func New(ledger Ledger, queue Queue, notifier Notifier, recorder *metrics.Recorder, config Config, logger *slog.Logger) *Watchdog {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &Watchdog{
		ledger:   ledger,
		queue:    queue,
		notifier: notifier,
		metrics:  recorder,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// Sweep runs Reap then Reconcile. Reap goes first so jobs it requeues are
// already queued when reconciliation looks for pending rows.
func (w *Watchdog) Sweep(ctx context.Context) (Report, error) {
	var report Report

	if err := w.Reap(ctx, &report); err != nil {
		return report, err
	}
	if err := w.Reconcile(ctx, &report); err != nil {
		return report, err
	}

	if report != (Report{}) {
		w.logger.Info("Watchdog sweep completed",
			slog.Int("requeued", report.Requeued),
			slog.Int("failed", report.Failed),
			slog.Int("reconciled", report.Reconciled),
			slog.Int("dropped", report.Dropped),
		)
	}
	return report, nil
}

// Reap handles in_progress jobs whose heartbeat is older than StaleAfter. Jobs
// with retries left go back to pending and onto the queue; the rest fail. Both
// updates re-check the heartbeat, so a worker that heartbeats in between keeps
// its job.
func (w *Watchdog) Reap(ctx context.Context, report *Report) error {
	now := w.now()
	cutoff := now.Add(-w.config.StaleAfter)

	stale, err := w.ledger.ListStale(ctx, cutoff, w.config.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to list stale jobs: %w", err)
	}

	for _, job := range stale {
		logger := w.logger.With(
			slog.String("job_id", job.ID),
			slog.Int("retry_count", job.RetryCount),
		)

		if job.RetryCount >= w.config.MaxRetries {
			if err := w.ledger.FailStale(ctx, job.ID, cutoff, now); err != nil {
				if errors.Is(err, domain.ErrConflict) {
					logger.Debug("Stale job recovered before it was failed")
					continue
				}
				return fmt.Errorf("failed to fail stale job %s: %w", job.ID, err)
			}
			w.metrics.JobReapedFailed(ctx)
			report.Failed++
			logger.Warn("Stale job failed after exhausting retries")
			continue
		}

		if err := w.ledger.RequeueStale(ctx, job.ID, cutoff); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				logger.Debug("Stale job recovered before it was requeued")
				continue
			}
			return fmt.Errorf("failed to requeue stale job %s: %w", job.ID, err)
		}
		w.metrics.JobRequeued(ctx, "stale")
		report.Requeued++

		// A failed push here is picked up by Reconcile once the grace period passes
		if err := w.queue.Enqueue(ctx, job.ID); err != nil {
			logger.Error("Requeued job could not be enqueued",
				slog.Any("error", err),
			)
			continue
		}
		w.notify(ctx, job)

		logger.Info("Stale job requeued")
	}
	return nil
}

// Reconcile makes the queue agree with the ledger. Every pending row older
// than ReconcileGrace that is not queued gets pushed, oldest first; queued ids
// whose row is gone or no longer pending get removed.
func (w *Watchdog) Reconcile(ctx context.Context, report *Report) error {
	snapshot, err := w.queue.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read dispatch queue: %w", err)
	}

	queued := make(map[string]struct{}, len(snapshot))
	ids := make([]string, 0, len(snapshot))
	for _, id := range snapshot {
		if _, dup := queued[id]; dup {
			continue
		}
		queued[id] = struct{}{}
		ids = append(ids, id)
	}

	if err := w.enqueueMissing(ctx, queued, report); err != nil {
		return err
	}
	return w.dropSettled(ctx, ids, report)
}

// enqueueMissing pages through the whole pending backlog so an orphan behind
// a long queue is still found on the first sweep
func (w *Watchdog) enqueueMissing(ctx context.Context, queued map[string]struct{}, report *Report) error {
	createdBefore := w.now().Add(-w.config.ReconcileGrace)

	var after *ledger.JobCursor
	for {
		pending, err := w.ledger.ListByStatus(ctx, domain.StatusPending, createdBefore, after, w.config.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to list pending jobs: %w", err)
		}

		for _, job := range pending {
			if _, ok := queued[job.ID]; ok {
				continue
			}
			if err := w.queue.Enqueue(ctx, job.ID); err != nil {
				return fmt.Errorf("failed to re-enqueue job %s: %w", job.ID, err)
			}
			w.metrics.JobReconciled(ctx)
			report.Reconciled++
			w.notify(ctx, job)

			w.logger.Warn("Pending job was missing from the queue, re-enqueued",
				slog.String("job_id", job.ID),
				slog.Time("created_at", job.CreatedAt),
			)
		}

		if len(pending) < w.config.BatchSize {
			return nil
		}
		last := pending[len(pending)-1]
		after = &ledger.JobCursor{CreatedAt: last.CreatedAt, JobID: last.ID}
	}
}

// dropSettled removes queued ids whose row is missing or no longer pending
func (w *Watchdog) dropSettled(ctx context.Context, ids []string, report *Report) error {
	if len(ids) == 0 {
		return nil
	}

	jobs, err := w.ledger.GetJobs(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to look up queued jobs: %w", err)
	}

	for _, id := range ids {
		if job, ok := jobs[id]; ok && job.Status == domain.StatusPending {
			continue
		}

		removed, err := w.queue.Remove(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to drop queued job %s: %w", id, err)
		}
		report.Dropped += removed

		w.logger.Info("Dropped queue entry for job that is no longer pending",
			slog.String("job_id", id),
		)
	}
	return nil
}

func (w *Watchdog) notify(ctx context.Context, job *domain.CompressionJob) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.JobRequeued(ctx, job.ID, job.Algorithm); err != nil {
		w.logger.Warn("Failed to notify workers",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}
}
