// Package submission records new compression jobs and hands them to the
// dispatch queue. The ledger commit and the queue push are two separate steps
// with their own failure domains; a failed push is reported as an
// EnqueueError and repaired later by the reconciliation sweep.
package submission

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/compression-service/internal/domain"
	"github.com/cuongbtq/compression-service/internal/metrics"
)

// notifyTimeout caps how long an upload waits on the broker. The event only
// wakes idle workers early; polling finds the job without it.
const notifyTimeout = 500 * time.Millisecond

// Ledger is the subset of the job ledger used by submission
type Ledger interface {
	CreateJob(ctx context.Context, id, algorithm, originalName string, params domain.Params) (*domain.CompressionJob, error)
}

// Queue is the subset of the dispatch queue used by submission
type Queue interface {
	Enqueue(ctx context.Context, id string) error
}

// Notifier announces queued jobs to workers
type Notifier interface {
	JobQueued(ctx context.Context, jobID, algorithm string) error
}

// StageFunc persists the uploaded bytes under jobID before the ledger row exists
type StageFunc func(ctx context.Context, jobID string) error

// Request describes one submission
type Request struct {
	Algorithm    string
	OriginalName string
	// Params are the raw form values, validated against the algorithm schema
	Params map[string]string
	// Stage is optional; when set it runs after id generation and before the ledger insert
	Stage StageFunc
}

// Service creates jobs
type Service struct {
	ledger   Ledger
	queue    Queue
	notifier Notifier
	metrics  *metrics.Recorder
	logger   *slog.Logger
	newID    func() string

	notifyTimeout time.Duration
}

// NewService creates a new submission service. notifier may be nil.
func NewService(ledger Ledger, queue Queue, notifier Notifier, recorder *metrics.Recorder, logger *slog.Logger) *Service {
	return &Service{
		ledger:   ledger,
		queue:    queue,
		notifier: notifier,
		metrics:  recorder,
		logger:   logger,
		newID:    func() string { return uuid.New().String() },

		notifyTimeout: notifyTimeout,
	}
}

// Submit validates req, stages the upload, inserts a pending ledger row and
// pushes the job id to the dispatch queue.
//
// The returned id is non-empty whenever an id was generated, even on error, so
// the caller can discard anything it staged. On *domain.EnqueueError the row is
// committed and the job still exists.
func (s *Service) Submit(ctx context.Context, req Request) (string, error) {
	algorithm := strings.TrimSpace(req.Algorithm)
	params, err := domain.ParseParams(algorithm, req.Params)
	if err != nil {
		return "", err
	}

	id := s.newID()

	if req.Stage != nil {
		if err := req.Stage(ctx, id); err != nil {
			s.logger.Error("Failed to stage upload",
				slog.String("job_id", id),
				slog.Any("error", err),
			)
			return id, domain.StorageError("stage upload", err)
		}
	}

	if _, err := s.ledger.CreateJob(ctx, id, algorithm, req.OriginalName, params); err != nil {
		s.logger.Error("Failed to record job",
			slog.String("job_id", id),
			slog.String("algorithm", algorithm),
			slog.Any("error", err),
		)
		return id, err
	}

	s.metrics.JobSubmitted(ctx, algorithm)

	if err := s.queue.Enqueue(ctx, id); err != nil {
		s.metrics.EnqueueFailed(ctx)
		s.logger.Error("Job recorded but not enqueued, left for reconciliation",
			slog.String("job_id", id),
			slog.String("algorithm", algorithm),
			slog.Any("error", err),
		)
		return id, &domain.EnqueueError{JobID: id, Err: err}
	}

	s.notify(ctx, id, algorithm)

	s.logger.Info("Job submitted",
		slog.String("job_id", id),
		slog.String("algorithm", algorithm),
		slog.String("original_name", req.OriginalName),
	)

	return id, nil
}

func (s *Service) notify(ctx context.Context, id, algorithm string) {
	if s.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()

	if err := s.notifier.JobQueued(ctx, id, algorithm); err != nil {
		s.logger.Warn("Failed to notify workers",
			slog.String("job_id", id),
			slog.Any("error", err),
		)
	}
}

// IsCommitted reports whether err from Submit still left a ledger row behind
func IsCommitted(err error) bool {
	return err == nil || errors.Is(err, domain.ErrEnqueue)
}
