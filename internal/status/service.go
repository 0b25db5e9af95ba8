// Package status answers "where is my job" from the ledger and the dispatch
// queue. It never writes to either store.
package status

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/cuongbtq/compression-service/internal/domain"
)

// NotQueued is the position rendered when a job is not in the dispatch queue
const NotQueued = "-"

// Ledger is the subset of the job ledger read by the status service
type Ledger interface {
	GetJob(ctx context.Context, id string) (*domain.CompressionJob, error)
}

// Queue is the subset of the dispatch queue read by the status service
type Queue interface {
	PositionOf(ctx context.Context, id string) (int, bool, error)
}

// View is the observable state of a job
type View struct {
	Job *domain.CompressionJob
	// Position is 1-based; zero when Queued is false
	Position int
	Queued   bool
	// Downloadable is true when the result may be served
	Downloadable bool
	// ExpiresAt is set for downloadable results
	ExpiresAt *time.Time
}

// QueuePosition renders Position the way clients expect it: "1", "2", ... or "-"
func (v View) QueuePosition() string {
	if !v.Queued {
		return NotQueued
	}
	return strconv.Itoa(v.Position)
}

// Service builds status views
type Service struct {
	ledger Ledger
	queue  Queue
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the clock used by the availability policy
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a new status service. ttl is the result availability window.
func NewService(ledger Ledger, queue Queue, ttl time.Duration, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		ledger: ledger,
		queue:  queue,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetStatus returns the current view of job id, or an error matching
// domain.ErrNotFound when the ledger has no such row.
func (s *Service) GetStatus(ctx context.Context, id string) (*View, error) {
	job, err := s.ledger.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &View{Job: job}

	switch job.Status {
	case domain.StatusFinished:
		if IsDownloadable(job.Status, job.Heartbeat, s.now(), s.ttl) {
			expires := ExpiresAt(*job.Heartbeat, s.ttl)
			view.Downloadable = true
			view.ExpiresAt = &expires
		}

	case domain.StatusPending, domain.StatusInProgress:
		idx, ok, err := s.queue.PositionOf(ctx, id)
		if err != nil {
			// Position is advisory; the ledger state is still correct
			s.logger.Warn("Failed to read queue position",
				slog.String("job_id", id),
				slog.Any("error", err),
			)
			break
		}
		if ok {
			view.Queued = true
			view.Position = idx + 1
		}
	}

	return view, nil
}
