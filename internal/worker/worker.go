// Package worker runs compression jobs taken from the dispatch queue. Every
// job is claimed through the ledger before any work starts, so a duplicated
// queue entry or a second worker process never compresses the same job twice.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/compression-service/internal/compress"
	"github.com/cuongbtq/compression-service/internal/domain"
	"github.com/cuongbtq/compression-service/internal/metrics"
)

// Ledger is the subset of the job ledger a worker writes to
type Ledger interface {
	Claim(ctx context.Context, id string, at time.Time) (*domain.CompressionJob, error)
	Heartbeat(ctx context.Context, id string, at time.Time) error
	Transition(ctx context.Context, id string, from, to domain.Status, at time.Time) error
	Requeue(ctx context.Context, id string, from domain.Status) error
}

// Queue is the subset of the dispatch queue a worker uses
type Queue interface {
	Dequeue(ctx context.Context) (string, bool, error)
	Enqueue(ctx context.Context, id string) error
}

// Storage locates staged inputs and results
type Storage interface {
	PendingPath(jobID, originalName string) string
	ResultPath(jobID, ext string) string
	Discard(jobID, originalName string) error
}

// Notifier announces jobs a worker put back on the queue
type Notifier interface {
	JobRequeued(ctx context.Context, jobID, algorithm string) error
}

// Consumer delivers broker notifications used as wake-up hints
type Consumer interface {
	Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error)
}

// CompressFunc writes the archive of src to dst
type CompressFunc func(ctx context.Context, algorithm string, params domain.Params, src, dst, entryName string) error

// Config holds worker configuration
type Config struct {
	Logger   *slog.Logger
	Ledger   Ledger
	Queue    Queue
	Storage  Storage
	Metrics  *metrics.Recorder
	Notifier Notifier // optional
	Consumer Consumer // optional; without it workers only poll
	// Compress defaults to compress.File
	Compress CompressFunc

	WorkerID          string
	Concurrency       int
	PrefetchCount     int
	MaxRetries        int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	ShutdownTimeout   time.Duration
}

// Worker represents the background compression worker
type Worker struct {
	logger            *slog.Logger
	ledger            Ledger
	queue             Queue
	storage           Storage
	metrics           *metrics.Recorder
	notifier          Notifier
	consumer          Consumer
	compress          CompressFunc
	workerID          string
	concurrency       int
	prefetchCount     int
	maxRetries        int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	pollInterval      time.Duration
	shutdownTimeout   time.Duration
	now               func() time.Time

	// wake holds at most one pending signal per goroutine
	wake chan struct{}
	wg   sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	heartbeatInterval := cfg.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = 3 * time.Second
	}
	compressFn := cfg.Compress
	if compressFn == nil {
		compressFn = compress.File
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.New()
	}

	return &Worker{
		logger:            cfg.Logger,
		ledger:            cfg.Ledger,
		queue:             cfg.Queue,
		storage:           cfg.Storage,
		metrics:           recorder,
		notifier:          cfg.Notifier,
		consumer:          cfg.Consumer,
		compress:          compressFn,
		workerID:          cfg.WorkerID,
		concurrency:       concurrency,
		prefetchCount:     cfg.PrefetchCount,
		maxRetries:        cfg.MaxRetries,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: heartbeatInterval,
		pollInterval:      pollInterval,
		shutdownTimeout:   cfg.ShutdownTimeout,
		now:               func() time.Time { return time.Now().UTC() },
		wake:              make(chan struct{}, concurrency),
	}
}

// Start runs the worker pool until ctx is canceled. Jobs already running get
// ShutdownTimeout to finish before their context is canceled too.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Duration("poll_interval", w.pollInterval),
	)

	jobsCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	if w.consumer != nil {
		deliveries, err := w.setupConsumer()
		if err != nil {
			// Polling still finds every job, only later
			w.logger.Warn("Job notifications unavailable, polling only",
				slog.Any("error", err),
			)
		} else {
			w.wg.Add(1)
			go w.startMessageDispatcher(ctx, deliveries)
		}
	}

	w.spawnWorkerPool(ctx, jobsCtx)

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")

	drained := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(drained)
	}()

	var timeout <-chan time.Time
	if w.shutdownTimeout > 0 {
		timer := time.NewTimer(w.shutdownTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-drained:
		w.logger.Info("Worker stopped gracefully")
	case <-timeout:
		w.logger.Warn("Worker shutdown timeout exceeded, canceling running jobs")
		cancelJobs()
		<-drained
	}
	return nil
}

// signal wakes one idle goroutine without blocking
func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}
