package handler

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cuongbtq/compression-service/internal/domain"
	"github.com/cuongbtq/compression-service/internal/ledger"
	"github.com/cuongbtq/compression-service/internal/status"
	"github.com/cuongbtq/compression-service/internal/submission"
)

// Submitter records new jobs
type Submitter interface {
	Submit(ctx context.Context, req submission.Request) (string, error)
}

// StatusReader builds job status views
type StatusReader interface {
	GetStatus(ctx context.Context, id string) (*status.View, error)
}

// JobLister pages through recent jobs
type JobLister interface {
	ListRecent(ctx context.Context, filter ledger.JobFilter) ([]*domain.CompressionJob, error)
}

// Files stages uploads and serves results
type Files interface {
	Stage(ctx context.Context, jobID, originalName string, r io.Reader) (int64, error)
	Discard(jobID, originalName string) error
	OpenResult(jobID, ext string) (*os.File, error)
}

// HealthCheck probes one backing store
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger     *slog.Logger
	Submission Submitter
	Status     StatusReader
	Jobs       JobLister
	Files      Files
	Health     []HealthCheck
	// ServiceName is reported by the health endpoint
	ServiceName string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger     *slog.Logger
	submission Submitter
	status     StatusReader
	jobs       JobLister
	files      Files
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:     deps.Logger,
		submission: deps.Submission,
		status:     deps.Status,
		jobs:       deps.Jobs,
		files:      deps.Files,
	}
}

// HealthHandler reports whether the backing stores answer
type HealthHandler struct {
	service string
	checks  []HealthCheck
	timeout time.Duration
	logger  *slog.Logger
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		service: deps.ServiceName,
		checks:  deps.Health,
		timeout: 2 * time.Second,
		logger:  deps.Logger,
	}
}
