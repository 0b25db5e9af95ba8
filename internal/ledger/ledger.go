// Package ledger is the durable record of compression jobs. It is the source
// of truth for job lifecycle state; every status change away from a known
// prior state is a conditional update so that concurrent writers cannot both
// win.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/cuongbtq/compression-service/internal/domain"
)

const jobColumns = `uuid, status, compression_algorithm, original_name, compression_params, created_at, heartbeat, retry_count`

// Store handles all ledger operations on the compression_jobs table
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the clock used for created_at
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a new Store on an open PostgreSQL or SQLite handle
func NewStore(db *sqlx.DB, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type jobRow struct {
	ID           string         `db:"uuid"`
	Status       string         `db:"status"`
	Algorithm    string         `db:"compression_algorithm"`
	OriginalName sql.NullString `db:"original_name"`
	Params       domain.Params  `db:"compression_params"`
	CreatedAt    time.Time      `db:"created_at"`
	Heartbeat    sql.NullTime   `db:"heartbeat"`
	RetryCount   int            `db:"retry_count"`
}

func (r *jobRow) toDomain() *domain.CompressionJob {
	job := &domain.CompressionJob{
		ID:           r.ID,
		Status:       domain.Status(r.Status),
		Algorithm:    r.Algorithm,
		OriginalName: r.OriginalName.String,
		Params:       r.Params,
		CreatedAt:    r.CreatedAt.UTC(),
		RetryCount:   r.RetryCount,
	}
	if r.Heartbeat.Valid {
		hb := r.Heartbeat.Time.UTC()
		job.Heartbeat = &hb
	}
	return job
}

// timestamp normalizes t to the precision both backends store
func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// CreateJob inserts a pending job row inside its own transaction
func (s *Store) CreateJob(ctx context.Context, id, algorithm, originalName string, params domain.Params) (*domain.CompressionJob, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.NewValidationError("id", "is required")
	}
	if strings.TrimSpace(algorithm) == "" {
		return nil, domain.NewValidationError("algorithm", "is required")
	}
	if params == nil {
		params = domain.Params{}
	}

	job := &domain.CompressionJob{
		ID:           id,
		Status:       domain.StatusPending,
		Algorithm:    algorithm,
		OriginalName: originalName,
		Params:       params,
		CreatedAt:    timestamp(s.now()),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, domain.StorageError("begin transaction", err)
	}
	defer tx.Rollback()

	var existing int
	if err := tx.GetContext(ctx, &existing, s.db.Rebind(`SELECT COUNT(*) FROM compression_jobs WHERE uuid = ?`), id); err != nil {
		return nil, domain.StorageError("check job id", err)
	}
	if existing > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateID, id)
	}

	query := s.db.Rebind(`
		INSERT INTO compression_jobs (
			uuid, status, compression_algorithm, original_name,
			compression_params, created_at, heartbeat, retry_count
		) VALUES (?, ?, ?, ?, ?, ?, NULL, 0)
	`)

	var name sql.NullString
	if originalName != "" {
		name = sql.NullString{String: originalName, Valid: true}
	}

	if _, err := tx.ExecContext(ctx, query, job.ID, job.Status, job.Algorithm, name, job.Params, job.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateID, id)
		}
		return nil, domain.StorageError("insert job", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.StorageError("commit job", err)
	}

	s.logger.Debug("Job recorded in ledger",
		slog.String("job_id", id),
		slog.String("algorithm", algorithm),
	)

	return job, nil
}

// GetJob retrieves a job by its id
func (s *Store) GetJob(ctx context.Context, id string) (*domain.CompressionJob, error) {
	var row jobRow
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM compression_jobs WHERE uuid = ?`)

	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
		}
		return nil, domain.StorageError("get job", err)
	}
	return row.toDomain(), nil
}

// Transition moves a job from one status to the next, only if its current
// status still equals from. The heartbeat is set to at.
func (s *Store) Transition(ctx context.Context, id string, from, to domain.Status, at time.Time) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}

	query := s.db.Rebind(`
		UPDATE compression_jobs
		SET status = ?, heartbeat = ?
		WHERE uuid = ? AND status = ?
	`)
	return s.conditionalUpdate(ctx, id, from, "transition job", query, to, timestamp(at), id, from)
}

// Claim atomically moves a pending job to in_progress for exactly one caller.
// Losers receive a ConflictError.
func (s *Store) Claim(ctx context.Context, id string, at time.Time) (*domain.CompressionJob, error) {
	if err := s.Transition(ctx, id, domain.StatusPending, domain.StatusInProgress, at); err != nil {
		return nil, err
	}

	s.logger.Info("Job claimed",
		slog.String("job_id", id),
	)

	return s.GetJob(ctx, id)
}

// Heartbeat refreshes the liveness timestamp of an in_progress job
func (s *Store) Heartbeat(ctx context.Context, id string, at time.Time) error {
	query := s.db.Rebind(`
		UPDATE compression_jobs
		SET heartbeat = ?
		WHERE uuid = ? AND status = ?
	`)
	return s.conditionalUpdate(ctx, id, domain.StatusInProgress, "heartbeat job", query, timestamp(at), id, domain.StatusInProgress)
}

// Requeue returns a job to pending and increments its retry count. The heartbeat
// is cleared because no worker owns the job any more.
func (s *Store) Requeue(ctx context.Context, id string, from domain.Status) error {
	if !domain.CanRequeue(from) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, domain.StatusPending)
	}

	query := s.db.Rebind(`
		UPDATE compression_jobs
		SET status = ?, retry_count = retry_count + 1, heartbeat = NULL
		WHERE uuid = ? AND status = ?
	`)
	return s.conditionalUpdate(ctx, id, from, "requeue job", query, domain.StatusPending, id, from)
}

// RequeueStale requeues an in_progress job only if its heartbeat is still older
// than cutoff, so a worker that heartbeats in the meantime keeps the job.
func (s *Store) RequeueStale(ctx context.Context, id string, cutoff time.Time) error {
	query := s.db.Rebind(`
		UPDATE compression_jobs
		SET status = ?, retry_count = retry_count + 1, heartbeat = NULL
		WHERE uuid = ? AND status = ? AND heartbeat < ?
	`)
	return s.conditionalUpdate(ctx, id, domain.StatusInProgress, "requeue stale job", query,
		domain.StatusPending, id, domain.StatusInProgress, timestamp(cutoff))
}

// FailStale marks an in_progress job failed if its heartbeat is still older than cutoff
func (s *Store) FailStale(ctx context.Context, id string, cutoff, at time.Time) error {
	query := s.db.Rebind(`
		UPDATE compression_jobs
		SET status = ?, heartbeat = ?
		WHERE uuid = ? AND status = ? AND heartbeat < ?
	`)
	return s.conditionalUpdate(ctx, id, domain.StatusInProgress, "fail stale job", query,
		domain.StatusFailed, timestamp(at), id, domain.StatusInProgress, timestamp(cutoff))
}

func (s *Store) conditionalUpdate(ctx context.Context, id string, expected domain.Status, op, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.StorageError(op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.StorageError(op, err)
	}
	if rowsAffected > 0 {
		return nil
	}

	current, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}

	s.logger.Warn("Conditional update lost",
		slog.String("op", op),
		slog.String("job_id", id),
		slog.String("expected", string(expected)),
		slog.String("actual", string(current.Status)),
	)

	return &domain.ConflictError{JobID: id, Expected: expected, Actual: current.Status}
}

// ListByStatus returns jobs in status created before createdBefore, oldest
// first. A non-nil after resumes the scan past that position.
func (s *Store) ListByStatus(ctx context.Context, status domain.Status, createdBefore time.Time, after *JobCursor, limit int) ([]*domain.CompressionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM compression_jobs WHERE status = ? AND created_at < ?`
	args := []any{status, timestamp(createdBefore)}

	if after != nil {
		query += " AND (created_at, uuid) > (?, ?)"
		args = append(args, timestamp(after.CreatedAt), after.JobID)
	}

	query += " ORDER BY created_at ASC, uuid ASC LIMIT ?"
	args = append(args, limit)

	return s.selectJobs(ctx, "list jobs by status", s.db.Rebind(query), args...)
}

// getJobsChunk keeps IN lists below SQLite's bound-variable limit
const getJobsChunk = 500

// GetJobs looks up ids in batches. Unknown ids are absent from the result.
func (s *Store) GetJobs(ctx context.Context, ids []string) (map[string]*domain.CompressionJob, error) {
	jobs := make(map[string]*domain.CompressionJob, len(ids))

	for start := 0; start < len(ids); start += getJobsChunk {
		end := min(start+getJobsChunk, len(ids))

		query, args, err := sqlx.In(`SELECT `+jobColumns+` FROM compression_jobs WHERE uuid IN (?)`, ids[start:end])
		if err != nil {
			return nil, domain.StorageError("get jobs", err)
		}

		batch, err := s.selectJobs(ctx, "get jobs", s.db.Rebind(query), args...)
		if err != nil {
			return nil, err
		}
		for _, job := range batch {
			jobs[job.ID] = job
		}
	}
	return jobs, nil
}

// ListStale returns in_progress jobs whose heartbeat is older than cutoff
func (s *Store) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.CompressionJob, error) {
	query := s.db.Rebind(`
		SELECT ` + jobColumns + `
		FROM compression_jobs
		WHERE status = ? AND heartbeat < ?
		ORDER BY heartbeat ASC
		LIMIT ?
	`)
	return s.selectJobs(ctx, "list stale jobs", query, domain.StatusInProgress, timestamp(cutoff), limit)
}

// JobFilter narrows ListRecent
type JobFilter struct {
	Status    string
	Algorithm string
	PageSize  int
	Cursor    *JobCursor
}

// JobCursor is the keyset position of the last job of a page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListRecent returns the newest jobs first. One extra row beyond PageSize is
// fetched so the caller can tell whether another page exists.
func (s *Store) ListRecent(ctx context.Context, filter JobFilter) ([]*domain.CompressionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM compression_jobs WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	if filter.Algorithm != "" {
		query += " AND compression_algorithm = ?"
		args = append(args, filter.Algorithm)
	}

	if filter.Cursor != nil {
		query += " AND (created_at, uuid) < (?, ?)"
		args = append(args, timestamp(filter.Cursor.CreatedAt), filter.Cursor.JobID)
	}

	// Order by created_at DESC, uuid DESC for consistent pagination
	query += " ORDER BY created_at DESC, uuid DESC LIMIT ?"
	args = append(args, filter.PageSize+1)

	return s.selectJobs(ctx, "list jobs", s.db.Rebind(query), args...)
}

func (s *Store) selectJobs(ctx context.Context, op, query string, args ...any) ([]*domain.CompressionJob, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, domain.StorageError(op, err)
	}

	jobs := make([]*domain.CompressionJob, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toDomain()
	}
	return jobs, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint &&
			(liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || liteErr.ExtendedCode == sqlite3.ErrConstraintUnique)
	}
	return false
}
