package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when submitted input cannot be accepted
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a job cannot be found in the ledger
	ErrNotFound = errors.New("job not found")

	// ErrDuplicateID is returned when a ledger row with the same id already exists
	ErrDuplicateID = errors.New("job id already exists")

	// ErrStorage is returned when the ledger cannot persist a write
	ErrStorage = errors.New("ledger storage failure")

	// ErrEnqueue is returned when a committed job could not be pushed to the dispatch queue
	ErrEnqueue = errors.New("dispatch enqueue failure")

	// ErrConflict is returned when a conditional update lost against another writer
	ErrConflict = errors.New("job status changed concurrently")

	// ErrInvalidTransition is returned for a status change the lifecycle does not allow
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError describes a user-correctable problem with one input field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a new validation error for field
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// EnqueueError reports a job whose ledger row was committed but whose id never reached the queue.
// The reconciliation sweep picks such jobs up later.
type EnqueueError struct {
	JobID string
	Err   error
}

func (e *EnqueueError) Error() string {
	return fmt.Sprintf("enqueue job %s: %v", e.JobID, e.Err)
}

func (e *EnqueueError) Unwrap() error {
	return e.Err
}

func (e *EnqueueError) Is(target error) bool {
	return target == ErrEnqueue
}

// ConflictError reports a conditional update whose expected status no longer matched
type ConflictError struct {
	JobID    string
	Expected Status
	Actual   Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("job %s: expected status %s, found %s", e.JobID, e.Expected, e.Actual)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StorageError wraps a ledger failure
func StorageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
