// Package dispatch is the FIFO queue of job ids waiting for a worker. Ids are
// appended at the tail and taken from the head. Delivery is at-least-once: an
// id may be queued twice after a reconciliation race, and the ledger claim
// decides which copy does any work.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultKey is the list key used when none is configured
const DefaultKey = "compression_queue"

// Queue wraps a List with the job dispatch operations
type Queue struct {
	list   List
	logger *slog.Logger
}

// NewQueue creates a new dispatch queue on list
func NewQueue(list List, logger *slog.Logger) *Queue {
	return &Queue{list: list, logger: logger}
}

// Enqueue appends id at the tail
func (q *Queue) Enqueue(ctx context.Context, id string) error {
	if err := q.list.PushBack(ctx, id); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", id, err)
	}

	q.logger.Debug("Job enqueued",
		slog.String("job_id", id),
	)
	return nil
}

// Dequeue removes and returns the head id. ok is false when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (string, bool, error) {
	id, ok, err := q.list.PopFront(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to dequeue job: %w", err)
	}
	return id, ok, nil
}

// PositionOf returns the zero-based offset of id from the head. ok is false
// when id is not queued; that is never an error.
func (q *Queue) PositionOf(ctx context.Context, id string) (int, bool, error) {
	idx, ok, err := q.list.Index(ctx, id)
	if err != nil {
		return 0, false, fmt.Errorf("failed to locate job %s in queue: %w", id, err)
	}
	if !ok {
		return 0, false, nil
	}
	return int(idx), true, nil
}

// Remove deletes every queued copy of id and reports how many were removed
func (q *Queue) Remove(ctx context.Context, id string) (int, error) {
	n, err := q.list.Remove(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to remove job %s from queue: %w", id, err)
	}
	return int(n), nil
}

// Len returns the number of queued ids
func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.list.Len(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return int(n), nil
}

// Snapshot returns the queued ids from head to tail. The result may be stale
// by the time the caller looks at it.
func (q *Queue) Snapshot(ctx context.Context) ([]string, error) {
	ids, err := q.list.Range(ctx, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	return ids, nil
}
