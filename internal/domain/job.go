package domain

import "time"

// Status is the lifecycle state of a compression job
type Status string

// Job status constants
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusFinished, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no worker will touch the job again without a requeue
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// CompressionJob is the ledger record of a submitted job
type CompressionJob struct {
	ID           string
	Status       Status
	Algorithm    string
	OriginalName string
	Params       Params
	CreatedAt    time.Time
	Heartbeat    *time.Time
	RetryCount   int
}

// forwardTransitions lists the status changes a worker may apply with a
// conditional update. Going back to pending is only possible through a requeue.
var forwardTransitions = map[Status][]Status{
	StatusPending:    {StatusInProgress},
	StatusInProgress: {StatusFinished, StatusFailed},
}

// CanTransition reports whether from -> to is a legal forward transition
func CanTransition(from, to Status) bool {
	for _, next := range forwardTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanRequeue reports whether a job in status from may be returned to pending
func CanRequeue(from Status) bool {
	return from == StatusInProgress || from == StatusFailed
}
