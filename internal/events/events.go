// Package events carries job notifications over the message broker. They are
// hints only: the ledger and dispatch queue stay authoritative, so a lost or
// duplicated event never changes what a worker does, only when it looks.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ContentType of every published event body
const ContentType = "application/json"

// Event types
const (
	TypeJobQueued   = "job.queued"
	TypeJobRequeued = "job.requeued"
)

// Event is the broker message body
type Event struct {
	Type       string    `json:"type"`
	JobID      string    `json:"job_id"`
	Algorithm  string    `json:"algorithm,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher sends a message body to the broker
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Notifier publishes job events. A Notifier with no publisher drops every event.
type Notifier struct {
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewNotifier creates a new Notifier; publisher may be nil
func NewNotifier(publisher Publisher, logger *slog.Logger) *Notifier {
	return &Notifier{
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// JobQueued announces a job id that was just pushed to the dispatch queue
func (n *Notifier) JobQueued(ctx context.Context, jobID, algorithm string) error {
	return n.publish(ctx, Event{Type: TypeJobQueued, JobID: jobID, Algorithm: algorithm})
}

// JobRequeued announces a job returned to pending and pushed again
func (n *Notifier) JobRequeued(ctx context.Context, jobID, algorithm string) error {
	return n.publish(ctx, Event{Type: TypeJobRequeued, JobID: jobID, Algorithm: algorithm})
}

func (n *Notifier) publish(ctx context.Context, event Event) error {
	if n == nil || n.publisher == nil {
		return nil
	}

	event.OccurredAt = n.now().UTC()
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := n.publisher.PublishWithRetry(ctx, body, ContentType); err != nil {
		return fmt.Errorf("failed to publish %s for job %s: %w", event.Type, event.JobID, err)
	}
	return nil
}

// Parse decodes a broker message body and checks that it names a job
func Parse(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, fmt.Errorf("failed to parse event JSON: %w", err)
	}

	if _, err := uuid.Parse(event.JobID); err != nil {
		return Event{}, fmt.Errorf("invalid job_id %q: %w", event.JobID, err)
	}

	switch event.Type {
	case TypeJobQueued, TypeJobRequeued:
	default:
		return Event{}, fmt.Errorf("unknown event type %q", event.Type)
	}
	return event, nil
}
