package worker

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/compression-service/internal/events"
)

// setupConsumer starts consuming job notifications from the broker
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	// Create unique consumer tag using worker ID
	deliveries, err := w.consumer.Consume(w.workerID, w.prefetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return deliveries, nil
}

// startMessageDispatcher turns job notifications into wake-ups for idle
// goroutines. The notification itself carries no work: the goroutine that
// wakes takes whatever is at the head of the dispatch queue.
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer w.wg.Done()

	w.logger.Debug("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Message dispatcher stopped - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed, polling only")
				return
			}

			event, err := events.Parse(delivery.Body)
			if err != nil {
				w.logger.Error("Failed to parse job notification",
					slog.Any("error", err),
					slog.String("body", string(delivery.Body)),
				)
				// NACK without requeue - malformed messages should go to DLQ
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK malformed message",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			if ackErr := delivery.Ack(false); ackErr != nil {
				w.logger.Error("Failed to ACK job notification",
					slog.String("job_id", event.JobID),
					slog.Any("error", ackErr),
				)
			}

			w.logger.Debug("Job notification received",
				slog.String("type", event.Type),
				slog.String("job_id", event.JobID),
			)
			w.signal()
		}
	}
}
