// Package queue serializes dispatch tasks onto the durable broker queue
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/vendor-gateway/internal/domain"
)

const contentType = "application/json"

// Broker is the subset of the RabbitMQ client the queue publishes through
type Broker interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
	PublishDelayed(ctx context.Context, body []byte, contentType string, delay time.Duration) error
}

// DispatchQueue enqueues dispatch tasks, optionally after a delay
type DispatchQueue struct {
	broker Broker
	logger *slog.Logger
}

// NewDispatchQueue creates a DispatchQueue over the broker
func NewDispatchQueue(broker Broker, logger *slog.Logger) *DispatchQueue {
	return &DispatchQueue{
		broker: broker,
		logger: logger,
	}
}

// Enqueue publishes the task. With a positive delay the task becomes
// visible to consumers no earlier than delay from now.
func (q *DispatchQueue) Enqueue(ctx context.Context, task domain.DispatchTask, delay time.Duration) error {
	if task.Attempt < 1 {
		task.Attempt = 1
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch task: %w", err)
	}

	if delay > 0 {
		err = q.broker.PublishDelayed(ctx, body, contentType, delay)
	} else {
		err = q.broker.PublishWithRetry(ctx, body, contentType)
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue dispatch task %s: %w", task.RequestID, err)
	}

	q.logger.Debug("Dispatch task enqueued",
		slog.String("request_id", task.RequestID),
		slog.String("vendor_type", string(task.VendorType)),
		slog.Int("attempt", task.Attempt),
		slog.Duration("delay", delay),
	)

	return nil
}

// Decode parses and validates a task from a message body
func Decode(body []byte) (*domain.DispatchTask, error) {
	var task domain.DispatchTask
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	return &task, nil
}
