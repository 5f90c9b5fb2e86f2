package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/vendor-gateway/internal/domain"
)

// processMessage runs one task, turning a panic into a retryable error
func (w *Worker) processMessage(ctx context.Context, msg *message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Panic while processing task",
				slog.String("request_id", msg.task.RequestID),
				slog.Any("panic", r),
			)
			err = domain.NewRetryableError(fmt.Errorf("panic: %v", r))
		}
	}()

	return w.runner.Run(ctx, *msg.task)
}

// settle acks or nacks the delivery based on the task outcome. Retries are
// published as new messages with a delay, so the original is always acked
// unless the task is given up on.
func (w *Worker) settle(ctx context.Context, workerName string, msg *message, err error) {
	task := msg.task
	log := w.logger.With(
		slog.String("worker_name", workerName),
		slog.String("request_id", task.RequestID),
		slog.Int("attempt", task.Attempt),
	)

	switch {
	case err == nil:
		w.ack(log, msg)

	case errors.Is(err, domain.ErrRateLimited),
		errors.Is(err, domain.ErrJobAlreadyClaimed):
		log.Info("Task settled without dispatch", slog.String("reason", err.Error()))
		w.ack(log, msg)

	case isVendorError(err):
		log.Warn("Vendor call failed, job marked failed", slog.String("error", err.Error()))
		w.ack(log, msg)

	case errors.Is(err, domain.ErrJobInFlight):
		w.reschedule(ctx, log, msg, *task, w.backoff.Delay(1))

	case domain.IsRetryable(err) && task.Attempt < w.maxAttempts:
		next := *task
		next.Attempt++
		delay := w.backoff.Delay(task.Attempt)
		log.Warn("Task failed, scheduling retry",
			slog.Duration("retry_after", delay),
			slog.String("error", err.Error()),
		)
		if w.reschedule(ctx, log, msg, next, delay) {
			w.metrics.RetryScheduled(ctx)
		}

	default:
		log.Error("Task attempts exhausted, dead-lettering",
			slog.Int("max_attempts", w.maxAttempts),
			slog.String("error", err.Error()),
		)
		if abandonErr := w.runner.Abandon(ctx, task.RequestID, task.VendorType, err.Error()); abandonErr != nil {
			log.Error("Failed to mark abandoned job failed", slog.Any("error", abandonErr))
		}
		w.metrics.DeadLettered(ctx)
		w.nack(log, msg, false)
	}
}

// reschedule publishes task after delay and acks the original delivery. If
// the publish fails the delivery is requeued instead.
func (w *Worker) reschedule(ctx context.Context, log *slog.Logger, msg *message, task domain.DispatchTask, delay time.Duration) bool {
	if err := w.queue.Enqueue(ctx, task, delay); err != nil {
		log.Error("Failed to reschedule task, requeueing delivery", slog.Any("error", err))
		w.nack(log, msg, true)
		return false
	}
	w.ack(log, msg)
	return true
}

func (w *Worker) ack(log *slog.Logger, msg *message) {
	if err := msg.delivery.Ack(false); err != nil {
		log.Error("Failed to ACK message", slog.Any("error", err))
	}
}

func (w *Worker) nack(log *slog.Logger, msg *message, requeue bool) {
	if err := msg.delivery.Nack(false, requeue); err != nil {
		log.Error("Failed to NACK message",
			slog.Bool("requeue", requeue),
			slog.Any("error", err),
		)
	}
}

func isVendorError(err error) bool {
	_, ok := domain.AsVendorError(err)
	return ok
}
