package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/vendor-gateway/internal/domain"
	"github.com/cuongbtq/vendor-gateway/internal/metrics"
	"github.com/cuongbtq/vendor-gateway/internal/storage"
	"github.com/cuongbtq/vendor-gateway/internal/vendor"
)

// JobStore applies guarded status changes
type JobStore interface {
	Transition(ctx context.Context, requestID string, update *domain.JobUpdate, guard storage.Guard) (*domain.Job, error)
	StageUpdate(ctx context.Context, requestID string, update *domain.JobUpdate) error
}

// Caller performs vendor calls for a task
type Caller interface {
	DispatchSync(ctx context.Context, task domain.DispatchTask) (domain.Document, error)
	DispatchAsync(ctx context.Context, task domain.DispatchTask) (*vendor.Acknowledgement, error)
}

// RunnerConfig holds Runner dependencies
type RunnerConfig struct {
	Store      JobStore
	Dispatcher Caller
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
}

// Runner drives one job through claim, vendor call and outcome. It is shared
// by the queue workers and the retry sweep.
type Runner struct {
	store      JobStore
	dispatcher Caller
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewRunner creates a Runner
func NewRunner(cfg *RunnerConfig) *Runner {
	r := &Runner{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		now:        cfg.Now,
		inFlight:   make(map[string]struct{}),
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	return r
}

// Run dispatches the task's job. It returns nil once the outcome is recorded
// or the async vendor acknowledged; ErrRateLimited when the task was deferred;
// a *domain.VendorError when the job was marked failed; and a
// *domain.RetryableError for transient failures the queue should retry.
func (r *Runner) Run(ctx context.Context, task domain.DispatchTask) error {
	if !r.acquire(task.RequestID) {
		return domain.ErrJobInFlight
	}
	defer r.release(task.RequestID)

	r.logger.Info("Processing job",
		slog.String("request_id", task.RequestID),
		slog.String("vendor_type", string(task.VendorType)),
		slog.Int("attempt", task.Attempt),
	)

	if err := r.claim(ctx, task.RequestID); err != nil {
		return err
	}

	var err error
	switch task.VendorType {
	case domain.VendorTypeAsync:
		err = r.runAsync(ctx, task)
	default:
		err = r.runSync(ctx, task)
	}
	if err == nil {
		return nil
	}

	if errors.Is(err, domain.ErrRateLimited) || domain.IsRetryable(err) {
		return err
	}

	vendorErr, ok := domain.AsVendorError(err)
	if !ok && errors.Is(err, domain.ErrUnknownVendor) {
		vendorErr, ok = &domain.VendorError{Message: err.Error(), Err: err}, true
	}
	if !ok {
		return domain.NewRetryableError(err)
	}

	r.fail(ctx, task, vendorErr.Message)
	return vendorErr
}

// claim moves the job to processing. Redelivery of a deferred task finds the
// job already processing, which is allowed.
func (r *Runner) claim(ctx context.Context, requestID string) error {
	_, err := r.store.Transition(ctx, requestID, &domain.JobUpdate{Status: domain.JobStatusProcessing}, nil)
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		// the create may not be visible to this process yet
		return domain.NewRetryableError(fmt.Errorf("claim %s: %w", requestID, err))
	case errors.Is(err, domain.ErrAlreadyComplete), errors.Is(err, domain.ErrInvalidTransition):
		r.logger.Warn("Job not dispatchable, skipping",
			slog.String("request_id", requestID),
			slog.String("reason", err.Error()),
		)
		return fmt.Errorf("%w: %v", domain.ErrJobAlreadyClaimed, err)
	default:
		return domain.NewRetryableError(fmt.Errorf("claim %s: %w", requestID, err))
	}
}

func (r *Runner) runSync(ctx context.Context, task domain.DispatchTask) error {
	result, err := r.dispatcher.DispatchSync(ctx, task)
	if err != nil {
		return err
	}

	completedAt := r.now()
	_, err = r.store.Transition(ctx, task.RequestID, &domain.JobUpdate{
		Status:      domain.JobStatusComplete,
		Result:      result,
		CompletedAt: &completedAt,
	}, nil)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyComplete) {
			r.logger.Info("Job already complete, result discarded",
				slog.String("request_id", task.RequestID),
			)
			return nil
		}
		return domain.NewRetryableError(fmt.Errorf("complete %s: %w", task.RequestID, err))
	}

	r.metrics.JobCompleted(ctx, string(task.VendorType))
	r.logger.Info("Job completed successfully",
		slog.String("request_id", task.RequestID),
	)
	return nil
}

func (r *Runner) runAsync(ctx context.Context, task domain.DispatchTask) error {
	ack, err := r.dispatcher.DispatchAsync(ctx, task)
	if err != nil {
		return err
	}

	r.logger.Info("Async vendor acknowledged, awaiting webhook",
		slog.String("request_id", task.RequestID),
		slog.String("vendor", ack.Vendor),
		slog.String("vendor_request_id", ack.VendorRequestID),
	)
	return nil
}

// fail records a vendor failure. A job completed in the meantime is left alone.
func (r *Runner) fail(ctx context.Context, task domain.DispatchTask, reason string) {
	completedAt := r.now()
	_, err := r.store.Transition(ctx, task.RequestID, &domain.JobUpdate{
		Status:      domain.JobStatusFailed,
		Error:       &reason,
		CompletedAt: &completedAt,
	}, nil)
	if err != nil {
		r.logger.Warn("Failed to mark job failed",
			slog.String("request_id", task.RequestID),
			slog.Any("error", err),
		)
		return
	}

	r.metrics.JobFailed(ctx, string(task.VendorType))
	r.logger.Error("Job failed",
		slog.String("request_id", task.RequestID),
		slog.String("error", reason),
	)
}

// Abandon marks a job failed after its dispatch attempts ran out. Only a
// job still pending or processing is changed. A job whose create is not
// visible yet gets the failed outcome staged anyway, so it lands failed
// and the retry sweep can pick it up.
func (r *Runner) Abandon(ctx context.Context, requestID string, vendorType domain.VendorType, reason string) error {
	completedAt := r.now()
	msg := fmt.Sprintf("%s: %s", domain.ErrMaxRetriesExceeded, reason)
	update := &domain.JobUpdate{
		Status:      domain.JobStatusFailed,
		Error:       &msg,
		CompletedAt: &completedAt,
	}

	_, err := r.store.Transition(ctx, requestID, update, func(current *domain.Job) error {
		switch current.Status {
		case domain.JobStatusPending, domain.JobStatusProcessing:
			return nil
		case domain.JobStatusComplete:
			return domain.ErrAlreadyComplete
		default:
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, domain.JobStatusFailed)
		}
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrJobNotFound):
		if err := r.store.StageUpdate(ctx, requestID, update); err != nil {
			return fmt.Errorf("abandon %s: %w", requestID, err)
		}
		r.logger.Warn("Abandoned job not visible yet, failed outcome staged",
			slog.String("request_id", requestID),
		)
	case errors.Is(err, domain.ErrAlreadyComplete), errors.Is(err, domain.ErrInvalidTransition):
		return nil
	default:
		return fmt.Errorf("abandon %s: %w", requestID, err)
	}

	r.metrics.JobFailed(ctx, string(vendorType))
	return nil
}

func (r *Runner) acquire(requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.inFlight[requestID]; busy {
		return false
	}
	r.inFlight[requestID] = struct{}{}
	return true
}

func (r *Runner) release(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, requestID)
}
