// Package reconciler applies inbound vendor webhooks to async jobs.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/vendor-gateway/internal/domain"
	"github.com/cuongbtq/vendor-gateway/internal/metrics"
	"github.com/cuongbtq/vendor-gateway/internal/storage"
)

// Webhook outcomes recorded in metrics
const (
	OutcomeCompleted = "completed"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
	OutcomeNotFound  = "not_found"
	OutcomeError     = "error"
)

// JobStore applies guarded status changes
type JobStore interface {
	Transition(ctx context.Context, requestID string, update *domain.JobUpdate, guard storage.Guard) (*domain.Job, error)
}

// Scrubber removes sensitive fields from vendor documents
type Scrubber interface {
	Scrub(doc domain.Document) domain.Document
}

// Config holds Reconciler dependencies
type Config struct {
	Store    JobStore
	Scrubber Scrubber
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// Vendors maps vendor name to the job type it serves
	Vendors map[string]domain.VendorType
	Now     func() time.Time
}

// Reconciler completes async jobs from vendor callbacks
type Reconciler struct {
	store    JobStore
	scrubber Scrubber
	metrics  *metrics.Metrics
	logger   *slog.Logger
	vendors  map[string]domain.VendorType
	now      func() time.Time
}

// New creates a Reconciler
func New(cfg *Config) *Reconciler {
	r := &Reconciler{
		store:    cfg.Store,
		scrubber: cfg.Scrubber,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		vendors:  cfg.Vendors,
		now:      cfg.Now,
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

// Reconcile marks the job complete with the scrubbed final data. A job that
// is already complete is returned unchanged. A failed job cannot be completed
// by a webhook and yields ErrInvalidTransition.
func (r *Reconciler) Reconcile(ctx context.Context, vendorName, requestID string, finalData domain.Document) (*domain.Job, error) {
	if requestID == "" || finalData == nil {
		r.metrics.WebhookReceived(ctx, OutcomeRejected)
		return nil, fmt.Errorf("%w: missing request_id or final_data", domain.ErrInvalidPayload)
	}

	vendorType, ok := r.vendors[vendorName]
	if !ok {
		r.metrics.WebhookReceived(ctx, OutcomeRejected)
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownVendor, vendorName)
	}

	completedAt := r.now()
	job, err := r.store.Transition(ctx, requestID, &domain.JobUpdate{
		Status:      domain.JobStatusComplete,
		Result:      r.scrubber.Scrub(finalData),
		CompletedAt: &completedAt,
	}, func(current *domain.Job) error {
		if current.VendorType != vendorType {
			return fmt.Errorf("%w: job %s belongs to %s vendors", domain.ErrVendorMismatch, requestID, current.VendorType)
		}
		return domain.ValidateTransition(current, domain.JobStatusComplete)
	})

	switch {
	case err == nil:
		r.metrics.WebhookReceived(ctx, OutcomeCompleted)
		r.metrics.JobCompleted(ctx, string(job.VendorType))
		r.logger.Info("Job completed from webhook",
			slog.String("request_id", requestID),
			slog.String("vendor", vendorName),
		)
		return job, nil

	case errors.Is(err, domain.ErrAlreadyComplete):
		r.metrics.WebhookReceived(ctx, OutcomeDuplicate)
		r.logger.Info("Duplicate webhook for completed job ignored",
			slog.String("request_id", requestID),
			slog.String("vendor", vendorName),
		)
		return job, nil

	case errors.Is(err, domain.ErrJobNotFound):
		r.metrics.WebhookReceived(ctx, OutcomeNotFound)
		return nil, err

	case errors.Is(err, domain.ErrVendorMismatch), errors.Is(err, domain.ErrInvalidTransition):
		r.metrics.WebhookReceived(ctx, OutcomeRejected)
		r.logger.Warn("Webhook rejected",
			slog.String("request_id", requestID),
			slog.String("vendor", vendorName),
			slog.String("reason", err.Error()),
		)
		return nil, err

	default:
		r.metrics.WebhookReceived(ctx, OutcomeError)
		return nil, fmt.Errorf("reconcile %s: %w", requestID, err)
	}
}
