// Package dispatch calls vendors for dispatch tasks and records the outcome
// on the job.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/vendor-gateway/internal/domain"
	"github.com/cuongbtq/vendor-gateway/internal/metrics"
	"github.com/cuongbtq/vendor-gateway/internal/scrubber"
	"github.com/cuongbtq/vendor-gateway/internal/vendor"
)

// Admitter gates vendor calls by rate limit window
type Admitter interface {
	TryAdmit(ctx context.Context, vendor string) (bool, error)
	TimeUntilNextWindow(vendor string) time.Duration
}

// Publisher re-enqueues a task after a delay
type Publisher interface {
	Enqueue(ctx context.Context, task domain.DispatchTask, delay time.Duration) error
}

// DispatcherConfig holds Dispatcher dependencies
type DispatcherConfig struct {
	Registry      *vendor.Registry
	Limiter       Admitter
	Queue         Publisher
	Scrubber      *scrubber.Scrubber
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
	VendorTimeout time.Duration
	DeferBuffer   time.Duration
}

// Dispatcher performs one rate-limited vendor call for a task
type Dispatcher struct {
	registry      *vendor.Registry
	limiter       Admitter
	queue         Publisher
	scrubber      *scrubber.Scrubber
	metrics       *metrics.Metrics
	logger        *slog.Logger
	vendorTimeout time.Duration
	deferBuffer   time.Duration
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(cfg *DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		registry:      cfg.Registry,
		limiter:       cfg.Limiter,
		queue:         cfg.Queue,
		scrubber:      cfg.Scrubber,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		vendorTimeout: cfg.VendorTimeout,
		deferBuffer:   cfg.DeferBuffer,
	}
	if d.scrubber == nil {
		d.scrubber = scrubber.New()
	}
	if d.metrics == nil {
		d.metrics = metrics.New()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.vendorTimeout <= 0 {
		d.vendorTimeout = 10 * time.Second
	}
	return d
}

// DispatchSync calls a sync vendor and returns its scrubbed result
func (d *Dispatcher) DispatchSync(ctx context.Context, task domain.DispatchTask) (domain.Document, error) {
	client, err := d.admit(ctx, task)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.vendorTimeout)
	defer cancel()

	start := time.Now()
	raw, err := client.CallSync(callCtx, task.RequestID, task.VendorPayload)
	d.metrics.VendorCall(ctx, client.Name(), time.Since(start), err)
	if err != nil {
		return nil, d.classify(ctx, client.Name(), task.RequestID, err)
	}

	return d.scrubber.Scrub(raw), nil
}

// DispatchAsync asks an async vendor to start work and returns its ack
func (d *Dispatcher) DispatchAsync(ctx context.Context, task domain.DispatchTask) (*vendor.Acknowledgement, error) {
	client, err := d.admit(ctx, task)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, d.vendorTimeout)
	defer cancel()

	start := time.Now()
	ack, err := client.CallAsync(callCtx, task.RequestID, task.VendorPayload)
	d.metrics.VendorCall(ctx, client.Name(), time.Since(start), err)
	if err != nil {
		return nil, d.classify(ctx, client.Name(), task.RequestID, err)
	}

	return ack, nil
}

// admit resolves the vendor and passes the rate limit gate. A denied task is
// re-enqueued for the next window and ErrRateLimited is returned.
func (d *Dispatcher) admit(ctx context.Context, task domain.DispatchTask) (vendor.Client, error) {
	client, err := d.registry.Get(task.VendorType)
	if err != nil {
		return nil, err
	}
	name := client.Name()

	ok, err := d.limiter.TryAdmit(ctx, name)
	if err != nil {
		return nil, domain.NewRetryableError(fmt.Errorf("rate limit check for %s: %w", name, err))
	}
	if ok {
		return client, nil
	}

	delay := d.limiter.TimeUntilNextWindow(name) + d.deferBuffer
	if err := d.queue.Enqueue(ctx, task, delay); err != nil {
		return nil, domain.NewRetryableError(fmt.Errorf("defer rate limited task: %w", err))
	}

	d.metrics.RateLimited(ctx, name)
	d.logger.Warn("Vendor rate limit hit, task deferred",
		slog.String("vendor", name),
		slog.String("request_id", task.RequestID),
		slog.Duration("delay", delay),
	)

	return nil, fmt.Errorf("%w: %s, retry in %s", domain.ErrRateLimited, name, delay)
}

// classify turns a vendor call error into a VendorError, except for
// cancellation of the caller's context which stays retryable
func (d *Dispatcher) classify(ctx context.Context, name, requestID string, err error) error {
	if ctx.Err() != nil {
		return domain.NewRetryableError(fmt.Errorf("vendor call for %s interrupted: %w", requestID, ctx.Err()))
	}

	if vendorErr, ok := domain.AsVendorError(err); ok {
		return vendorErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.VendorError{
			Vendor:  name,
			Message: fmt.Sprintf("vendor %s timed out after %s", name, d.vendorTimeout),
			Err:     err,
		}
	}

	return &domain.VendorError{
		Vendor:  name,
		Message: fmt.Sprintf("vendor %s call failed: %v", name, err),
		Err:     err,
	}
}
