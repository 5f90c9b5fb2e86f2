// Package sweep periodically re-admits failed jobs that still have retry
// budget left.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/cuongbtq/vendor-gateway/internal/domain"
	"github.com/cuongbtq/vendor-gateway/internal/metrics"
	"github.com/cuongbtq/vendor-gateway/internal/storage"
)

// DefaultSchedule runs the sweep every five minutes
const DefaultSchedule = "*/5 * * * *"

// cronParser accepts standard 5-field expressions and descriptors like "@every 30s"
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// JobStore lists and transitions failed jobs
type JobStore interface {
	ListRetryable(ctx context.Context, maxRetries, limit int) ([]*domain.Job, error)
	Transition(ctx context.Context, requestID string, update *domain.JobUpdate, guard storage.Guard) (*domain.Job, error)
}

// Runner dispatches a re-admitted job
type Runner interface {
	Run(ctx context.Context, task domain.DispatchTask) error
}

// Publisher hands a task to the worker pool when the sweep cannot run it
// itself
type Publisher interface {
	Enqueue(ctx context.Context, task domain.DispatchTask, delay time.Duration) error
}

// Config holds Sweeper settings
type Config struct {
	Store        JobStore
	Runner       Runner
	Queue        Publisher
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	Schedule     string
	MaxRetries   int
	BatchLimit   int
	TickInterval time.Duration
	Now          func() time.Time
}

// Sweeper re-attempts failed jobs on a cron schedule
type Sweeper struct {
	store        JobStore
	runner       Runner
	queue        Publisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	schedule     cronlib.Schedule
	expr         string
	maxRetries   int
	batchLimit   int
	tickInterval time.Duration
	now          func() time.Time

	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a Sweeper. It fails when the schedule does not parse.
func New(cfg *Config) (*Sweeper, error) {
	expr := cfg.Schedule
	if expr == "" {
		expr = DefaultSchedule
	}
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", expr, err)
	}

	s := &Sweeper{
		store:        cfg.Store,
		runner:       cfg.Runner,
		queue:        cfg.Queue,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		schedule:     schedule,
		expr:         expr,
		maxRetries:   cfg.MaxRetries,
		batchLimit:   cfg.BatchLimit,
		tickInterval: cfg.TickInterval,
		now:          cfg.Now,
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tickInterval <= 0 {
		s.tickInterval = time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Start runs the sweep on schedule until ctx is canceled. A run still in
// progress when the next one is due causes that tick to be skipped.
func (s *Sweeper) Start(ctx context.Context) error {
	next := s.schedule.Next(s.now())
	s.logger.Info("Retry sweep started",
		slog.String("schedule", s.expr),
		slog.Int("max_retries", s.maxRetries),
		slog.Time("next_run", next),
	)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("Retry sweep stopped")
			return nil
		case <-ticker.C:
			now := s.now()
			if now.Before(next) {
				continue
			}
			next = s.schedule.Next(now)
			s.trigger(ctx)
		}
	}
}

// trigger starts a sweep unless one is already running
func (s *Sweeper) trigger(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Previous retry sweep still running, skipping")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("Retry sweep failed", slog.Any("error", err))
		}
	}()
}

// Sweep re-admits eligible failed jobs one at a time and returns how many
// were moved back to pending
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	jobs, err := s.store.ListRetryable(ctx, s.maxRetries, s.batchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list retryable jobs: %w", err)
	}
	if len(jobs) == 0 {
		s.logger.Debug("No failed jobs eligible for retry")
		return 0, nil
	}

	s.logger.Info("Retrying failed jobs", slog.Int("count", len(jobs)))

	requeued := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return requeued, ctx.Err()
		}
		if s.retry(ctx, job) {
			requeued++
		}
	}
	return requeued, nil
}

// retry moves one job back to pending and dispatches it again
func (s *Sweeper) retry(ctx context.Context, job *domain.Job) bool {
	log := s.logger.With(slog.String("request_id", job.RequestID))

	if !job.VendorType.Valid() {
		log.Warn("Skipping failed job without a known vendor type",
			slog.String("vendor_type", string(job.VendorType)),
		)
		return false
	}

	empty := ""
	retryCount := job.RetryCount + 1
	updated, err := s.store.Transition(ctx, job.RequestID, &domain.JobUpdate{
		Status:           domain.JobStatusPending,
		RetryCount:       &retryCount,
		Error:            &empty,
		ClearCompletedAt: true,
	}, func(current *domain.Job) error {
		if current.Status != domain.JobStatusFailed {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, domain.JobStatusPending)
		}
		if current.RetryCount >= s.maxRetries {
			return fmt.Errorf("%w: retry count %d", domain.ErrMaxRetriesExceeded, current.RetryCount)
		}
		return nil
	})
	if err != nil {
		log.Debug("Job no longer eligible for retry", slog.String("reason", err.Error()))
		return false
	}

	s.metrics.SweepRequeued(ctx)
	log.Info("Retrying failed job", slog.Int("retry_count", updated.RetryCount))

	task := domain.TaskFromJob(updated)
	err = s.runner.Run(ctx, task)
	switch {
	case err == nil, errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrJobAlreadyClaimed):
	case isVendorError(err):
		log.Warn("Retry attempt failed", slog.String("error", err.Error()))
	default:
		// transport failures go to the worker pool, which retries with backoff
		log.Warn("Retry attempt interrupted, handing off to queue", slog.String("error", err.Error()))
		if s.queue != nil {
			if qErr := s.queue.Enqueue(ctx, task, 0); qErr != nil {
				log.Error("Failed to enqueue retried job", slog.Any("error", qErr))
			}
		}
	}
	return true
}

func isVendorError(err error) bool {
	_, ok := domain.AsVendorError(err)
	return ok
}
