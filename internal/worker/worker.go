// Package worker consumes dispatch tasks from the broker and runs them on a
// fixed pool of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/vendor-gateway/internal/backoff"
	"github.com/cuongbtq/vendor-gateway/internal/domain"
	"github.com/cuongbtq/vendor-gateway/internal/metrics"
)

// ErrDeliveriesClosed is returned when the broker stops delivering while
// the worker is still meant to run
var ErrDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// Consumer is the broker side of the worker
type Consumer interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	Cancel(consumerTag string) error
}

// Runner executes dispatch tasks
type Runner interface {
	Run(ctx context.Context, task domain.DispatchTask) error
	Abandon(ctx context.Context, requestID string, vendorType domain.VendorType, reason string) error
}

// Publisher re-enqueues tasks for a later attempt
type Publisher interface {
	Enqueue(ctx context.Context, task domain.DispatchTask, delay time.Duration) error
}

// Config holds worker configuration
type Config struct {
	Logger          *slog.Logger
	Consumer        Consumer
	Runner          Runner
	Queue           Publisher
	Backoff         backoff.Strategy
	Metrics         *metrics.Metrics
	Concurrency     int
	MaxAttempts     int
	ShutdownTimeout time.Duration
}

// message is a decoded task with the delivery it came from
type message struct {
	task     *domain.DispatchTask
	delivery amqp.Delivery
}

// Worker pulls dispatch tasks from the broker and hands them to the runner
type Worker struct {
	logger          *slog.Logger
	consumer        Consumer
	runner          Runner
	queue           Publisher
	backoff         backoff.Strategy
	metrics         *metrics.Metrics
	workerID        string
	concurrency     int
	maxAttempts     int
	shutdownTimeout time.Duration
	jobsChan        chan *message
	wg              sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}

	w := &Worker{
		logger:          cfg.Logger,
		consumer:        cfg.Consumer,
		runner:          cfg.Runner,
		queue:           cfg.Queue,
		backoff:         cfg.Backoff,
		metrics:         cfg.Metrics,
		workerID:        fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
		concurrency:     max(cfg.Concurrency, 1),
		maxAttempts:     max(cfg.MaxAttempts, 1),
		shutdownTimeout: cfg.ShutdownTimeout,
		jobsChan:        make(chan *message),
	}
	if w.backoff == nil {
		w.backoff = backoff.NewExponential(time.Second, time.Minute)
	}
	if w.metrics == nil {
		w.metrics = metrics.New()
	}
	if w.shutdownTimeout <= 0 {
		w.shutdownTimeout = 30 * time.Second
	}
	return w
}

// Start consumes until ctx is canceled, then waits for in-flight tasks up
// to the shutdown timeout. Tasks still running after that are canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("max_attempts", w.maxAttempts),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	// in-flight tasks outlive ctx so they can record their outcome
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	w.spawnWorkerPool(jobCtx)

	dispatchErr := w.startMessageDispatcher(ctx, deliveries)
	close(w.jobsChan)

	if err := w.consumer.Cancel(w.workerID); err != nil {
		w.logger.Warn("Failed to cancel consumer",
			slog.String("worker_id", w.workerID),
			slog.Any("error", err),
		)
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped gracefully")
	case <-time.After(w.shutdownTimeout):
		w.logger.Warn("Worker shutdown timeout exceeded, canceling in-flight tasks")
		cancelJobs()
		<-done
	}

	return dispatchErr
}
