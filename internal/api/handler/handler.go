package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/vendor-gateway/internal/domain"
	"github.com/cuongbtq/vendor-gateway/internal/storage"
)

// JobStore is the job persistence used by the API
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) error
	Discard(requestID string) bool
	FindByID(ctx context.Context, requestID string) (*domain.Job, error)
	List(ctx context.Context, filter storage.ListFilter) ([]*domain.Job, error)
}

// Enqueuer publishes dispatch tasks
type Enqueuer interface {
	Enqueue(ctx context.Context, task domain.DispatchTask, delay time.Duration) error
}

// Reconciler applies vendor webhooks
type Reconciler interface {
	Reconcile(ctx context.Context, vendorName, requestID string, finalData domain.Document) (*domain.Job, error)
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// AppInfo describes the running service in health responses
type AppInfo struct {
	Name        string
	Version     string
	Environment string
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Store        JobStore
	Queue        Enqueuer
	Reconciler   Reconciler
	HealthChecks map[string]HealthCheck
	App          AppInfo
	StartedAt    time.Time
	Now          func() time.Time
}

func (d *Dependencies) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	store  JobStore
	queue  Enqueuer
	now    func() time.Time
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		store:  deps.Store,
		queue:  deps.Queue,
		now:    deps.now,
	}
}

// WebhookHandler handles inbound vendor callbacks
type WebhookHandler struct {
	logger     *slog.Logger
	reconciler Reconciler
}

// NewWebhookHandler creates a new WebhookHandler instance
func NewWebhookHandler(deps *Dependencies) *WebhookHandler {
	return &WebhookHandler{
		logger:     deps.Logger,
		reconciler: deps.Reconciler,
	}
}

// HealthHandler reports service and dependency health
type HealthHandler struct {
	checks    map[string]HealthCheck
	app       AppInfo
	startedAt time.Time
	now       func() time.Time
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	startedAt := deps.StartedAt
	if startedAt.IsZero() {
		startedAt = deps.now()
	}
	return &HealthHandler{
		checks:    deps.HealthChecks,
		app:       deps.App,
		startedAt: startedAt,
		now:       deps.now,
	}
}
