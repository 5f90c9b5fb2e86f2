package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/vendor-gateway/internal/domain"
	"github.com/cuongbtq/vendor-gateway/internal/metrics"
)

// Guard decides whether an update may be applied to the current job
type Guard func(current *domain.Job) error

// Config holds Store settings
type Config struct {
	Backend       Backend
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	BatchSize     int
	FlushInterval time.Duration
	ShutdownGrace time.Duration
	Now           func() time.Time
}

// overlayEntry is the latest view of a job with writes not yet flushed
type overlayEntry struct {
	job     *domain.Job
	pending int
}

// Store is the job store used by ingestion, dispatch, webhooks and the sweep
type Store struct {
	backend       Backend
	buffer        *WriteBuffer
	logger        *slog.Logger
	metrics       *metrics.Metrics
	batchSize     int
	flushInterval time.Duration
	shutdownGrace time.Duration
	now           func() time.Time

	mu      sync.Mutex
	overlay map[string]*overlayEntry
	// evictions counts overlay entries released after a flush
	evictions uint64

	// flushMu keeps a single flush running at a time
	flushMu sync.Mutex
}

// NewStore creates a Store over the given backend
func NewStore(cfg *Config) *Store {
	s := &Store{
		backend:       cfg.Backend,
		buffer:        NewWriteBuffer(),
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		shutdownGrace: cfg.ShutdownGrace,
		now:           cfg.Now,
		overlay:       make(map[string]*overlayEntry),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.batchSize <= 0 {
		s.batchSize = 100
	}
	if s.flushInterval <= 0 {
		s.flushInterval = time.Second
	}
	if s.shutdownGrace <= 0 {
		s.shutdownGrace = 10 * time.Second
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Create stages a new job. A create for a request id already known to this
// store is a no-op.
func (s *Store) Create(ctx context.Context, job *domain.Job) error {
	if job == nil || job.RequestID == "" {
		return fmt.Errorf("%w: request id is required", domain.ErrInvalidPayload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.overlay[job.RequestID]; exists {
		s.logger.Debug("Duplicate create ignored",
			slog.String("request_id", job.RequestID),
		)
		return nil
	}

	staged := job.Clone()
	now := s.now()
	if staged.Status == "" {
		staged.Status = domain.JobStatusPending
	}
	if staged.CreatedAt.IsZero() {
		staged.CreatedAt = now
	}
	if staged.UpdatedAt.IsZero() {
		staged.UpdatedAt = staged.CreatedAt
	}

	s.overlay[staged.RequestID] = &overlayEntry{job: staged, pending: 1}
	s.buffer.AddCreate(staged.Clone())

	return nil
}

// FindByID returns the job, preferring writes that are not flushed yet
func (s *Store) FindByID(ctx context.Context, requestID string) (*domain.Job, error) {
	s.mu.Lock()
	if e, ok := s.overlay[requestID]; ok {
		job := e.job.Clone()
		s.mu.Unlock()
		return job, nil
	}
	s.mu.Unlock()

	job, err := s.backend.GetJob(ctx, requestID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to find job %s: %w", requestID, err)
	}
	return job, nil
}

// Update merges fields into the job under the default transition guard
func (s *Store) Update(ctx context.Context, requestID string, update *domain.JobUpdate) (*domain.Job, error) {
	return s.Transition(ctx, requestID, update, nil)
}

// Transition applies update only if guard accepts the current job. A nil
// guard uses domain.ValidateTransition for the update's status. On guard
// rejection the current job is returned together with the guard error.
func (s *Store) Transition(ctx context.Context, requestID string, update *domain.JobUpdate, guard Guard) (*domain.Job, error) {
	if guard == nil {
		guard = func(job *domain.Job) error {
			return domain.ValidateTransition(job, update.Status)
		}
	}

	for {
		fetched, epoch, err := s.fetchForTransition(ctx, requestID)
		if err != nil {
			return nil, err
		}

		job, retry, err := s.applyTransition(requestID, update, guard, fetched, epoch)
		if !retry {
			return job, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// applyTransition guards and stages update against the freshest view of the
// job. It asks for a retry when an overlay entry was evicted after the
// backend read, since that read may predate the evicted writes.
func (s *Store) applyTransition(requestID string, update *domain.JobUpdate, guard Guard, fetched *domain.Job, epoch uint64) (*domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := fetched
	if e, ok := s.overlay[requestID]; ok {
		current = e.job
	} else if epoch != s.evictions {
		return nil, true, nil
	}
	if current == nil {
		return nil, false, domain.ErrJobNotFound
	}

	if err := guard(current); err != nil {
		return current.Clone(), false, err
	}

	staged := *update
	staged.RequestID = requestID
	if staged.UpdatedAt.IsZero() {
		staged.UpdatedAt = s.now()
	}

	next := current.Clone()
	next.Apply(&staged)

	entry, ok := s.overlay[requestID]
	if !ok {
		entry = &overlayEntry{}
		s.overlay[requestID] = entry
	}
	entry.job = next
	entry.pending++
	s.buffer.AddUpdate(&staged)

	return next.Clone(), false, nil
}

// fetchForTransition loads a job that is not in the overlay from the backend.
// A missing job yields nil without error so the caller can re-check the
// overlay under the lock. The returned epoch is the eviction count seen
// together with the overlay check.
func (s *Store) fetchForTransition(ctx context.Context, requestID string) (*domain.Job, uint64, error) {
	s.mu.Lock()
	_, staged := s.overlay[requestID]
	epoch := s.evictions
	s.mu.Unlock()
	if staged {
		return nil, epoch, nil
	}

	job, err := s.backend.GetJob(ctx, requestID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, epoch, nil
		}
		return nil, epoch, fmt.Errorf("failed to load job %s: %w", requestID, err)
	}
	return job, epoch, nil
}

// StageUpdate buffers update for a job this store has never seen. The
// backend merges it with the create whenever that lands, so an outcome
// recorded before the create is visible here is not lost.
func (s *Store) StageUpdate(ctx context.Context, requestID string, update *domain.JobUpdate) error {
	if requestID == "" {
		return fmt.Errorf("%w: request id is required", domain.ErrInvalidPayload)
	}

	staged := *update
	staged.RequestID = requestID
	if staged.UpdatedAt.IsZero() {
		staged.UpdatedAt = s.now()
	}
	s.buffer.AddUpdate(&staged)
	return nil
}

// Discard drops a staged create that has not been flushed yet. It is used
// when ingestion fails after the create was staged.
func (s *Store) Discard(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.buffer.RemoveCreate(requestID) {
		return false
	}

	if e, ok := s.overlay[requestID]; ok {
		e.pending--
		if e.pending <= 0 {
			delete(s.overlay, requestID)
			s.evictions++
		}
	}
	return true
}

// ListRetryable returns failed jobs whose retry count is below maxRetries,
// oldest update first
func (s *Store) ListRetryable(ctx context.Context, maxRetries, limit int) ([]*domain.Job, error) {
	durable, err := s.backend.ListRetryable(ctx, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable jobs: %w", err)
	}

	eligible := func(job *domain.Job) bool {
		return job.Status == domain.JobStatusFailed && job.RetryCount < maxRetries
	}

	s.mu.Lock()
	seen := make(map[string]struct{}, len(durable))
	jobs := make([]*domain.Job, 0, len(durable))
	for _, job := range durable {
		seen[job.RequestID] = struct{}{}
		if e, ok := s.overlay[job.RequestID]; ok {
			job = e.job.Clone()
		}
		if eligible(job) {
			jobs = append(jobs, job)
		}
	}
	for id, e := range s.overlay {
		if _, ok := seen[id]; !ok && eligible(e.job) {
			jobs = append(jobs, e.job.Clone())
		}
	}
	s.mu.Unlock()

	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].UpdatedAt.Before(jobs[j].UpdatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// List returns a page of durable jobs with staged changes applied
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*domain.Job, error) {
	durable, err := s.backend.ListJobs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*domain.Job, 0, len(durable))
	for _, job := range durable {
		if e, ok := s.overlay[job.RequestID]; ok {
			job = e.job.Clone()
			if filter.Status != "" && job.Status != filter.Status {
				continue
			}
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Pending returns the number of staged creates and updates
func (s *Store) Pending() (creates, updates int) {
	return s.buffer.Len()
}

// Ping checks the durable backend
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Flush writes one batch of creates and one batch of updates to the backend.
// A failed batch stays at the front of the buffer for the next cycle.
func (s *Store) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	creates := s.buffer.TakeCreates(s.batchSize)
	if len(creates) > 0 {
		if err := s.backend.InsertJobs(ctx, creates); err != nil {
			s.buffer.RequeueCreates(creates)
			s.metrics.FlushFailed(ctx, "create")
			s.logger.Error("Failed to flush job creates, batch kept for retry",
				slog.Int("batch_size", len(creates)),
				slog.Any("error", err),
			)
			return fmt.Errorf("failed to flush creates: %w", err)
		}

		ids := make([]string, len(creates))
		for i, job := range creates {
			ids[i] = job.RequestID
		}
		s.release(ids)
		s.metrics.Flushed(ctx, "create", len(creates))
	}

	updates := s.buffer.TakeUpdates(s.batchSize)
	for i, update := range updates {
		if err := s.backend.ApplyUpdate(ctx, update); err != nil {
			s.buffer.RequeueUpdates(updates[i:])
			s.releaseUpdates(updates[:i])
			s.metrics.Flushed(ctx, "update", i)
			s.metrics.FlushFailed(ctx, "update")
			s.logger.Error("Failed to flush job update, remaining batch kept for retry",
				slog.String("request_id", update.RequestID),
				slog.Int("applied", i),
				slog.Int("remaining", len(updates)-i),
				slog.Any("error", err),
			)
			return fmt.Errorf("failed to flush update for %s: %w", update.RequestID, err)
		}
	}
	s.releaseUpdates(updates)
	s.metrics.Flushed(ctx, "update", len(updates))

	if len(creates) > 0 || len(updates) > 0 {
		s.logger.Debug("Write buffer flushed",
			slog.Int("creates", len(creates)),
			slog.Int("updates", len(updates)),
		)
	}

	return nil
}

// Drain flushes until the buffer is empty, a flush fails or ctx ends
func (s *Store) Drain(ctx context.Context) error {
	for {
		creates, updates := s.buffer.Len()
		if creates == 0 && updates == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Flush(ctx); err != nil {
			return err
		}
	}
}

// Run flushes on a fixed interval until ctx is canceled, then drains the
// buffer within the shutdown grace period
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	s.logger.Info("Write buffer flusher started",
		slog.Duration("flush_interval", s.flushInterval),
		slog.Int("batch_size", s.batchSize),
	)

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), s.shutdownGrace)
			defer cancel()

			if err := s.Drain(drainCtx); err != nil {
				creates, updates := s.buffer.Len()
				s.logger.Error("Write buffer not fully drained on shutdown",
					slog.Int("lost_creates", creates),
					slog.Int("lost_updates", updates),
					slog.Any("error", err),
				)
				return nil
			}

			s.logger.Info("Write buffer flusher stopped")
			return nil

		case <-ticker.C:
			// errors are logged in Flush; the batch is retried next tick
			_ = s.Flush(ctx)
		}
	}
}

func (s *Store) releaseUpdates(updates []*domain.JobUpdate) {
	ids := make([]string, len(updates))
	for i, u := range updates {
		ids[i] = u.RequestID
	}
	s.release(ids)
}

// release evicts overlay entries whose writes have all been flushed
func (s *Store) release(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		e, ok := s.overlay[id]
		if !ok {
			continue
		}
		e.pending--
		if e.pending <= 0 {
			delete(s.overlay, id)
			s.evictions++
		}
	}
}
