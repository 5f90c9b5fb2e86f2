// Package memory is an in-process storage.Backend for tests and local runs
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/cuongbtq/vendor-gateway/internal/domain"
	"github.com/cuongbtq/vendor-gateway/internal/storage"
)

var _ storage.Backend = (*Backend)(nil)

// Backend keeps jobs in a map
type Backend struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

// New creates an empty Backend
func New() *Backend {
	return &Backend{jobs: make(map[string]*domain.Job)}
}

func (b *Backend) InsertJobs(ctx context.Context, jobs []*domain.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, job := range jobs {
		existing, ok := b.jobs[job.RequestID]
		if !ok {
			b.jobs[job.RequestID] = job.Clone()
			continue
		}

		// a partial row written by an earlier update only lacks creation fields
		if existing.VendorType == "" {
			existing.VendorType = job.VendorType
		}
		if existing.VendorPayload == nil {
			existing.VendorPayload = job.Clone().VendorPayload
		}
		if existing.CreatedAt.IsZero() || job.CreatedAt.Before(existing.CreatedAt) {
			existing.CreatedAt = job.CreatedAt
		}
	}
	return nil
}

func (b *Backend) ApplyUpdate(ctx context.Context, update *domain.JobUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[update.RequestID]
	if !ok {
		job = &domain.Job{
			RequestID: update.RequestID,
			Status:    domain.JobStatusPending,
			CreatedAt: update.UpdatedAt,
		}
		b.jobs[update.RequestID] = job
	}
	if job.Status == domain.JobStatusComplete {
		return nil
	}

	job.Apply(update)
	return nil
}

func (b *Backend) GetJob(ctx context.Context, requestID string) (*domain.Job, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	job, ok := b.jobs[requestID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job.Clone(), nil
}

func (b *Backend) ListRetryable(ctx context.Context, maxRetries, limit int) ([]*domain.Job, error) {
	b.mu.RLock()
	jobs := make([]*domain.Job, 0)
	for _, job := range b.jobs {
		if job.Status == domain.JobStatusFailed && job.RetryCount < maxRetries {
			jobs = append(jobs, job.Clone())
		}
	}
	b.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].UpdatedAt.Equal(jobs[j].UpdatedAt) {
			return jobs[i].RequestID < jobs[j].RequestID
		}
		return jobs[i].UpdatedAt.Before(jobs[j].UpdatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (b *Backend) ListJobs(ctx context.Context, filter storage.ListFilter) ([]*domain.Job, error) {
	b.mu.RLock()
	jobs := make([]*domain.Job, 0)
	for _, job := range b.jobs {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.VendorType != "" && job.VendorType != filter.VendorType {
			continue
		}
		if !filter.Cursor.Before(job) {
			continue
		}
		jobs = append(jobs, job.Clone())
	}
	b.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].RequestID > jobs[j].RequestID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if filter.PageSize > 0 && len(jobs) > filter.PageSize+1 {
		jobs = jobs[:filter.PageSize+1]
	}
	return jobs, nil
}

func (b *Backend) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of stored jobs
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.jobs)
}
