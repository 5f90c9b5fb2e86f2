// Package storage owns job records. Writes are staged in an in-memory
// buffer and flushed to a durable Backend in batches; reads see staged
// writes before they reach the backend.
//
// Persistence is at-least-once: anything still buffered when the process
// dies is lost, so callers must tolerate a bounded durability window.
package storage

import (
	"context"
	"time"

	"github.com/cuongbtq/vendor-gateway/internal/domain"
)

// Backend is the durable job store the write buffer flushes into
type Backend interface {
	// InsertJobs inserts jobs in bulk. Existing rows are kept; only their
	// missing creation fields are filled in.
	InsertJobs(ctx context.Context, jobs []*domain.Job) error

	// ApplyUpdate merges an update into the job keyed by RequestID. A row in
	// status complete is never changed. A missing row is inserted with the
	// update's fields.
	ApplyUpdate(ctx context.Context, update *domain.JobUpdate) error

	// GetJob returns domain.ErrJobNotFound when the job does not exist
	GetJob(ctx context.Context, requestID string) (*domain.Job, error)

	// ListRetryable returns failed jobs with retry_count below maxRetries
	ListRetryable(ctx context.Context, maxRetries, limit int) ([]*domain.Job, error)

	// ListJobs returns up to filter.PageSize+1 jobs, newest first
	ListJobs(ctx context.Context, filter ListFilter) ([]*domain.Job, error)

	Ping(ctx context.Context) error
}

// ListFilter narrows a job listing
type ListFilter struct {
	Status     domain.JobStatus
	VendorType domain.VendorType
	PageSize   int
	Cursor     *JobCursor
}

// JobCursor marks the last job of the previous page
type JobCursor struct {
	CreatedAt time.Time
	RequestID string
}

// Before reports whether job sorts after the cursor in newest-first order
func (c *JobCursor) Before(job *domain.Job) bool {
	if c == nil {
		return true
	}
	if job.CreatedAt.Equal(c.CreatedAt) {
		return job.RequestID < c.RequestID
	}
	return job.CreatedAt.Before(c.CreatedAt)
}
