package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/vendor-gateway/internal/domain"
	"github.com/cuongbtq/vendor-gateway/internal/storage"
)

func TestBackend_InsertJobsFillsPartialRow(t *testing.T) {
	b := New()
	ctx := context.Background()
	now := time.Now().UTC()

	// an update flushed by another process before the create arrived
	require.NoError(t, b.ApplyUpdate(ctx, &domain.JobUpdate{
		RequestID: "job-1",
		Status:    domain.JobStatusProcessing,
		UpdatedAt: now,
	}))

	job := domain.NewJob("job-1", domain.VendorTypeAsync, domain.Document{"userId": "u1"}, now.Add(-time.Second))
	require.NoError(t, b.InsertJobs(ctx, []*domain.Job{job}))

	stored, err := b.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, stored.Status, "create does not reset status")
	assert.Equal(t, domain.VendorTypeAsync, stored.VendorType)
	assert.Equal(t, "u1", stored.VendorPayload["userId"])
	assert.True(t, stored.CreatedAt.Equal(now.Add(-time.Second)))
}

func TestBackend_ApplyUpdateSkipsComplete(t *testing.T) {
	b := New()
	ctx := context.Background()

	require.NoError(t, b.InsertJobs(ctx, []*domain.Job{
		domain.NewJob("job-1", domain.VendorTypeSync, domain.Document{}, time.Now()),
	}))
	require.NoError(t, b.ApplyUpdate(ctx, &domain.JobUpdate{
		RequestID: "job-1",
		Status:    domain.JobStatusComplete,
		Result:    domain.Document{"data": "first"},
	}))
	require.NoError(t, b.ApplyUpdate(ctx, &domain.JobUpdate{
		RequestID: "job-1",
		Status:    domain.JobStatusFailed,
		Error:     domain.StringPtr("late failure"),
	}))

	stored, err := b.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusComplete, stored.Status)
	assert.Equal(t, "first", stored.Result["data"])
	assert.Empty(t, stored.Error)
}

func TestBackend_GetJobNotFound(t *testing.T) {
	_, err := New().GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestBackend_ListRetryable(t *testing.T) {
	b := New()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, retries := range []int{0, 2, 3, 1} {
		id := fmt.Sprintf("job-%d", i)
		require.NoError(t, b.ApplyUpdate(ctx, &domain.JobUpdate{
			RequestID:  id,
			Status:     domain.JobStatusFailed,
			RetryCount: domain.IntPtr(retries),
			UpdatedAt:  base.Add(-time.Duration(i) * time.Minute),
		}))
	}

	jobs, err := b.ListRetryable(ctx, 3, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-3", jobs[0].RequestID, "oldest update first")
	assert.Equal(t, "job-1", jobs[1].RequestID)
}

func TestBackend_ListJobsPaging(t *testing.T) {
	b := New()
	ctx := context.Background()
	base := time.Now().UTC()

	jobs := make([]*domain.Job, 0, 5)
	for i := 0; i < 5; i++ {
		jobs = append(jobs, domain.NewJob(fmt.Sprintf("job-%d", i), domain.VendorTypeSync, domain.Document{}, base.Add(time.Duration(i)*time.Second)))
	}
	jobs[4].VendorType = domain.VendorTypeAsync
	require.NoError(t, b.InsertJobs(ctx, jobs))

	page, err := b.ListJobs(ctx, storage.ListFilter{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3, "one extra row signals another page")
	assert.Equal(t, "job-4", page[0].RequestID)
	assert.Equal(t, "job-3", page[1].RequestID)

	cursor := &storage.JobCursor{CreatedAt: page[1].CreatedAt, RequestID: page[1].RequestID}
	page, err = b.ListJobs(ctx, storage.ListFilter{PageSize: 2, Cursor: cursor})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "job-2", page[0].RequestID)

	page, err = b.ListJobs(ctx, storage.ListFilter{VendorType: domain.VendorTypeAsync, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "job-4", page[0].RequestID)
}
