//go:build integration

package mongo_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cuongbtq/vendor-gateway/internal/domain"
	"github.com/cuongbtq/vendor-gateway/internal/storage"
	"github.com/cuongbtq/vendor-gateway/internal/storage/mongo"
	"github.com/cuongbtq/vendor-gateway/shared/mongodb"
)

func setupStorage(t *testing.T) *mongo.Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	port := nat.Port("27017/tcp")

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{string(port)},
			WaitingFor:   wait.ForListeningPort(port).WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("start mongo container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := container.MappedPort(ctx, port)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := mongodb.NewClient(&mongodb.Config{
		URI:      fmt.Sprintf("mongodb://%s:%s", host, mappedPort.Port()),
		Database: "gateway_test",
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s := mongo.NewStorage(client.Collection("jobs"), logger)
	require.NoError(t, s.EnsureIndexes(ctx))
	return s
}

func TestStorage_InsertAndGetIntegration(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	payload := domain.Document{
		"productId": "p-1",
		"items":     []any{domain.Document{"sku": "a"}},
	}
	job := domain.NewJob("job-1", domain.VendorTypeSync, payload, now)
	require.NoError(t, s.InsertJobs(ctx, []*domain.Job{job}))
	require.NoError(t, s.InsertJobs(ctx, []*domain.Job{job}))

	stored, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
	assert.Equal(t, "p-1", stored.VendorPayload["productId"])

	items, ok := stored.VendorPayload["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].(domain.Document)["sku"])

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStorage_ApplyUpdateIntegration(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	// update arrives before the create
	require.NoError(t, s.ApplyUpdate(ctx, &domain.JobUpdate{
		RequestID: "job-1",
		Status:    domain.JobStatusProcessing,
		UpdatedAt: now,
	}))
	require.NoError(t, s.InsertJobs(ctx, []*domain.Job{
		domain.NewJob("job-1", domain.VendorTypeAsync, domain.Document{"userId": "u-1"}, now.Add(-time.Second)),
	}))

	stored, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, stored.Status)
	assert.Equal(t, domain.VendorTypeAsync, stored.VendorType)

	require.NoError(t, s.ApplyUpdate(ctx, &domain.JobUpdate{
		RequestID:   "job-1",
		Status:      domain.JobStatusComplete,
		Result:      domain.Document{"data": "done"},
		CompletedAt: domain.TimePtr(now),
		UpdatedAt:   now,
	}))
	require.NoError(t, s.ApplyUpdate(ctx, &domain.JobUpdate{
		RequestID: "job-1",
		Status:    domain.JobStatusFailed,
		Error:     domain.StringPtr("late"),
		UpdatedAt: now.Add(time.Second),
	}))

	stored, err = s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusComplete, stored.Status)
	assert.Equal(t, "done", stored.Result["data"])
	assert.Empty(t, stored.Error)
}

func TestStorage_ListIntegration(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	jobs := make([]*domain.Job, 0, 3)
	for i := 0; i < 3; i++ {
		jobs = append(jobs, domain.NewJob(fmt.Sprintf("job-%d", i), domain.VendorTypeSync, domain.Document{}, base.Add(time.Duration(i)*time.Second)))
	}
	require.NoError(t, s.InsertJobs(ctx, jobs))
	require.NoError(t, s.ApplyUpdate(ctx, &domain.JobUpdate{
		RequestID:  "job-0",
		Status:     domain.JobStatusFailed,
		RetryCount: domain.IntPtr(1),
		UpdatedAt:  base,
	}))

	retryable, err := s.ListRetryable(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, "job-0", retryable[0].RequestID)

	page, err := s.ListJobs(ctx, storage.ListFilter{PageSize: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "job-2", page[0].RequestID)

	page, err = s.ListJobs(ctx, storage.ListFilter{
		PageSize: 10,
		Cursor:   &storage.JobCursor{CreatedAt: page[0].CreatedAt, RequestID: page[0].RequestID},
	})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "job-1", page[0].RequestID)
}
