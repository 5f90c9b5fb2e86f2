//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cuongbtq/vendor-gateway/internal/domain"
	"github.com/cuongbtq/vendor-gateway/internal/storage"
	"github.com/cuongbtq/vendor-gateway/internal/storage/postgres"
	"github.com/cuongbtq/vendor-gateway/shared/postgresql"
)

func setupStorage(t *testing.T) *postgres.Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	port := nat.Port("5432/tcp")
	dsn := func(host string, port nat.Port) string {
		return fmt.Sprintf("host=%s port=%s user=gateway password=secret dbname=gateway_db sslmode=disable", host, port.Port())
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{string(port)},
			Env: map[string]string{
				"POSTGRES_USER":     "gateway",
				"POSTGRES_PASSWORD": "secret",
				"POSTGRES_DB":       "gateway_db",
			},
			WaitingFor: wait.ForSQL(port, "postgres", dsn).WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := container.MappedPort(ctx, port)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := postgresql.NewClientFromDSN(dsn(host, mappedPort), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s := postgres.NewStorage(client.GetDB(), logger)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestStorage_InsertAndGetIntegration(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	job := domain.NewJob("job-1", domain.VendorTypeSync, domain.Document{"productId": "p-1"}, now)
	require.NoError(t, s.InsertJobs(ctx, []*domain.Job{job, job}))

	stored, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
	assert.Equal(t, domain.VendorTypeSync, stored.VendorType)
	assert.Equal(t, "p-1", stored.VendorPayload["productId"])
	assert.Nil(t, stored.CompletedAt)

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestStorage_ApplyUpdateIntegration(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, s.InsertJobs(ctx, []*domain.Job{
		domain.NewJob("job-1", domain.VendorTypeSync, domain.Document{}, now),
	}))

	require.NoError(t, s.ApplyUpdate(ctx, &domain.JobUpdate{
		RequestID:   "job-1",
		Status:      domain.JobStatusComplete,
		Result:      domain.Document{"data": "done"},
		CompletedAt: domain.TimePtr(now),
		UpdatedAt:   now,
	}))

	// late failure must not overwrite a completed row
	require.NoError(t, s.ApplyUpdate(ctx, &domain.JobUpdate{
		RequestID: "job-1",
		Status:    domain.JobStatusFailed,
		Error:     domain.StringPtr("timeout"),
		UpdatedAt: now.Add(time.Second),
	}))

	stored, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusComplete, stored.Status)
	assert.Equal(t, "done", stored.Result["data"])
	assert.Empty(t, stored.Error)
	require.NotNil(t, stored.CompletedAt)
}

func TestStorage_UpdateBeforeCreateIntegration(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

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
	assert.Equal(t, "u-1", stored.VendorPayload["userId"])
}

func TestStorage_ListIntegration(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	jobs := make([]*domain.Job, 0, 4)
	for i := 0; i < 4; i++ {
		jobs = append(jobs, domain.NewJob(fmt.Sprintf("job-%d", i), domain.VendorTypeSync, domain.Document{}, base.Add(time.Duration(i)*time.Second)))
	}
	require.NoError(t, s.InsertJobs(ctx, jobs))

	for i, retries := range []int{0, 3} {
		require.NoError(t, s.ApplyUpdate(ctx, &domain.JobUpdate{
			RequestID:  fmt.Sprintf("job-%d", i),
			Status:     domain.JobStatusFailed,
			RetryCount: domain.IntPtr(retries),
			UpdatedAt:  base,
		}))
	}

	retryable, err := s.ListRetryable(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, "job-0", retryable[0].RequestID)

	page, err := s.ListJobs(ctx, storage.ListFilter{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "job-3", page[0].RequestID)

	page, err = s.ListJobs(ctx, storage.ListFilter{
		PageSize: 10,
		Cursor:   &storage.JobCursor{CreatedAt: page[1].CreatedAt, RequestID: page[1].RequestID},
	})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "job-1", page[0].RequestID)

	page, err = s.ListJobs(ctx, storage.ListFilter{Status: domain.JobStatusFailed, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}
