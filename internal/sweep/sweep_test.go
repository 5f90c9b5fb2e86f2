package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/vendor-gateway/internal/domain"
	"github.com/cuongbtq/vendor-gateway/internal/storage"
	"github.com/cuongbtq/vendor-gateway/internal/storage/memory"
)

type fakeRunner struct {
	mu      sync.Mutex
	err     error
	block   chan struct{}
	entered chan struct{}
	tasks   []domain.DispatchTask
}

func (r *fakeRunner) Run(_ context.Context, task domain.DispatchTask) error {
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	r.mu.Unlock()

	if r.entered != nil {
		r.entered <- struct{}{}
	}
	if r.block != nil {
		<-r.block
	}
	return r.err
}

func (r *fakeRunner) ran() []domain.DispatchTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.DispatchTask(nil), r.tasks...)
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []domain.DispatchTask
}

func (q *fakeQueue) Enqueue(_ context.Context, task domain.DispatchTask, _ time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

func failedJob(id string, retryCount int, updatedAt time.Time) *domain.Job {
	job := domain.NewJob(id, domain.VendorTypeSync, domain.Document{"userId": id}, updatedAt)
	job.Status = domain.JobStatusFailed
	job.Error = "vendor exploded"
	job.RetryCount = retryCount
	job.CompletedAt = domain.TimePtr(updatedAt)
	return job
}

func setupSweeper(t *testing.T, runner *fakeRunner, queue *fakeQueue, jobs ...*domain.Job) (*Sweeper, *storage.Store) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewStore(&storage.Config{Backend: memory.New(), Logger: logger})
	for _, job := range jobs {
		require.NoError(t, store.Create(context.Background(), job))
	}

	s, err := New(&Config{
		Store:      store,
		Runner:     runner,
		Queue:      queue,
		Logger:     logger,
		MaxRetries: 3,
		BatchLimit: 10,
	})
	require.NoError(t, err)
	return s, store
}

func TestSweep_RequeuesEligibleFailedJobs(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	runner := &fakeRunner{}
	s, store := setupSweeper(t, runner, &fakeQueue{},
		failedJob("eligible", 0, base),
		failedJob("second-try", 2, base.Add(time.Second)),
		failedJob("exhausted", 3, base),
	)
	ctx := context.Background()

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ran := runner.ran()
	require.Len(t, ran, 2)
	assert.Equal(t, "eligible", ran[0].RequestID)
	assert.Equal(t, "second-try", ran[1].RequestID)
	assert.Equal(t, 1, ran[0].Attempt)

	job, err := store.FindByID(ctx, "eligible")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	assert.Empty(t, job.Error)
	assert.Nil(t, job.CompletedAt)

	exhausted, err := store.FindByID(ctx, "exhausted")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, exhausted.Status)
	assert.Equal(t, 3, exhausted.RetryCount)
}

func TestSweep_NothingToDo(t *testing.T) {
	runner := &fakeRunner{}
	s, _ := setupSweeper(t, runner, &fakeQueue{})

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, runner.ran())
}

func TestSweep_SkipsJobsWithoutVendorType(t *testing.T) {
	job := failedJob("broken", 0, time.Now())
	job.VendorType = ""
	runner := &fakeRunner{}
	s, store := setupSweeper(t, runner, &fakeQueue{}, job)

	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, runner.ran())

	stored, err := store.FindByID(context.Background(), "broken")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
}

func TestSweep_RunOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantHandoff bool
	}{
		{"vendor failure stays with runner", domain.NewVendorError("syncVendor", "still down"), false},
		{"rate limited is deferred by dispatcher", domain.ErrRateLimited, false},
		{"transport failure goes to queue", domain.NewRetryableError(errors.New("db unavailable")), true},
		{"in flight goes to queue", domain.ErrJobInFlight, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queue := &fakeQueue{}
			s, _ := setupSweeper(t, &fakeRunner{err: tt.err}, queue, failedJob("job", 0, time.Now()))

			n, err := s.Sweep(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			if tt.wantHandoff {
				require.Len(t, queue.tasks, 1)
				assert.Equal(t, "job", queue.tasks[0].RequestID)
			} else {
				assert.Empty(t, queue.tasks)
			}
		})
	}
}

func TestSweeper_SkipsOverlappingRuns(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	s, _ := setupSweeper(t, runner, &fakeQueue{}, failedJob("slow", 0, time.Now()))
	ctx := context.Background()

	s.trigger(ctx)
	<-runner.entered

	s.trigger(ctx)
	close(runner.block)
	s.wg.Wait()

	assert.Len(t, runner.ran(), 1)
	assert.False(t, s.running.Load())
}

func TestSweeper_StartRunsOnSchedule(t *testing.T) {
	runner := &fakeRunner{entered: make(chan struct{}, 1)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewStore(&storage.Config{Backend: memory.New(), Logger: logger})
	require.NoError(t, store.Create(context.Background(), failedJob("scheduled", 0, time.Now())))

	s, err := New(&Config{
		Store:        store,
		Runner:       runner,
		Logger:       logger,
		Schedule:     "@every 1s",
		MaxRetries:   3,
		TickInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case <-runner.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("sweep did not run")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New(&Config{Schedule: "not a cron"})
	require.Error(t, err)
}
