// Package postgres is the PostgreSQL storage.Backend built on sqlx
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/vendor-gateway/internal/domain"
	"github.com/cuongbtq/vendor-gateway/internal/storage"
)

var _ storage.Backend = (*Storage)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	request_id     TEXT PRIMARY KEY,
	vendor_type    TEXT,
	vendor_payload JSONB,
	status         TEXT        NOT NULL DEFAULT 'pending',
	result         JSONB,
	error          TEXT        NOT NULL DEFAULT '',
	retry_count    INTEGER     NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	completed_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_retry ON jobs (status, retry_count, updated_at);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs (created_at DESC, request_id DESC);
`

const selectColumns = `
	request_id, vendor_type, vendor_payload, status, result,
	error, retry_count, created_at, updated_at, completed_at
`

// jobRow mirrors the jobs table
type jobRow struct {
	RequestID     string         `db:"request_id"`
	VendorType    sql.NullString `db:"vendor_type"`
	VendorPayload []byte         `db:"vendor_payload"`
	Status        string         `db:"status"`
	Result        []byte         `db:"result"`
	Error         string         `db:"error"`
	RetryCount    int            `db:"retry_count"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
	CompletedAt   sql.NullTime   `db:"completed_at"`
}

func (r *jobRow) toDomain() (*domain.Job, error) {
	job := &domain.Job{
		RequestID:  r.RequestID,
		VendorType: domain.VendorType(r.VendorType.String),
		Status:     domain.JobStatus(r.Status),
		Error:      r.Error,
		RetryCount: r.RetryCount,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}

	if len(r.VendorPayload) > 0 {
		if err := json.Unmarshal(r.VendorPayload, &job.VendorPayload); err != nil {
			return nil, fmt.Errorf("failed to decode vendor payload of %s: %w", r.RequestID, err)
		}
	}
	if len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, &job.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result of %s: %w", r.RequestID, err)
		}
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time.UTC()
		job.CompletedAt = &t
	}

	return job, nil
}

// Storage handles job persistence in PostgreSQL
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// Migrate creates the jobs table and its indexes when missing
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate jobs table: %w", err)
	}
	s.logger.Info("Jobs table migrated")
	return nil
}

// InsertJobs writes a batch in one statement. Rows that already exist keep
// their status; only missing creation fields are filled in.
func (s *Storage) InsertJobs(ctx context.Context, jobs []*domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(jobs))
	values := make([]string, 0, len(jobs))
	args := make([]interface{}, 0, len(jobs)*7)
	argIdx := 1

	for _, job := range jobs {
		// one statement cannot upsert the same row twice
		if _, dup := seen[job.RequestID]; dup {
			continue
		}
		seen[job.RequestID] = struct{}{}

		payload, err := encodeDocument(job.VendorPayload)
		if err != nil {
			return fmt.Errorf("failed to encode vendor payload of %s: %w", job.RequestID, err)
		}

		values = append(values, fmt.Sprintf("($%d, $%d, $%d::jsonb, $%d, $%d, $%d, $%d)",
			argIdx, argIdx+1, argIdx+2, argIdx+3, argIdx+4, argIdx+5, argIdx+6))
		args = append(args,
			job.RequestID,
			string(job.VendorType),
			payload,
			string(job.Status),
			job.RetryCount,
			job.CreatedAt,
			job.UpdatedAt,
		)
		argIdx += 7
	}

	query := `
		INSERT INTO jobs (
			request_id, vendor_type, vendor_payload, status,
			retry_count, created_at, updated_at
		) VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (request_id) DO UPDATE SET
			vendor_type = COALESCE(jobs.vendor_type, EXCLUDED.vendor_type),
			vendor_payload = COALESCE(jobs.vendor_payload, EXCLUDED.vendor_payload),
			created_at = LEAST(jobs.created_at, EXCLUDED.created_at)
	`

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert jobs: %w", err)
	}

	return nil
}

// ApplyUpdate merges an update into a row that is not complete. When no
// row exists yet a partial row is inserted so the create can fill it later.
func (s *Storage) ApplyUpdate(ctx context.Context, update *domain.JobUpdate) error {
	result, err := encodeDocument(update.Result)
	if err != nil {
		return fmt.Errorf("failed to encode result of %s: %w", update.RequestID, err)
	}

	query := "UPDATE jobs SET updated_at = $1"
	args := []interface{}{update.UpdatedAt}
	argIdx := 2

	if update.Status != "" {
		query += fmt.Sprintf(", status = $%d", argIdx)
		args = append(args, string(update.Status))
		argIdx++
	}

	if update.Result != nil {
		query += fmt.Sprintf(", result = $%d::jsonb", argIdx)
		args = append(args, result)
		argIdx++
	}

	if update.Error != nil {
		query += fmt.Sprintf(", error = $%d", argIdx)
		args = append(args, *update.Error)
		argIdx++
	}

	if update.RetryCount != nil {
		query += fmt.Sprintf(", retry_count = $%d", argIdx)
		args = append(args, *update.RetryCount)
		argIdx++
	}

	if update.CompletedAt != nil {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, *update.CompletedAt)
		argIdx++
	} else if update.ClearCompletedAt {
		query += ", completed_at = NULL"
	}

	query += fmt.Sprintf(" WHERE request_id = $%d AND status <> $%d", argIdx, argIdx+1)
	args = append(args, update.RequestID, string(domain.JobStatusComplete))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", update.RequestID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	return s.insertPartial(ctx, update, result)
}

// insertPartial records an update whose create has not been flushed yet.
// A conflict means the row exists and is complete, so nothing is written.
func (s *Storage) insertPartial(ctx context.Context, update *domain.JobUpdate, result sql.NullString) error {
	job := &domain.Job{RequestID: update.RequestID, Status: domain.JobStatusPending}
	job.Apply(update)

	var completedAt sql.NullTime
	if job.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *job.CompletedAt, Valid: true}
	}

	query := `
		INSERT INTO jobs (
			request_id, status, result, error, retry_count,
			created_at, updated_at, completed_at
		) VALUES ($1, $2, $3::jsonb, $4, $5, $6, $6, $7)
		ON CONFLICT (request_id) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query,
		job.RequestID,
		string(job.Status),
		result,
		job.Error,
		job.RetryCount,
		update.UpdatedAt,
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert partial job %s: %w", update.RequestID, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.Debug("Update skipped for completed job",
			slog.String("request_id", update.RequestID),
			slog.String("status", string(update.Status)),
		)
	}

	return nil
}

// GetJob retrieves a job by request id
func (s *Storage) GetJob(ctx context.Context, requestID string) (*domain.Job, error) {
	query := `SELECT ` + selectColumns + ` FROM jobs WHERE request_id = $1`

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, requestID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toDomain()
}

// ListRetryable returns failed jobs below maxRetries, oldest update first
func (s *Storage) ListRetryable(ctx context.Context, maxRetries, limit int) ([]*domain.Job, error) {
	query := `SELECT ` + selectColumns + `
		FROM jobs
		WHERE status = $1 AND retry_count < $2
		ORDER BY updated_at ASC, request_id ASC
		LIMIT $3
	`

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, string(domain.JobStatusFailed), maxRetries, limit); err != nil {
		return nil, fmt.Errorf("failed to list retryable jobs: %w", err)
	}

	return toDomainJobs(rows)
}

// ListJobs returns a newest-first page with one extra row to signal more
func (s *Storage) ListJobs(ctx context.Context, filter storage.ListFilter) ([]*domain.Job, error) {
	query := `SELECT ` + selectColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}

	if filter.VendorType != "" {
		query += fmt.Sprintf(" AND vendor_type = $%d", argIdx)
		args = append(args, string(filter.VendorType))
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, request_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.RequestID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, request_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return toDomainJobs(rows)
}

// Ping checks the database connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func toDomainJobs(rows []jobRow) ([]*domain.Job, error) {
	jobs := make([]*domain.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// encodeDocument renders a document as JSON text for a jsonb parameter
func encodeDocument(doc domain.Document) (sql.NullString, error) {
	if doc == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
