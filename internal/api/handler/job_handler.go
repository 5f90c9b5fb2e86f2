package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/vendor-gateway/internal/api/dto"
	"github.com/cuongbtq/vendor-gateway/internal/domain"
	"github.com/cuongbtq/vendor-gateway/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /api/v1/jobs
// Stages the job in the store and publishes its dispatch task before
// accepting it
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		respondError(c, http.StatusBadRequest, "Invalid request body: vendorPayload object is required")
		return
	}

	vendorType, err := domain.ParseVendorType(req.VendorType)
	if err != nil {
		respondError(c, http.StatusBadRequest, "vendorType must be one of sync, async")
		return
	}

	ctx := c.Request.Context()
	job := domain.NewJob(uuid.NewString(), vendorType, req.VendorPayload, h.now())

	if err := h.store.Create(ctx, job); err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "Failed to create job")
		return
	}

	if err := h.queue.Enqueue(ctx, domain.TaskFromJob(job), 0); err != nil {
		h.store.Discard(job.RequestID)
		h.logger.Error("Failed to enqueue job",
			slog.String("request_id", job.RequestID),
			slog.String("error", err.Error()),
		)
		respondError(c, http.StatusServiceUnavailable, "Failed to enqueue job")
		return
	}

	h.logger.Info("Job accepted",
		slog.String("request_id", job.RequestID),
		slog.String("vendor_type", string(vendorType)),
	)

	c.JSON(http.StatusAccepted, dto.CreateJobResponse{RequestID: job.RequestID})
}

// GetJob handles GET /api/v1/jobs/:request_id
func (h *JobHandler) GetJob(c *gin.Context) {
	requestID := c.Param("request_id")
	if _, err := uuid.Parse(requestID); err != nil {
		respondError(c, http.StatusBadRequest, "request_id must be a valid UUID")
		return
	}

	job, err := h.store.FindByID(c.Request.Context(), requestID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			respondError(c, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error("Failed to get job",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		respondError(c, http.StatusInternalServerError, "Failed to get job")
		return
	}

	resp := dto.JobStatusResponse{Status: string(job.Status)}
	switch job.Status {
	case domain.JobStatusComplete:
		resp.Result = job.Result
	case domain.JobStatusFailed:
		resp.Error = job.Error
	}

	c.JSON(http.StatusOK, resp)
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs newest first with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid query parameters")
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	filter := storage.ListFilter{PageSize: req.PageSize}

	if req.Status != "" {
		status := domain.JobStatus(req.Status)
		if !status.Valid() {
			respondError(c, http.StatusBadRequest, "Invalid status filter")
			return
		}
		filter.Status = status
	}

	if req.VendorType != "" {
		vendorType := domain.VendorType(req.VendorType)
		if !vendorType.Valid() {
			respondError(c, http.StatusBadRequest, "Invalid vendor_type filter")
			return
		}
		filter.VendorType = vendorType
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid cursor")
		return
	}
	filter.Cursor = cursor

	jobs, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		respondError(c, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i, job := range jobs {
		resp.Jobs[i] = toJobDTO(job)
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: last.CreatedAt,
			RequestID: last.RequestID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

func toJobDTO(job *domain.Job) dto.JobDTO {
	out := dto.JobDTO{
		RequestID:  job.RequestID,
		VendorType: string(job.VendorType),
		Status:     string(job.Status),
		Result:     job.Result,
		Error:      job.Error,
		RetryCount: job.RetryCount,
		CreatedAt:  job.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:  job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if job.CompletedAt != nil {
		out.CompletedAt = job.CompletedAt.Format(time.RFC3339Nano)
	}
	return out
}
