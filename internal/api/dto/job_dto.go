package dto

import "time"

type CreateJobRequest struct {
	VendorType    string         `json:"vendorType"`
	VendorPayload map[string]any `json:"vendorPayload" binding:"required"`
}

type CreateJobResponse struct {
	RequestID string `json:"request_id"`
}

// JobStatusResponse carries result only for complete jobs and error only for failed ones
type JobStatusResponse struct {
	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

type ListJobsRequest struct {
	VendorType string `form:"vendor_type"`
	Status     string `form:"status"`
	PageSize   int    `form:"page_size"`
	Cursor     string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	RequestID   string         `json:"request_id"`
	VendorType  string         `json:"vendor_type"`
	Status      string         `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	RetryCount  int            `json:"retry_count"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
	CompletedAt string         `json:"completed_at,omitempty"`
}

type WebhookRequest struct {
	RequestID string         `json:"request_id"`
	FinalData map[string]any `json:"final_data"`
}

type WebhookResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

type DependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status       string                      `json:"status"`
	Application  ApplicationHealth           `json:"application"`
	System       SystemHealth                `json:"system"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
	Timestamp    time.Time                   `json:"timestamp"`
}

type ApplicationHealth struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
	Uptime      string `json:"uptime"`
	PID         int    `json:"pid"`
	GoVersion   string `json:"go_version"`
	Goroutines  int    `json:"goroutines"`
	HeapAlloc   string `json:"heap_alloc"`
	HeapSys     string `json:"heap_sys"`
	NumGC       uint32 `json:"num_gc"`
}

type SystemHealth struct {
	Platform string `json:"platform"`
	Arch     string `json:"arch"`
	NumCPU   int    `json:"num_cpu"`
	Hostname string `json:"hostname"`
}
