package domain

import (
	"fmt"
	"maps"
	"time"
)

// Document is an opaque structured payload exchanged with vendors
type Document = map[string]any

// Job is a single request to an external vendor tracked through its lifecycle
type Job struct {
	RequestID     string
	VendorType    VendorType
	VendorPayload Document
	Status        JobStatus
	Result        Document
	Error         string
	RetryCount    int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// NewJob creates a pending job
func NewJob(requestID string, vendorType VendorType, payload Document, now time.Time) *Job {
	return &Job{
		RequestID:     requestID,
		VendorType:    vendorType,
		VendorPayload: payload,
		Status:        JobStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a copy that shares no top-level maps with j
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.VendorPayload = maps.Clone(j.VendorPayload)
	c.Result = maps.Clone(j.Result)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// JobUpdate is a partial change to a job. Zero fields are left unchanged.
type JobUpdate struct {
	RequestID        string
	Status           JobStatus
	Result           Document
	Error            *string
	RetryCount       *int
	CompletedAt      *time.Time
	ClearCompletedAt bool
	UpdatedAt        time.Time
}

// Apply merges the update into the job
func (j *Job) Apply(u *JobUpdate) {
	if u.Status != "" {
		j.Status = u.Status
	}
	if u.Result != nil {
		j.Result = u.Result
	}
	if u.Error != nil {
		j.Error = *u.Error
	}
	if u.RetryCount != nil {
		j.RetryCount = *u.RetryCount
	}
	if u.ClearCompletedAt {
		j.CompletedAt = nil
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		j.CompletedAt = &t
	}
	if !u.UpdatedAt.IsZero() {
		j.UpdatedAt = u.UpdatedAt
	}
}

// allowedTransitions lists the status changes dispatch, webhooks and the sweep may make
var allowedTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusComplete},
	JobStatusProcessing: {JobStatusProcessing, JobStatusComplete, JobStatusFailed},
	JobStatusFailed:     {JobStatusPending},
}

// CanTransition reports whether a job may move from one status to another
func CanTransition(from, to JobStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ValidateTransition is the default guard for status changes
func ValidateTransition(current *Job, to JobStatus) error {
	if current.Status == JobStatusComplete {
		return ErrAlreadyComplete
	}
	if to == "" {
		return nil
	}
	if !CanTransition(current.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}
	return nil
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to n
func IntPtr(n int) *int {
	return &n
}

// TimePtr returns a pointer to t
func TimePtr(t time.Time) *time.Time {
	return &t
}
