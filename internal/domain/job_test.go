package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from JobStatus
		to   JobStatus
		want bool
	}{
		{"pending to processing", JobStatusPending, JobStatusProcessing, true},
		{"processing to processing", JobStatusProcessing, JobStatusProcessing, true},
		{"processing to complete", JobStatusProcessing, JobStatusComplete, true},
		{"processing to failed", JobStatusProcessing, JobStatusFailed, true},
		{"pending to complete", JobStatusPending, JobStatusComplete, true},
		{"failed to pending", JobStatusFailed, JobStatusPending, true},
		{"pending to failed", JobStatusPending, JobStatusFailed, false},
		{"failed to processing", JobStatusFailed, JobStatusProcessing, false},
		{"complete to failed", JobStatusComplete, JobStatusFailed, false},
		{"complete to pending", JobStatusComplete, JobStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestValidateTransition(t *testing.T) {
	job := &Job{Status: JobStatusComplete}
	assert.ErrorIs(t, ValidateTransition(job, JobStatusComplete), ErrAlreadyComplete)
	assert.ErrorIs(t, ValidateTransition(job, ""), ErrAlreadyComplete)

	job.Status = JobStatusFailed
	assert.ErrorIs(t, ValidateTransition(job, JobStatusProcessing), ErrInvalidTransition)
	assert.NoError(t, ValidateTransition(job, JobStatusPending))
	assert.NoError(t, ValidateTransition(job, ""))
}

func TestJob_Apply(t *testing.T) {
	now := time.Now().UTC()
	job := NewJob("id", VendorTypeSync, Document{"a": 1}, now)
	job.Status = JobStatusFailed
	job.Error = "boom"
	job.CompletedAt = TimePtr(now)

	later := now.Add(time.Minute)
	job.Apply(&JobUpdate{
		Status:           JobStatusPending,
		Error:            StringPtr(""),
		RetryCount:       IntPtr(1),
		ClearCompletedAt: true,
		UpdatedAt:        later,
	})

	assert.Equal(t, JobStatusPending, job.Status)
	assert.Empty(t, job.Error)
	assert.Equal(t, 1, job.RetryCount)
	assert.Nil(t, job.CompletedAt)
	assert.Equal(t, later, job.UpdatedAt)
	assert.Equal(t, Document{"a": 1}, job.VendorPayload)
}

func TestJob_Clone(t *testing.T) {
	job := NewJob("id", VendorTypeAsync, Document{"a": 1}, time.Now())
	c := job.Clone()
	c.VendorPayload["a"] = 2
	assert.Equal(t, 1, job.VendorPayload["a"])
}

func TestParseVendorType(t *testing.T) {
	vt, err := ParseVendorType("")
	require.NoError(t, err)
	assert.Equal(t, VendorTypeSync, vt)

	vt, err = ParseVendorType("async")
	require.NoError(t, err)
	assert.Equal(t, VendorTypeAsync, vt)

	_, err = ParseVendorType("batch")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestDispatchTask_Validate(t *testing.T) {
	task := DispatchTask{RequestID: uuid.NewString(), VendorType: VendorTypeSync, VendorPayload: Document{}}
	require.NoError(t, task.Validate())
	assert.Equal(t, 1, task.Attempt)

	bad := DispatchTask{RequestID: "nope", VendorType: VendorTypeSync, VendorPayload: Document{}}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPayload)

	bad = DispatchTask{RequestID: uuid.NewString(), VendorType: "other", VendorPayload: Document{}}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPayload)
}

func TestVendorError(t *testing.T) {
	var err error = NewVendorError("syncVendor", "vendor rejected request %s", "x")
	wrapped := errors.Join(errors.New("ctx"), err)

	vendorErr, ok := AsVendorError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "syncVendor", vendorErr.Vendor)
	assert.Equal(t, "vendor rejected request x", vendorErr.Error())
	assert.False(t, IsRetryable(err))
	assert.True(t, IsRetryable(NewRetryableError(err)))
}
