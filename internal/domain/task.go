package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// DispatchTask is the unit carried by the dispatch queue
type DispatchTask struct {
	RequestID     string     `json:"request_id"`
	VendorType    VendorType `json:"vendor_type"`
	VendorPayload Document   `json:"vendor_payload"`
	Attempt       int        `json:"attempt"`
}

// TaskFromJob builds a first-attempt dispatch task for the job
func TaskFromJob(job *Job) DispatchTask {
	return DispatchTask{
		RequestID:     job.RequestID,
		VendorType:    job.VendorType,
		VendorPayload: job.VendorPayload,
		Attempt:       1,
	}
}

// Validate checks a task decoded from the queue
func (t *DispatchTask) Validate() error {
	if _, err := uuid.Parse(t.RequestID); err != nil {
		return fmt.Errorf("%w: request_id must be a valid UUID", ErrInvalidPayload)
	}
	if !t.VendorType.Valid() {
		return fmt.Errorf("%w: unknown vendor_type %q", ErrInvalidPayload, t.VendorType)
	}
	if t.VendorPayload == nil {
		return fmt.Errorf("%w: vendor_payload is required", ErrInvalidPayload)
	}
	if t.Attempt < 1 {
		t.Attempt = 1
	}
	return nil
}
