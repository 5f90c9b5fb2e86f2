package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when a job cannot be found in any store
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyClaimed is returned when a task arrives for a job that is no longer dispatchable
	ErrJobAlreadyClaimed = errors.New("job already claimed or not in a dispatchable status")

	// ErrInvalidPayload is returned for malformed requests, callbacks and queue messages
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrInvalidTransition is returned when a status change is not allowed from the current status
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrAlreadyComplete is returned by guards when the job already reached complete
	ErrAlreadyComplete = errors.New("job already complete")

	// ErrRateLimited signals that the vendor window is saturated and the task was rescheduled
	ErrRateLimited = errors.New("vendor rate limited")

	// ErrJobInFlight is returned when the same job is already being dispatched in this process
	ErrJobInFlight = errors.New("job dispatch already in flight")

	// ErrVendorMismatch is returned when a callback names a vendor that does not own the job
	ErrVendorMismatch = errors.New("vendor does not own job")

	// ErrUnknownVendor is returned when no client is registered for a vendor
	ErrUnknownVendor = errors.New("unknown vendor")

	// ErrMaxRetriesExceeded is returned when a job has exhausted its retry budget
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// RetryableError wraps transient errors that should be retried with backoff
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries a RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// VendorError is a vendor call failure unrelated to rate limiting.
// Its message is what gets recorded on the failed job.
type VendorError struct {
	Vendor  string
	Message string
	Err     error
}

func (e *VendorError) Error() string {
	return e.Message
}

func (e *VendorError) Unwrap() error {
	return e.Err
}

// NewVendorError creates a vendor error with a formatted message
func NewVendorError(vendor string, format string, args ...any) *VendorError {
	return &VendorError{Vendor: vendor, Message: fmt.Sprintf(format, args...)}
}

// AsVendorError extracts a VendorError from err
func AsVendorError(err error) (*VendorError, bool) {
	var vendorErr *VendorError
	if errors.As(err, &vendorErr) {
		return vendorErr, true
	}
	return nil, false
}
