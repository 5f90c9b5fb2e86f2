package domain

// JobStatus is the lifecycle state of a job
type JobStatus string

// Job status constants
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
)

// VendorType selects how a vendor delivers its result
type VendorType string

// Vendor type constants
const (
	VendorTypeSync  VendorType = "sync"
	VendorTypeAsync VendorType = "async"
)

// Default vendor names for each vendor type
const (
	SyncVendorName  = "syncVendor"
	AsyncVendorName = "asyncVendor"
)

// IsTerminal reports whether the status can no longer be changed by dispatch
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusComplete, JobStatusFailed:
		return true
	}
	return false
}

// Valid reports whether t is a known vendor type
func (t VendorType) Valid() bool {
	return t == VendorTypeSync || t == VendorTypeAsync
}

// ParseVendorType returns the vendor type for s, defaulting to sync when empty
func ParseVendorType(s string) (VendorType, error) {
	if s == "" {
		return VendorTypeSync, nil
	}
	t := VendorType(s)
	if !t.Valid() {
		return "", ErrInvalidPayload
	}
	return t, nil
}
