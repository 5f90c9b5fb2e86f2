package ratelimit

import "time"

// Clock provides the current time
type Clock interface {
	Now() time.Time
}

// SystemClock returns the wall clock time
type SystemClock struct{}

// Now returns time.Now in UTC
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
