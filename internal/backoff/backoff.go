// Package backoff computes retry delays for dispatch tasks that failed for
// transport reasons.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed)
	Delay(attempt int) time.Duration
}

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// Jittered spreads an inner strategy's delay by up to Fraction in either direction
type Jittered struct {
	Inner    Strategy
	Fraction float64
}

// Delay returns the inner delay scaled by a random factor in [1-Fraction, 1+Fraction]
func (j *Jittered) Delay(attempt int) time.Duration {
	d := j.Inner.Delay(attempt)
	if j.Fraction <= 0 {
		return d
	}
	factor := 1 + j.Fraction*(2*rand.Float64()-1) //nolint:gosec // jitter does not need crypto rand
	return time.Duration(float64(d) * factor)
}
