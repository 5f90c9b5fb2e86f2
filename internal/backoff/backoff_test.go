package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponential_Delay(t *testing.T) {
	e := NewExponential(time.Second, 10*time.Second)

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{20, 10 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, e.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponential_NoCap(t *testing.T) {
	e := NewExponential(100*time.Millisecond, 0)
	assert.Equal(t, 800*time.Millisecond, e.Delay(4))
}

func TestJittered_Delay(t *testing.T) {
	j := &Jittered{Inner: NewExponential(time.Second, 0), Fraction: 0.2}

	for i := 0; i < 100; i++ {
		d := j.Delay(2)
		assert.GreaterOrEqual(t, d, 1600*time.Millisecond)
		assert.LessOrEqual(t, d, 2400*time.Millisecond)
	}

	none := &Jittered{Inner: NewExponential(time.Second, 0)}
	assert.Equal(t, time.Second, none.Delay(1))
}
