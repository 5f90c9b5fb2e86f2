package rabbitmq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayQueueFor(t *testing.T) {
	classes := []time.Duration{2 * time.Second, 10 * time.Second, time.Minute}

	tests := []struct {
		name     string
		classes  []time.Duration
		delay    time.Duration
		expected string
	}{
		{"rate limit deferral", classes, 1100 * time.Millisecond, "dispatch.delay.2s"},
		{"exact class bound", classes, 10 * time.Second, "dispatch.delay.10s"},
		{"between classes", classes, 16 * time.Second, "dispatch.delay.1m0s"},
		{"beyond longest class", classes, 5 * time.Minute, "dispatch.delay.1m0s"},
		{"no classes", nil, 30 * time.Second, "dispatch.delay"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DelayQueueFor("dispatch.delay", tt.classes, tt.delay))
		})
	}
}

func TestDelayQueueNames(t *testing.T) {
	assert.Equal(t,
		[]string{"dispatch.delay.2s", "dispatch.delay.1m0s"},
		DelayQueueNames("dispatch.delay", []time.Duration{2 * time.Second, time.Minute}),
	)
	assert.Equal(t, []string{"dispatch.delay"}, DelayQueueNames("dispatch.delay", nil))
}

func TestDelayQueueFor_ShortDelayNeverSharesLongQueue(t *testing.T) {
	classes := []time.Duration{2 * time.Second, 10 * time.Second, time.Minute}

	deferral := DelayQueueFor("q.delay", classes, 1100*time.Millisecond)
	backoff := DelayQueueFor("q.delay", classes, time.Minute)

	assert.NotEqual(t, deferral, backoff)
}
