package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func setupLimiter(t *testing.T, limits map[string]Limit) (*Limiter, *miniredis.Miniredis, *fakeClock) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_250).UTC()}
	return New(client, limits, WithClock(clock)), mr, clock
}

func TestLimiter_TryAdmit(t *testing.T) {
	limiter, mr, _ := setupLimiter(t, map[string]Limit{
		"syncVendor": {Max: 5, Duration: time.Second},
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := limiter.TryAdmit(ctx, "syncVendor")
		require.NoError(t, err)
		assert.True(t, ok, "call %d should be admitted", i+1)
	}

	ok, err := limiter.TryAdmit(ctx, "syncVendor")
	require.NoError(t, err)
	assert.False(t, ok)

	key := "rate_limit:syncVendor:1700000000000"
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "5", got)
	assert.Equal(t, time.Second, mr.TTL(key))
}

func TestLimiter_NewWindowAdmitsAgain(t *testing.T) {
	limiter, _, clock := setupLimiter(t, map[string]Limit{
		"asyncVendor": {Max: 1, Duration: time.Second},
	})
	ctx := context.Background()

	ok, err := limiter.TryAdmit(ctx, "asyncVendor")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.TryAdmit(ctx, "asyncVendor")
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Set(clock.Now().Add(limiter.TimeUntilNextWindow("asyncVendor")))

	ok, err = limiter.TryAdmit(ctx, "asyncVendor")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLimiter_VendorsAreIndependent(t *testing.T) {
	limiter, _, _ := setupLimiter(t, map[string]Limit{
		"a": {Max: 1, Duration: time.Second},
		"b": {Max: 1, Duration: time.Second},
	})
	ctx := context.Background()

	ok, _ := limiter.TryAdmit(ctx, "a")
	assert.True(t, ok)
	ok, _ = limiter.TryAdmit(ctx, "b")
	assert.True(t, ok)
	ok, _ = limiter.TryAdmit(ctx, "a")
	assert.False(t, ok)
}

func TestLimiter_ConcurrentCallersNeverExceedMax(t *testing.T) {
	limiter, _, _ := setupLimiter(t, map[string]Limit{
		"syncVendor": {Max: 5, Duration: time.Minute},
	})
	ctx := context.Background()

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := limiter.TryAdmit(ctx, "syncVendor")
			if err == nil && ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), admitted.Load())
}

func TestLimiter_UnknownVendorUsesDefault(t *testing.T) {
	limiter, _, _ := setupLimiter(t, nil)
	ctx := context.Background()

	assert.Equal(t, DefaultLimit, limiter.LimitFor("mystery"))

	ok, err := limiter.TryAdmit(ctx, "mystery")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = limiter.TryAdmit(ctx, "mystery")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLimiter_TimeUntilNextWindow(t *testing.T) {
	tests := []struct {
		name     string
		nowMilli int64
		duration time.Duration
		expected time.Duration
	}{
		{"mid window", 1_700_000_000_250, time.Second, 750 * time.Millisecond},
		{"window start", 1_700_000_000_000, time.Second, time.Second},
		{"last millisecond", 1_700_000_000_999, time.Second, time.Millisecond},
		{"five second window", 1_700_000_001_000, 5 * time.Second, 4 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, _, clock := setupLimiter(t, map[string]Limit{"v": {Max: 1, Duration: tt.duration}})
			clock.Set(time.UnixMilli(tt.nowMilli))
			assert.Equal(t, tt.expected, limiter.TimeUntilNextWindow("v"))
		})
	}
}

func TestLimiter_StoreErrorIsReturned(t *testing.T) {
	limiter, mr, _ := setupLimiter(t, nil)
	mr.Close()

	ok, err := limiter.TryAdmit(context.Background(), "syncVendor")
	require.Error(t, err)
	assert.False(t, ok)
}

func TestLimiter_KeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	clock := &fakeClock{now: time.UnixMilli(2_000)}
	limiter := New(client, nil, WithClock(clock), WithKeyPrefix("gw"), WithDefaultLimit(Limit{Max: 2, Duration: time.Second}))

	ok, err := limiter.TryAdmit(context.Background(), "v")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("gw:v:2000"))
}
