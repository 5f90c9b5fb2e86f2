// Package ratelimit implements per-vendor fixed-window admission control
// shared by every dispatch worker through Redis.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// admitScript checks and increments the window counter in one step.
// KEYS[1] window key, ARGV[1] max, ARGV[2] window length in milliseconds.
var admitScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
	if tonumber(current) < tonumber(ARGV[1]) then
		redis.call('INCR', KEYS[1])
		return 1
	end
	return 0
end
redis.call('SET', KEYS[1], 1, 'PX', ARGV[2])
return 1
`)

// Limit is the number of calls admitted per window
type Limit struct {
	Max      int
	Duration time.Duration
}

// DefaultLimit applies to vendors without a configured limit
var DefaultLimit = Limit{Max: 1, Duration: time.Second}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock overrides the time source
func WithClock(clock Clock) Option {
	return func(l *Limiter) { l.clock = clock }
}

// WithKeyPrefix overrides the "rate_limit" key prefix
func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) { l.prefix = prefix }
}

// WithDefaultLimit overrides the limit used for unknown vendors
func WithDefaultLimit(limit Limit) Option {
	return func(l *Limiter) { l.fallback = limit }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// Limiter admits vendor calls under a fixed-window limit per vendor
type Limiter struct {
	client   redis.Scripter
	limits   map[string]Limit
	fallback Limit
	prefix   string
	clock    Clock
	logger   *slog.Logger
}

// New creates a limiter backed by the given Redis client
func New(client redis.Scripter, limits map[string]Limit, opts ...Option) *Limiter {
	l := &Limiter{
		client:   client,
		limits:   limits,
		fallback: DefaultLimit,
		prefix:   "rate_limit",
		clock:    SystemClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryAdmit reports whether a call to vendor is admitted in the current window.
// A denial is not an error. Errors only come from the shared store.
func (l *Limiter) TryAdmit(ctx context.Context, vendor string) (bool, error) {
	limit := l.limitFor(vendor)
	key := l.windowKey(vendor, l.windowStart(limit, l.clock.Now()))

	res, err := admitScript.Run(ctx, l.client, []string{key}, limit.Max, limit.Duration.Milliseconds()).Int()
	if err != nil {
		l.logger.Error("Rate limiter check failed",
			slog.String("vendor", vendor),
			slog.String("key", key),
			slog.Any("error", err),
		)
		return false, fmt.Errorf("rate limiter check for %s: %w", vendor, err)
	}

	admitted := res == 1
	l.logger.Debug("Rate limiter decision",
		slog.String("vendor", vendor),
		slog.String("key", key),
		slog.Bool("admitted", admitted),
	)

	return admitted, nil
}

// TimeUntilNextWindow returns the time left before the vendor's next window opens
func (l *Limiter) TimeUntilNextWindow(vendor string) time.Duration {
	limit := l.limitFor(vendor)
	now := l.clock.Now()
	next := l.windowStart(limit, now) + limit.Duration.Milliseconds()
	return time.Duration(next-now.UnixMilli()) * time.Millisecond
}

// LimitFor returns the limit applied to vendor
func (l *Limiter) LimitFor(vendor string) Limit {
	return l.limitFor(vendor)
}

func (l *Limiter) limitFor(vendor string) Limit {
	if limit, ok := l.limits[vendor]; ok && limit.Max > 0 && limit.Duration >= time.Millisecond {
		return limit
	}
	return l.fallback
}

// windowStart returns floor(now / duration) * duration in unix milliseconds
func (l *Limiter) windowStart(limit Limit, now time.Time) int64 {
	d := limit.Duration.Milliseconds()
	return now.UnixMilli() / d * d
}

func (l *Limiter) windowKey(vendor string, windowStart int64) string {
	return fmt.Sprintf("%s:%s:%d", l.prefix, vendor, windowStart)
}
