package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/admission/internal/keys"
	"github.com/serroba/admission/internal/store"
)

const slidingWindowTag = "sw"

// The previous counter is only read. The current one lives two windows so that it can
// serve as the previous counter of the next epoch.
//
// KEYS[1] current counter, KEYS[2] previous counter
// ARGV[1] capacity, ARGV[2] ms until the next window, ARGV[3] window ms, ARGV[4] ttl seconds
var slidingWindowScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local previous = tonumber(redis.call('GET', KEYS[2]) or '0')
local remaining = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local estimate = current + math.floor((2 * previous * remaining + window) / (2 * window))
if estimate >= tonumber(ARGV[1]) then
	return {0, estimate}
end
redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[4])
return {1, estimate + 1}
`)

// SlidingWindow approximates a trailing window from two aligned counters, weighting the
// previous window by how much of it still overlaps the trailing interval.
type SlidingWindow struct {
	base
}

// NewSlidingWindow creates a weighted sliding window limiter.
func NewSlidingWindow(s Store, cfg Config, opts ...Option) (*SlidingWindow, error) {
	b, err := newBase(s, cfg, opts...)
	if err != nil {
		return nil, err
	}

	return &SlidingWindow{base: b}, nil
}

func (l *SlidingWindow) Record(ctx context.Context, id Identity, window time.Duration) (bool, error) {
	secs, capacity, err := l.window(window)
	if err != nil {
		return false, err
	}

	span := l.span(id, secs)

	reply, err := l.store.Run(ctx, slidingWindowScript, []string{span.current, span.previous},
		capacity, span.remainingMs, span.windowMs, 2*secs)
	if err != nil {
		return false, err
	}

	values, err := store.Int64s(reply, 2)
	if err != nil {
		return false, err
	}

	return values[0] == 1, nil
}

// Fetch returns the weighted estimate for the trailing window.
func (l *SlidingWindow) Fetch(ctx context.Context, id Identity, window time.Duration) (int64, error) {
	secs, _, err := l.window(window)
	if err != nil {
		return 0, err
	}

	span := l.span(id, secs)

	counts, err := l.store.MGet(ctx, span.current, span.previous)
	if err != nil {
		return 0, err
	}

	return Estimate(counts[0], counts[1], span.remainingMs, span.windowMs), nil
}

func (l *SlidingWindow) Allow(ctx context.Context, id Identity, window time.Duration) (bool, error) {
	_, capacity, err := l.window(window)
	if err != nil {
		return false, err
	}

	estimate, err := l.Fetch(ctx, id, window)
	if err != nil {
		return false, err
	}

	return estimate < capacity, nil
}

// Estimate returns current + round(previous × remainingMs / windowMs), rounding halves away
// from zero. Integer arithmetic keeps the result identical to the one computed in the script.
func Estimate(current, previous, remainingMs, windowMs int64) int64 {
	return current + (2*previous*remainingMs+windowMs)/(2*windowMs)
}

type windowSpan struct {
	current     string
	previous    string
	remainingMs int64
	windowMs    int64
}

func (l *SlidingWindow) span(id Identity, windowSecs int64) windowSpan {
	now := l.clock.Now()
	current := epoch(now.Unix(), windowSecs)
	next := (current + windowSecs) * 1000

	return windowSpan{
		current:     keys.For(id, slidingWindowTag).Epoch(current).String(),
		previous:    keys.For(id, slidingWindowTag).Epoch(current - windowSecs).String(),
		remainingMs: next - now.UnixMilli(),
		windowMs:    windowSecs * 1000,
	}
}
