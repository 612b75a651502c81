package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/admission/internal/clock"
	"github.com/serroba/admission/internal/keys"
	"github.com/serroba/admission/internal/store"
)

const leakyBucketTag = "lb"

// KEYS[1] queue
// ARGV[1] capacity, ARGV[2] marker (current epoch), ARGV[3] window seconds
var leakyBucketScript = redis.NewScript(`
local length = redis.call('LLEN', KEYS[1])
if length >= tonumber(ARGV[1]) then
	return {0, length}
end
length = redis.call('RPUSH', KEYS[1], ARGV[2])
redis.call('EXPIRE', KEYS[1], ARGV[3])
return {1, length}
`)

// Removes every marker outside [ARGV[1], ARGV[1] + ARGV[2]). Each distinct value is removed once.
//
// KEYS[1] queue
// ARGV[1] current epoch, ARGV[2] window seconds
var leakByRangeScript = redis.NewScript(`
local items = redis.call('LRANGE', KEYS[1], 0, -1)
local low = tonumber(ARGV[1])
local high = low + tonumber(ARGV[2])
local seen = {}
local removed = 0
for _, item in ipairs(items) do
	if not seen[item] then
		seen[item] = true
		local marker = tonumber(item)
		if marker == nil or marker < low or marker >= high then
			removed = removed + redis.call('LREM', KEYS[1], 0, item)
		end
	end
end
return {removed}
`)

// LeakyBucket queues one epoch marker per admitted record. A leak, run once per window by a
// Drainer or any other caller, discards markers from past windows and frees capacity.
type LeakyBucket struct {
	base
}

// NewLeakyBucket creates a leaky bucket limiter.
func NewLeakyBucket(s Store, cfg Config, opts ...Option) (*LeakyBucket, error) {
	b, err := newBase(s, cfg, opts...)
	if err != nil {
		return nil, err
	}

	return &LeakyBucket{base: b}, nil
}

func (l *LeakyBucket) Record(ctx context.Context, id Identity, window time.Duration) (bool, error) {
	secs, capacity, err := l.window(window)
	if err != nil {
		return false, err
	}

	marker := epoch(clock.Seconds(l.clock), secs)

	reply, err := l.store.Run(ctx, leakyBucketScript, []string{l.key(id)}, capacity, marker, secs)
	if err != nil {
		return false, err
	}

	values, err := store.Int64s(reply, 2)
	if err != nil {
		return false, err
	}

	return values[0] == 1, nil
}

// Fetch returns the queue length.
func (l *LeakyBucket) Fetch(ctx context.Context, id Identity, window time.Duration) (int64, error) {
	if _, _, err := l.window(window); err != nil {
		return 0, err
	}

	return l.store.LLen(ctx, l.key(id))
}

func (l *LeakyBucket) Allow(ctx context.Context, id Identity, window time.Duration) (bool, error) {
	_, capacity, err := l.window(window)
	if err != nil {
		return false, err
	}

	length, err := l.Fetch(ctx, id, window)
	if err != nil {
		return false, err
	}

	return length < capacity, nil
}

// Leak drops markers that do not belong to the current window and returns how many went.
func (l *LeakyBucket) Leak(ctx context.Context, id Identity, window time.Duration) (int64, error) {
	secs, _, err := l.window(window)
	if err != nil {
		return 0, err
	}

	current := epoch(clock.Seconds(l.clock), secs)

	if l.cfg.Leak == LeakByPosition {
		return l.leakByPosition(ctx, l.key(id), current)
	}

	reply, err := l.store.Run(ctx, leakByRangeScript, []string{l.key(id)}, current, secs)
	if err != nil {
		return 0, err
	}

	values, err := store.Int64s(reply, 1)
	if err != nil {
		return 0, err
	}

	return values[0], nil
}

// leakByPosition keeps the queue from the first current-epoch marker onwards. Markers are
// pushed in arrival order, so everything before it is stale. When no current marker exists
// the whole queue is stale.
func (l *LeakyBucket) leakByPosition(ctx context.Context, key string, current int64) (int64, error) {
	length, err := l.store.LLen(ctx, key)
	if err != nil || length == 0 {
		return 0, err
	}

	idx, found, err := l.store.LPos(ctx, key, strconv.FormatInt(current, 10), 1)
	if err != nil {
		return 0, err
	}

	if !found {
		// start past stop empties the list
		if err := l.store.LTrim(ctx, key, 1, 0); err != nil {
			return 0, err
		}

		return length, nil
	}

	if idx == 0 {
		return 0, nil
	}

	if err := l.store.LTrim(ctx, key, idx, -1); err != nil {
		return 0, err
	}

	return idx, nil
}

func (l *LeakyBucket) key(id Identity) string {
	return keys.For(id, leakyBucketTag).String()
}
