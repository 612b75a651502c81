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

const slidingLogTag = "sl"

// Stale entries are pruned before counting so an expired burst never causes a denial.
//
// KEYS[1] ledger
// ARGV[1] now ms, ARGV[2] prune cutoff ms (inclusive), ARGV[3] capacity,
// ARGV[4] member, ARGV[5] window seconds
var slidingLogScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[3]) then
	return {0, count}
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('EXPIRE', KEYS[1], ARGV[5])
return {1, count + 1}
`)

// SlidingLog keeps one ledger entry per admitted record and counts the trailing window exactly.
type SlidingLog struct {
	base
}

// NewSlidingLog creates a sliding log limiter.
func NewSlidingLog(s Store, cfg Config, opts ...Option) (*SlidingLog, error) {
	b, err := newBase(s, cfg, opts...)
	if err != nil {
		return nil, err
	}

	return &SlidingLog{base: b}, nil
}

func (l *SlidingLog) Record(ctx context.Context, id Identity, window time.Duration) (bool, error) {
	secs, capacity, err := l.window(window)
	if err != nil {
		return false, err
	}

	now := clock.Millis(l.clock)
	cutoff := now - window.Milliseconds()
	// Members must be unique or two records in the same millisecond collapse into one.
	member := strconv.FormatInt(now, 10) + "-" + l.member()

	reply, err := l.store.Run(ctx, slidingLogScript, []string{l.key(id)},
		now, cutoff, capacity, member, secs)
	if err != nil {
		return false, err
	}

	values, err := store.Int64s(reply, 2)
	if err != nil {
		return false, err
	}

	return values[0] == 1, nil
}

// Fetch counts entries newer than now minus the window. It never prunes.
func (l *SlidingLog) Fetch(ctx context.Context, id Identity, window time.Duration) (int64, error) {
	if _, _, err := l.window(window); err != nil {
		return 0, err
	}

	cutoff := clock.Millis(l.clock) - window.Milliseconds()

	return l.store.ZCount(ctx, l.key(id), "("+strconv.FormatInt(cutoff, 10), "+inf")
}

func (l *SlidingLog) Allow(ctx context.Context, id Identity, window time.Duration) (bool, error) {
	_, capacity, err := l.window(window)
	if err != nil {
		return false, err
	}

	count, err := l.Fetch(ctx, id, window)
	if err != nil {
		return false, err
	}

	return count < capacity, nil
}

func (l *SlidingLog) key(id Identity) string {
	return keys.For(id, slidingLogTag).String()
}
