package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/admission/internal/clock"
	"github.com/serroba/admission/internal/keys"
	"github.com/serroba/admission/internal/store"
)

const tokenBucketTag = "tb"

// The bucket is refilled in full once a whole window has passed since the last refill.
// There is no continuous trickle between refills.
//
// KEYS[1] last_set_time, KEYS[2] remain_requests
// ARGV[1] now seconds, ARGV[2] window seconds, ARGV[3] capacity
var tokenBucketScript = redis.NewScript(`
local last = redis.call('GET', KEYS[1])
local remaining = redis.call('GET', KEYS[2])
if not last or not remaining or tonumber(ARGV[1]) - tonumber(last) >= tonumber(ARGV[2]) then
	redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
	redis.call('SET', KEYS[2], ARGV[3], 'EX', ARGV[2])
	remaining = ARGV[3]
end
remaining = tonumber(remaining)
if remaining <= 0 then
	return {0, remaining}
end
return {1, redis.call('DECR', KEYS[2])}
`)

// TokenBucket hands out capacity tokens per window and refills them all at once.
type TokenBucket struct {
	base
}

// NewTokenBucket creates a token bucket limiter.
func NewTokenBucket(s Store, cfg Config, opts ...Option) (*TokenBucket, error) {
	b, err := newBase(s, cfg, opts...)
	if err != nil {
		return nil, err
	}

	return &TokenBucket{base: b}, nil
}

func (l *TokenBucket) Record(ctx context.Context, id Identity, window time.Duration) (bool, error) {
	secs, capacity, err := l.window(window)
	if err != nil {
		return false, err
	}

	lastSet, remaining := l.keyPair(id)

	reply, err := l.store.Run(ctx, tokenBucketScript, []string{lastSet, remaining},
		clock.Seconds(l.clock), secs, capacity)
	if err != nil {
		return false, err
	}

	values, err := store.Int64s(reply, 2)
	if err != nil {
		return false, err
	}

	return values[0] == 1, nil
}

// Fetch returns the tokens left in the current window. A bucket that was never filled, or
// whose window has passed, reports full capacity.
func (l *TokenBucket) Fetch(ctx context.Context, id Identity, window time.Duration) (int64, error) {
	secs, capacity, err := l.window(window)
	if err != nil {
		return 0, err
	}

	lastSetKey, remainingKey := l.keyPair(id)

	var lastSet, remaining *redis.StringCmd

	if _, err := l.store.Atomic(ctx, func(pipe redis.Pipeliner) error {
		lastSet = pipe.Get(ctx, lastSetKey)
		remaining = pipe.Get(ctx, remainingKey)

		return nil
	}); err != nil {
		return 0, err
	}

	last, err := lastSet.Int64()
	if errors.Is(err, redis.Nil) {
		return capacity, nil
	}

	if err != nil {
		return 0, &store.Error{Op: "get", Kind: store.ErrCommand, Err: err}
	}

	if clock.Seconds(l.clock)-last >= secs {
		return capacity, nil
	}

	left, err := remaining.Int64()
	if errors.Is(err, redis.Nil) {
		return capacity, nil
	}

	if err != nil {
		return 0, &store.Error{Op: "get", Kind: store.ErrCommand, Err: err}
	}

	return left, nil
}

func (l *TokenBucket) Allow(ctx context.Context, id Identity, window time.Duration) (bool, error) {
	left, err := l.Fetch(ctx, id, window)
	if err != nil {
		return false, err
	}

	return left > 0, nil
}

func (l *TokenBucket) keyPair(id Identity) (lastSet, remaining string) {
	return keys.For(id, tokenBucketTag).Suffix("last_set_time").String(),
		keys.For(id, tokenBucketTag).Suffix("remain_requests").String()
}
