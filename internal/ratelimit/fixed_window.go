package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/admission/internal/clock"
	"github.com/serroba/admission/internal/keys"
	"github.com/serroba/admission/internal/store"
)

const fixedWindowTag = "fw"

// KEYS[1] counter for the current epoch
// ARGV[1] capacity, ARGV[2] window seconds
var fixedWindowScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count >= tonumber(ARGV[1]) then
	return {0, count}
end
count = redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return {1, count}
`)

// FixedWindow counts records per aligned window epoch. A new epoch starts from zero.
type FixedWindow struct {
	base
}

// NewFixedWindow creates a fixed window limiter.
func NewFixedWindow(s Store, cfg Config, opts ...Option) (*FixedWindow, error) {
	b, err := newBase(s, cfg, opts...)
	if err != nil {
		return nil, err
	}

	return &FixedWindow{base: b}, nil
}

func (l *FixedWindow) Record(ctx context.Context, id Identity, window time.Duration) (bool, error) {
	secs, capacity, err := l.window(window)
	if err != nil {
		return false, err
	}

	key := l.key(id, secs)

	reply, err := l.store.Run(ctx, fixedWindowScript, []string{key}, capacity, secs)
	if err != nil {
		return false, err
	}

	values, err := store.Int64s(reply, 2)
	if err != nil {
		return false, err
	}

	return values[0] == 1, nil
}

func (l *FixedWindow) Fetch(ctx context.Context, id Identity, window time.Duration) (int64, error) {
	secs, _, err := l.window(window)
	if err != nil {
		return 0, err
	}

	count, _, err := l.store.Get(ctx, l.key(id, secs))

	return count, err
}

func (l *FixedWindow) Allow(ctx context.Context, id Identity, window time.Duration) (bool, error) {
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

func (l *FixedWindow) key(id Identity, windowSecs int64) string {
	return keys.For(id, fixedWindowTag).
		Epoch(epoch(clock.Seconds(l.clock), windowSecs)).
		String()
}
