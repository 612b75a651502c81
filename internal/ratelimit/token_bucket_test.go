package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/serroba/admission/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	window := 5 * time.Second

	t.Run("untouched bucket reports full capacity", func(t *testing.T) {
		e := setup(t)
		l := e.limiter(t, ratelimit.TokenBucketAlgorithm, ratelimit.Config{LimitPerSecond: 1})

		left, err := l.Fetch(ctx, andy, window)
		require.NoError(t, err)
		assert.Equal(t, int64(5), left)
	})

	t.Run("each record takes exactly one token", func(t *testing.T) {
		e := setup(t)
		l := e.limiter(t, ratelimit.TokenBucketAlgorithm, ratelimit.Config{LimitPerSecond: 1})

		for want := int64(4); want >= 0; want-- {
			recordN(t, l, andy, window, 1)

			left, err := l.Fetch(ctx, andy, window)
			require.NoError(t, err)
			assert.Equal(t, want, left)
		}

		allowed, err := l.Record(ctx, andy, window)
		require.NoError(t, err)
		assert.False(t, allowed)

		left, err := l.Fetch(ctx, andy, window)
		require.NoError(t, err)
		assert.Zero(t, left, "denied records must not take tokens")
	})

	t.Run("state keys carry the window ttl", func(t *testing.T) {
		e := setup(t)
		l := e.limiter(t, ratelimit.TokenBucketAlgorithm, ratelimit.Config{LimitPerSecond: 1})

		recordN(t, l, andy, window, 1)

		assert.Equal(t, window, e.mr.TTL("{test:data:andy}:tb:last_set_time"))
		assert.Equal(t, window, e.mr.TTL("{test:data:andy}:tb:remain_requests"))
	})

	t.Run("refills in full once the window has passed", func(t *testing.T) {
		e := setup(t)
		l := e.limiter(t, ratelimit.TokenBucketAlgorithm, ratelimit.Config{LimitPerSecond: 1})

		recordN(t, l, andy, window, 5)

		// keys still present, refill is decided by age alone
		e.clock.Advance(window)

		left, err := l.Fetch(ctx, andy, window)
		require.NoError(t, err)
		assert.Equal(t, int64(5), left)

		recordN(t, l, andy, window, 1)

		left, err = l.Fetch(ctx, andy, window)
		require.NoError(t, err)
		assert.Equal(t, int64(4), left)
	})

	t.Run("no partial refill inside the window", func(t *testing.T) {
		e := setup(t)
		l := e.limiter(t, ratelimit.TokenBucketAlgorithm, ratelimit.Config{LimitPerSecond: 1})

		recordN(t, l, andy, window, 5)

		e.advance(window - time.Second)

		allowed, err := l.Record(ctx, andy, window)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("missing remaining count triggers a refill", func(t *testing.T) {
		e := setup(t)
		l := e.limiter(t, ratelimit.TokenBucketAlgorithm, ratelimit.Config{LimitPerSecond: 1})

		recordN(t, l, andy, window, 5)

		e.mr.Del("{test:data:andy}:tb:remain_requests")

		recordN(t, l, andy, window, 1)

		left, err := l.Fetch(ctx, andy, window)
		require.NoError(t, err)
		assert.Equal(t, int64(4), left)
	})
}
