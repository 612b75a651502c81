package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/serroba/admission/internal/clock"
	"github.com/serroba/admission/internal/ratelimit"
	"github.com/serroba/admission/internal/store"
	"github.com/stretchr/testify/require"
)

// start is aligned to every window used in these tests (1s, 5s, 10s).
var start = time.Unix(1_700_000_000, 0)

var andy = ratelimit.Identity{Prefix: "test", Resource: "data", Subject: "andy"}

type env struct {
	store *store.Redis
	mr    *miniredis.Miniredis
	clock *clock.Manual
}

func setup(t *testing.T) *env {
	t.Helper()

	mr := miniredis.RunT(t)

	s, err := store.Open(context.Background(), store.Config{Addr: mr.Addr()})
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return &env{store: s, mr: mr, clock: clock.NewManual(start)}
}

func (e *env) limiter(t *testing.T, alg ratelimit.Algorithm, cfg ratelimit.Config) ratelimit.Limiter {
	t.Helper()

	l, err := ratelimit.New(alg, e.store, cfg, ratelimit.WithClock(e.clock))
	require.NoError(t, err)

	return l
}

// advance moves the manual clock and the server's TTL clock together.
func (e *env) advance(d time.Duration) {
	e.clock.Advance(d)
	e.mr.FastForward(d)
}

func recordN(t *testing.T, l ratelimit.Limiter, id ratelimit.Identity, window time.Duration, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		allowed, err := l.Record(context.Background(), id, window)
		require.NoError(t, err)
		require.True(t, allowed, "record %d should be allowed", i+1)
	}
}
