// Package ratelimit implements request admission over a shared Redis store.
//
// Every algorithm takes its admission decision and the matching state change in a single
// Lua script, so concurrent callers in any number of processes never admit more than the
// configured capacity. Keys always carry a TTL; expiry is the only cleanup.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jaevor/go-nanoid"
	"github.com/serroba/admission/internal/clock"
	"github.com/serroba/admission/internal/keys"
)

// Identity is the caller tuple a limit is tracked against.
type Identity = keys.Identity

// Limiter defines the interface shared by every admission algorithm.
type Limiter interface {
	// Record attempts to consume one unit of capacity.
	Record(ctx context.Context, id Identity, window time.Duration) (allowed bool, err error)
	// Fetch reports current consumption without mutating state.
	Fetch(ctx context.Context, id Identity, window time.Duration) (count int64, err error)
	// Allow reports whether a Record issued now would be admitted, without consuming capacity.
	Allow(ctx context.Context, id Identity, window time.Duration) (allowed bool, err error)
}

// Option configures a limiter.
type Option func(*base)

// WithClock overrides the wall clock.
func WithClock(c clock.Clock) Option {
	return func(b *base) {
		b.clock = c
	}
}

// WithMemberGenerator overrides how sliding log members are made unique.
func WithMemberGenerator(gen func() string) Option {
	return func(b *base) {
		b.member = gen
	}
}

// base carries what every algorithm needs: the store, the limit and a clock.
type base struct {
	store  Store
	cfg    Config
	clock  clock.Clock
	member func() string
}

func newBase(store Store, cfg Config, opts ...Option) (base, error) {
	if err := cfg.Validate(); err != nil {
		return base{}, err
	}

	b := base{
		store: store,
		cfg:   cfg.withDefaults(),
		clock: clock.NewSystem(),
	}

	for _, opt := range opts {
		opt(&b)
	}

	if b.member == nil {
		gen, err := nanoid.Standard(12)
		if err != nil {
			return base{}, fmt.Errorf("member generator: %w", err)
		}

		b.member = gen
	}

	return b, nil
}

// window validates a window and returns its seconds and the capacity it admits.
func (b base) window(window time.Duration) (secs, capacity int64, err error) {
	secs, err = WindowSeconds(window)
	if err != nil {
		return 0, 0, err
	}

	capacity, err = b.cfg.CapacityFor(window)
	if err != nil {
		return 0, 0, err
	}

	return secs, capacity, nil
}

// epoch truncates now to the start of its window, in seconds.
func epoch(nowSecs, windowSecs int64) int64 {
	return nowSecs - nowSecs%windowSecs
}

// New builds the limiter for alg.
func New(alg Algorithm, store Store, cfg Config, opts ...Option) (Limiter, error) {
	switch alg {
	case FixedWindowAlgorithm:
		return build(NewFixedWindow(store, cfg, opts...))
	case SlidingLogAlgorithm:
		return build(NewSlidingLog(store, cfg, opts...))
	case SlidingWindowAlgorithm:
		return build(NewSlidingWindow(store, cfg, opts...))
	case LeakyBucketAlgorithm:
		return build(NewLeakyBucket(store, cfg, opts...))
	case TokenBucketAlgorithm:
		return build(NewTokenBucket(store, cfg, opts...))
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownAlgorithm, alg)
	}
}

// build keeps a failed constructor from yielding a non-nil interface around a nil pointer.
func build[L Limiter](l L, err error) (Limiter, error) {
	if err != nil {
		return nil, err
	}

	return l, nil
}
