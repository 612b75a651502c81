package ratelimit

import (
	"context"
	"fmt"

	"github.com/serroba/admission/internal/store"
)

// Set holds one limiter per algorithm, all sharing a store and a limit.
type Set struct {
	limiters map[Algorithm]Limiter
	leaky    *LeakyBucket
	closer   func() error
}

// NewSet builds every algorithm over s.
func NewSet(s Store, cfg Config, opts ...Option) (*Set, error) {
	set := &Set{limiters: make(map[Algorithm]Limiter, len(Algorithms()))}

	for _, alg := range Algorithms() {
		l, err := New(alg, s, cfg, opts...)
		if err != nil {
			return nil, err
		}

		set.limiters[alg] = l
	}

	set.leaky, _ = set.limiters[LeakyBucketAlgorithm].(*LeakyBucket)

	return set, nil
}

// Open connects to the Redis server at addr and builds every algorithm over it.
// The configuration is validated before dialing; an unreachable server fails with
// store.ErrConnection.
func Open(ctx context.Context, addr string, cfg Config, opts ...Option) (*Set, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := store.Open(ctx, store.Config{Addr: addr})
	if err != nil {
		return nil, err
	}

	set, err := NewSet(s, cfg, opts...)
	if err != nil {
		_ = s.Close()

		return nil, err
	}

	set.closer = s.Close

	return set, nil
}

// Limiter returns the limiter for alg.
func (s *Set) Limiter(alg Algorithm) (Limiter, error) {
	l, ok := s.limiters[alg]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownAlgorithm, alg)
	}

	return l, nil
}

// LeakyBucket returns the leaky bucket limiter, which also exposes Leak.
func (s *Set) LeakyBucket() *LeakyBucket {
	return s.leaky
}

// Close releases the store connection when the set opened it.
func (s *Set) Close() error {
	if s.closer == nil {
		return nil
	}

	return s.closer()
}
