package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidConfig is returned for limits or windows the limiters cannot enforce.
	ErrInvalidConfig = errors.New("invalid rate limit configuration")
	// ErrUnknownAlgorithm is returned when no limiter exists for the requested algorithm.
	ErrUnknownAlgorithm = fmt.Errorf("%w: unknown algorithm", ErrInvalidConfig)
)

// Algorithm names an admission algorithm.
type Algorithm string

const (
	FixedWindowAlgorithm   Algorithm = "fixed-window"
	SlidingLogAlgorithm    Algorithm = "sliding-log"
	SlidingWindowAlgorithm Algorithm = "sliding-window"
	LeakyBucketAlgorithm   Algorithm = "leaky-bucket"
	TokenBucketAlgorithm   Algorithm = "token-bucket"
)

// Algorithms lists every supported algorithm.
func Algorithms() []Algorithm {
	return []Algorithm{
		FixedWindowAlgorithm,
		SlidingLogAlgorithm,
		SlidingWindowAlgorithm,
		LeakyBucketAlgorithm,
		TokenBucketAlgorithm,
	}
}

// ParseAlgorithm resolves an algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	for _, alg := range Algorithms() {
		if string(alg) == name {
			return alg, nil
		}
	}

	return "", fmt.Errorf("%w %q", ErrUnknownAlgorithm, name)
}

// CapacityMode selects how the configured limit turns into a per-window capacity.
type CapacityMode string

const (
	// CapacityPerWindow treats the limit as a per-second rate: capacity = limit × window seconds.
	CapacityPerWindow CapacityMode = "per-window"
	// CapacityAbsolute caps every window at the limit, whatever its length.
	CapacityAbsolute CapacityMode = "absolute"
)

// LeakStrategy selects how the leaky bucket discards stale markers.
type LeakStrategy string

const (
	// LeakByRange removes every marker whose epoch lies outside the current window.
	LeakByRange LeakStrategy = "range"
	// LeakByPosition trims the queue in front of the first current-epoch marker.
	// The lookup and the trim are separate commands, so a concurrent push between them
	// can shift the index. Prefer LeakByRange.
	LeakByPosition LeakStrategy = "position"
)

// Config holds the limit shared by every algorithm.
type Config struct {
	// LimitPerSecond is the configured rate. Must be positive.
	LimitPerSecond int64
	// Capacity defaults to CapacityPerWindow.
	Capacity CapacityMode
	// Leak defaults to LeakByRange.
	Leak LeakStrategy
}

// Validate reports configuration errors. Empty modes are valid and take their defaults.
func (c Config) Validate() error {
	if c.LimitPerSecond <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidConfig, c.LimitPerSecond)
	}

	switch c.Capacity {
	case "", CapacityPerWindow, CapacityAbsolute:
	default:
		return fmt.Errorf("%w: unknown capacity mode %q", ErrInvalidConfig, c.Capacity)
	}

	switch c.Leak {
	case "", LeakByRange, LeakByPosition:
	default:
		return fmt.Errorf("%w: unknown leak strategy %q", ErrInvalidConfig, c.Leak)
	}

	return nil
}

func (c Config) withDefaults() Config {
	if c.Capacity == "" {
		c.Capacity = CapacityPerWindow
	}

	if c.Leak == "" {
		c.Leak = LeakByRange
	}

	return c
}

// CapacityFor returns the number of units admitted per window.
func (c Config) CapacityFor(window time.Duration) (int64, error) {
	secs, err := WindowSeconds(window)
	if err != nil {
		return 0, err
	}

	if c.Capacity == CapacityAbsolute {
		return c.LimitPerSecond, nil
	}

	if secs > math.MaxInt64/c.LimitPerSecond {
		return 0, fmt.Errorf("%w: capacity of %d per second over %s overflows", ErrInvalidConfig, c.LimitPerSecond, window)
	}

	return c.LimitPerSecond * secs, nil
}

// WindowSeconds validates a window and returns its length in whole seconds.
// Windows shorter than a second or with a fractional second part are rejected.
func WindowSeconds(window time.Duration) (int64, error) {
	if window < time.Second || window%time.Second != 0 {
		return 0, fmt.Errorf("%w: window must be a whole number of seconds, got %s", ErrInvalidConfig, window)
	}

	return int64(window / time.Second), nil
}
