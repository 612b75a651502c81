// Package clock abstracts the wall clock so window arithmetic can be tested deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current wall-clock time.
type Clock interface {
	Now() time.Time
}

// System reads the local wall clock.
type System struct{}

// NewSystem creates a clock backed by time.Now.
func NewSystem() System {
	return System{}
}

func (System) Now() time.Time {
	return time.Now()
}

// Manual is a clock that only moves when told to. Safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.now
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (m *Manual) Advance(d time.Duration) {
	if d < 0 {
		return
	}

	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set jumps the clock to t, possibly backwards.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Seconds returns whole seconds since the Unix epoch.
func Seconds(c Clock) int64 {
	return c.Now().Unix()
}

// Millis returns milliseconds since the Unix epoch.
func Millis(c Clock) int64 {
	return c.Now().UnixMilli()
}
