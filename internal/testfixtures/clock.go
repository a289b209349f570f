package testfixtures

import (
	"sync"
	"time"
)

// ReferenceTime is the shared deterministic anchor used across tests.
func ReferenceTime() time.Time {
	return time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)
}

// Clock provides controllable wall and monotonic time sources for tests.
// Advancing the clock moves both in lockstep, which mirrors a machine whose
// wall clock is not being adjusted; Set moves only the wall clock.
type Clock struct {
	mu   sync.Mutex
	wall time.Time
	mono time.Duration
}

// NewClock returns a clock initialised to the supplied time. When start is
// the zero value, ReferenceTime is used.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{wall: start}
}

// Now returns the current wall instant tracked by the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wall
}

// Mono returns the monotonic reading tracked by the clock.
func (c *Clock) Mono() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mono
}

// NowFunc exposes Now as a function suitable for dependency injection.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// MonoFunc exposes Mono as a function suitable for dependency injection.
func (c *Clock) MonoFunc() func() time.Duration {
	return c.Mono
}

// Advance moves wall and monotonic time forward together and returns the
// updated wall time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wall = c.wall.Add(d)
	c.mono += d
	return c.wall
}

// Set updates only the wall clock, simulating a wall-clock adjustment that
// the monotonic clock does not observe.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.wall = t
	c.mu.Unlock()
}
