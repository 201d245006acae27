// Package timeutil provides a testable abstraction over the wall clock and the
// monotonic microsecond counter used to stamp timing-pulse edges.
package timeutil

import (
	"sync"
	"time"
)

// Clock provides an abstraction over time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Since returns the duration since t.
	Since(t time.Time) time.Duration

	// MonotonicMicros returns microseconds since the clock was created.
	MonotonicMicros() uint64
}

// RealClock implements Clock using the standard time package.
type RealClock struct {
	start time.Time
}

// NewRealClock returns a RealClock whose monotonic counter starts now.
func NewRealClock() *RealClock {
	return &RealClock{start: time.Now()}
}

// Now returns the current time.
func (c *RealClock) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// MonotonicMicros uses the monotonic reading carried by time.Time.
func (c *RealClock) MonotonicMicros() uint64 {
	return uint64(time.Since(c.start) / time.Microsecond)
}

// MockClock is a manually controlled clock for testing.
type MockClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
}

// NewMockClock creates a new MockClock set to the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{start: t, now: t}
}

// Now returns the mock's current time.
func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t. Moving backwards is allowed.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Since returns the duration between t and the mock's current time.
func (c *MockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// MonotonicMicros returns microseconds elapsed since the mock was created.
func (c *MockClock) MonotonicMicros() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.now.Sub(c.start)
	if d < 0 {
		return 0
	}
	return uint64(d / time.Microsecond)
}
