package timectrl

import (
	"sync"
	"time"
)

// Clock is an interface for accessing the current instant. Components that need
// "now" (horizon starts, fetch timestamps) depend on it rather than on time.Now
// so tests can pin time.
type Clock interface {
	// Now returns the current instant in UTC.
	Now() time.Time
}

// SystemClock reads the wall clock and normalises to UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock returns a settable instant. It is safe for concurrent use.
type FixedClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewFixedClock constructs a clock pinned at t (converted to UTC).
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t.UTC()}
}

// Now implements Clock.
func (c *FixedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.UTC()
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
