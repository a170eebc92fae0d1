package testutil

import (
	"sync"
	"time"
)

// SettableClock is a wall clock tests move by hand.
//
// Implements engine.Clock.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SettableClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewSettableClock creates a clock reading start (in UTC).
func NewSettableClock(start time.Time) *SettableClock {
	return &SettableClock{now: start.UTC()}
}

// Now returns the clock's current time.
func (c *SettableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t. Moving backwards is allowed.
func (c *SettableClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Advance moves the clock forward by d and returns the new time.
func (c *SettableClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
