package mixtender

import (
	"sync"
	"time"
)

// Clock is the monotonic time source every delay in the controllers is measured against.
// Nothing sleeps: a wait is always "Now().Sub(stamp) >= delay" checked on the next heartbeat.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock, which carries a monotonic reading on every platform we target
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// ManualClock only moves when told to. It is used by tests and by the simulator
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock starts a ManualClock at an arbitrary fixed instant
func NewManualClock() *ManualClock {
	return &ManualClock{now: time.Date(2023, time.December, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
