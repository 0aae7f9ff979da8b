// internal/sched/clock.go

package sched

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock is the monotonic time source a host supplies to the Scheduler.
//
// Now may fail, e.g. when the host's time source has gone away; that is the
// only condition that halts a running loop.
type Clock interface {
	Now() (time.Time, error)
	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// SystemClock reads the process monotonic clock.
type SystemClock struct{}

func (SystemClock) Now() (time.Time, error) { return time.Now(), nil }

func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// VirtualClock is a manually driven clock for deterministic hosts and tests.
// Instead of blocking, After jumps the clock forward by d.
type VirtualClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps atomic.Int64
}

// NewVirtualClock creates a clock starting at start.
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

func (c *VirtualClock) Now() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now, nil
}

// Advance moves the clock forward. Negative durations are ignored.
func (c *VirtualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

func (c *VirtualClock) After(d time.Duration) <-chan time.Time {
	c.sleeps.Add(1)
	ch := make(chan time.Time, 1)
	ch <- c.Advance(d)
	return ch
}

// Sleeps returns how many times After was called.
func (c *VirtualClock) Sleeps() int64 {
	return c.sleeps.Load()
}
