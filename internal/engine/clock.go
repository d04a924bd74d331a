package engine

import (
	"sync"
	"time"
)

// Clock is the engine's notion of time. Backtests drive a virtual clock from
// slice times; live runs read the wall clock.
type Clock interface {
	Now() time.Time
	Advance(d time.Duration)
	AdvanceTo(utc time.Time)
}

// VirtualClock is an in-memory clock advanced by the engine loop.
type VirtualClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewVirtualClock starts the clock at the given instant.
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{current: start.UTC()}
}

// Now returns the current simulated time.
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d. Non-positive durations are ignored.
func (c *VirtualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

// AdvanceTo moves the clock to utc if it is in the future.
func (c *VirtualClock) AdvanceTo(utc time.Time) {
	utc = utc.UTC()
	c.mu.Lock()
	if utc.After(c.current) {
		c.current = utc
	}
	c.mu.Unlock()
}

// WallClock reads the system clock. Advance and AdvanceTo are no-ops because
// wall time moves on its own.
type WallClock struct{}

// Now returns the current UTC wall time.
func (WallClock) Now() time.Time { return time.Now().UTC() }

// Advance implements Clock.
func (WallClock) Advance(time.Duration) {}

// AdvanceTo implements Clock.
func (WallClock) AdvanceTo(time.Time) {}
