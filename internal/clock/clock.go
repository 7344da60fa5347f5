// Package clock provides the time source used by the profiler.
//
// Production builds read the system clock. Builds with the "deterministic"
// tag share a single Virtual clock that only moves when advanced, which makes
// recorded durations reproducible.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// Clock returns the current instant.
type Clock interface {
	Now() time.Time
}

// Advancer is a Clock whose notion of "now" can be moved forward manually.
type Advancer interface {
	Clock
	Advance(d time.Duration)
}

// Real reads the system clock.
type Real struct{}

// Now returns time.Now, including its monotonic reading.
func (Real) Now() time.Time { return time.Now() }

// Epoch is the starting instant of a Virtual clock created with NewVirtual(time.Time{}).
var Epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Virtual is a manually advanced clock for tests.
type Virtual struct {
	mu  sync.Mutex
	now time.Time
}

// NewVirtual creates a Virtual clock starting at start, or at Epoch if start is zero.
func NewVirtual(start time.Time) *Virtual {
	if start.IsZero() {
		start = Epoch
	}
	return &Virtual{now: start}
}

// Now returns the clock's current instant.
func (c *Virtual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative durations panic: the clock is monotonic.
func (c *Virtual) Advance(d time.Duration) {
	if d < 0 {
		panic(fmt.Sprintf("clock: negative advance %v", d))
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set jumps the clock to t. It refuses to move backwards.
func (c *Virtual) Set(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.now) {
		return fmt.Errorf("clock: cannot move from %s back to %s", c.now.Format(time.RFC3339Nano), t.Format(time.RFC3339Nano))
	}
	c.now = t
	return nil
}
