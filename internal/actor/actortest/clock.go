package actortest

import (
	"sync"
	"time"

	"github.com/bhandras/evalworker/internal/actor"
)

// FakeClock is a Clock that moves by a fixed step after every reading and
// by whatever Advance is told.
type FakeClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

var _ actor.Clock = (*FakeClock)(nil)

// NewTickingClock returns a clock whose n-th reading is start+(n-1)*step.
func NewTickingClock(start time.Time, step time.Duration) *FakeClock {
	return &FakeClock{now: start, step: step}
}

// Now implements actor.Clock.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the next reading without consuming it.
func (c *FakeClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
