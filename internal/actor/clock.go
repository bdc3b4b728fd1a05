package actor

import "time"

// Clock is the time source runtimes use to stamp effects. Reducers never read
// a Clock; timestamps reach them through inputs.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }
