package pulse

import "time"

// Clock schedules flush and shutdown timers. Tests replace it to fire timers on demand.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock provides actual system time.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// After waits for d on the system clock.
func (RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
