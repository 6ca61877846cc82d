// internal/clock/clock.go

// Package clock lets timers and the scheduler read time and arm
// wake-ups through an interface, so tests can drive them with a
// FakeClock instead of the wall clock.
package clock

import "time"

// Clock is the time source used by every component that sleeps or
// computes deadlines.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFuncAt calls f once the clock reaches deadline. A deadline
	// that already passed runs f immediately (in a new goroutine for
	// Real, synchronously for Fake). Arming at an absolute time keeps
	// periodic deadlines exact no matter how late the caller gets
	// around to arming.
	AfterFuncAt(deadline time.Time, f func()) *Timer
}

// Timer is a pending AfterFuncAt call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the callback from running. It reports false if the
// callback already ran or the timer was already stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }
