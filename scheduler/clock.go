/*
clock.go - Time source abstraction

PURPOSE:
  The auto-approver arms real timers in production but must be testable
  without sleeping. Clock is the seam: the real implementation wraps
  time.Now and time.AfterFunc, tests substitute a manual clock they can
  advance by hand.

SEE ALSO:
  - autoapprove.go: The only consumer
*/
package scheduler

import "time"

// Clock supplies the current time and one-shot timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is an armed one-shot timer. Stop reports whether it was stopped
// before firing.
type Timer interface {
	Stop() bool
}

// =============================================================================
// REAL CLOCK
// =============================================================================

type realClock struct{}

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
