/*
Package scheduler forces pending-review work units into approval after a
fixed timeout when no manual decision arrives.

PURPOSE:
  One timer per work unit. A unit entering review gets a timer for
  (timeout - elapsed since submission); a human decision cancels it; if
  it fires, the expiry callback runs the same completion path a manual
  approval would, using the originally recorded completion time. Timers
  are restored from persisted state at process start, so in-flight
  countdowns survive a restart with the correct remaining duration.

DESIGN:
  - Single shared map of armed timers behind a mutex; Schedule on an
    already-armed unit cancels the prior timer first (last write wins)
  - A timer that has already elapsed at Schedule time fires synchronously
  - The fire callback re-checks unit state before acting; the approver
    itself only owns timer lifecycle, never business rules

RESTORATION:
  Restore scans the source for every unit still awaiting review and
  re-schedules it from its stored submission time. A unit submitted
  (timeout - 30s) ago gets a 30s timer, not a fresh full timeout.

USAGE:
  ap := scheduler.New(72*time.Hour, source, onExpire)
  ap.Restore(ctx)       // at startup
  ap.Schedule(id, now)  // when a unit enters review
  ap.Cancel(id)         // when a human decides first

SEE ALSO:
  - clock.go: The time source seam
  - work/service.go: Registers the expiry callback
*/
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// =============================================================================
// RESTORE SOURCE
// =============================================================================

// Pending identifies one work unit awaiting review.
type Pending struct {
	UnitID      string
	SubmittedAt time.Time
}

// Source lists the units whose timers must be restored at startup.
type Source interface {
	PendingReview(ctx context.Context) ([]Pending, error)
}

// =============================================================================
// AUTO APPROVER
// =============================================================================

// AutoApprover owns the map of in-flight approval timers.
type AutoApprover struct {
	Timeout  time.Duration
	Clock    Clock
	Source   Source
	OnExpire func(unitID string)

	mu     sync.Mutex
	timers map[string]Timer
}

// New creates an auto-approver on the real clock.
func New(timeout time.Duration, source Source, onExpire func(unitID string)) *AutoApprover {
	return &AutoApprover{
		Timeout:  timeout,
		Clock:    RealClock(),
		Source:   source,
		OnExpire: onExpire,
		timers:   make(map[string]Timer),
	}
}

// Schedule arms the timer for a unit. Re-scheduling an armed unit cancels
// the prior timer first. A deadline already in the past fires synchronously.
func (a *AutoApprover) Schedule(unitID string, submittedAt time.Time) {
	remaining := a.Timeout - a.Clock.Now().Sub(submittedAt)
	if remaining <= 0 {
		a.Cancel(unitID)
		log.Printf("[Scheduler] unit %s already past timeout, firing now", unitID)
		a.fire(unitID)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if prior, ok := a.timers[unitID]; ok {
		prior.Stop()
	}
	a.timers[unitID] = a.Clock.AfterFunc(remaining, func() {
		a.fire(unitID)
	})
}

// Cancel disarms a unit's timer. No effect if none is armed.
func (a *AutoApprover) Cancel(unitID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if t, ok := a.timers[unitID]; ok {
		t.Stop()
		delete(a.timers, unitID)
	}
}

// Restore re-arms timers for every unit still awaiting review, using the
// stored submission time so remaining durations survive a restart.
func (a *AutoApprover) Restore(ctx context.Context) error {
	pending, err := a.Source.PendingReview(ctx)
	if err != nil {
		return fmt.Errorf("scanning for pending-review units: %w", err)
	}

	for _, p := range pending {
		a.Schedule(p.UnitID, p.SubmittedAt)
	}
	if len(pending) > 0 {
		log.Printf("[Scheduler] restored %d approval timer(s)", len(pending))
	}
	return nil
}

// Stop disarms every timer. Used at shutdown.
func (a *AutoApprover) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, t := range a.timers {
		t.Stop()
		delete(a.timers, id)
	}
}

// Armed reports whether a timer is currently armed for the unit.
func (a *AutoApprover) Armed(unitID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.timers[unitID]
	return ok
}

// fire removes the timer entry and runs the expiry callback. The callback
// re-checks that the unit is still awaiting review; a race already resolved
// manually becomes a no-op there.
func (a *AutoApprover) fire(unitID string) {
	a.mu.Lock()
	delete(a.timers, unitID)
	a.mu.Unlock()

	if a.OnExpire != nil {
		a.OnExpire(unitID)
	}
}
