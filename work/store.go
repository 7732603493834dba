/*
store.go - Work unit persistence contract

PURPOSE:
  The storage interface the state machine depends on. Two properties
  matter beyond plain CRUD:

  1. TransitionStatus is an atomic "update status if current status = X"
     conditional write. Every settlement path goes through it, so the
     scheduler firing and a manual approval racing for the same unit
     resolve to exactly one winner.
  2. Save persists the full row including milestones; WorkUnit rows are
     scoped per unit and need only per-row consistency.

IMPLEMENTATIONS:
  - store/sqlite: production, WAL-mode SQLite
  - store/memory: tests and dev

SEE ALSO:
  - service.go: The only caller
*/
package work

import "context"

// Store persists work units.
type Store interface {
	// Save inserts or fully updates a unit, milestones included.
	Save(ctx context.Context, u *WorkUnit) error

	// Get returns a unit by id, or ErrUnitNotFound.
	Get(ctx context.Context, id string) (*WorkUnit, error)

	// ListByStatus returns all units currently in the given status.
	ListByStatus(ctx context.Context, s Status) ([]*WorkUnit, error)

	// TransitionStatus atomically moves a unit from one status to another.
	// Returns false (and no error) if the unit was not in the expected
	// status - the caller lost a race or the transition is ineligible.
	TransitionStatus(ctx context.Context, id string, from, to Status) (bool, error)
}
