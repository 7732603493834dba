/*
errors.go - Work unit transition errors

PURPOSE:
  All error types for the state machine in one place. Two families:
  validation errors (bad input, rejected before any state change) and
  state conflicts (transition attempted from a non-eligible status,
  rejected with no side effects). Payment errors are NOT here - they
  are recorded on the unit's payment status, never thrown through a
  transition.

USAGE:
  if errors.Is(err, work.ErrStateConflict) {
      // caller raced another decision; nothing changed
  }

SEE ALSO:
  - service.go: Producers of these errors
  - ledger/errors.go: The payment error taxonomy
*/
package work

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnitNotFound is returned when a referenced work unit doesn't exist.
	ErrUnitNotFound = errors.New("work unit not found")

	// ErrValidation marks bad or missing input to a transition. The
	// transition is rejected before any state change.
	ErrValidation = errors.New("invalid transition input")

	// ErrStateConflict marks a transition attempted from a non-eligible
	// status. Rejected with no side effects.
	ErrStateConflict = errors.New("transition not allowed from current status")

	// ErrMilestoneOrder is returned when a milestone is submitted or
	// approved out of sequence.
	ErrMilestoneOrder = errors.New("milestone out of order")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError carries the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// StateConflictError carries the unit's actual status and the attempted
// operation, for callers that render conflict details.
type StateConflictError struct {
	UnitID    string
	Status    Status
	Attempted string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s work unit %s in status %s", e.Attempted, e.UnitID, e.Status)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

// MilestoneOrderError explains which checkpoint was expected.
type MilestoneOrderError struct {
	UnitID    string
	Requested int
	Expected  int
}

func (e *MilestoneOrderError) Error() string {
	return fmt.Sprintf("milestone %d out of order on unit %s (expected %d)", e.Requested, e.UnitID, e.Expected)
}

func (e *MilestoneOrderError) Unwrap() error { return ErrMilestoneOrder }
