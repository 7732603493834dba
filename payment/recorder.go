/*
Package payment executes settlements against the external ledger and
records every attempt.

PURPOSE:
  The executor is the only component allowed to move money. It enforces
  at-most-once payment per work unit under retries, crashes, and
  concurrent callers through two layers:

  1. In-memory: a per-signing-identity critical section plus a
     find-successful check before every send
  2. Storage: the Recorder's single-Success uniqueness constraint,
     which holds even if two processes race

RECORDER:
  An append-only log of payment attempts. It is both the audit trail
  and the idempotency source of truth - "has this work unit already
  been paid?" is answered by FindSuccessful, never by in-memory state
  alone.

KEY CONCEPTS IN THIS FILE (recorder.go):
  - Attempt: One row per execution try, with outcome and reference
  - Outcome: success | failed | retrying
  - Recorder: The append-only store contract

SEE ALSO:
  - executor.go: The serialized send pipeline
  - retry.go: The bounded backoff combinator
  - store/sqlite: Recorder implementation with the uniqueness index
*/
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ATTEMPT - One payment execution try
// =============================================================================

type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailed   Outcome = "failed"
	OutcomeRetrying Outcome = "retrying"
)

// Attempt records one try at paying a work unit.
type Attempt struct {
	ID          string
	WorkUnitID  string
	Requested   decimal.Decimal // amount in settlement currency
	TokenAmount decimal.Decimal // amount in ledger token units
	AttemptedAt time.Time
	Outcome     Outcome
	TxRef       string
	BlockHeight int64
	Error       string
}

// =============================================================================
// RECORDER - Append-only attempt log
// =============================================================================

// ErrDuplicateSuccess is returned by a Recorder when a second Success row
// for the same work unit is appended. This is the storage-layer line of
// defense behind the executor's own idempotency check.
var ErrDuplicateSuccess = errors.New("work unit already has a successful payment attempt")

// Recorder is the append-only store of payment attempts.
//
// INVARIANT: for a given work unit at most one Attempt may have
// OutcomeSuccess. Implementations enforce this with a uniqueness
// constraint and return ErrDuplicateSuccess on violation.
type Recorder interface {
	// Append adds an attempt row. The only write operation.
	Append(ctx context.Context, a Attempt) error

	// FindSuccessful returns the Success attempt for a work unit,
	// or nil if it has never been paid.
	FindSuccessful(ctx context.Context, workUnitID string) (*Attempt, error)

	// ListByWorkUnit returns all attempts for a work unit, oldest first.
	ListByWorkUnit(ctx context.Context, workUnitID string) ([]Attempt, error)
}
