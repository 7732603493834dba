/*
Package ledger defines the contract the settlement engine requires from
the external value ledger.

PURPOSE:
  The engine never implements the ledger itself - it only needs three
  things from it: a balance read, a sequence-position read, and an
  ordered transfer that either confirms or fails with a classifiable
  error. This package is that contract, plus an in-process simulation
  used for development and tests (memory.go).

SEQUENCING:
  Every transfer from a signing account carries the account's current
  transaction sequence number. Two transfers racing for the same
  position produce an ordering conflict - a retryable failure. The
  caller re-reads Sequence before each retry.

ERROR TAXONOMY:
  Errors from Client implementations must be classifiable into the
  sentinel set in errors.go (insufficient liquidity, unauthorized
  signer, network unavailable, ordering conflict, unknown). Remediation
  differs for each, so callers surface them distinctly.

SEE ALSO:
  - errors.go: Sentinel errors and classification helpers
  - memory.go: Simulated ledger for dev/test
  - payment/: The executor that drives this contract
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RECEIPT - Proof of a confirmed transfer
// =============================================================================

// Receipt identifies a confirmed transfer on the ledger.
type Receipt struct {
	TxRef       string
	BlockHeight int64
	ConfirmedAt time.Time
}

// =============================================================================
// CLIENT - The collaborator contract
// =============================================================================

// Client is the external ledger as seen by the settlement engine.
//
// Transfer submits a transfer at the given sequence position and blocks
// until a terminal outcome: a confirmed Receipt or a classifiable error.
// A submitted transfer cannot be cancelled.
type Client interface {
	// Balance returns the available token balance of an account.
	Balance(ctx context.Context, account string) (decimal.Decimal, error)

	// Sequence returns the account's current transaction sequence position.
	// Callers re-read this before every retry of a conflicted transfer.
	Sequence(ctx context.Context, account string) (uint64, error)

	// Transfer moves amount from one account to another at the given
	// sequence position and waits for confirmation.
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal, seq uint64) (Receipt, error)
}
