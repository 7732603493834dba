/*
errors.go - Ledger error taxonomy

PURPOSE:
  The sentinel errors every Client implementation must classify into,
  and the helpers callers use to branch on them. Remediation differs
  per kind: funds must be added, the signer re-authorized, or the
  network restored - so these are never collapsed into one error.

USAGE:
  if errors.Is(err, ledger.ErrOrderingConflict) {
      // retryable: re-read sequence and resubmit
  }

SEE ALSO:
  - payment/executor.go: Retries ordering conflicts, surfaces the rest
*/
package ledger

import "errors"

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientLiquidity means the signing account's balance cannot
	// cover the transfer. Terminal until funds are added.
	ErrInsufficientLiquidity = errors.New("insufficient ledger liquidity")

	// ErrUnauthorizedSigner means the signing identity is not allowed to
	// initiate transfers on this ledger.
	ErrUnauthorizedSigner = errors.New("signer not authorized")

	// ErrNetworkUnavailable means the ledger could not be reached.
	ErrNetworkUnavailable = errors.New("ledger network unavailable")

	// ErrOrderingConflict means another transfer won the sequence position.
	// This is the only retryable failure.
	ErrOrderingConflict = errors.New("transaction ordering conflict")

	// ErrUnknown covers failures the client could not classify.
	ErrUnknown = errors.New("unknown ledger error")

	// ErrAccountNotFound means the referenced account does not exist.
	ErrAccountNotFound = errors.New("ledger account not found")
)

// IsRetryable reports whether a ledger error might succeed on resubmission
// at a fresh sequence position.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrOrderingConflict)
}

// Classify maps an arbitrary client error onto the taxonomy, defaulting
// to ErrUnknown for anything unrecognized.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInsufficientLiquidity),
		errors.Is(err, ErrUnauthorizedSigner),
		errors.Is(err, ErrNetworkUnavailable),
		errors.Is(err, ErrOrderingConflict),
		errors.Is(err, ErrAccountNotFound):
		return err
	default:
		return errors.Join(ErrUnknown, err)
	}
}
