/*
executor.go - Serialized payment execution pipeline

PURPOSE:
  Moves money for exactly one signing identity, at most once per work
  unit. All sends funnel through one critical section regardless of how
  many callers (manual approval, scheduler fire, retry job) invoke
  Execute concurrently - the signing identity's sequence counter is the
  one piece of shared mutable state and it gets exclusive access.

PIPELINE (in order):
  1. Idempotency: a prior Success attempt short-circuits to its receipt
  2. Liquidity: balance below the amount fails terminally - no retry
     until funds are added
  3. Serialization: one in-flight send per signing identity
  4. Send + confirm: ordering conflicts retry up to 3 times (2s/4s/6s),
     re-reading the sequence position each time; any other failure is
     recorded and surfaced without retry
  5. Record before acknowledge: the attempt row is appended before the
     caller gets an answer, so a crash between send and record cannot
     silently lose a Success

CANCELLATION:
  A send, once submitted, cannot be cancelled - Execute waits for a
  terminal outcome. Context cancellation is honored only between sends.

SEE ALSO:
  - recorder.go: The attempt log and single-Success invariant
  - retry.go: The backoff combinator
  - ledger/errors.go: The error taxonomy surfaced to callers
*/
package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/ledger"
)

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor serializes outbound transfers for one signing identity.
type Executor struct {
	Ledger         ledger.Client
	Recorder       Recorder
	SigningAccount string

	// TokenRate converts settlement currency into ledger token units.
	TokenRate decimal.Decimal

	// RetryDelays bounds ordering-conflict retries. Tests shrink these.
	RetryDelays []time.Duration

	mu sync.Mutex
}

// NewExecutor creates an executor with the standard 2s/4s/6s conflict
// backoff and a 1:1 token rate.
func NewExecutor(client ledger.Client, recorder Recorder, signingAccount string) *Executor {
	return &Executor{
		Ledger:         client,
		Recorder:       recorder,
		SigningAccount: signingAccount,
		TokenRate:      decimal.NewFromInt(1),
		RetryDelays:    []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second},
	}
}

// Result is the terminal outcome of an Execute call. AlreadyPaid marks the
// informational no-op where a prior Success was found - not an error.
type Result struct {
	Receipt     ledger.Receipt
	Attempt     Attempt
	AlreadyPaid bool
}

// Execute pays a work unit. At most one ledger transfer ever happens per
// work unit: repeated and concurrent calls return the first Success.
func (e *Executor) Execute(ctx context.Context, workUnitID, destination string, amount decimal.Decimal) (*Result, error) {
	// Fast path: already paid.
	if prior, err := e.Recorder.FindSuccessful(ctx, workUnitID); err != nil {
		return nil, fmt.Errorf("idempotency check: %w", err)
	} else if prior != nil {
		return resultFrom(prior), nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Re-check under the lock: a concurrent caller may have won the race
	// between our fast path and here.
	if prior, err := e.Recorder.FindSuccessful(ctx, workUnitID); err != nil {
		return nil, fmt.Errorf("idempotency check: %w", err)
	} else if prior != nil {
		return resultFrom(prior), nil
	}

	tokens := amount.Mul(e.TokenRate)

	balance, err := e.Ledger.Balance(ctx, e.SigningAccount)
	if err != nil {
		classified := ledger.Classify(err)
		return nil, e.recordFailure(ctx, workUnitID, amount, tokens, classified)
	}
	if balance.LessThan(tokens) {
		err := fmt.Errorf("%w: need %s, have %s", ledger.ErrInsufficientLiquidity, tokens, balance)
		return nil, e.recordFailure(ctx, workUnitID, amount, tokens, err)
	}

	var receipt ledger.Receipt
	sendErr := Retry(ctx, e.RetryDelays, ledger.IsRetryable, func(try int) error {
		seq, err := e.Ledger.Sequence(ctx, e.SigningAccount)
		if err != nil {
			return ledger.Classify(err)
		}

		receipt, err = e.Ledger.Transfer(ctx, e.SigningAccount, destination, tokens, seq)
		if err == nil {
			return nil
		}

		err = ledger.Classify(err)
		if ledger.IsRetryable(err) && try < len(e.RetryDelays) {
			log.Printf("[Payment] ordering conflict for unit %s (try %d), backing off", workUnitID, try+1)
			e.appendQuietly(ctx, Attempt{
				ID:          uuid.NewString(),
				WorkUnitID:  workUnitID,
				Requested:   amount,
				TokenAmount: tokens,
				AttemptedAt: time.Now().UTC(),
				Outcome:     OutcomeRetrying,
				Error:       err.Error(),
			})
		}
		return err
	})

	if sendErr != nil {
		return nil, e.recordFailure(ctx, workUnitID, amount, tokens, ledger.Classify(sendErr))
	}

	attempt := Attempt{
		ID:          uuid.NewString(),
		WorkUnitID:  workUnitID,
		Requested:   amount,
		TokenAmount: tokens,
		AttemptedAt: time.Now().UTC(),
		Outcome:     OutcomeSuccess,
		TxRef:       receipt.TxRef,
		BlockHeight: receipt.BlockHeight,
	}

	// Write-before-acknowledge: the Success row must land before any
	// caller hears about the receipt.
	if err := e.Recorder.Append(ctx, attempt); err != nil {
		if errors.Is(err, ErrDuplicateSuccess) {
			if prior, ferr := e.Recorder.FindSuccessful(ctx, workUnitID); ferr == nil && prior != nil {
				return resultFrom(prior), nil
			}
		}
		return nil, fmt.Errorf("recording successful attempt: %w", err)
	}

	return &Result{Receipt: receipt, Attempt: attempt}, nil
}

// recordFailure appends a Failed attempt and returns the classified error.
func (e *Executor) recordFailure(ctx context.Context, workUnitID string, amount, tokens decimal.Decimal, cause error) error {
	e.appendQuietly(ctx, Attempt{
		ID:          uuid.NewString(),
		WorkUnitID:  workUnitID,
		Requested:   amount,
		TokenAmount: tokens,
		AttemptedAt: time.Now().UTC(),
		Outcome:     OutcomeFailed,
		Error:       cause.Error(),
	})
	return cause
}

// appendQuietly logs recorder failures for non-Success rows instead of
// masking the payment error the caller actually needs.
func (e *Executor) appendQuietly(ctx context.Context, a Attempt) {
	if err := e.Recorder.Append(ctx, a); err != nil {
		log.Printf("[Payment] failed to record %s attempt for unit %s: %v", a.Outcome, a.WorkUnitID, err)
	}
}

func resultFrom(prior *Attempt) *Result {
	return &Result{
		Receipt: ledger.Receipt{
			TxRef:       prior.TxRef,
			BlockHeight: prior.BlockHeight,
			ConfirmedAt: prior.AttemptedAt,
		},
		Attempt:     *prior,
		AlreadyPaid: true,
	}
}
