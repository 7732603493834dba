package payment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/payment"
	"github.com/warp/settlement-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const signer = "acct-company"

func newTestExecutor(t *testing.T, fund int64) (*payment.Executor, *ledger.Memory, *memory.AttemptLog) {
	t.Helper()
	lgr := ledger.NewMemory()
	if fund > 0 {
		lgr.Credit(signer, decimal.NewFromInt(fund))
	}
	log := memory.NewAttemptLog()
	ex := payment.NewExecutor(lgr, log, signer)
	ex.RetryDelays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	return ex, lgr, log
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// conflictingLedger always reports an ordering conflict on Transfer.
type conflictingLedger struct {
	mu    sync.Mutex
	tries int
}

func (c *conflictingLedger) Balance(_ context.Context, _ string) (decimal.Decimal, error) {
	return decimal.NewFromInt(1000), nil
}

func (c *conflictingLedger) Sequence(_ context.Context, _ string) (uint64, error) {
	return 0, nil
}

func (c *conflictingLedger) Transfer(_ context.Context, _, _ string, _ decimal.Decimal, _ uint64) (ledger.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tries++
	return ledger.Receipt{}, ledger.ErrOrderingConflict
}

// =============================================================================
// IDEMPOTENCY TESTS
// =============================================================================

func TestExecute_PaysOnce(t *testing.T) {
	// GIVEN: A funded signing account
	// WHEN: The same work unit is executed twice
	// THEN: Money moves once; the second call returns the first receipt
	//       flagged as already paid

	ex, lgr, _ := newTestExecutor(t, 100)
	ctx := context.Background()

	first, err := ex.Execute(ctx, "unit-1", "acct-emp", amount("15.00"))
	require.NoError(t, err)
	assert.False(t, first.AlreadyPaid)
	assert.NotEmpty(t, first.Receipt.TxRef)

	second, err := ex.Execute(ctx, "unit-1", "acct-emp", amount("15.00"))
	require.NoError(t, err)
	assert.True(t, second.AlreadyPaid)
	assert.Equal(t, first.Receipt.TxRef, second.Receipt.TxRef)

	bal, err := lgr.Balance(ctx, signer)
	require.NoError(t, err)
	assert.True(t, bal.Equal(amount("85")), "exactly one debit, balance %s", bal)
}

func TestExecute_ConcurrentCallers_OneTransfer(t *testing.T) {
	// GIVEN: A funded signing account
	// WHEN: Ten goroutines execute the same work unit concurrently
	// THEN: Exactly one transfer lands; every caller gets the same receipt

	ex, lgr, log := newTestExecutor(t, 100)
	ctx := context.Background()

	const callers = 10
	results := make([]*payment.Result, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = ex.Execute(ctx, "unit-1", "acct-emp", amount("15.00"))
		}(i)
	}
	wg.Wait()

	txRefs := make(map[string]bool)
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		txRefs[results[i].Receipt.TxRef] = true
	}
	assert.Len(t, txRefs, 1, "every caller must see the same receipt")

	bal, err := lgr.Balance(ctx, signer)
	require.NoError(t, err)
	assert.True(t, bal.Equal(amount("85")), "exactly one debit, balance %s", bal)

	success, err := log.FindSuccessful(ctx, "unit-1")
	require.NoError(t, err)
	require.NotNil(t, success)
}

func TestExecute_RecordsSuccessBeforeReturning(t *testing.T) {
	// GIVEN: A funded signing account
	// WHEN: Execute returns a receipt
	// THEN: The Success row is already queryable

	ex, _, log := newTestExecutor(t, 100)
	ctx := context.Background()

	res, err := ex.Execute(ctx, "unit-1", "acct-emp", amount("15.00"))
	require.NoError(t, err)

	success, err := log.FindSuccessful(ctx, "unit-1")
	require.NoError(t, err)
	require.NotNil(t, success)
	assert.Equal(t, res.Receipt.TxRef, success.TxRef)
}

// =============================================================================
// FAILURE TAXONOMY TESTS
// =============================================================================

func TestExecute_InsufficientLiquidity_NoRetry(t *testing.T) {
	// GIVEN: A signing account holding less than the amount
	// WHEN: Execute runs
	// THEN: It fails terminally before touching the ledger, and the
	//       failure is recorded

	ex, lgr, log := newTestExecutor(t, 10)
	ctx := context.Background()

	_, err := ex.Execute(ctx, "unit-1", "acct-emp", amount("15.00"))
	assert.ErrorIs(t, err, ledger.ErrInsufficientLiquidity)

	bal, berr := lgr.Balance(ctx, signer)
	require.NoError(t, berr)
	assert.True(t, bal.Equal(amount("10")), "no partial debit")

	attempts, aerr := log.ListByWorkUnit(ctx, "unit-1")
	require.NoError(t, aerr)
	require.Len(t, attempts, 1)
	assert.Equal(t, payment.OutcomeFailed, attempts[0].Outcome)
}

func TestExecute_NetworkFailure_NoRetry(t *testing.T) {
	ex, lgr, _ := newTestExecutor(t, 100)
	lgr.SetNetworkDown(true)

	_, err := ex.Execute(context.Background(), "unit-1", "acct-emp", amount("15.00"))
	assert.ErrorIs(t, err, ledger.ErrNetworkUnavailable)
}

func TestExecute_UnauthorizedSigner(t *testing.T) {
	ex, lgr, _ := newTestExecutor(t, 100)
	lgr.SetAuthorized(signer, false)

	_, err := ex.Execute(context.Background(), "unit-1", "acct-emp", amount("15.00"))
	assert.ErrorIs(t, err, ledger.ErrUnauthorizedSigner)
}

// =============================================================================
// ORDERING CONFLICT TESTS
// =============================================================================

// flakyLedger conflicts on the first N transfers, then delegates.
type flakyLedger struct {
	*ledger.Memory
	mu        sync.Mutex
	conflicts int
}

func (f *flakyLedger) Transfer(ctx context.Context, from, to string, amount decimal.Decimal, seq uint64) (ledger.Receipt, error) {
	f.mu.Lock()
	remaining := f.conflicts
	if remaining > 0 {
		f.conflicts--
	}
	f.mu.Unlock()
	if remaining > 0 {
		return ledger.Receipt{}, ledger.ErrOrderingConflict
	}
	return f.Memory.Transfer(ctx, from, to, amount, seq)
}

func TestExecute_OrderingConflict_RetriesThenSucceeds(t *testing.T) {
	// GIVEN: A ledger whose first submission loses the sequence slot
	// WHEN: Execute runs
	// THEN: The retry re-reads the position and lands; the conflict is
	//       visible in the log as a Retrying row before the Success

	lgr := ledger.NewMemory()
	lgr.Credit(signer, decimal.NewFromInt(100))
	flaky := &flakyLedger{Memory: lgr, conflicts: 1}
	log := memory.NewAttemptLog()
	ex := payment.NewExecutor(flaky, log, signer)
	ex.RetryDelays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	ctx := context.Background()

	res, err := ex.Execute(ctx, "unit-1", "acct-emp", amount("15.00"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Receipt.TxRef)

	attempts, err := log.ListByWorkUnit(ctx, "unit-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, payment.OutcomeRetrying, attempts[0].Outcome)
	assert.Equal(t, payment.OutcomeSuccess, attempts[1].Outcome)
}

func TestExecute_OrderingConflict_ExhaustsRetries(t *testing.T) {
	// GIVEN: A ledger that conflicts on every submission
	// WHEN: Execute runs with a 3-delay backoff
	// THEN: It submits 4 times total, then fails with the conflict error

	conflicting := &conflictingLedger{}
	log := memory.NewAttemptLog()
	ex := payment.NewExecutor(conflicting, log, signer)
	ex.RetryDelays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}

	_, err := ex.Execute(context.Background(), "unit-1", "acct-emp", amount("15.00"))
	assert.ErrorIs(t, err, ledger.ErrOrderingConflict)
	assert.Equal(t, 4, conflicting.tries, "initial try plus three retries")

	attempts, aerr := log.ListByWorkUnit(context.Background(), "unit-1")
	require.NoError(t, aerr)
	// Three Retrying rows plus the terminal Failed row.
	require.Len(t, attempts, 4)
	assert.Equal(t, payment.OutcomeFailed, attempts[3].Outcome)
	for _, a := range attempts[:3] {
		assert.Equal(t, payment.OutcomeRetrying, a.Outcome)
	}
}

// =============================================================================
// DUPLICATE SUCCESS DEFENSE
// =============================================================================

func TestAttemptLog_RejectsSecondSuccess(t *testing.T) {
	// GIVEN: A unit with a recorded Success
	// WHEN: A second Success row is appended
	// THEN: The storage constraint rejects it

	log := memory.NewAttemptLog()
	ctx := context.Background()

	first := payment.Attempt{ID: "a-1", WorkUnitID: "unit-1", Outcome: payment.OutcomeSuccess, TxRef: "tx-1"}
	require.NoError(t, log.Append(ctx, first))

	second := payment.Attempt{ID: "a-2", WorkUnitID: "unit-1", Outcome: payment.OutcomeSuccess, TxRef: "tx-2"}
	err := log.Append(ctx, second)
	assert.True(t, errors.Is(err, payment.ErrDuplicateSuccess))

	// Non-success rows are still accepted.
	failed := payment.Attempt{ID: "a-3", WorkUnitID: "unit-1", Outcome: payment.OutcomeFailed}
	assert.NoError(t, log.Append(ctx, failed))
}
