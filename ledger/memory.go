/*
memory.go - Simulated in-process ledger

PURPOSE:
  A Client implementation backed by in-memory maps. Used by cmd/server
  in demo mode and by payment tests to exercise behavior a real ledger
  only shows under load: ordering conflicts, partitions, unauthorized
  signers.

FAULT INJECTION:
  - BumpSequence simulates a competing transfer winning the account's
    next sequence slot, so a submitted transfer conflicts
  - SetNetworkDown makes every call fail with ErrNetworkUnavailable
  - SetAuthorized(false) makes transfers fail with ErrUnauthorizedSigner

SEE ALSO:
  - ledger.go: The Client contract this implements
*/
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MEMORY LEDGER
// =============================================================================

// Memory is an in-process ledger simulation.
type Memory struct {
	mu         sync.Mutex
	balances   map[string]decimal.Decimal
	sequences  map[string]uint64
	height     int64
	down       bool
	authorized map[string]bool

	// TransferDelay, when set, simulates confirmation latency.
	TransferDelay time.Duration
}

// NewMemory creates an empty simulated ledger.
func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[string]decimal.Decimal),
		sequences:  make(map[string]uint64),
		authorized: make(map[string]bool),
	}
}

// Credit funds an account and marks it as an authorized signer.
func (m *Memory) Credit(account string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] = m.balances[account].Add(amount)
	m.authorized[account] = true
}

// SetAuthorized toggles whether an account may initiate transfers.
func (m *Memory) SetAuthorized(account string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authorized[account] = ok
}

// SetNetworkDown toggles a simulated network partition.
func (m *Memory) SetNetworkDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// BumpSequence advances an account's sequence as if a competing transfer
// had landed, so the next submission at the old position conflicts.
func (m *Memory) BumpSequence(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[account]++
}

// Balance implements Client.
func (m *Memory) Balance(_ context.Context, account string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return decimal.Zero, ErrNetworkUnavailable
	}
	bal, ok := m.balances[account]
	if !ok {
		return decimal.Zero, ErrAccountNotFound
	}
	return bal, nil
}

// Sequence implements Client.
func (m *Memory) Sequence(_ context.Context, account string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return 0, ErrNetworkUnavailable
	}
	return m.sequences[account], nil
}

// Transfer implements Client. The sequence position must match the
// account's current position exactly or the transfer conflicts.
func (m *Memory) Transfer(ctx context.Context, from, to string, amount decimal.Decimal, seq uint64) (Receipt, error) {
	if m.TransferDelay > 0 {
		select {
		case <-time.After(m.TransferDelay):
		case <-ctx.Done():
			return Receipt{}, ErrNetworkUnavailable
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.down {
		return Receipt{}, ErrNetworkUnavailable
	}
	if !m.authorized[from] {
		return Receipt{}, ErrUnauthorizedSigner
	}
	if seq != m.sequences[from] {
		return Receipt{}, fmt.Errorf("%w: submitted %d, current %d", ErrOrderingConflict, seq, m.sequences[from])
	}
	if amount.IsNegative() || amount.IsZero() {
		return Receipt{}, fmt.Errorf("%w: non-positive amount %s", ErrUnknown, amount)
	}
	if m.balances[from].LessThan(amount) {
		return Receipt{}, ErrInsufficientLiquidity
	}

	m.balances[from] = m.balances[from].Sub(amount)
	m.balances[to] = m.balances[to].Add(amount)
	m.sequences[from]++
	m.height++

	return Receipt{
		TxRef:       uuid.NewString(),
		BlockHeight: m.height,
		ConfirmedAt: time.Now().UTC(),
	}, nil
}
