/*
Package reward computes payable amounts for settled work.

PURPOSE:
  Pure, deterministic reward and penalty calculation. Given a work
  description (task tier or attendance hours), a deadline, and a
  completion time, produce the amount the assignee is owed. No I/O,
  no clocks, no state - every function here is replayable.

KEY CONCEPTS IN THIS FILE (types.go):
  - Tier: Task difficulty band, each with a base amount
  - Outcome: The (reward, penalty) pair a calculation produces
  - Round2: The single rounding rule for all monetary outputs

DESIGN PRINCIPLES:
  1. Determinism: Same inputs always produce the same Outcome
  2. Precision: decimal.Decimal everywhere, never float math on money
  3. Separation: The two "50% rules" (late task, missed checkout) are
     distinct named policies - they are structurally different and must
     not be unified (one waives the minimum-hours threshold, one doesn't)

ROUNDING:
  All monetary outputs are rounded to 2 decimal places, half away from
  zero. decimal.Decimal.Round implements exactly this mode.

SEE ALSO:
  - task.go: Task reward policy (on-time vs late)
  - attendance.go: Attendance reward policy (hour bands, thresholds)
*/
package reward

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// TIER - Task difficulty band
// =============================================================================

type Tier string

const (
	TierEasy   Tier = "easy"
	TierMedium Tier = "medium"
	TierHard   Tier = "hard"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierEasy, TierMedium, TierHard:
		return true
	}
	return false
}

// =============================================================================
// OUTCOME - What a calculation produces
// =============================================================================

// Outcome is the result of a reward calculation. Penalty is always zero
// under current policy; it is kept as a separate field so a future policy
// can charge penalties without changing any call site.
type Outcome struct {
	Reward  decimal.Decimal
	Penalty decimal.Decimal
}

// ZeroOutcome is the "nothing payable" result.
func ZeroOutcome() Outcome {
	return Outcome{Reward: decimal.Zero, Penalty: decimal.Zero}
}

// Round2 rounds a monetary amount to 2 decimal places, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
