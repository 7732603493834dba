/*
task.go - Task reward policy

PURPOSE:
  Computes the reward for a completed task from its difficulty tier,
  its deadline, and the recorded completion time.

RULE:
  completion <= deadline  ->  reward = base(tier)
  completion >  deadline  ->  reward = base(tier) * LateMultiplier

  The boundary is inclusive: finishing exactly at the deadline is
  on-time. Penalty is always zero under current policy.

SEE ALSO:
  - attendance.go: The attendance-side policies
*/
package reward

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TASK POLICY
// =============================================================================

// TaskPolicy maps difficulty tiers to base amounts and applies the
// late-completion multiplier.
type TaskPolicy struct {
	Base           map[Tier]decimal.Decimal
	LateMultiplier decimal.Decimal
}

// DefaultTaskPolicy returns the standard tier table with a 50% late rule.
func DefaultTaskPolicy() TaskPolicy {
	return TaskPolicy{
		Base: map[Tier]decimal.Decimal{
			TierEasy:   decimal.NewFromInt(5),
			TierMedium: decimal.NewFromInt(15),
			TierHard:   decimal.NewFromInt(30),
		},
		LateMultiplier: decimal.NewFromFloat(0.5),
	}
}

// Evaluate computes the reward for a task completed at completedAt against
// the given deadline. Completion exactly at the deadline counts as on-time.
func (p TaskPolicy) Evaluate(tier Tier, deadline, completedAt time.Time) Outcome {
	base, ok := p.Base[tier]
	if !ok {
		return ZeroOutcome()
	}

	amount := base
	if completedAt.After(deadline) {
		amount = base.Mul(p.LateMultiplier)
	}

	return Outcome{
		Reward:  Round2(amount),
		Penalty: decimal.Zero,
	}
}
