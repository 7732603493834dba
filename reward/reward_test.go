package reward_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/settlement-engine/reward"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func at(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func assertReward(t *testing.T, out reward.Outcome, want string) {
	t.Helper()
	assert.True(t, out.Reward.Equal(money(want)),
		"expected reward %s, got %s", want, out.Reward)
	assert.True(t, out.Penalty.IsZero(), "penalty should always be zero, got %s", out.Penalty)
}

// =============================================================================
// TASK REWARD TESTS
// =============================================================================

func TestTaskReward_OnTime(t *testing.T) {
	// GIVEN: Medium tier task, base 15, deadline Jan 10 17:00
	// WHEN: Completed Jan 10 16:00 (before deadline)
	// THEN: Full base reward 15.00

	p := reward.DefaultTaskPolicy()
	out := p.Evaluate(reward.TierMedium,
		at(2024, time.January, 10, 17, 0),
		at(2024, time.January, 10, 16, 0))

	assertReward(t, out, "15.00")
}

func TestTaskReward_Late(t *testing.T) {
	// GIVEN: Medium tier task, base 15, deadline Jan 10 17:00
	// WHEN: Completed Jan 11 09:00 (after deadline)
	// THEN: Half reward 7.50

	p := reward.DefaultTaskPolicy()
	out := p.Evaluate(reward.TierMedium,
		at(2024, time.January, 10, 17, 0),
		at(2024, time.January, 11, 9, 0))

	assertReward(t, out, "7.50")
}

func TestTaskReward_ExactlyAtDeadline_IsOnTime(t *testing.T) {
	// GIVEN: A task completed at the exact deadline instant
	// WHEN: Evaluating
	// THEN: Counts as on-time (boundary is <=, not <)

	deadline := at(2024, time.January, 10, 17, 0)
	p := reward.DefaultTaskPolicy()
	out := p.Evaluate(reward.TierMedium, deadline, deadline)

	assertReward(t, out, "15.00")
}

func TestTaskReward_AllTiers(t *testing.T) {
	p := reward.DefaultTaskPolicy()
	deadline := at(2024, time.March, 1, 12, 0)
	done := at(2024, time.March, 1, 11, 0)

	cases := []struct {
		tier reward.Tier
		want string
	}{
		{reward.TierEasy, "5.00"},
		{reward.TierMedium, "15.00"},
		{reward.TierHard, "30.00"},
	}
	for _, tc := range cases {
		out := p.Evaluate(tc.tier, deadline, done)
		assertReward(t, out, tc.want)
	}
}

func TestTaskReward_UnknownTier_PaysNothing(t *testing.T) {
	p := reward.DefaultTaskPolicy()
	out := p.Evaluate(reward.Tier("impossible"),
		at(2024, time.January, 10, 17, 0),
		at(2024, time.January, 10, 16, 0))

	assertReward(t, out, "0")
}

// =============================================================================
// ATTENDANCE REWARD TESTS
// =============================================================================

func TestAttendanceReward_NormalDay(t *testing.T) {
	// GIVEN: Clock-in 08:00, clock-out 17:30, cap 11.5h, minimum 5h, rate 2
	// WHEN: Evaluating
	// THEN: Paid hours 9.5 -> reward 19.00

	p := reward.DefaultAttendancePolicy()
	out := p.Evaluate(at(2024, time.May, 6, 8, 0), at(2024, time.May, 6, 17, 30))

	assertReward(t, out, "19.00")
}

func TestAttendanceReward_BelowMinimum_PaysNothing(t *testing.T) {
	// GIVEN: Clock-in 08:00, clock-out 12:30 (4.5h), minimum 5h
	// WHEN: Evaluating
	// THEN: Reward 0.00 regardless of rate

	p := reward.DefaultAttendancePolicy()
	out := p.Evaluate(at(2024, time.May, 6, 8, 0), at(2024, time.May, 6, 12, 30))

	assertReward(t, out, "0")
}

func TestAttendanceReward_CappedHours(t *testing.T) {
	// GIVEN: A 14-hour day against an 11.5h cap
	// WHEN: Evaluating
	// THEN: Only 11.5 hours pay -> 23.00

	p := reward.DefaultAttendancePolicy()
	out := p.Evaluate(at(2024, time.May, 6, 6, 0), at(2024, time.May, 6, 20, 0))

	assertReward(t, out, "23.00")
}

func TestAttendanceReward_ClockOutBeforeClockIn_ClampsToZero(t *testing.T) {
	// GIVEN: A corrupted pair where clock-out precedes clock-in
	// WHEN: Evaluating
	// THEN: Hours clamp to 0, reward 0 - never negative

	p := reward.DefaultAttendancePolicy()
	out := p.Evaluate(at(2024, time.May, 6, 17, 0), at(2024, time.May, 6, 8, 0))

	assertReward(t, out, "0")
}

func TestAttendanceReward_OvertimeBand(t *testing.T) {
	// GIVEN: Overtime after 17:00 at rate 3, base rate 2
	// WHEN: Working 08:00-19:00 (9h normal + 2h overtime)
	// THEN: 9*2 + 2*3 = 24.00

	p := reward.DefaultAttendancePolicy()
	p.OvertimeAfter = 17 * time.Hour
	p.PaidHourCap = decimal.NewFromInt(12)

	out := p.Evaluate(at(2024, time.May, 6, 8, 0), at(2024, time.May, 6, 19, 0))

	assertReward(t, out, "24.00")
}

func TestAttendanceReward_HardLock_ExcludesLateHours(t *testing.T) {
	// GIVEN: Overtime after 17:00, hard lock at 20:00
	// WHEN: Working 08:00-23:00
	// THEN: Pay stops at 20:00: 9h normal + 3h overtime = 27.00

	p := reward.DefaultAttendancePolicy()
	p.OvertimeAfter = 17 * time.Hour
	p.HardLockAfter = 20 * time.Hour
	p.PaidHourCap = decimal.NewFromInt(14)

	out := p.Evaluate(at(2024, time.May, 6, 8, 0), at(2024, time.May, 6, 23, 0))

	assertReward(t, out, "27.00")
}

func TestAttendanceReward_CapTrimsOvertimeFirst(t *testing.T) {
	// GIVEN: 9h normal + 3h overtime against a 10h cap
	// WHEN: Evaluating
	// THEN: Overtime trims to 1h: 9*2 + 1*3 = 21.00

	p := reward.DefaultAttendancePolicy()
	p.OvertimeAfter = 17 * time.Hour
	p.PaidHourCap = decimal.NewFromInt(10)

	out := p.Evaluate(at(2024, time.May, 6, 8, 0), at(2024, time.May, 6, 20, 0))

	assertReward(t, out, "21.00")
}

func TestAttendanceReward_RoundsHalfAwayFromZero(t *testing.T) {
	// GIVEN: A rate producing a x.xx5 amount
	// WHEN: Evaluating 5h at rate 2.2250 -> 11.125
	// THEN: Rounds to 11.13, half away from zero

	p := reward.DefaultAttendancePolicy()
	p.HourlyRate = money("2.2250")

	out := p.Evaluate(at(2024, time.May, 6, 8, 0), at(2024, time.May, 6, 13, 0))

	assertReward(t, out, "11.13")
}

// =============================================================================
// MISSED CHECKOUT TESTS
// =============================================================================

func TestMissedCheckout_Accepted(t *testing.T) {
	// GIVEN: Admin accepts a self-report of 6 hours at rate 2
	// WHEN: Evaluating
	// THEN: 6 * 2 * 0.5 = 6.00, minimum threshold bypassed

	p := reward.DefaultMissedCheckoutPolicy()
	out := p.Evaluate(decimal.NewFromInt(6))

	assertReward(t, out, "6.00")
}

func TestMissedCheckout_BypassesMinimumThreshold(t *testing.T) {
	// GIVEN: A reported 2 hours, below the normal 5h minimum
	// WHEN: Evaluating via the missed-checkout path
	// THEN: Still pays 2 * 2 * 0.5 = 2.00

	p := reward.DefaultMissedCheckoutPolicy()
	out := p.Evaluate(decimal.NewFromInt(2))

	assertReward(t, out, "2.00")
}

func TestMissedCheckout_NegativeHours_PaysNothing(t *testing.T) {
	p := reward.DefaultMissedCheckoutPolicy()
	out := p.Evaluate(decimal.NewFromInt(-3))

	assertReward(t, out, "0")
}
