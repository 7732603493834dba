/*
attendance.go - Attendance reward policies

PURPOSE:
  Computes the reward for one attendance day from clock-in/clock-out
  timestamps, and the separate missed-checkout fallback for days where
  the end event never arrived.

HOUR BANDS:
  A paid day is split into two bands by a wall-clock cutoff:

    clock-in ........ OvertimeAfter ........ HardLockAfter ........
    |---- normal band ----|---- overtime band ----|---- unpaid ----|

  Hours in the normal band pay HourlyRate, hours in the overtime band
  pay OvertimeRate, and anything after the hard lock is excluded from
  pay entirely. When OvertimeAfter is unset the whole day is one band.

THRESHOLDS:
  paid hours = min(raw hours, PaidHourCap); the cap trims from the
  overtime band first. If paid hours fall below MinimumHours the day
  pays nothing at all - no partial pay below the threshold.

MISSED CHECKOUT:
  An administrator may accept a self-reported hour count for a day with
  no checkout. Accepted: reward = reported * rate * Multiplier, and the
  MinimumHours threshold does NOT apply. Rejected: reward = 0 and the
  day is reclassified as unpaid leave. This is deliberately a separate
  policy from the late-task 50% rule - it waives a threshold the other
  rule never touches.

EDGE CASES:
  - clock-out before clock-in clamps to 0 hours, never negative
  - zero paid hours is below any positive minimum -> reward 0

SEE ALSO:
  - task.go: Task-side policy
*/
package reward

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ATTENDANCE POLICY
// =============================================================================

// AttendancePolicy holds the rates and cutoffs for one attendance scheme.
// OvertimeAfter and HardLockAfter are wall-clock times of day expressed as
// offsets from midnight (e.g. 17h30m for 17:30); zero disables the band.
type AttendancePolicy struct {
	HourlyRate   decimal.Decimal
	OvertimeRate decimal.Decimal
	PaidHourCap  decimal.Decimal
	MinimumHours decimal.Decimal

	OvertimeAfter time.Duration
	HardLockAfter time.Duration
}

// DefaultAttendancePolicy returns an 11.5h-capped, 5h-minimum scheme at
// rate 2 with no overtime band.
func DefaultAttendancePolicy() AttendancePolicy {
	return AttendancePolicy{
		HourlyRate:   decimal.NewFromInt(2),
		OvertimeRate: decimal.NewFromInt(3),
		PaidHourCap:  decimal.NewFromFloat(11.5),
		MinimumHours: decimal.NewFromInt(5),
	}
}

// Evaluate computes the reward for one attendance day.
func (p AttendancePolicy) Evaluate(clockIn, clockOut time.Time) Outcome {
	if !clockOut.After(clockIn) {
		return ZeroOutcome()
	}

	// Apply the hard lock: time worked past the lock cutoff is unpaid.
	end := clockOut
	if p.HardLockAfter > 0 {
		lock := dayOffset(clockIn, p.HardLockAfter)
		if end.After(lock) {
			end = lock
		}
		if !end.After(clockIn) {
			return ZeroOutcome()
		}
	}

	normal := hoursBetween(clockIn, end)
	overtime := decimal.Zero
	if p.OvertimeAfter > 0 {
		cutoff := dayOffset(clockIn, p.OvertimeAfter)
		if end.After(cutoff) {
			start := clockIn
			if cutoff.After(start) {
				start = cutoff
			}
			overtime = hoursBetween(start, end)
			normal = normal.Sub(overtime)
		}
	}

	// Cap total paid hours, trimming overtime first.
	total := normal.Add(overtime)
	if total.GreaterThan(p.PaidHourCap) {
		excess := total.Sub(p.PaidHourCap)
		if overtime.GreaterThanOrEqual(excess) {
			overtime = overtime.Sub(excess)
		} else {
			normal = normal.Sub(excess.Sub(overtime))
			overtime = decimal.Zero
		}
		total = p.PaidHourCap
	}

	if total.LessThan(p.MinimumHours) {
		return ZeroOutcome()
	}

	pay := normal.Mul(p.HourlyRate).Add(overtime.Mul(p.OvertimeRate))
	return Outcome{Reward: Round2(pay), Penalty: decimal.Zero}
}

// =============================================================================
// MISSED CHECKOUT POLICY
// =============================================================================

// MissedCheckoutPolicy is the admin-accepted fallback for a day with a
// start event but no end event. It bypasses the minimum-hours threshold.
type MissedCheckoutPolicy struct {
	HourlyRate decimal.Decimal
	Multiplier decimal.Decimal
}

// DefaultMissedCheckoutPolicy pays half rate on the reported hours.
func DefaultMissedCheckoutPolicy() MissedCheckoutPolicy {
	return MissedCheckoutPolicy{
		HourlyRate: decimal.NewFromInt(2),
		Multiplier: decimal.NewFromFloat(0.5),
	}
}

// Evaluate computes the reward for an accepted self-report. Rejection is
// represented by the caller never invoking this (the day pays zero).
func (p MissedCheckoutPolicy) Evaluate(reportedHours decimal.Decimal) Outcome {
	if reportedHours.IsNegative() {
		return ZeroOutcome()
	}
	pay := reportedHours.Mul(p.HourlyRate).Mul(p.Multiplier)
	return Outcome{Reward: Round2(pay), Penalty: decimal.Zero}
}

// =============================================================================
// HELPERS
// =============================================================================

// dayOffset returns the wall-clock time at the given offset from midnight
// on the same calendar day as ref.
func dayOffset(ref time.Time, offset time.Duration) time.Time {
	midnight := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	return midnight.Add(offset)
}

func hoursBetween(from, to time.Time) decimal.Decimal {
	if !to.After(from) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(to.Sub(from).Hours())
}
