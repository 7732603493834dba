/*
Package work owns the payable work unit: its state machine, its
milestones, and the settlement pipeline that runs when a unit becomes
done and payable.

PURPOSE:
  A WorkUnit is one payable item - an attendance day or a task. The
  package decides when a unit is settled (manual approval or scheduler
  timeout), computes its reward exactly once, and drives the payment
  executor. The settlement decision (Completed) and the payment attempt
  are deliberately decoupled: a failed payment never reverts Completed,
  it is retried out-of-band against the frozen reward.

KEY CONCEPTS IN THIS FILE (types.go):
  - WorkUnit: identity, time window, progress, status, computed reward,
    payment status
  - Milestone: an ordered checkpoint at 25/50/75/100 requiring approval
  - Status / PaymentStatus: the two independent state dimensions

INVARIANTS:
  1. Deadline is immutable once a unit enters review
  2. Completion time is set once (final submission or timeout), and a
     milestone rejection is the only thing that clears it
  3. At most one milestone is pending at a time; approving milestone N
     requires all milestones below N approved
  4. No transition leaves Completed

SEE ALSO:
  - service.go: The transitions and the settlement pipeline
  - store.go: Persistence contract, including the conditional write
  - errors.go: Validation and state-conflict errors
*/
package work

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/reward"
)

// =============================================================================
// KIND AND STATUS
// =============================================================================

type Kind string

const (
	KindAttendance Kind = "attendance"
	KindTask       Kind = "task"
)

type Status string

const (
	StatusOpen           Status = "open"
	StatusInProgress     Status = "in_progress"
	StatusAwaitingReview Status = "awaiting_review"
	StatusCompleted      Status = "completed"
	StatusRejected       Status = "rejected"
	StatusSuspended      Status = "suspended"
)

// Terminal reports whether no transition leaves this status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

type PaymentStatus string

const (
	PaymentNone      PaymentStatus = "none"
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentRef locates a settled payment on the ledger.
type PaymentRef struct {
	TxRef       string
	BlockHeight int64
}

// =============================================================================
// MILESTONE - Ordered task checkpoint
// =============================================================================

type MilestoneStatus string

const (
	MilestonePending  MilestoneStatus = "pending"
	MilestoneApproved MilestoneStatus = "approved"
	MilestoneRejected MilestoneStatus = "rejected"
)

// MilestonePercents are the only valid checkpoint positions, in order.
var MilestonePercents = []int{25, 50, 75, 100}

// Milestone is one checkpointed progress percentage on a task.
type Milestone struct {
	Percent     int
	Status      MilestoneStatus
	SubmittedAt time.Time
	ApprovedAt  *time.Time
	ApproverID  string
	Note        string
}

// =============================================================================
// WORK UNIT
// =============================================================================

// WorkUnit is one payable unit of work.
type WorkUnit struct {
	ID         string
	AssigneeID string
	Kind       Kind
	Tier       reward.Tier // task kind only

	// Time window. Deadline is immutable once the unit enters review.
	StartAt  time.Time
	Deadline time.Time

	// Completion time: set once by the final submission (or checkout),
	// cleared only by a terminal-milestone rejection.
	CompletedAt *time.Time

	// SubmittedAt records when the unit entered AwaitingReview; the
	// scheduler restores its timer from this after a restart.
	SubmittedAt *time.Time

	Progress   int // 0-100
	Milestones []Milestone
	Status     Status

	// Frozen at settlement; never recomputed afterwards.
	Reward  decimal.Decimal
	Penalty decimal.Decimal

	PaymentStatus PaymentStatus
	PaymentRef    *PaymentRef

	// ReportedHours is the assignee's self-report on a missed-checkout day.
	ReportedHours *decimal.Decimal

	Note      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MilestoneAt returns the milestone at the given percent, or nil.
func (u *WorkUnit) MilestoneAt(percent int) *Milestone {
	for i := range u.Milestones {
		if u.Milestones[i].Percent == percent {
			return &u.Milestones[i]
		}
	}
	return nil
}

// HighestApproved returns the highest approved milestone percent, or 0.
func (u *WorkUnit) HighestApproved() int {
	highest := 0
	for _, m := range u.Milestones {
		if m.Status == MilestoneApproved && m.Percent > highest {
			highest = m.Percent
		}
	}
	return highest
}

// PendingMilestone returns the milestone currently pending review, or nil.
// At most one exists at a time.
func (u *WorkUnit) PendingMilestone() *Milestone {
	for i := range u.Milestones {
		if u.Milestones[i].Status == MilestonePending {
			return &u.Milestones[i]
		}
	}
	return nil
}
