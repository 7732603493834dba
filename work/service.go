/*
service.go - Work unit state machine and settlement pipeline

PURPOSE:
  Implements every transition of the work unit lifecycle and the
  settlement flow that runs when a unit becomes done and payable:

    Open ──▶ InProgress ──▶ AwaitingReview ──▶ Completed
                  ▲               │
                  └───────────────┘  (terminal milestone rejected)

  AwaitingReview resolves either by a manual approval or by the
  auto-approval scheduler firing; both funnel through the store's
  conditional status write, so exactly one wins. Settlement computes
  the reward once, freezes it on the unit, and hands off to the
  payment executor. A failed payment leaves the unit Completed with
  payment status Failed - retryable out-of-band, never re-evaluated.

SEE ALSO:
  - types.go: WorkUnit and Milestone
  - scheduler/: The timeout fallback calling AutoApprove
  - payment/: The executor behind the Executor seam
*/
package work

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/notify"
	"github.com/warp/settlement-engine/payment"
	"github.com/warp/settlement-engine/reward"
	"github.com/warp/settlement-engine/scheduler"
)

// =============================================================================
// COLLABORATOR SEAMS
// =============================================================================

// ApprovalTimers is the scheduler as seen by the state machine.
type ApprovalTimers interface {
	Schedule(unitID string, submittedAt time.Time)
	Cancel(unitID string)
}

// Executor is the payment pipeline as seen by the state machine.
type Executor interface {
	Execute(ctx context.Context, workUnitID, destination string, amount decimal.Decimal) (*payment.Result, error)
}

// AccountResolver maps an assignee to their ledger account.
type AccountResolver interface {
	AccountFor(assigneeID string) string
}

type identityAccounts struct{}

func (identityAccounts) AccountFor(assigneeID string) string { return assigneeID }

// IdentityAccounts resolves every assignee to an account of the same name.
func IdentityAccounts() AccountResolver { return identityAccounts{} }

// =============================================================================
// SERVICE
// =============================================================================

// Service drives work unit transitions and settlement.
type Service struct {
	Store    Store
	Timers   ApprovalTimers
	Payments Executor
	Notifier notify.Sink
	Accounts AccountResolver

	Tasks          reward.TaskPolicy
	Attendance     reward.AttendancePolicy
	MissedCheckout reward.MissedCheckoutPolicy

	Now func() time.Time
}

// NewService wires a service with default policies, identity account
// resolution, and a no-op notifier. Callers override fields as needed.
func NewService(store Store, timers ApprovalTimers, payments Executor) *Service {
	return &Service{
		Store:          store,
		Timers:         timers,
		Payments:       payments,
		Notifier:       notify.Noop{},
		Accounts:       IdentityAccounts(),
		Tasks:          reward.DefaultTaskPolicy(),
		Attendance:     reward.DefaultAttendancePolicy(),
		MissedCheckout: reward.DefaultMissedCheckoutPolicy(),
		Now:            time.Now,
	}
}

// =============================================================================
// CREATION
// =============================================================================

// CreateTask opens a new task unit.
func (s *Service) CreateTask(ctx context.Context, id, assigneeID string, tier reward.Tier, startAt, deadline time.Time) (*WorkUnit, error) {
	switch {
	case id == "":
		return nil, &ValidationError{Field: "id", Reason: "required"}
	case assigneeID == "":
		return nil, &ValidationError{Field: "assignee_id", Reason: "required"}
	case !tier.Valid():
		return nil, &ValidationError{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", tier)}
	case deadline.IsZero():
		return nil, &ValidationError{Field: "deadline", Reason: "required"}
	}
	if startAt.IsZero() {
		startAt = s.Now()
	}
	if !deadline.After(startAt) {
		return nil, &ValidationError{Field: "deadline", Reason: "must be after start"}
	}

	now := s.Now()
	u := &WorkUnit{
		ID:            id,
		AssigneeID:    assigneeID,
		Kind:          KindTask,
		Tier:          tier,
		StartAt:       startAt,
		Deadline:      deadline,
		Status:        StatusOpen,
		Reward:        decimal.Zero,
		Penalty:       decimal.Zero,
		PaymentStatus: PaymentNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.Save(ctx, u); err != nil {
		return nil, fmt.Errorf("saving task: %w", err)
	}
	return u, nil
}

// ClockIn opens a new attendance unit for one day. The deadline is the
// end of the clock-in day.
func (s *Service) ClockIn(ctx context.Context, id, assigneeID string, at time.Time) (*WorkUnit, error) {
	switch {
	case id == "":
		return nil, &ValidationError{Field: "id", Reason: "required"}
	case assigneeID == "":
		return nil, &ValidationError{Field: "assignee_id", Reason: "required"}
	}
	if at.IsZero() {
		at = s.Now()
	}

	now := s.Now()
	u := &WorkUnit{
		ID:            id,
		AssigneeID:    assigneeID,
		Kind:          KindAttendance,
		StartAt:       at,
		Deadline:      endOfDay(at),
		Status:        StatusOpen,
		Reward:        decimal.Zero,
		Penalty:       decimal.Zero,
		PaymentStatus: PaymentNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.Save(ctx, u); err != nil {
		return nil, fmt.Errorf("saving attendance day: %w", err)
	}
	return u, nil
}

// Get returns a unit by id.
func (s *Service) Get(ctx context.Context, id string) (*WorkUnit, error) {
	return s.Store.Get(ctx, id)
}

// =============================================================================
// TASK MILESTONES
// =============================================================================

// SubmitMilestone records the assignee's claim of reaching a checkpoint.
// The first submission moves Open to InProgress; submitting 100 moves the
// unit into review, freezes its completion time, and arms the approval
// timer.
func (s *Service) SubmitMilestone(ctx context.Context, unitID string, percent int, note string) (*WorkUnit, error) {
	u, err := s.Store.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if u.Kind != KindTask {
		return nil, &ValidationError{Field: "kind", Reason: "milestones apply to tasks only"}
	}
	if u.Status != StatusOpen && u.Status != StatusInProgress {
		return nil, &StateConflictError{UnitID: unitID, Status: u.Status, Attempted: "submit milestone"}
	}
	if !validPercent(percent) {
		return nil, &ValidationError{Field: "percent", Reason: fmt.Sprintf("must be one of %v", MilestonePercents)}
	}
	if u.PendingMilestone() != nil {
		return nil, &StateConflictError{UnitID: unitID, Status: u.Status, Attempted: "submit milestone while another is pending"}
	}
	if expected := nextMilestone(u.HighestApproved()); percent != expected {
		return nil, &MilestoneOrderError{UnitID: unitID, Requested: percent, Expected: expected}
	}

	now := s.Now()
	if m := u.MilestoneAt(percent); m != nil {
		// Resubmission after a rejection.
		m.Status = MilestonePending
		m.SubmittedAt = now
		m.ApprovedAt = nil
		m.ApproverID = ""
		m.Note = note
	} else {
		u.Milestones = append(u.Milestones, Milestone{
			Percent:     percent,
			Status:      MilestonePending,
			SubmittedAt: now,
			Note:        note,
		})
	}

	if u.Status == StatusOpen {
		u.Status = StatusInProgress
	}
	u.Progress = percent

	if percent == 100 {
		u.Status = StatusAwaitingReview
		completed := now
		u.CompletedAt = &completed
		u.SubmittedAt = &completed
	}
	u.UpdatedAt = now

	if err := s.Store.Save(ctx, u); err != nil {
		return nil, fmt.Errorf("saving milestone submission: %w", err)
	}

	if percent == 100 && s.Timers != nil {
		s.Timers.Schedule(u.ID, now)
	}
	return u, nil
}

// ApproveMilestone approves a pending checkpoint. Approving the terminal
// milestone settles the unit: reward calculation and payment run exactly
// once, guarded by the conditional status write.
func (s *Service) ApproveMilestone(ctx context.Context, unitID string, percent int, approverID, note string) (*WorkUnit, error) {
	u, err := s.Store.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	m := u.MilestoneAt(percent)
	if m == nil || m.Status != MilestonePending {
		return nil, &StateConflictError{UnitID: unitID, Status: u.Status, Attempted: "approve milestone"}
	}
	for _, p := range MilestonePercents {
		if p >= percent {
			break
		}
		if prior := u.MilestoneAt(p); prior == nil || prior.Status != MilestoneApproved {
			return nil, &MilestoneOrderError{UnitID: unitID, Requested: percent, Expected: p}
		}
	}

	now := s.Now()
	m.Status = MilestoneApproved
	m.ApprovedAt = &now
	m.ApproverID = approverID
	if note != "" {
		m.Note = note
	}
	u.Progress = percent
	u.UpdatedAt = now

	if percent == 100 {
		if u.Status != StatusAwaitingReview {
			return nil, &StateConflictError{UnitID: unitID, Status: u.Status, Attempted: "approve terminal milestone"}
		}
		if s.Timers != nil {
			s.Timers.Cancel(u.ID)
		}
		return s.settle(ctx, u, StatusAwaitingReview, s.outcomeFor(u), approverID)
	}

	if err := s.Store.Save(ctx, u); err != nil {
		return nil, fmt.Errorf("saving milestone approval: %w", err)
	}
	return u, nil
}

// RejectMilestone rejects a pending checkpoint. Progress reverts to the
// highest approved milestone below it; rejecting the terminal milestone
// also pulls the unit out of review, clears its completion time, and
// cancels the approval timer.
func (s *Service) RejectMilestone(ctx context.Context, unitID string, percent int, approverID, note string) (*WorkUnit, error) {
	u, err := s.Store.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	m := u.MilestoneAt(percent)
	if m == nil || m.Status != MilestonePending {
		return nil, &StateConflictError{UnitID: unitID, Status: u.Status, Attempted: "reject milestone"}
	}

	if u.Status == StatusAwaitingReview {
		ok, err := s.Store.TransitionStatus(ctx, unitID, StatusAwaitingReview, StatusInProgress)
		if err != nil {
			return nil, fmt.Errorf("reverting unit to in-progress: %w", err)
		}
		if !ok {
			// Auto-approval fired first; the unit already settled.
			return nil, &StateConflictError{UnitID: unitID, Status: u.Status, Attempted: "reject terminal milestone"}
		}
		u.Status = StatusInProgress
		u.CompletedAt = nil
		u.SubmittedAt = nil
		if s.Timers != nil {
			s.Timers.Cancel(u.ID)
		}
	}

	now := s.Now()
	m.Status = MilestoneRejected
	m.ApproverID = approverID
	m.Note = note
	u.Progress = u.HighestApproved()
	u.UpdatedAt = now

	if err := s.Store.Save(ctx, u); err != nil {
		return nil, fmt.Errorf("saving milestone rejection: %w", err)
	}
	return u, nil
}

// =============================================================================
// ATTENDANCE
// =============================================================================

// Checkout closes an attendance day and moves it into review. The
// clock-out instant becomes the completion time.
func (s *Service) Checkout(ctx context.Context, unitID string, at time.Time) (*WorkUnit, error) {
	u, err := s.Store.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if u.Kind != KindAttendance {
		return nil, &ValidationError{Field: "kind", Reason: "checkout applies to attendance only"}
	}
	if u.Status != StatusOpen && u.Status != StatusInProgress {
		return nil, &StateConflictError{UnitID: unitID, Status: u.Status, Attempted: "checkout"}
	}
	if at.IsZero() {
		at = s.Now()
	}

	now := s.Now()
	u.Status = StatusAwaitingReview
	u.CompletedAt = &at
	u.SubmittedAt = &now
	u.Progress = 100
	u.UpdatedAt = now

	if err := s.Store.Save(ctx, u); err != nil {
		return nil, fmt.Errorf("saving checkout: %w", err)
	}
	if s.Timers != nil {
		s.Timers.Schedule(u.ID, now)
	}
	return u, nil
}

// ApproveAttendance settles a checked-out attendance day.
func (s *Service) ApproveAttendance(ctx context.Context, unitID, approverID string) (*WorkUnit, error) {
	u, err := s.Store.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if u.Kind != KindAttendance {
		return nil, &ValidationError{Field: "kind", Reason: "not an attendance unit"}
	}
	if u.Status != StatusAwaitingReview {
		return nil, &StateConflictError{UnitID: unitID, Status: u.Status, Attempted: "approve attendance"}
	}
	if s.Timers != nil {
		s.Timers.Cancel(u.ID)
	}
	return s.settle(ctx, u, StatusAwaitingReview, s.outcomeFor(u), approverID)
}

// MarkSuspended sweeps attendance days that have a start event but no end
// event and whose day has passed. Suspended is read-only and not payable
// until a missed-checkout decision resolves it.
func (s *Service) MarkSuspended(ctx context.Context, asOf time.Time) (int, error) {
	suspended := 0
	for _, status := range []Status{StatusOpen, StatusInProgress} {
		units, err := s.Store.ListByStatus(ctx, status)
		if err != nil {
			return suspended, fmt.Errorf("listing %s units: %w", status, err)
		}
		for _, u := range units {
			if u.Kind != KindAttendance || u.CompletedAt != nil {
				continue
			}
			if !endOfDay(u.StartAt).Before(asOf) {
				continue
			}
			ok, err := s.Store.TransitionStatus(ctx, u.ID, status, StatusSuspended)
			if err != nil {
				return suspended, fmt.Errorf("suspending unit %s: %w", u.ID, err)
			}
			if ok {
				suspended++
			}
		}
	}
	return suspended, nil
}

// AcceptMissedCheckout settles a suspended day from the assignee's
// self-reported hours at the fixed penalty multiplier, bypassing the
// minimum-hours threshold.
func (s *Service) AcceptMissedCheckout(ctx context.Context, unitID string, reportedHours decimal.Decimal, approverID string) (*WorkUnit, error) {
	u, err := s.Store.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if u.Kind != KindAttendance {
		return nil, &ValidationError{Field: "kind", Reason: "not an attendance unit"}
	}
	if u.Status != StatusSuspended {
		return nil, &StateConflictError{UnitID: unitID, Status: u.Status, Attempted: "accept missed checkout"}
	}
	if reportedHours.IsNegative() {
		return nil, &ValidationError{Field: "reported_hours", Reason: "must not be negative"}
	}

	u.ReportedHours = &reportedHours
	return s.settle(ctx, u, StatusSuspended, s.MissedCheckout.Evaluate(reportedHours), approverID)
}

// RejectMissedCheckout reclassifies a suspended day as unpaid leave.
func (s *Service) RejectMissedCheckout(ctx context.Context, unitID, approverID, note string) (*WorkUnit, error) {
	u, err := s.Store.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if u.Status != StatusSuspended {
		return nil, &StateConflictError{UnitID: unitID, Status: u.Status, Attempted: "reject missed checkout"}
	}

	ok, err := s.Store.TransitionStatus(ctx, unitID, StatusSuspended, StatusRejected)
	if err != nil {
		return nil, fmt.Errorf("rejecting missed checkout: %w", err)
	}
	if !ok {
		return nil, &StateConflictError{UnitID: unitID, Status: u.Status, Attempted: "reject missed checkout"}
	}

	u.Status = StatusRejected
	u.Reward = decimal.Zero
	u.Penalty = decimal.Zero
	u.PaymentStatus = PaymentNone
	u.Note = "unpaid leave: " + note
	u.UpdatedAt = s.Now()

	if err := s.Store.Save(ctx, u); err != nil {
		return nil, fmt.Errorf("saving rejection: %w", err)
	}
	s.Notifier.Notify(ctx, notify.Message{
		AssigneeID: u.AssigneeID,
		Subject:    "attendance day rejected",
		Body:       fmt.Sprintf("day %s was reclassified as unpaid leave", u.ID),
	})
	return u, nil
}

// =============================================================================
// AUTO-APPROVAL AND PAYMENT RETRY
// =============================================================================

// AutoApprove is the scheduler's expiry path. It re-checks that the unit
// is still awaiting review - a race already resolved manually is a no-op -
// and then settles exactly as a manual approval would, using the
// originally recorded completion time.
func (s *Service) AutoApprove(ctx context.Context, unitID string) error {
	u, err := s.Store.Get(ctx, unitID)
	if err != nil {
		return err
	}
	if u.Status != StatusAwaitingReview {
		return nil
	}

	if u.Kind == KindTask {
		if m := u.MilestoneAt(100); m != nil && m.Status == MilestonePending {
			now := s.Now()
			m.Status = MilestoneApproved
			m.ApprovedAt = &now
			m.ApproverID = "system"
		}
	}

	_, err = s.settle(ctx, u, StatusAwaitingReview, s.outcomeFor(u), "system")
	if errors.Is(err, ErrStateConflict) {
		// A manual decision landed between the fire and the write.
		return nil
	}
	return err
}

// RetryPayment re-runs the payment for a Completed unit whose payment
// failed. The reward is the frozen amount - business rules are never
// re-evaluated here.
func (s *Service) RetryPayment(ctx context.Context, unitID string) (*WorkUnit, error) {
	u, err := s.Store.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if u.Status != StatusCompleted {
		return nil, &StateConflictError{UnitID: unitID, Status: u.Status, Attempted: "retry payment"}
	}
	if u.PaymentStatus != PaymentFailed && u.PaymentStatus != PaymentPending {
		return nil, &StateConflictError{UnitID: unitID, Status: u.Status, Attempted: "retry payment with status " + string(u.PaymentStatus)}
	}
	if !u.Reward.IsPositive() {
		return nil, &ValidationError{Field: "reward", Reason: "nothing payable"}
	}

	s.pay(ctx, u)
	return u, nil
}

// PendingReview implements scheduler.Source: every unit still awaiting
// review with its recorded submission time, for timer restoration.
func (s *Service) PendingReview(ctx context.Context) ([]scheduler.Pending, error) {
	units, err := s.Store.ListByStatus(ctx, StatusAwaitingReview)
	if err != nil {
		return nil, err
	}
	pending := make([]scheduler.Pending, 0, len(units))
	for _, u := range units {
		if u.SubmittedAt == nil {
			log.Printf("[Work] unit %s awaiting review without submission time, skipping restore", u.ID)
			continue
		}
		pending = append(pending, scheduler.Pending{UnitID: u.ID, SubmittedAt: *u.SubmittedAt})
	}
	return pending, nil
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// settle moves a unit into Completed through the conditional status write,
// freezes the computed reward, and runs the payment. Exactly one caller
// wins the write; losers get a state conflict and no side effects.
func (s *Service) settle(ctx context.Context, u *WorkUnit, from Status, out reward.Outcome, decidedBy string) (*WorkUnit, error) {
	ok, err := s.Store.TransitionStatus(ctx, u.ID, from, StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("completing unit %s: %w", u.ID, err)
	}
	if !ok {
		return nil, &StateConflictError{UnitID: u.ID, Status: u.Status, Attempted: "settle"}
	}

	u.Status = StatusCompleted
	u.Reward = out.Reward
	u.Penalty = out.Penalty
	if u.Reward.IsPositive() {
		u.PaymentStatus = PaymentPending
	} else {
		u.PaymentStatus = PaymentNone
	}
	u.UpdatedAt = s.Now()

	if err := s.Store.Save(ctx, u); err != nil {
		return nil, fmt.Errorf("saving settled unit %s: %w", u.ID, err)
	}
	log.Printf("[Work] unit %s settled by %s, reward %s", u.ID, decidedBy, u.Reward)

	if u.Reward.IsPositive() {
		s.pay(ctx, u)
	} else {
		s.Notifier.Notify(ctx, notify.Message{
			AssigneeID: u.AssigneeID,
			Subject:    "work unit settled",
			Body:       fmt.Sprintf("unit %s settled with nothing payable", u.ID),
		})
	}
	return u, nil
}

// pay runs the executor and records the outcome on the unit. Payment
// errors are never returned to the transition caller - they become the
// unit's payment status, retryable without re-deciding eligibility.
func (s *Service) pay(ctx context.Context, u *WorkUnit) {
	dest := s.Accounts.AccountFor(u.AssigneeID)
	res, err := s.Payments.Execute(ctx, u.ID, dest, u.Reward)
	now := s.Now()

	if err != nil {
		u.PaymentStatus = PaymentFailed
		u.UpdatedAt = now
		if saveErr := s.Store.Save(ctx, u); saveErr != nil {
			log.Printf("[Work] failed to persist payment failure on unit %s: %v", u.ID, saveErr)
		}
		s.Notifier.Notify(ctx, notify.Message{
			AssigneeID: u.AssigneeID,
			Subject:    "payment failed",
			Body:       paymentFailureMessage(u.ID, err),
			Context:    map[string]string{"unit_id": u.ID, "error": err.Error()},
		})
		return
	}

	u.PaymentStatus = PaymentCompleted
	u.PaymentRef = &PaymentRef{TxRef: res.Receipt.TxRef, BlockHeight: res.Receipt.BlockHeight}
	u.UpdatedAt = now
	if saveErr := s.Store.Save(ctx, u); saveErr != nil {
		log.Printf("[Work] failed to persist payment success on unit %s: %v", u.ID, saveErr)
	}
	s.Notifier.Notify(ctx, notify.Message{
		AssigneeID: u.AssigneeID,
		Subject:    "payment settled",
		Body:       fmt.Sprintf("unit %s paid %s (tx %s)", u.ID, u.Reward, res.Receipt.TxRef),
		Context:    map[string]string{"unit_id": u.ID, "tx_ref": res.Receipt.TxRef},
	})
}

// outcomeFor computes the reward for a unit from its frozen completion
// pair. Must only be called on the settlement path.
func (s *Service) outcomeFor(u *WorkUnit) reward.Outcome {
	if u.CompletedAt == nil {
		return reward.ZeroOutcome()
	}
	switch u.Kind {
	case KindTask:
		return s.Tasks.Evaluate(u.Tier, u.Deadline, *u.CompletedAt)
	case KindAttendance:
		return s.Attendance.Evaluate(u.StartAt, *u.CompletedAt)
	default:
		return reward.ZeroOutcome()
	}
}

// paymentFailureMessage distinguishes remediation per failure kind: the
// fix for missing funds is not the fix for an unauthorized signer or an
// unreachable network.
func paymentFailureMessage(unitID string, err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientLiquidity):
		return fmt.Sprintf("payment for unit %s failed: not enough ledger funds; add funds and retry", unitID)
	case errors.Is(err, ledger.ErrUnauthorizedSigner):
		return fmt.Sprintf("payment for unit %s failed: signing identity unauthorized; restore authorization and retry", unitID)
	case errors.Is(err, ledger.ErrNetworkUnavailable):
		return fmt.Sprintf("payment for unit %s failed: ledger network unreachable; retry once connectivity is restored", unitID)
	case errors.Is(err, ledger.ErrOrderingConflict):
		return fmt.Sprintf("payment for unit %s failed: ordering conflicts persisted through retries; retry the payment", unitID)
	default:
		return fmt.Sprintf("payment for unit %s failed: %v", unitID, err)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func validPercent(p int) bool {
	for _, v := range MilestonePercents {
		if v == p {
			return true
		}
	}
	return false
}

// nextMilestone returns the checkpoint after the given approved percent,
// or 0 when the sequence is exhausted.
func nextMilestone(highestApproved int) int {
	for _, p := range MilestonePercents {
		if p > highestApproved {
			return p
		}
	}
	return 0
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}
