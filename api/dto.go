/*
dto.go - API request and response structures

PURPOSE:
  All JSON structures for the REST API in one place. Wire formats are
  decoupled from domain types: money travels as strings (never floats),
  times as RFC3339.

SEE ALSO:
  - handlers.go: Producers and consumers of these DTOs
*/
package api

import (
	"time"

	"github.com/warp/settlement-engine/payment"
	"github.com/warp/settlement-engine/work"
)

// =============================================================================
// REQUEST DTOs
// =============================================================================

// CreateTaskRequest opens a new task unit.
type CreateTaskRequest struct {
	ID         string `json:"id"`
	AssigneeID string `json:"assignee_id"`
	Tier       string `json:"tier"`
	StartAt    string `json:"start_at,omitempty"` // RFC3339; defaults to now
	Deadline   string `json:"deadline"`           // RFC3339
}

// SubmitMilestoneRequest claims a progress checkpoint.
type SubmitMilestoneRequest struct {
	Percent int    `json:"percent"`
	Note    string `json:"note,omitempty"`
}

// DecisionRequest carries an approver's decision details.
type DecisionRequest struct {
	ApproverID string `json:"approver_id"`
	Note       string `json:"note,omitempty"`
}

// ClockInRequest opens an attendance day.
type ClockInRequest struct {
	ID         string `json:"id"`
	AssigneeID string `json:"assignee_id"`
	At         string `json:"at,omitempty"` // RFC3339; defaults to now
}

// CheckoutRequest closes an attendance day.
type CheckoutRequest struct {
	At string `json:"at,omitempty"` // RFC3339; defaults to now
}

// MissedCheckoutRequest resolves a suspended attendance day.
type MissedCheckoutRequest struct {
	Accept        bool   `json:"accept"`
	ReportedHours string `json:"reported_hours,omitempty"` // decimal string, required when accepting
	ApproverID    string `json:"approver_id"`
	Note          string `json:"note,omitempty"`
}

// =============================================================================
// RESPONSE DTOs
// =============================================================================

// WorkUnitDTO is the wire form of a work unit.
type WorkUnitDTO struct {
	ID            string         `json:"id"`
	AssigneeID    string         `json:"assignee_id"`
	Kind          string         `json:"kind"`
	Tier          string         `json:"tier,omitempty"`
	StartAt       string         `json:"start_at"`
	Deadline      string         `json:"deadline"`
	CompletedAt   string         `json:"completed_at,omitempty"`
	Progress      int            `json:"progress"`
	Milestones    []MilestoneDTO `json:"milestones,omitempty"`
	Status        string         `json:"status"`
	Reward        string         `json:"reward"`
	Penalty       string         `json:"penalty"`
	PaymentStatus string         `json:"payment_status"`
	TxRef         string         `json:"tx_ref,omitempty"`
	BlockHeight   int64          `json:"block_height,omitempty"`
	ReportedHours string         `json:"reported_hours,omitempty"`
	Note          string         `json:"note,omitempty"`
	UpdatedAt     string         `json:"updated_at"`
}

// MilestoneDTO is the wire form of a task checkpoint.
type MilestoneDTO struct {
	Percent     int    `json:"percent"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submitted_at"`
	ApprovedAt  string `json:"approved_at,omitempty"`
	ApproverID  string `json:"approver_id,omitempty"`
	Note        string `json:"note,omitempty"`
}

// AttemptDTO is the wire form of one payment attempt.
type AttemptDTO struct {
	ID          string `json:"id"`
	WorkUnitID  string `json:"work_unit_id"`
	Requested   string `json:"requested"`
	TokenAmount string `json:"token_amount"`
	AttemptedAt string `json:"attempted_at"`
	Outcome     string `json:"outcome"`
	TxRef       string `json:"tx_ref,omitempty"`
	BlockHeight int64  `json:"block_height,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toUnitDTO(u *work.WorkUnit) WorkUnitDTO {
	dto := WorkUnitDTO{
		ID:            u.ID,
		AssigneeID:    u.AssigneeID,
		Kind:          string(u.Kind),
		Tier:          string(u.Tier),
		StartAt:       u.StartAt.Format(time.RFC3339),
		Deadline:      u.Deadline.Format(time.RFC3339),
		Progress:      u.Progress,
		Status:        string(u.Status),
		Reward:        u.Reward.String(),
		Penalty:       u.Penalty.String(),
		PaymentStatus: string(u.PaymentStatus),
		Note:          u.Note,
		UpdatedAt:     u.UpdatedAt.Format(time.RFC3339),
	}
	if u.CompletedAt != nil {
		dto.CompletedAt = u.CompletedAt.Format(time.RFC3339)
	}
	if u.PaymentRef != nil {
		dto.TxRef = u.PaymentRef.TxRef
		dto.BlockHeight = u.PaymentRef.BlockHeight
	}
	if u.ReportedHours != nil {
		dto.ReportedHours = u.ReportedHours.String()
	}
	for _, m := range u.Milestones {
		md := MilestoneDTO{
			Percent:     m.Percent,
			Status:      string(m.Status),
			SubmittedAt: m.SubmittedAt.Format(time.RFC3339),
			ApproverID:  m.ApproverID,
			Note:        m.Note,
		}
		if m.ApprovedAt != nil {
			md.ApprovedAt = m.ApprovedAt.Format(time.RFC3339)
		}
		dto.Milestones = append(dto.Milestones, md)
	}
	return dto
}

func toAttemptDTOs(attempts []payment.Attempt) []AttemptDTO {
	dtos := make([]AttemptDTO, len(attempts))
	for i, a := range attempts {
		dtos[i] = AttemptDTO{
			ID:          a.ID,
			WorkUnitID:  a.WorkUnitID,
			Requested:   a.Requested.String(),
			TokenAmount: a.TokenAmount.String(),
			AttemptedAt: a.AttemptedAt.Format(time.RFC3339),
			Outcome:     string(a.Outcome),
			TxRef:       a.TxRef,
			BlockHeight: a.BlockHeight,
			Error:       a.Error,
		}
	}
	return dtos
}
