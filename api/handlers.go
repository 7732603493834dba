/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes the work unit state machine and payment pipeline via REST.
  Handles HTTP request/response, JSON serialization, and delegates every
  decision to the work service.

ENDPOINTS:
  Tasks:
    POST   /api/tasks                              Create task
    POST   /api/units/{id}/milestones              Submit milestone
    POST   /api/units/{id}/milestones/{pct}/approve  Approve milestone
    POST   /api/units/{id}/milestones/{pct}/reject   Reject milestone

  Attendance:
    POST   /api/attendance/clock-in                Open an attendance day
    POST   /api/attendance/{id}/checkout           Close the day
    POST   /api/attendance/{id}/approve            Approve the day
    POST   /api/attendance/{id}/missed-checkout    Resolve a suspended day

  Units and payments:
    GET    /api/units/{id}                         Unit with milestones
    GET    /api/units?status=...                   Units by status
    GET    /api/units/{id}/attempts                Payment attempt history
    POST   /api/units/{id}/payment/retry           Retry a failed payment

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, milestone ordering
  - 404: Unknown work unit
  - 409: State conflicts (transition from a non-eligible status, races)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - work/service.go: The state machine behind every handler
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/payment"
	"github.com/warp/settlement-engine/reward"
	"github.com/warp/settlement-engine/work"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *work.Service
	Attempts payment.Recorder
}

// NewHandler creates a handler around the work service and attempt log.
func NewHandler(svc *work.Service, attempts payment.Recorder) *Handler {
	return &Handler{Service: svc, Attempts: attempts}
}

// =============================================================================
// TASK HANDLERS
// =============================================================================

// CreateTask opens a new task unit.
// POST /api/tasks
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	deadline, err := time.Parse(time.RFC3339, req.Deadline)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid deadline (use RFC3339)", err)
		return
	}
	var startAt time.Time
	if req.StartAt != "" {
		startAt, err = time.Parse(time.RFC3339, req.StartAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid start_at (use RFC3339)", err)
			return
		}
	}

	u, err := h.Service.CreateTask(r.Context(), req.ID, req.AssigneeID, reward.Tier(req.Tier), startAt, deadline)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUnitDTO(u))
}

// SubmitMilestone claims a progress checkpoint.
// POST /api/units/{id}/milestones
func (h *Handler) SubmitMilestone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SubmitMilestoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	u, err := h.Service.SubmitMilestone(r.Context(), id, req.Percent, req.Note)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(u))
}

// ApproveMilestone approves a pending checkpoint. Approving the terminal
// milestone settles and pays the unit.
// POST /api/units/{id}/milestones/{percent}/approve
func (h *Handler) ApproveMilestone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	percent, ok := parsePercent(w, r)
	if !ok {
		return
	}

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	u, err := h.Service.ApproveMilestone(r.Context(), id, percent, req.ApproverID, req.Note)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(u))
}

// RejectMilestone rejects a pending checkpoint.
// POST /api/units/{id}/milestones/{percent}/reject
func (h *Handler) RejectMilestone(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	percent, ok := parsePercent(w, r)
	if !ok {
		return
	}

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	u, err := h.Service.RejectMilestone(r.Context(), id, percent, req.ApproverID, req.Note)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(u))
}

// =============================================================================
// ATTENDANCE HANDLERS
// =============================================================================

// ClockIn opens an attendance day.
// POST /api/attendance/clock-in
func (h *Handler) ClockIn(w http.ResponseWriter, r *http.Request) {
	var req ClockInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	at, ok := parseOptionalTime(w, req.At, "at")
	if !ok {
		return
	}

	u, err := h.Service.ClockIn(r.Context(), req.ID, req.AssigneeID, at)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUnitDTO(u))
}

// Checkout closes an attendance day and moves it into review.
// POST /api/attendance/{id}/checkout
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	at, ok := parseOptionalTime(w, req.At, "at")
	if !ok {
		return
	}

	u, err := h.Service.Checkout(r.Context(), id, at)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(u))
}

// ApproveAttendance settles a checked-out day.
// POST /api/attendance/{id}/approve
func (h *Handler) ApproveAttendance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	u, err := h.Service.ApproveAttendance(r.Context(), id, req.ApproverID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(u))
}

// ResolveMissedCheckout accepts or rejects a suspended day.
// POST /api/attendance/{id}/missed-checkout
func (h *Handler) ResolveMissedCheckout(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req MissedCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if !req.Accept {
		u, err := h.Service.RejectMissedCheckout(r.Context(), id, req.ApproverID, req.Note)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toUnitDTO(u))
		return
	}

	hours, err := decimal.NewFromString(req.ReportedHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reported_hours (decimal string)", err)
		return
	}

	u, err := h.Service.AcceptMissedCheckout(r.Context(), id, hours, req.ApproverID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(u))
}

// =============================================================================
// UNIT AND PAYMENT HANDLERS
// =============================================================================

// GetUnit returns a unit with its milestones.
// GET /api/units/{id}
func (h *Handler) GetUnit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	u, err := h.Service.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(u))
}

// ListUnits returns units filtered by status.
// GET /api/units?status=awaiting_review
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	status := work.Status(r.URL.Query().Get("status"))
	if status == "" {
		writeError(w, http.StatusBadRequest, "Missing status query parameter", nil)
		return
	}

	units, err := h.Service.Store.ListByStatus(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list work units", err)
		return
	}

	dtos := make([]WorkUnitDTO, len(units))
	for i, u := range units {
		dtos[i] = toUnitDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListAttempts returns the full payment attempt history of a unit.
// GET /api/units/{id}/attempts
func (h *Handler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// 404 for unknown units rather than an empty list.
	if _, err := h.Service.Get(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	attempts, err := h.Attempts.ListByWorkUnit(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payment attempts", err)
		return
	}
	writeJSON(w, http.StatusOK, toAttemptDTOs(attempts))
}

// RetryPayment re-runs a failed payment against the frozen reward.
// POST /api/units/{id}/payment/retry
func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	u, err := h.Service.RetryPayment(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUnitDTO(u))
}

// =============================================================================
// HELPERS
// =============================================================================

func parsePercent(w http.ResponseWriter, r *http.Request) (int, bool) {
	percent, err := strconv.Atoi(chi.URLParam(r, "percent"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid milestone percent", err)
		return 0, false
	}
	return percent, true
}

func parseOptionalTime(w http.ResponseWriter, raw, field string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+field+" (use RFC3339)", err)
		return time.Time{}, false
	}
	return t, true
}

// writeDomainError maps the work package's error taxonomy onto HTTP status
// codes. State conflicts are 409 so racing clients can tell "someone else
// decided first" from bad input.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, work.ErrUnitNotFound):
		writeError(w, http.StatusNotFound, "Work unit not found", err)
	case errors.Is(err, work.ErrValidation), errors.Is(err, work.ErrMilestoneOrder):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case errors.Is(err, work.ErrStateConflict):
		writeError(w, http.StatusConflict, "Transition not allowed from current status", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
