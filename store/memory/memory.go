// Package memory provides in-memory store implementations for tests
// and single-process development runs. Same contracts as store/sqlite,
// no durability.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/settlement-engine/payment"
	"github.com/warp/settlement-engine/work"
)

// =============================================================================
// WORK UNIT STORE
// =============================================================================

// UnitStore is an in-memory work.Store. Every read returns a deep copy,
// so callers can mutate freely and nothing is visible until Save.
type UnitStore struct {
	mu    sync.RWMutex
	units map[string]*work.WorkUnit
}

func NewUnitStore() *UnitStore {
	return &UnitStore{units: make(map[string]*work.WorkUnit)}
}

// Save inserts or fully replaces a unit.
func (s *UnitStore) Save(_ context.Context, u *work.WorkUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[u.ID] = cloneUnit(u)
	return nil
}

func (s *UnitStore) Get(_ context.Context, id string) (*work.WorkUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[id]
	if !ok {
		return nil, work.ErrUnitNotFound
	}
	return cloneUnit(u), nil
}

func (s *UnitStore) ListByStatus(_ context.Context, status work.Status) ([]*work.WorkUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*work.WorkUnit
	for _, u := range s.units {
		if u.Status == status {
			out = append(out, cloneUnit(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// TransitionStatus performs the compare-and-set that resolves settlement
// races: the write happens only if the unit is still in the expected
// status, and exactly one concurrent caller sees ok=true.
func (s *UnitStore) TransitionStatus(_ context.Context, id string, from, to work.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	if !ok {
		return false, work.ErrUnitNotFound
	}
	if u.Status != from {
		return false, nil
	}
	u.Status = to
	return true, nil
}

func cloneUnit(u *work.WorkUnit) *work.WorkUnit {
	c := *u
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		c.CompletedAt = &t
	}
	if u.SubmittedAt != nil {
		t := *u.SubmittedAt
		c.SubmittedAt = &t
	}
	if u.PaymentRef != nil {
		r := *u.PaymentRef
		c.PaymentRef = &r
	}
	if u.ReportedHours != nil {
		h := *u.ReportedHours
		c.ReportedHours = &h
	}
	if len(u.Milestones) > 0 {
		c.Milestones = make([]work.Milestone, len(u.Milestones))
		copy(c.Milestones, u.Milestones)
		for i := range c.Milestones {
			if u.Milestones[i].ApprovedAt != nil {
				t := *u.Milestones[i].ApprovedAt
				c.Milestones[i].ApprovedAt = &t
			}
		}
	}
	return &c
}

// =============================================================================
// PAYMENT ATTEMPT RECORDER
// =============================================================================

// AttemptLog is an in-memory payment.Recorder. Append-only, and it
// enforces the one-success-per-unit constraint the sqlite store gets
// from its partial unique index.
type AttemptLog struct {
	mu       sync.RWMutex
	attempts map[string][]payment.Attempt
}

func NewAttemptLog() *AttemptLog {
	return &AttemptLog{attempts: make(map[string][]payment.Attempt)}
}

func (l *AttemptLog) Append(_ context.Context, a payment.Attempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a.Outcome == payment.OutcomeSuccess {
		for _, prior := range l.attempts[a.WorkUnitID] {
			if prior.Outcome == payment.OutcomeSuccess {
				return payment.ErrDuplicateSuccess
			}
		}
	}
	l.attempts[a.WorkUnitID] = append(l.attempts[a.WorkUnitID], a)
	return nil
}

func (l *AttemptLog) FindSuccessful(_ context.Context, workUnitID string) (*payment.Attempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, a := range l.attempts[workUnitID] {
		if a.Outcome == payment.OutcomeSuccess {
			found := a
			return &found, nil
		}
	}
	return nil, nil
}

func (l *AttemptLog) ListByWorkUnit(_ context.Context, workUnitID string) ([]payment.Attempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]payment.Attempt, len(l.attempts[workUnitID]))
	copy(out, l.attempts[workUnitID])
	return out, nil
}
