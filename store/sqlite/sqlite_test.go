package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/payment"
	"github.com/warp/settlement-engine/reward"
	"github.com/warp/settlement-engine/store/sqlite"
	"github.com/warp/settlement-engine/work"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleTask(id string) *work.WorkUnit {
	now := time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)
	return &work.WorkUnit{
		ID:            id,
		AssigneeID:    "emp-1",
		Kind:          work.KindTask,
		Tier:          reward.TierMedium,
		StartAt:       now,
		Deadline:      now.Add(48 * time.Hour),
		Status:        work.StatusOpen,
		Reward:        decimal.Zero,
		Penalty:       decimal.Zero,
		PaymentStatus: work.PaymentNone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// =============================================================================
// WORK UNIT PERSISTENCE
// =============================================================================

func TestStore_SaveAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := sampleTask("task-1")
	completed := u.StartAt.Add(30 * time.Hour)
	approvedAt := completed.Add(time.Hour)
	u.Status = work.StatusCompleted
	u.CompletedAt = &completed
	u.SubmittedAt = &completed
	u.Progress = 100
	u.Reward = decimal.RequireFromString("15.00")
	u.PaymentStatus = work.PaymentCompleted
	u.PaymentRef = &work.PaymentRef{TxRef: "tx-abc", BlockHeight: 42}
	u.Milestones = []work.Milestone{
		{Percent: 25, Status: work.MilestoneApproved, SubmittedAt: u.StartAt, ApprovedAt: &approvedAt, ApproverID: "mgr-1"},
		{Percent: 50, Status: work.MilestonePending, SubmittedAt: completed, Note: "halfway"},
	}

	require.NoError(t, store.Save(ctx, u))

	got, err := store.Get(ctx, "task-1")
	require.NoError(t, err)

	assert.Equal(t, u.AssigneeID, got.AssigneeID)
	assert.Equal(t, work.StatusCompleted, got.Status)
	assert.True(t, got.Reward.Equal(u.Reward))
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(completed))
	require.NotNil(t, got.PaymentRef)
	assert.Equal(t, "tx-abc", got.PaymentRef.TxRef)
	assert.EqualValues(t, 42, got.PaymentRef.BlockHeight)

	require.Len(t, got.Milestones, 2)
	assert.Equal(t, work.MilestoneApproved, got.Milestones[0].Status)
	require.NotNil(t, got.Milestones[0].ApprovedAt)
	assert.Equal(t, "halfway", got.Milestones[1].Note)
}

func TestStore_GetUnknownUnit(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, work.ErrUnitNotFound)
}

func TestStore_SaveReplacesMilestones(t *testing.T) {
	// GIVEN: A unit saved with one pending milestone
	// WHEN: It is saved again with the milestone approved
	// THEN: The read reflects the new state without duplicate rows

	store := newTestStore(t)
	ctx := context.Background()

	u := sampleTask("task-1")
	u.Milestones = []work.Milestone{
		{Percent: 25, Status: work.MilestonePending, SubmittedAt: u.StartAt},
	}
	require.NoError(t, store.Save(ctx, u))

	approvedAt := u.StartAt.Add(time.Hour)
	u.Milestones[0].Status = work.MilestoneApproved
	u.Milestones[0].ApprovedAt = &approvedAt
	require.NoError(t, store.Save(ctx, u))

	got, err := store.Get(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, got.Milestones, 1)
	assert.Equal(t, work.MilestoneApproved, got.Milestones[0].Status)
}

func TestStore_ListByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	open := sampleTask("task-open")
	require.NoError(t, store.Save(ctx, open))

	reviewing := sampleTask("task-review")
	reviewing.Status = work.StatusAwaitingReview
	require.NoError(t, store.Save(ctx, reviewing))

	units, err := store.ListByStatus(ctx, work.StatusAwaitingReview)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "task-review", units[0].ID)
}

// =============================================================================
// CONDITIONAL STATUS WRITE
// =============================================================================

func TestStore_TransitionStatus_CompareAndSet(t *testing.T) {
	// GIVEN: A unit awaiting review
	// WHEN: Two transitions race from the same expected status
	// THEN: The first wins, the second reports false with no error

	store := newTestStore(t)
	ctx := context.Background()

	u := sampleTask("task-1")
	u.Status = work.StatusAwaitingReview
	require.NoError(t, store.Save(ctx, u))

	ok, err := store.TransitionStatus(ctx, "task-1", work.StatusAwaitingReview, work.StatusCompleted)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TransitionStatus(ctx, "task-1", work.StatusAwaitingReview, work.StatusInProgress)
	require.NoError(t, err)
	assert.False(t, ok, "stale expectation must not move the row")

	got, err := store.Get(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, work.StatusCompleted, got.Status)
}

func TestStore_TransitionStatus_UnknownUnit(t *testing.T) {
	store := newTestStore(t)
	_, err := store.TransitionStatus(context.Background(), "ghost", work.StatusOpen, work.StatusSuspended)
	assert.ErrorIs(t, err, work.ErrUnitNotFound)
}

// =============================================================================
// PAYMENT ATTEMPT LOG
// =============================================================================

func TestStore_AppendAndFindAttempts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2025, time.June, 2, 12, 0, 0, 0, time.UTC)
	retrying := payment.Attempt{
		ID: "a-1", WorkUnitID: "task-1",
		Requested: decimal.RequireFromString("15.00"), TokenAmount: decimal.RequireFromString("15.00"),
		AttemptedAt: at, Outcome: payment.OutcomeRetrying, Error: "ordering conflict",
	}
	success := payment.Attempt{
		ID: "a-2", WorkUnitID: "task-1",
		Requested: decimal.RequireFromString("15.00"), TokenAmount: decimal.RequireFromString("15.00"),
		AttemptedAt: at.Add(2 * time.Second), Outcome: payment.OutcomeSuccess,
		TxRef: "tx-abc", BlockHeight: 42,
	}
	require.NoError(t, store.Append(ctx, retrying))
	require.NoError(t, store.Append(ctx, success))

	found, err := store.FindSuccessful(ctx, "task-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "tx-abc", found.TxRef)
	assert.True(t, found.Requested.Equal(decimal.RequireFromString("15.00")))

	all, err := store.ListByWorkUnit(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, payment.OutcomeRetrying, all[0].Outcome)
	assert.Equal(t, payment.OutcomeSuccess, all[1].Outcome)
}

func TestStore_FindSuccessful_NoneRecorded(t *testing.T) {
	store := newTestStore(t)
	found, err := store.FindSuccessful(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestStore_SecondSuccessViolatesConstraint(t *testing.T) {
	// GIVEN: A unit with a recorded Success row
	// WHEN: A second Success row is appended
	// THEN: The partial unique index rejects it as a duplicate success

	store := newTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC()

	first := payment.Attempt{
		ID: "a-1", WorkUnitID: "task-1",
		Requested: decimal.NewFromInt(15), TokenAmount: decimal.NewFromInt(15),
		AttemptedAt: at, Outcome: payment.OutcomeSuccess, TxRef: "tx-1",
	}
	require.NoError(t, store.Append(ctx, first))

	second := first
	second.ID = "a-2"
	second.TxRef = "tx-2"
	err := store.Append(ctx, second)
	assert.ErrorIs(t, err, payment.ErrDuplicateSuccess)

	// Failed rows for the same unit are still recordable.
	failed := payment.Attempt{
		ID: "a-3", WorkUnitID: "task-1",
		Requested: decimal.NewFromInt(15), TokenAmount: decimal.NewFromInt(15),
		AttemptedAt: at, Outcome: payment.OutcomeFailed, Error: "network",
	}
	assert.NoError(t, store.Append(ctx, failed))
}
