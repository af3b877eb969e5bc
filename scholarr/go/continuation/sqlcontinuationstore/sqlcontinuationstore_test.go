package sqlcontinuationstore_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scholarr/scholarr/go/now"
	"github.com/scholarr/scholarr/scholarr/go/continuation"
	"github.com/scholarr/scholarr/scholarr/go/continuation/sqlcontinuationstore"
	"github.com/scholarr/scholarr/scholarr/go/sql/sqltest"
)

const (
	userID           = int64(5)
	scholarProfileID = int64(17)
)

var fakeNow = time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

func setupForTest(t *testing.T) (*now.TimeTravelCtx, *sqlcontinuationstore.ContinuationStore) {
	db := sqltest.NewCockroachDBForTests(t, "continuation")
	store := sqlcontinuationstore.New(db, continuation.Policy{
		BaseDelay:   2 * time.Minute,
		MaxDelay:    time.Hour,
		MaxAttempts: 3,
	})
	return now.TimeTravelingContext(fakeNow), store
}

func TestRecord_FreshSlot_QueuedAtBaseDelay(t *testing.T) {
	ctx, store := setupForTest(t)

	c, err := store.Record(ctx, userID, scholarProfileID, 4)
	require.NoError(t, err)
	require.NotZero(t, c.ID)
	require.Equal(t, continuation.StatusQueued, c.Status)
	require.Equal(t, 1, c.AttemptCount)
	require.Equal(t, 4, c.ResumeCursor)
	require.True(t, c.NextAttemptDt.Equal(fakeNow.Add(2*time.Minute)))
}

func TestRecord_ExistingSlot_BacksOffAndMovesCursor(t *testing.T) {
	ctx, store := setupForTest(t)

	first, err := store.Record(ctx, userID, scholarProfileID, 4)
	require.NoError(t, err)

	second, err := store.Record(ctx, userID, scholarProfileID, 7)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 2, second.AttemptCount)
	require.Equal(t, 7, second.ResumeCursor)
	require.True(t, second.NextAttemptDt.Equal(fakeNow.Add(4*time.Minute)))
}

func TestRecord_AttemptBudgetSpent_SlotDropped(t *testing.T) {
	ctx, store := setupForTest(t)

	for i := 0; i < 3; i++ {
		c, err := store.Record(ctx, userID, scholarProfileID, i)
		require.NoError(t, err)
		require.Equal(t, continuation.StatusQueued, c.Status)
	}

	c, err := store.Record(ctx, userID, scholarProfileID, 9)
	require.NoError(t, err)
	require.Equal(t, continuation.StatusDropped, c.Status)
	require.Equal(t, 4, c.AttemptCount)

	// The dropped slot is no longer live, so the next interruption starts a
	// fresh one.
	fresh, err := store.Record(ctx, userID, scholarProfileID, 2)
	require.NoError(t, err)
	require.NotEqual(t, c.ID, fresh.ID)
	require.Equal(t, 1, fresh.AttemptCount)
}

func TestClaimDue_ReturnsOnlyDueSlots(t *testing.T) {
	ctx, store := setupForTest(t)

	c, err := store.Record(ctx, userID, scholarProfileID, 0)
	require.NoError(t, err)

	got, err := store.ClaimDue(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, got)

	ctx.Advance(3 * time.Minute)
	got, err = store.ClaimDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, c.ID, got[0].ID)
	require.Equal(t, continuation.StatusRetrying, got[0].Status)

	// The claim leases the slot, so an immediate second drain skips it.
	got, err = store.ClaimDue(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestClaimDue_LimitRespected_OldestFirst(t *testing.T) {
	ctx, store := setupForTest(t)

	first, err := store.Record(ctx, userID, scholarProfileID, 0)
	require.NoError(t, err)
	ctx.Advance(time.Minute)
	_, err = store.Record(ctx, userID, scholarProfileID+1, 0)
	require.NoError(t, err)
	ctx.Advance(10 * time.Minute)

	got, err := store.ClaimDue(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, first.ID, got[0].ID)
}

func TestClaimDue_LeaseExpired_SlotClaimableAgain(t *testing.T) {
	ctx, store := setupForTest(t)

	c, err := store.Record(ctx, userID, scholarProfileID, 0)
	require.NoError(t, err)
	ctx.Advance(3 * time.Minute)

	got, err := store.ClaimDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	ctx.Advance(16 * time.Minute)
	got, err = store.ClaimDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, c.ID, got[0].ID)
}

func TestRelease_ClaimedSlot_ClaimableAfterLease(t *testing.T) {
	ctx, store := setupForTest(t)

	_, err := store.Record(ctx, userID, scholarProfileID, 0)
	require.NoError(t, err)
	ctx.Advance(3 * time.Minute)

	got, err := store.ClaimDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	released := got[0]
	require.NoError(t, store.Release(ctx, released.ID))

	// The released slot keeps the claim lease as its next_attempt_dt.
	got, err = store.ClaimDue(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, got)

	ctx.Advance(16 * time.Minute)
	got, err = store.ClaimDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, released.ID, got[0].ID)
	require.Equal(t, 1, got[0].AttemptCount)
}

func TestClear_LiveSlot_NoLongerClaimable(t *testing.T) {
	ctx, store := setupForTest(t)

	_, err := store.Record(ctx, userID, scholarProfileID, 0)
	require.NoError(t, err)
	require.NoError(t, store.Clear(ctx, userID, scholarProfileID))
	ctx.Advance(time.Hour)

	got, err := store.ClaimDue(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, got)

	// Clearing again is a no-op.
	require.NoError(t, store.Clear(ctx, userID, scholarProfileID))
}

func TestTakeDropped_ReturnsEachDropOnce(t *testing.T) {
	ctx, store := setupForTest(t)

	for i := 0; i < 4; i++ {
		_, err := store.Record(ctx, userID, scholarProfileID, i)
		require.NoError(t, err)
	}

	got, err := store.TakeDropped(ctx, userID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, continuation.StatusDropped, got[0].Status)
	require.Equal(t, scholarProfileID, got[0].ScholarProfileID)

	got, err = store.TakeDropped(ctx, userID)
	require.NoError(t, err)
	require.Empty(t, got)
}
