package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scholarr/scholarr/go/now"
	"github.com/scholarr/scholarr/scholarr/go/config"
	"github.com/scholarr/scholarr/scholarr/go/continuation"
	"github.com/scholarr/scholarr/scholarr/go/runner"
	"github.com/scholarr/scholarr/scholarr/go/runs"
	"github.com/scholarr/scholarr/scholarr/go/scholarrerr"
	"github.com/scholarr/scholarr/scholarr/go/users"
)

var baseTime = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// submission records one call to the fake submitter.
type submission struct {
	userID  int64
	trigger runs.Trigger
	tasks   []runner.ScholarTask
}

type fakeSubmitter struct {
	calls  []submission
	err    error
	nextID int64
}

func (f *fakeSubmitter) Submit(_ context.Context, userID int64, trigger runs.Trigger, tasks []runner.ScholarTask) (*runs.Run, error) {
	f.calls = append(f.calls, submission{userID: userID, trigger: trigger, tasks: tasks})
	if f.err != nil {
		return nil, f.err
	}
	f.nextID++
	return &runs.Run{ID: f.nextID, UserID: userID, Trigger: trigger}, nil
}

// The fakes embed their interface so only the methods the scheduler calls
// need implementations.

type fakeUsers struct {
	users.Store
	active []*users.User
}

func (f *fakeUsers) ListActive(_ context.Context) ([]*users.User, error) {
	return f.active, nil
}

type fakeRuns struct {
	runs.Store
	// lastByUser is each user's newest run; absent means never run.
	lastByUser map[int64]*runs.Run
}

func (f *fakeRuns) List(_ context.Context, userID int64, limit int) ([]*runs.Run, error) {
	if last, ok := f.lastByUser[userID]; ok {
		return []*runs.Run{last}, nil
	}
	return nil, nil
}

type fakeConts struct {
	continuation.Store
	due      []*continuation.Continuation
	released []int64
}

func (f *fakeConts) ClaimDue(_ context.Context, limit int) ([]*continuation.Continuation, error) {
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeConts) Release(_ context.Context, id int64) error {
	f.released = append(f.released, id)
	return nil
}

func autoRunUser(id int64, intervalMinutes int) *users.User {
	u := &users.User{ID: id, Email: "u@example.org", IsActive: true, Settings: users.DefaultSettings()}
	u.Settings.AutoRunEnabled = true
	u.Settings.RunIntervalMinutes = intervalMinutes
	return u
}

func newForTest(sub Submitter, u *fakeUsers, r *fakeRuns, c *fakeConts) *Scheduler {
	cfg := config.NewInstanceConfig()
	cfg.ConnectionString = "unused"
	return New(cfg, sub, u, r, c)
}

func TestTick_NeverRunUser_SubmitsScheduledRun(t *testing.T) {
	ctx := now.TimeTravelingContext(baseTime)
	sub := &fakeSubmitter{}
	s := newForTest(sub, &fakeUsers{active: []*users.User{autoRunUser(1, 60)}}, &fakeRuns{}, &fakeConts{})

	s.Tick(ctx)

	require.Len(t, sub.calls, 1)
	require.Equal(t, int64(1), sub.calls[0].userID)
	require.Equal(t, runs.TriggerScheduled, sub.calls[0].trigger)
	require.Nil(t, sub.calls[0].tasks)
}

func TestTick_IntervalNotElapsed_SkipsUser(t *testing.T) {
	ctx := now.TimeTravelingContext(baseTime)
	sub := &fakeSubmitter{}
	s := newForTest(sub,
		&fakeUsers{active: []*users.User{autoRunUser(1, 60)}},
		&fakeRuns{lastByUser: map[int64]*runs.Run{1: {ID: 7, StartDt: baseTime.Add(-30 * time.Minute)}}},
		&fakeConts{})

	s.Tick(ctx)
	require.Empty(t, sub.calls)

	ctx.SetTime(baseTime.Add(31 * time.Minute))
	s.Tick(ctx)
	require.Len(t, sub.calls, 1)
}

func TestTick_IntervalBelowFloor_FloorApplies(t *testing.T) {
	ctx := now.TimeTravelingContext(baseTime)
	sub := &fakeSubmitter{}
	// The user asks for a 1-minute interval; the floor is 15 minutes.
	s := newForTest(sub,
		&fakeUsers{active: []*users.User{autoRunUser(1, 1)}},
		&fakeRuns{lastByUser: map[int64]*runs.Run{1: {ID: 7, StartDt: baseTime.Add(-5 * time.Minute)}}},
		&fakeConts{})

	s.Tick(ctx)
	require.Empty(t, sub.calls)

	ctx.SetTime(baseTime.Add(11 * time.Minute))
	s.Tick(ctx)
	require.Len(t, sub.calls, 1)
}

func TestTick_AutoRunDisabled_SkipsUser(t *testing.T) {
	ctx := now.TimeTravelingContext(baseTime)
	u := autoRunUser(1, 60)
	u.Settings.AutoRunEnabled = false
	sub := &fakeSubmitter{}
	s := newForTest(sub, &fakeUsers{active: []*users.User{u}}, &fakeRuns{}, &fakeConts{})

	s.Tick(ctx)

	require.Empty(t, sub.calls)
}

func TestTick_AutomationDisabled_StillDrainsContinuations(t *testing.T) {
	ctx := now.TimeTravelingContext(baseTime)
	sub := &fakeSubmitter{}
	conts := &fakeConts{due: []*continuation.Continuation{
		{ID: 11, UserID: 1, ScholarProfileID: 5, ResumeCursor: 2, AttemptCount: 1},
	}}
	s := newForTest(sub, &fakeUsers{active: []*users.User{autoRunUser(1, 60)}}, &fakeRuns{}, conts)
	s.cfg.AutomationAllowed = false

	s.Tick(ctx)

	require.Len(t, sub.calls, 1)
	require.Equal(t, runs.TriggerContinuation, sub.calls[0].trigger)
}

func TestDrainContinuations_GroupsSlotsByUser(t *testing.T) {
	ctx := now.TimeTravelingContext(baseTime)
	sub := &fakeSubmitter{}
	conts := &fakeConts{due: []*continuation.Continuation{
		{ID: 11, UserID: 2, ScholarProfileID: 5, ResumeCursor: 3, AttemptCount: 1},
		{ID: 12, UserID: 1, ScholarProfileID: 6, ResumeCursor: 1, AttemptCount: 2},
		{ID: 13, UserID: 2, ScholarProfileID: 7, ResumeCursor: 4, AttemptCount: 1},
	}}
	s := newForTest(sub, &fakeUsers{}, &fakeRuns{}, conts)

	s.Tick(ctx)

	require.Len(t, sub.calls, 2)
	require.Equal(t, int64(1), sub.calls[0].userID)
	require.Equal(t, []runner.ScholarTask{
		{ScholarProfileID: 6, StartCursor: 1, Attempt: 3},
	}, sub.calls[0].tasks)
	require.Equal(t, int64(2), sub.calls[1].userID)
	require.Equal(t, []runner.ScholarTask{
		{ScholarProfileID: 5, StartCursor: 3, Attempt: 2},
		{ScholarProfileID: 7, StartCursor: 4, Attempt: 2},
	}, sub.calls[1].tasks)
	require.Empty(t, conts.released)
}

func TestDrainContinuations_RefusedSubmission_ReleasesSlots(t *testing.T) {
	ctx := now.TimeTravelingContext(baseTime)
	sub := &fakeSubmitter{err: scholarrerr.New(scholarrerr.Cooldown, "cooling down")}
	conts := &fakeConts{due: []*continuation.Continuation{
		{ID: 11, UserID: 1, ScholarProfileID: 5, ResumeCursor: 2, AttemptCount: 1},
		{ID: 12, UserID: 1, ScholarProfileID: 6, ResumeCursor: 1, AttemptCount: 1},
	}}
	s := newForTest(sub, &fakeUsers{}, &fakeRuns{}, conts)

	s.Tick(ctx)

	require.Equal(t, []int64{11, 12}, conts.released)
}

func TestDrainContinuations_BatchSizeLimitsClaim(t *testing.T) {
	ctx := now.TimeTravelingContext(baseTime)
	sub := &fakeSubmitter{}
	due := make([]*continuation.Continuation, 0, 10)
	for i := 0; i < 10; i++ {
		due = append(due, &continuation.Continuation{
			ID: int64(i + 1), UserID: 1, ScholarProfileID: int64(100 + i), AttemptCount: 1,
		})
	}
	conts := &fakeConts{due: due}
	s := newForTest(sub, &fakeUsers{}, &fakeRuns{}, conts)
	s.cfg.SchedulerQueueBatchSize = 3

	s.Tick(ctx)

	require.Len(t, sub.calls, 1)
	require.Len(t, sub.calls[0].tasks, 3)
}
