// Package scheduler drives the periodic run loop. One tick selects the
// users whose auto-run interval has elapsed and submits a scheduled run for
// each, then drains the due continuation slots into resume runs. Runs are
// only submitted here; the runner serializes their execution so two users
// are never scraped at the same time.
package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/scholarr/scholarr/go/metrics2"
	"github.com/scholarr/scholarr/go/now"
	"github.com/scholarr/scholarr/go/sklog"
	"github.com/scholarr/scholarr/go/util"
	"github.com/scholarr/scholarr/scholarr/go/config"
	"github.com/scholarr/scholarr/scholarr/go/continuation"
	"github.com/scholarr/scholarr/scholarr/go/runner"
	"github.com/scholarr/scholarr/scholarr/go/runs"
	"github.com/scholarr/scholarr/scholarr/go/scholarrerr"
	"github.com/scholarr/scholarr/scholarr/go/users"
)

const livenessMetricName = "scheduler_tick"

// Submitter starts runs. Satisfied by *runner.Runner.
type Submitter interface {
	// Submit admits, creates and launches one run. A nil tasks slice means
	// every enabled scholar of the user from page zero.
	Submit(ctx context.Context, userID int64, trigger runs.Trigger, tasks []runner.ScholarTask) (*runs.Run, error)
}

// Scheduler owns the tick loop.
type Scheduler struct {
	cfg       *config.InstanceConfig
	submitter Submitter
	users     users.Store
	runs      runs.Store
	conts     continuation.Store

	liveness  metrics2.Liveness
	scheduled metrics2.Counter
	resumed   metrics2.Counter
}

// New returns a Scheduler. Call Start to begin ticking.
func New(cfg *config.InstanceConfig, submitter Submitter, userStore users.Store, runStore runs.Store, contStore continuation.Store) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		submitter: submitter,
		users:     userStore,
		runs:      runStore,
		conts:     contStore,
		liveness:  metrics2.NewLiveness(livenessMetricName),
		scheduled: metrics2.GetCounter("scheduler_runs_scheduled"),
		resumed:   metrics2.GetCounter("scheduler_scholars_resumed"),
	}
}

// Start runs the tick loop until ctx is cancelled. The first tick fires
// immediately.
func (s *Scheduler) Start(ctx context.Context) {
	go util.RepeatCtx(ctx, time.Duration(s.cfg.SchedulerTickSeconds)*time.Second, s.Tick)
}

// Tick is one scheduling pass.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.cfg.AutomationAllowed {
		s.startDueUsers(ctx)
	}
	s.drainContinuations(ctx)
	s.liveness.Reset()
}

// startDueUsers submits a scheduled run for every opted-in user whose
// interval has elapsed since their newest run started.
func (s *Scheduler) startDueUsers(ctx context.Context) {
	active, err := s.users.ListActive(ctx)
	if err != nil {
		sklog.Errorf("Scheduler: listing users: %s", err)
		return
	}
	for _, u := range active {
		if !u.Settings.AutoRunEnabled {
			continue
		}
		due, err := s.userDue(ctx, u)
		if err != nil {
			sklog.Errorf("Scheduler: checking user %d: %s", u.ID, err)
			continue
		}
		if !due {
			continue
		}
		run, err := s.submitter.Submit(ctx, u.ID, runs.TriggerScheduled, nil)
		if err != nil {
			s.logRefusal(u.ID, err)
			continue
		}
		s.scheduled.Inc(1)
		sklog.Infof("Scheduled run %d for user %d.", run.ID, u.ID)
	}
}

// userDue reports whether the user's auto-run interval has elapsed. The
// interval floor is enforced here so a low stored setting cannot tighten
// the loop.
func (s *Scheduler) userDue(ctx context.Context, u *users.User) (bool, error) {
	interval := u.Settings.RunIntervalMinutes
	if interval < s.cfg.MinRunIntervalMinutes {
		interval = s.cfg.MinRunIntervalMinutes
	}
	last, err := s.runs.List(ctx, u.ID, 1)
	if err != nil {
		return false, err
	}
	if len(last) == 0 {
		return true, nil
	}
	return !now.Now(ctx).Before(last[0].StartDt.Add(time.Duration(interval) * time.Minute)), nil
}

// drainContinuations claims the due continuation slots and submits one
// resume run per user covering that user's claimed scholars. A refused
// submission releases its slots so they come back once the claim lease
// expires.
func (s *Scheduler) drainContinuations(ctx context.Context) {
	slots, err := s.conts.ClaimDue(ctx, s.cfg.SchedulerQueueBatchSize)
	if err != nil {
		sklog.Errorf("Scheduler: claiming continuations: %s", err)
		return
	}
	if len(slots) == 0 {
		return
	}
	byUser := map[int64][]*continuation.Continuation{}
	for _, slot := range slots {
		byUser[slot.UserID] = append(byUser[slot.UserID], slot)
	}
	userIDs := make([]int64, 0, len(byUser))
	for id := range byUser {
		userIDs = append(userIDs, id)
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })

	for _, userID := range userIDs {
		group := byUser[userID]
		tasks := make([]runner.ScholarTask, 0, len(group))
		for _, slot := range group {
			tasks = append(tasks, runner.ScholarTask{
				ScholarProfileID: slot.ScholarProfileID,
				StartCursor:      slot.ResumeCursor,
				// The slot counts interruptions, so the resume that follows
				// the Nth interruption is attempt N+1 for that scholar.
				Attempt: slot.AttemptCount + 1,
			})
		}
		run, err := s.submitter.Submit(ctx, userID, runs.TriggerContinuation, tasks)
		if err != nil {
			s.logRefusal(userID, err)
			for _, slot := range group {
				if rerr := s.conts.Release(ctx, slot.ID); rerr != nil {
					sklog.Errorf("Scheduler: releasing continuation %d: %s", slot.ID, rerr)
				}
			}
			continue
		}
		s.resumed.Inc(int64(len(tasks)))
		sklog.Infof("Resume run %d for user %d covers %d scholars.", run.ID, userID, len(tasks))
	}
}

// logRefusal logs a submission failure at a severity matching its kind.
// Cooldowns and in-flight runs are routine; anything else is an error.
func (s *Scheduler) logRefusal(userID int64, err error) {
	switch scholarrerr.KindOf(err) {
	case scholarrerr.Cooldown, scholarrerr.Conflict, scholarrerr.Forbidden:
		sklog.Infof("Scheduler: skipping user %d: %s", userID, err)
	default:
		sklog.Errorf("Scheduler: submitting run for user %d: %s", userID, err)
	}
}
