// Package safety is the scrape-safety controller. It keeps one SafetyState
// row per user, evaluates every finished run against the configured failure
// thresholds, and gates run admission while a cooldown is active.
package safety

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/scholarr/scholarr/go/metrics2"
	"github.com/scholarr/scholarr/go/now"
	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sklog"
	"github.com/scholarr/scholarr/scholarr/go/config"
	"github.com/scholarr/scholarr/scholarr/go/runs"
	"github.com/scholarr/scholarr/scholarr/go/scholarrerr"
)

// Reason says why a cooldown is active.
type Reason string

const (
	ReasonNone    Reason = "none"
	ReasonBlocked Reason = "blocked"
	ReasonNetwork Reason = "network"
)

// State is the per-user scrape-safety record. The JSON form is surfaced
// verbatim as the safety_state block of GET /settings and of cooldown
// refusals.
type State struct {
	UserID         int64  `json:"-"`
	CooldownActive bool   `json:"cooldown_active"`
	CooldownReason Reason `json:"cooldown_reason"`

	// CooldownUntil is zero when no cooldown is active.
	CooldownUntil          time.Time `json:"cooldown_until"`
	ConsecutiveBlockedRuns int       `json:"consecutive_blocked_runs"`
	ConsecutiveNetworkRuns int       `json:"consecutive_network_runs"`
	CooldownEntryCount     int       `json:"cooldown_entry_count"`

	// BlockedStartCount counts runs refused at admission while a cooldown
	// was active.
	BlockedStartCount  int   `json:"blocked_start_count"`
	LastEvaluatedRunID int64 `json:"-"`
}

// NewState returns the State a user has before the controller ever ran for
// them.
func NewState(userID int64) State {
	return State{
		UserID:         userID,
		CooldownReason: ReasonNone,
	}
}

// clearCooldown resets the cooldown fields but keeps the lifetime counters.
func (s *State) clearCooldown() {
	s.CooldownActive = false
	s.CooldownReason = ReasonNone
	s.CooldownUntil = time.Time{}
}

// UpdateCallback is the mutation applied to a locked State row.
type UpdateCallback func(State) State

// Store persists one State per user.
type Store interface {
	// Get returns the user's State, or NewState(userID) if the controller
	// never wrote one.
	Get(ctx context.Context, userID int64) (State, error)

	// Update applies cb to the user's State inside a transaction that holds
	// the row lock, creating the row if absent.
	Update(ctx context.Context, userID int64, cb UpdateCallback) error
}

// Counters summarizes the per-class scholar failures of one finished run.
type Counters struct {
	BlockedFailures int
	NetworkFailures int
}

// Controller evaluates runs and admits new ones.
type Controller struct {
	store     Store
	cfg       *config.InstanceConfig
	cooldowns metrics2.Counter
	refusals  metrics2.Counter
}

// New returns a new Controller.
func New(store Store, cfg *config.InstanceConfig) *Controller {
	return &Controller{
		store:     store,
		cfg:       cfg,
		cooldowns: metrics2.GetCounter("safety_cooldowns_entered"),
		refusals:  metrics2.GetCounter("safety_runs_refused"),
	}
}

// Evaluate updates the user's State from the failure counters of a run that
// just reached a terminal status, entering a cooldown when a threshold
// trips. Returns the State after the update.
func (c *Controller) Evaluate(ctx context.Context, userID int64, runID int64, counters Counters) (State, error) {
	entered := Reason("")
	err := c.store.Update(ctx, userID, func(s State) State {
		s.LastEvaluatedRunID = runID
		switch {
		case counters.BlockedFailures >= c.cfg.AlertBlockedFailureThreshold:
			s.ConsecutiveBlockedRuns++
			s.CooldownActive = true
			s.CooldownReason = ReasonBlocked
			s.CooldownUntil = now.Now(ctx).Add(time.Duration(c.cfg.CooldownBlockedSeconds) * time.Second)
			s.CooldownEntryCount++
			entered = ReasonBlocked
		case counters.NetworkFailures >= c.cfg.AlertNetworkFailureThreshold:
			s.ConsecutiveNetworkRuns++
			s.CooldownActive = true
			s.CooldownReason = ReasonNetwork
			s.CooldownUntil = now.Now(ctx).Add(time.Duration(c.cfg.CooldownNetworkSeconds) * time.Second)
			s.CooldownEntryCount++
			entered = ReasonNetwork
		default:
			s.ConsecutiveBlockedRuns = 0
			s.ConsecutiveNetworkRuns = 0
			if s.CooldownActive && !now.Now(ctx).Before(s.CooldownUntil) {
				s.clearCooldown()
				sklog.Infof("Cooldown cleared for user %d after run %d.", userID, runID)
			}
		}
		return s
	})
	if err != nil {
		return State{}, skerr.Wrapf(err, "Failed to evaluate run %d for user %d", runID, userID)
	}
	if entered != "" {
		c.cooldowns.Inc(1)
		sklog.Warningf("User %d entered %s cooldown after run %d (blocked=%d network=%d).", userID, entered, runID, counters.BlockedFailures, counters.NetworkFailures)
	}
	state, err := c.store.Get(ctx, userID)
	if err != nil {
		return State{}, skerr.Wrap(err)
	}
	return state, nil
}

// Admit decides whether a run with the given trigger may start for the user.
// A nil return admits the run. Instance policy refusals come back as
// Forbidden errors, active cooldowns as Cooldown errors carrying the State
// as details. Expired cooldowns are cleared here rather than waiting for the
// next Evaluate.
//
// Admit does not guard against a concurrent run for the same user; the run
// store enforces that invariant at insert time.
func (c *Controller) Admit(ctx context.Context, userID int64, trigger runs.Trigger) error {
	if trigger == runs.TriggerManual {
		if !c.cfg.ManualRunsAllowed {
			return scholarrerr.New(scholarrerr.Forbidden, "Manual runs are disabled on this instance.").WithCode("manual_runs_disabled")
		}
	} else if !c.cfg.AutomationAllowed {
		return scholarrerr.New(scholarrerr.Forbidden, "Scheduled runs are disabled on this instance.").WithCode("automation_disabled")
	}

	state, err := c.store.Get(ctx, userID)
	if err != nil {
		return skerr.Wrap(err)
	}
	if !state.CooldownActive {
		return nil
	}
	if !now.Now(ctx).Before(state.CooldownUntil) {
		return skerr.Wrap(c.store.Update(ctx, userID, func(s State) State {
			if s.CooldownActive && !now.Now(ctx).Before(s.CooldownUntil) {
				s.clearCooldown()
			}
			return s
		}))
	}

	c.refusals.Inc(1)
	if err := c.store.Update(ctx, userID, func(s State) State {
		s.BlockedStartCount++
		return s
	}); err != nil {
		sklog.Errorf("Failed to record refused start for user %d: %s", userID, err)
	}
	state.BlockedStartCount++
	return scholarrerr.New(scholarrerr.Cooldown, "Scrape safety cooldown (%s) is active; runs resume %s.", state.CooldownReason, humanize.Time(state.CooldownUntil)).WithDetails(state)
}

// State returns the user's current safety state. An expired cooldown is
// reported as cleared even though the row is only rewritten on the next
// Admit or Evaluate.
func (c *Controller) State(ctx context.Context, userID int64) (State, error) {
	state, err := c.store.Get(ctx, userID)
	if err != nil {
		return State{}, skerr.Wrap(err)
	}
	if state.CooldownActive && !now.Now(ctx).Before(state.CooldownUntil) {
		state.clearCooldown()
	}
	return state, nil
}
