// Package continuation holds the queue of interrupted scholar walks waiting
// to be resumed. Slots back off exponentially per attempt and are dropped,
// with a user-visible warning, once the attempt budget is spent.
package continuation

import (
	"context"
	"time"

	"github.com/scholarr/scholarr/go/util"
	"github.com/scholarr/scholarr/scholarr/go/config"
)

// Status of one continuation slot.
type Status string

const (
	// StatusQueued slots are waiting for their next_attempt_dt.
	StatusQueued Status = "queued"

	// StatusRetrying slots have been claimed by the scheduler and a resume
	// run is in flight.
	StatusRetrying Status = "retrying"

	// StatusDropped slots ran out of attempts; they are surfaced as a
	// warning on the user's next completed run and then deleted.
	StatusDropped Status = "dropped"

	// StatusCleared slots finished successfully and are kept as history.
	StatusCleared Status = "cleared"
)

// Continuation is one scheduled resumption of a scholar whose ingestion
// ended mid-walk.
type Continuation struct {
	ID               int64
	UserID           int64
	ScholarProfileID int64

	// ResumeCursor is the page index the resumed walk starts from.
	ResumeCursor int

	AttemptCount  int
	Status        Status
	NextAttemptDt time.Time
	UpdatedAt     time.Time
}

// Policy is the backoff envelope applied to continuation slots.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// PolicyFromConfig returns the Policy the instance config prescribes.
func PolicyFromConfig(cfg *config.InstanceConfig) Policy {
	return Policy{
		BaseDelay:   time.Duration(cfg.ContinuationBaseDelaySeconds) * time.Second,
		MaxDelay:    time.Duration(cfg.ContinuationMaxDelaySeconds) * time.Second,
		MaxAttempts: cfg.ContinuationMaxAttempts,
	}
}

// Backoff returns the delay before the given 1-based attempt, doubling per
// attempt and capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Past 30 doublings the shift would overflow; the cap has long won.
	if attempt > 30 {
		return p.MaxDelay
	}
	return util.MinDuration(p.BaseDelay<<(attempt-1), p.MaxDelay)
}

// Store persists continuation slots. At most one live (queued or retrying)
// slot exists per scholar; Record folds repeated interruptions into it.
type Store interface {
	// Record notes that the scholar's walk was interrupted at resumeCursor.
	// A fresh slot starts at attempt 1; an existing live slot has its
	// attempt count bumped and its next attempt pushed out by the policy
	// backoff. A slot past the attempt budget comes back as StatusDropped.
	Record(ctx context.Context, userID int64, scholarProfileID int64, resumeCursor int) (*Continuation, error)

	// ClaimDue returns up to limit slots whose next_attempt_dt has passed,
	// marking them StatusRetrying. Claimed slots are leased: a claimant
	// that never concludes the slot loses it after the lease expires.
	ClaimDue(ctx context.Context, limit int) ([]*Continuation, error)

	// Release returns a claimed slot to StatusQueued without burning an
	// attempt, for resume runs that were refused admission. The slot keeps
	// the claim lease as its next_attempt_dt, so it is reconsidered once
	// the lease expires rather than on the very next tick.
	Release(ctx context.Context, id int64) error

	// Clear marks the scholar's live slot StatusCleared. A no-op when no
	// live slot exists.
	Clear(ctx context.Context, userID int64, scholarProfileID int64) error

	// TakeDropped returns the user's dropped slots and deletes them, so
	// each is surfaced as a warning exactly once.
	TakeDropped(ctx context.Context, userID int64) ([]*Continuation, error)
}
