// Package runs defines the Run and RunScholarResult entities and their
// Store.
package runs

import (
	"context"
	"time"
)

// Trigger says what started a run.
type Trigger string

const (
	TriggerManual       Trigger = "manual"
	TriggerScheduled    Trigger = "scheduled"
	TriggerContinuation Trigger = "continuation"
)

// Status is a run's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusResolving Status = "resolving"

	StatusSuccess        Status = "success"
	StatusPartialFailure Status = "partial_failure"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// Terminal reports whether a run in this status is finished.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusPartialFailure, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ScholarOutcome is how one scholar fared inside one run.
type ScholarOutcome string

const (
	OutcomeSuccess ScholarOutcome = "success"
	OutcomePartial ScholarOutcome = "partial"
	OutcomeFailed  ScholarOutcome = "failed"
	OutcomeSkipped ScholarOutcome = "skipped"
)

// Run is one ingestion run for one user.
type Run struct {
	ID      int64
	UserID  int64
	Trigger Trigger
	Status  Status
	StartDt time.Time

	// EndDt is zero while the run is non-terminal.
	EndDt time.Time

	ScholarCount        int
	NewPublicationCount int
	FailedCount         int
	PartialCount        int
	CancelRequested     bool
}

// ScholarResult records how one scholar fared inside one run.
type ScholarResult struct {
	RunID            int64
	ScholarProfileID int64
	Outcome          ScholarOutcome

	// State is the terminal processor state, e.g. "success" or "blocked".
	State       string
	StateReason string

	// PublicationCount is how many rows were parsed and linked before the
	// terminal state.
	PublicationCount int
	AttemptCount     int

	// Warnings are user-facing strings shown with the run.
	Warnings []string
}

// Store persists Runs and their per-scholar results.
type Store interface {
	// Create inserts a pending run. If the user already has a non-terminal
	// run the returned error has kind scholarrerr.Conflict with the live
	// run's id in its details.
	Create(ctx context.Context, userID int64, trigger Trigger) (*Run, error)

	// Get returns the run with the given id.
	Get(ctx context.Context, id int64) (*Run, error)

	// GetActiveForUser returns the user's non-terminal run, or nil when
	// there is none.
	GetActiveForUser(ctx context.Context, userID int64) (*Run, error)

	// List returns the user's runs, newest first, at most limit.
	List(ctx context.Context, userID int64, limit int) ([]*Run, error)

	// SetStatus moves a non-terminal run between non-terminal states.
	SetStatus(ctx context.Context, id int64, status Status) error

	// SetScholarCount records how many scholars the run will visit.
	SetScholarCount(ctx context.Context, id int64, count int) error

	// RequestCancel marks the run for cooperative cancellation. Terminal
	// runs are left untouched.
	RequestCancel(ctx context.Context, id int64) error

	// CancelRequested polls the cancellation flag.
	CancelRequested(ctx context.Context, id int64) (bool, error)

	// Finalize moves the run to a terminal status and stamps end time and
	// counts.
	Finalize(ctx context.Context, id int64, status Status, endDt time.Time, newPublicationCount, failedCount, partialCount int) error

	// UpsertScholarResult writes one scholar's result, replacing any earlier
	// write for the same (run, scholar).
	UpsertScholarResult(ctx context.Context, r ScholarResult) error

	// ListScholarResults returns the run's per-scholar results in scholar id
	// order.
	ListScholarResults(ctx context.Context, runID int64) ([]*ScholarResult, error)
}
