// Package users defines the User entity and its Store.
package users

import (
	"context"
	"time"
)

// Settings are the per-user knobs stored as JSON on the Users table. Values
// below the instance floors are raised when the run config is snapshotted,
// never rewritten in the row.
type Settings struct {
	// AutoRunEnabled opts the user into scheduled runs, subject to the
	// instance-wide automation flag.
	AutoRunEnabled bool `json:"auto_run_enabled"`

	// RunIntervalMinutes is how often scheduled runs start for this user.
	RunIntervalMinutes int `json:"run_interval_minutes"`

	// RequestDelaySeconds is the user's per-request gap for scrape traffic.
	RequestDelaySeconds int `json:"request_delay_seconds"`

	// NavVisiblePages is a UI preference for pagination controls.
	NavVisiblePages int `json:"nav_visible_pages"`

	// APITokens holds tokens for outbound integrations, keyed by integration
	// name.
	APITokens map[string]string `json:"api_tokens,omitempty"`
}

// DefaultSettings returns the settings a newly created user starts with.
func DefaultSettings() Settings {
	return Settings{
		AutoRunEnabled:      false,
		RunIntervalMinutes:  24 * 60,
		RequestDelaySeconds: 2,
		NavVisiblePages:     5,
	}
}

// User is one account that owns scholars, runs and settings.
type User struct {
	ID       int64
	Email    string
	IsAdmin  bool
	IsActive bool
	Settings Settings

	// LatestCompletedRunID is the user's most recent terminal run, 0 before
	// the first run completes. It backs the publications mode=latest view.
	LatestCompletedRunID int64

	CreatedAt time.Time
}

// Store persists Users.
type Store interface {
	// Create adds a new user with default settings. The email must not
	// already exist.
	Create(ctx context.Context, email string, isAdmin bool) (*User, error)

	// Get returns the user with the given id.
	Get(ctx context.Context, id int64) (*User, error)

	// GetByEmail returns the user with the given email, as asserted by the
	// auth proxy.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// ListActive returns all active users, ordered by id for a stable
	// scheduling order.
	ListActive(ctx context.Context) ([]*User, error)

	// UpdateSettings replaces the user's settings.
	UpdateSettings(ctx context.Context, id int64, s Settings) error

	// SetActive flips the account on or off.
	SetActive(ctx context.Context, id int64, active bool) error

	// SetLatestCompletedRun records the user's most recent terminal run.
	SetLatestCompletedRun(ctx context.Context, id int64, runID int64) error
}
