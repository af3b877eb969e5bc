// Package sqlsafetystore implements safety.Store using an SQL database.
package sqlsafetystore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sql/pool"
	"github.com/scholarr/scholarr/scholarr/go/safety"
)

// statement is an SQL statement identifier.
type statement int

const (
	// The identifiers for all the SQL statements used.
	getState statement = iota
	getAndLockState
	upsertState
)

// stateColumns is the shared SELECT column list. cooldown_until is NULL
// while no cooldown is active, so reads substitute the zero time sentinel.
const stateColumns = `
	user_id, cooldown_active, cooldown_reason,
	COALESCE(cooldown_until, '0001-01-01 00:00:00+00'::TIMESTAMPTZ),
	consecutive_blocked_runs, consecutive_network_runs,
	cooldown_entry_count, blocked_start_count, last_evaluated_run_id
`

// statements holds all the raw SQL statements.
var statements = map[statement]string{
	getState: `
		SELECT
			` + stateColumns + `
		FROM
			SafetyStates
		WHERE
			user_id=$1
	`,
	getAndLockState: `
		SELECT
			` + stateColumns + `
		FROM
			SafetyStates
		WHERE
			user_id=$1
		FOR UPDATE
	`,
	upsertState: `
		UPSERT INTO
			SafetyStates (user_id, cooldown_active, cooldown_reason,
				cooldown_until, consecutive_blocked_runs,
				consecutive_network_runs, cooldown_entry_count,
				blocked_start_count, last_evaluated_run_id, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
	`,
}

// SafetyStore implements the safety.Store interface using an SQL database.
type SafetyStore struct {
	db pool.Pool
}

// New returns a new *SafetyStore.
func New(db pool.Pool) *SafetyStore {
	return &SafetyStore{
		db: db,
	}
}

// scanState scans a single row produced by stateColumns.
func scanState(scan func(...interface{}) error) (safety.State, error) {
	var s safety.State
	if err := scan(
		&s.UserID,
		&s.CooldownActive,
		&s.CooldownReason,
		&s.CooldownUntil,
		&s.ConsecutiveBlockedRuns,
		&s.ConsecutiveNetworkRuns,
		&s.CooldownEntryCount,
		&s.BlockedStartCount,
		&s.LastEvaluatedRunID,
	); err != nil {
		return safety.State{}, err
	}
	s.CooldownUntil = s.CooldownUntil.UTC()
	if s.CooldownUntil.Year() == 1 {
		s.CooldownUntil = time.Time{}
	}
	return s, nil
}

// Get implements the safety.Store interface.
func (s *SafetyStore) Get(ctx context.Context, userID int64) (safety.State, error) {
	row := s.db.QueryRow(ctx, statements[getState], userID)
	state, err := scanState(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return safety.NewState(userID), nil
	}
	if err != nil {
		return safety.State{}, skerr.Wrapf(err, "Failed to load safety state for user %d", userID)
	}
	return state, nil
}

// Update implements the safety.Store interface.
func (s *SafetyStore) Update(ctx context.Context, userID int64, cb safety.UpdateCallback) error {
	return skerr.Wrap(s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, statements[getAndLockState], userID)
		state, err := scanState(row.Scan)
		if errors.Is(err, pgx.ErrNoRows) {
			state = safety.NewState(userID)
		} else if err != nil {
			return skerr.Wrapf(err, "Failed to lock safety state for user %d", userID)
		}

		state = cb(state)

		var until interface{}
		if !state.CooldownUntil.IsZero() {
			until = state.CooldownUntil.UTC()
		}
		if _, err := tx.Exec(ctx, statements[upsertState],
			userID,
			state.CooldownActive,
			state.CooldownReason,
			until,
			state.ConsecutiveBlockedRuns,
			state.ConsecutiveNetworkRuns,
			state.CooldownEntryCount,
			state.BlockedStartCount,
			state.LastEvaluatedRunID,
		); err != nil {
			return skerr.Wrapf(err, "Failed to write safety state for user %d", userID)
		}
		return nil
	}))
}

// Ensure SafetyStore fulfills safety.Store.
var _ safety.Store = (*SafetyStore)(nil)
