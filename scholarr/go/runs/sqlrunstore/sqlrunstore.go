// Package sqlrunstore implements runs.Store using an SQL database.
package sqlrunstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"

	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sql/pool"
	"github.com/scholarr/scholarr/scholarr/go/runs"
	"github.com/scholarr/scholarr/scholarr/go/scholarrerr"
)

// uniqueViolation is the SQLSTATE for a unique index violation.
const uniqueViolation = "23505"

// statement is an SQL statement identifier.
type statement int

const (
	// The identifiers for all the SQL statements used.
	insertRun statement = iota
	getRun
	getActiveForUser
	listRuns
	setStatus
	setScholarCount
	requestCancel
	cancelRequested
	finalizeRun
	upsertScholarResult
	listScholarResults
)

// runColumns is the SELECT column list every run read shares. end_dt is
// coalesced so rows scan into plain time.Time values.
const runColumns = `
	id, user_id, triggered_by, status, start_dt,
	COALESCE(end_dt, '0001-01-01 00:00:00+00'::TIMESTAMPTZ),
	scholar_count, new_publication_count, failed_count, partial_count,
	cancel_requested
`

// statements holds all the raw SQL statements.
var statements = map[statement]string{
	insertRun: `
		INSERT INTO
			Runs (user_id, triggered_by, status)
		VALUES
			($1, $2, 'pending')
		RETURNING
			id, start_dt
	`,
	getRun: `
		SELECT` + runColumns + `
		FROM
			Runs
		WHERE
			id=$1
	`,
	getActiveForUser: `
		SELECT` + runColumns + `
		FROM
			Runs
		WHERE
			user_id=$1 AND status IN ('pending', 'running', 'resolving')
	`,
	listRuns: `
		SELECT` + runColumns + `
		FROM
			Runs
		WHERE
			user_id=$1
		ORDER BY
			start_dt DESC, id DESC
		LIMIT $2
	`,
	setStatus: `
		UPDATE
			Runs
		SET
			status=$1
		WHERE
			id=$2 AND status IN ('pending', 'running', 'resolving')
	`,
	setScholarCount: `
		UPDATE
			Runs
		SET
			scholar_count=$1
		WHERE
			id=$2
	`,
	requestCancel: `
		UPDATE
			Runs
		SET
			cancel_requested=true
		WHERE
			id=$1 AND status IN ('pending', 'running', 'resolving')
	`,
	cancelRequested: `
		SELECT
			cancel_requested
		FROM
			Runs
		WHERE
			id=$1
	`,
	finalizeRun: `
		UPDATE
			Runs
		SET
			(status, end_dt, new_publication_count, failed_count, partial_count) =
			($1, $2, $3, $4, $5)
		WHERE
			id=$6 AND status IN ('pending', 'running', 'resolving')
	`,
	upsertScholarResult: `
		UPSERT INTO
			RunScholarResults (run_id, scholar_profile_id, outcome, state,
				state_reason, publication_count, attempt_count, warnings)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
	`,
	listScholarResults: `
		SELECT
			run_id, scholar_profile_id, outcome, state, state_reason,
			publication_count, attempt_count, warnings
		FROM
			RunScholarResults
		WHERE
			run_id=$1
		ORDER BY
			scholar_profile_id
	`,
}

// RunStore implements the runs.Store interface using an SQL database.
type RunStore struct {
	db pool.Pool
}

// New returns a new *RunStore.
func New(db pool.Pool) *RunStore {
	return &RunStore{
		db: db,
	}
}

// Create implements the runs.Store interface.
func (s *RunStore) Create(ctx context.Context, userID int64, trigger runs.Trigger) (*runs.Run, error) {
	r := &runs.Run{
		UserID:  userID,
		Trigger: trigger,
		Status:  runs.StatusPending,
	}
	err := s.db.QueryRow(ctx, statements[insertRun], userID, trigger).Scan(&r.ID, &r.StartDt)
	if err == nil {
		return r, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		// The partial unique index rejected a second live run. Find the run
		// that owns the slot so callers can surface it.
		details := map[string]interface{}{}
		if live, lookupErr := s.GetActiveForUser(ctx, userID); lookupErr == nil && live != nil {
			details["run_id"] = live.ID
		}
		return nil, scholarrerr.New(scholarrerr.Conflict, "A run is already in progress for user %d.", userID).WithDetails(details)
	}
	return nil, skerr.Wrapf(err, "Failed to create %s run for user %d", trigger, userID)
}

// scanRun reads one run row in runColumns order.
func scanRun(scan func(...interface{}) error) (*runs.Run, error) {
	r := &runs.Run{}
	if err := scan(
		&r.ID,
		&r.UserID,
		&r.Trigger,
		&r.Status,
		&r.StartDt,
		&r.EndDt,
		&r.ScholarCount,
		&r.NewPublicationCount,
		&r.FailedCount,
		&r.PartialCount,
		&r.CancelRequested,
	); err != nil {
		return nil, skerr.Wrap(err)
	}
	// The sentinel we coalesce NULL into reads back as the zero time.
	if r.EndDt.Year() == 1 {
		r.EndDt = time.Time{}
	}
	return r, nil
}

// Get implements the runs.Store interface.
func (s *RunStore) Get(ctx context.Context, id int64) (*runs.Run, error) {
	row := s.db.QueryRow(ctx, statements[getRun], id)
	r, err := scanRun(row.Scan)
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed to load run %d", id)
	}
	return r, nil
}

// GetActiveForUser implements the runs.Store interface.
func (s *RunStore) GetActiveForUser(ctx context.Context, userID int64) (*runs.Run, error) {
	rows, err := s.db.Query(ctx, statements[getActiveForUser], userID)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, nil
	}
	return scanRun(rows.Scan)
}

// List implements the runs.Store interface.
func (s *RunStore) List(ctx context.Context, userID int64, limit int) ([]*runs.Run, error) {
	rows, err := s.db.Query(ctx, statements[listRuns], userID, limit)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer rows.Close()
	ret := []*runs.Run{}
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		ret = append(ret, r)
	}
	return ret, nil
}

// SetStatus implements the runs.Store interface.
func (s *RunStore) SetStatus(ctx context.Context, id int64, status runs.Status) error {
	if status.Terminal() {
		return skerr.Fmt("Use Finalize for terminal status %q.", status)
	}
	cmd, err := s.db.Exec(ctx, statements[setStatus], status, id)
	if err != nil {
		return skerr.Wrapf(err, "Failed to set run %d to %s", id, status)
	}
	if cmd.RowsAffected() == 0 {
		return skerr.Fmt("Run %d is not live.", id)
	}
	return nil
}

// SetScholarCount implements the runs.Store interface.
func (s *RunStore) SetScholarCount(ctx context.Context, id int64, count int) error {
	if _, err := s.db.Exec(ctx, statements[setScholarCount], count, id); err != nil {
		return skerr.Wrapf(err, "Failed to set scholar count for run %d", id)
	}
	return nil
}

// RequestCancel implements the runs.Store interface.
func (s *RunStore) RequestCancel(ctx context.Context, id int64) error {
	if _, err := s.db.Exec(ctx, statements[requestCancel], id); err != nil {
		return skerr.Wrapf(err, "Failed to request cancel of run %d", id)
	}
	return nil
}

// CancelRequested implements the runs.Store interface.
func (s *RunStore) CancelRequested(ctx context.Context, id int64) (bool, error) {
	var requested bool
	if err := s.db.QueryRow(ctx, statements[cancelRequested], id).Scan(&requested); err != nil {
		return false, skerr.Wrapf(err, "Failed to poll cancel flag of run %d", id)
	}
	return requested, nil
}

// Finalize implements the runs.Store interface.
func (s *RunStore) Finalize(ctx context.Context, id int64, status runs.Status, endDt time.Time, newPublicationCount, failedCount, partialCount int) error {
	if !status.Terminal() {
		return skerr.Fmt("Finalize requires a terminal status, got %q.", status)
	}
	cmd, err := s.db.Exec(ctx, statements[finalizeRun], status, endDt, newPublicationCount, failedCount, partialCount, id)
	if err != nil {
		return skerr.Wrapf(err, "Failed to finalize run %d", id)
	}
	if cmd.RowsAffected() == 0 {
		return skerr.Fmt("Run %d is not live.", id)
	}
	return nil
}

// UpsertScholarResult implements the runs.Store interface.
func (s *RunStore) UpsertScholarResult(ctx context.Context, r runs.ScholarResult) error {
	warnings := r.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	if _, err := s.db.Exec(ctx, statements[upsertScholarResult],
		r.RunID, r.ScholarProfileID, r.Outcome, r.State, r.StateReason,
		r.PublicationCount, r.AttemptCount, warnings,
	); err != nil {
		return skerr.Wrapf(err, "Failed to record scholar %d in run %d", r.ScholarProfileID, r.RunID)
	}
	return nil
}

// ListScholarResults implements the runs.Store interface.
func (s *RunStore) ListScholarResults(ctx context.Context, runID int64) ([]*runs.ScholarResult, error) {
	rows, err := s.db.Query(ctx, statements[listScholarResults], runID)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer rows.Close()
	ret := []*runs.ScholarResult{}
	for rows.Next() {
		r := &runs.ScholarResult{}
		if err := rows.Scan(
			&r.RunID,
			&r.ScholarProfileID,
			&r.Outcome,
			&r.State,
			&r.StateReason,
			&r.PublicationCount,
			&r.AttemptCount,
			&r.Warnings,
		); err != nil {
			return nil, skerr.Wrap(err)
		}
		ret = append(ret, r)
	}
	return ret, nil
}

// Ensure RunStore fulfills runs.Store.
var _ runs.Store = (*RunStore)(nil)
