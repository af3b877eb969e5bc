// Package sqlcontinuationstore implements continuation.Store using an SQL
// database.
package sqlcontinuationstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/scholarr/scholarr/go/now"
	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sql/pool"
	"github.com/scholarr/scholarr/scholarr/go/continuation"
)

// claimLease is how far ClaimDue pushes next_attempt_dt on claim. A resume
// run normally concludes the slot well inside the lease; if the process
// dies first the slot becomes claimable again once the lease expires.
const claimLease = 15 * time.Minute

// statement is an SQL statement identifier.
type statement int

const (
	// The identifiers for all the SQL statements used.
	getLiveSlot statement = iota
	insertSlot
	rescheduleSlot
	dropSlot
	claimDue
	markClaimed
	releaseSlot
	clearSlot
	listDropped
	deleteDropped
)

// slotColumns is the shared SELECT column list.
const slotColumns = `
	id, user_id, scholar_profile_id, resume_cursor, attempt_count, status,
	next_attempt_dt, updated_at
`

// statements holds all the raw SQL statements.
var statements = map[statement]string{
	getLiveSlot: `
		SELECT
			id, attempt_count
		FROM
			ContinuationQueue
		WHERE
			user_id=$1
			AND scholar_profile_id=$2
			AND status IN ('queued', 'retrying')
		FOR UPDATE
	`,
	insertSlot: `
		INSERT INTO
			ContinuationQueue (user_id, scholar_profile_id, resume_cursor,
				attempt_count, status, next_attempt_dt)
		VALUES
			($1, $2, $3, 1, 'queued', $4)
		RETURNING
			id
	`,
	rescheduleSlot: `
		UPDATE
			ContinuationQueue
		SET
			resume_cursor=$1, attempt_count=$2, status='queued',
			next_attempt_dt=$3, updated_at=now()
		WHERE
			id=$4
	`,
	dropSlot: `
		UPDATE
			ContinuationQueue
		SET
			resume_cursor=$1, attempt_count=$2, status='dropped',
			updated_at=now()
		WHERE
			id=$3
	`,
	claimDue: `
		SELECT
			` + slotColumns + `
		FROM
			ContinuationQueue
		WHERE
			status IN ('queued', 'retrying')
			AND next_attempt_dt <= $1
		ORDER BY
			next_attempt_dt
		LIMIT
			$2
		FOR UPDATE SKIP LOCKED
	`,
	markClaimed: `
		UPDATE
			ContinuationQueue
		SET
			status='retrying', next_attempt_dt=$1, updated_at=now()
		WHERE
			id=$2
	`,
	releaseSlot: `
		UPDATE
			ContinuationQueue
		SET
			status='queued', updated_at=now()
		WHERE
			id=$1
			AND status='retrying'
	`,
	clearSlot: `
		UPDATE
			ContinuationQueue
		SET
			status='cleared', updated_at=now()
		WHERE
			user_id=$1
			AND scholar_profile_id=$2
			AND status IN ('queued', 'retrying')
	`,
	listDropped: `
		SELECT
			` + slotColumns + `
		FROM
			ContinuationQueue
		WHERE
			user_id=$1
			AND status='dropped'
		ORDER BY
			id
		FOR UPDATE
	`,
	deleteDropped: `
		DELETE FROM
			ContinuationQueue
		WHERE
			user_id=$1
			AND status='dropped'
	`,
}

// ContinuationStore implements the continuation.Store interface using an SQL
// database.
type ContinuationStore struct {
	db     pool.Pool
	policy continuation.Policy
}

// New returns a new *ContinuationStore applying the given backoff policy.
func New(db pool.Pool, policy continuation.Policy) *ContinuationStore {
	return &ContinuationStore{
		db:     db,
		policy: policy,
	}
}

// scanSlot scans a single row produced by slotColumns.
func scanSlot(scan func(...interface{}) error) (*continuation.Continuation, error) {
	c := &continuation.Continuation{}
	if err := scan(
		&c.ID,
		&c.UserID,
		&c.ScholarProfileID,
		&c.ResumeCursor,
		&c.AttemptCount,
		&c.Status,
		&c.NextAttemptDt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.NextAttemptDt = c.NextAttemptDt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

// Record implements the continuation.Store interface.
func (s *ContinuationStore) Record(ctx context.Context, userID int64, scholarProfileID int64, resumeCursor int) (*continuation.Continuation, error) {
	ret := &continuation.Continuation{
		UserID:           userID,
		ScholarProfileID: scholarProfileID,
		ResumeCursor:     resumeCursor,
	}
	err := s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		var id int64
		var attempts int
		err := tx.QueryRow(ctx, statements[getLiveSlot], userID, scholarProfileID).Scan(&id, &attempts)
		if errors.Is(err, pgx.ErrNoRows) {
			ret.AttemptCount = 1
			ret.Status = continuation.StatusQueued
			ret.NextAttemptDt = now.Now(ctx).UTC().Add(s.policy.Backoff(1))
			return tx.QueryRow(ctx, statements[insertSlot], userID, scholarProfileID, resumeCursor, ret.NextAttemptDt).Scan(&ret.ID)
		}
		if err != nil {
			return err
		}

		ret.ID = id
		ret.AttemptCount = attempts + 1
		if ret.AttemptCount > s.policy.MaxAttempts {
			ret.Status = continuation.StatusDropped
			_, err := tx.Exec(ctx, statements[dropSlot], resumeCursor, ret.AttemptCount, id)
			return err
		}
		ret.Status = continuation.StatusQueued
		ret.NextAttemptDt = now.Now(ctx).UTC().Add(s.policy.Backoff(ret.AttemptCount))
		_, err = tx.Exec(ctx, statements[rescheduleSlot], resumeCursor, ret.AttemptCount, ret.NextAttemptDt, id)
		return err
	})
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed to record continuation for scholar profile %d", scholarProfileID)
	}
	return ret, nil
}

// ClaimDue implements the continuation.Store interface.
func (s *ContinuationStore) ClaimDue(ctx context.Context, limit int) ([]*continuation.Continuation, error) {
	var ret []*continuation.Continuation
	err := s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		ret = nil
		rows, err := tx.Query(ctx, statements[claimDue], now.Now(ctx).UTC(), limit)
		if err != nil {
			return err
		}
		for rows.Next() {
			c, err := scanSlot(rows.Scan)
			if err != nil {
				rows.Close()
				return err
			}
			ret = append(ret, c)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		lease := now.Now(ctx).UTC().Add(claimLease)
		for _, c := range ret {
			if _, err := tx.Exec(ctx, statements[markClaimed], lease, c.ID); err != nil {
				return err
			}
			c.Status = continuation.StatusRetrying
			c.NextAttemptDt = lease
		}
		return nil
	})
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return ret, nil
}

// Release implements the continuation.Store interface.
func (s *ContinuationStore) Release(ctx context.Context, id int64) error {
	if _, err := s.db.Exec(ctx, statements[releaseSlot], id); err != nil {
		return skerr.Wrapf(err, "Failed to release continuation %d", id)
	}
	return nil
}

// Clear implements the continuation.Store interface.
func (s *ContinuationStore) Clear(ctx context.Context, userID int64, scholarProfileID int64) error {
	if _, err := s.db.Exec(ctx, statements[clearSlot], userID, scholarProfileID); err != nil {
		return skerr.Wrapf(err, "Failed to clear continuation for scholar profile %d", scholarProfileID)
	}
	return nil
}

// TakeDropped implements the continuation.Store interface.
func (s *ContinuationStore) TakeDropped(ctx context.Context, userID int64) ([]*continuation.Continuation, error) {
	var ret []*continuation.Continuation
	err := s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		ret = nil
		rows, err := tx.Query(ctx, statements[listDropped], userID)
		if err != nil {
			return err
		}
		for rows.Next() {
			c, err := scanSlot(rows.Scan)
			if err != nil {
				rows.Close()
				return err
			}
			ret = append(ret, c)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ret) == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, statements[deleteDropped], userID)
		return err
	})
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed to take dropped continuations for user %d", userID)
	}
	return ret, nil
}

// Ensure ContinuationStore fulfills continuation.Store.
var _ continuation.Store = (*ContinuationStore)(nil)
