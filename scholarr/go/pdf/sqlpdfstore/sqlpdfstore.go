// Package sqlpdfstore implements pdf.Store using an SQL database.
package sqlpdfstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/scholarr/scholarr/go/now"
	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sql/pool"
	"github.com/scholarr/scholarr/scholarr/go/pdf"
)

// statement is an SQL statement identifier.
type statement int

const (
	// The identifiers for all the SQL statements used.
	getLiveItem statement = iota
	insertItem
	claimDue
	markRunning
	getAttempts
	rescheduleItem
	resolveItem
	failItem
	abandonItem
	requeueStale
)

// itemColumns is the shared SELECT column list.
const itemColumns = `
	id, publication_id, status, attempt_count, next_attempt_dt, last_error,
	updated_at
`

// statements holds all the raw SQL statements.
var statements = map[statement]string{
	getLiveItem: `
		SELECT
			id
		FROM
			PdfQueue
		WHERE
			publication_id=$1
			AND status IN ('queued', 'running')
		FOR UPDATE
	`,
	insertItem: `
		INSERT INTO
			PdfQueue (publication_id, status, attempt_count, next_attempt_dt,
				updated_at)
		VALUES
			($1, 'queued', 0, $2, $2)
		RETURNING
			id
	`,
	claimDue: `
		SELECT
			` + itemColumns + `
		FROM
			PdfQueue
		WHERE
			status='queued'
			AND next_attempt_dt <= $1
		ORDER BY
			next_attempt_dt
		LIMIT
			$2
		FOR UPDATE SKIP LOCKED
	`,
	markRunning: `
		UPDATE
			PdfQueue
		SET
			status='running', attempt_count=attempt_count+1, updated_at=$1
		WHERE
			id=$2
	`,
	getAttempts: `
		SELECT
			attempt_count
		FROM
			PdfQueue
		WHERE
			id=$1
		FOR UPDATE
	`,
	rescheduleItem: `
		UPDATE
			PdfQueue
		SET
			status='queued', next_attempt_dt=$1, last_error=$2, updated_at=$3
		WHERE
			id=$4
		RETURNING
			` + itemColumns + `
	`,
	resolveItem: `
		UPDATE
			PdfQueue
		SET
			status='resolved', last_error='', updated_at=$1
		WHERE
			id=$2
	`,
	failItem: `
		UPDATE
			PdfQueue
		SET
			status='failed', last_error=$1, updated_at=$2
		WHERE
			id=$3
	`,
	abandonItem: `
		UPDATE
			PdfQueue
		SET
			status='abandoned', last_error=$1, updated_at=$2
		WHERE
			id=$3
	`,
	requeueStale: `
		UPDATE
			PdfQueue
		SET
			status='queued', next_attempt_dt=$1, updated_at=$1
		WHERE
			status='running'
			AND updated_at < $2
	`,
}

// PdfStore implements the pdf.Store interface using an SQL database.
type PdfStore struct {
	db     pool.Pool
	policy pdf.Policy
}

// New returns a new *PdfStore applying the given backoff policy.
func New(db pool.Pool, policy pdf.Policy) *PdfStore {
	return &PdfStore{
		db:     db,
		policy: policy,
	}
}

// scanItem scans a single row produced by itemColumns.
func scanItem(scan func(...interface{}) error) (*pdf.Item, error) {
	i := &pdf.Item{}
	if err := scan(
		&i.ID,
		&i.PublicationID,
		&i.Status,
		&i.AttemptCount,
		&i.NextAttemptDt,
		&i.LastError,
		&i.UpdatedAt,
	); err != nil {
		return nil, err
	}
	i.NextAttemptDt = i.NextAttemptDt.UTC()
	i.UpdatedAt = i.UpdatedAt.UTC()
	return i, nil
}

// Enqueue implements the pdf.Store interface.
func (s *PdfStore) Enqueue(ctx context.Context, publicationID int64) (bool, error) {
	created := false
	err := s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctx, statements[getLiveItem], publicationID).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		created = true
		return tx.QueryRow(ctx, statements[insertItem], publicationID, now.Now(ctx).UTC()).Scan(&id)
	})
	if err != nil {
		return false, skerr.Wrapf(err, "Failed to enqueue publication %d", publicationID)
	}
	return created, nil
}

// ClaimDue implements the pdf.Store interface.
func (s *PdfStore) ClaimDue(ctx context.Context, limit int) ([]*pdf.Item, error) {
	var ret []*pdf.Item
	err := s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		ret = nil
		rows, err := tx.Query(ctx, statements[claimDue], now.Now(ctx).UTC(), limit)
		if err != nil {
			return err
		}
		for rows.Next() {
			i, err := scanItem(rows.Scan)
			if err != nil {
				rows.Close()
				return err
			}
			ret = append(ret, i)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		claimedAt := now.Now(ctx).UTC()
		for _, i := range ret {
			if _, err := tx.Exec(ctx, statements[markRunning], claimedAt, i.ID); err != nil {
				return err
			}
			i.Status = pdf.StatusRunning
			i.AttemptCount++
			i.UpdatedAt = claimedAt
		}
		return nil
	})
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return ret, nil
}

// Resolve implements the pdf.Store interface.
func (s *PdfStore) Resolve(ctx context.Context, itemID int64) error {
	if _, err := s.db.Exec(ctx, statements[resolveItem], now.Now(ctx).UTC(), itemID); err != nil {
		return skerr.Wrapf(err, "Failed to resolve PDF item %d", itemID)
	}
	return nil
}

// Reschedule implements the pdf.Store interface.
func (s *PdfStore) Reschedule(ctx context.Context, itemID int64, lastError string) (*pdf.Item, error) {
	var ret *pdf.Item
	err := s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		var attempts int
		if err := tx.QueryRow(ctx, statements[getAttempts], itemID).Scan(&attempts); err != nil {
			return err
		}
		next := now.Now(ctx).UTC().Add(s.policy.Backoff(attempts))
		var err error
		ret, err = scanItem(tx.QueryRow(ctx, statements[rescheduleItem], next, lastError, now.Now(ctx).UTC(), itemID).Scan)
		return err
	})
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed to reschedule PDF item %d", itemID)
	}
	return ret, nil
}

// Fail implements the pdf.Store interface.
func (s *PdfStore) Fail(ctx context.Context, itemID int64, lastError string) error {
	if _, err := s.db.Exec(ctx, statements[failItem], lastError, now.Now(ctx).UTC(), itemID); err != nil {
		return skerr.Wrapf(err, "Failed to fail PDF item %d", itemID)
	}
	return nil
}

// Abandon implements the pdf.Store interface.
func (s *PdfStore) Abandon(ctx context.Context, itemID int64, lastError string) error {
	if _, err := s.db.Exec(ctx, statements[abandonItem], lastError, now.Now(ctx).UTC(), itemID); err != nil {
		return skerr.Wrapf(err, "Failed to abandon PDF item %d", itemID)
	}
	return nil
}

// RequeueStaleRunning implements the pdf.Store interface.
func (s *PdfStore) RequeueStaleRunning(ctx context.Context, olderThan time.Duration) (int64, error) {
	n := now.Now(ctx).UTC()
	tag, err := s.db.Exec(ctx, statements[requeueStale], n, n.Add(-olderThan))
	if err != nil {
		return 0, skerr.Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// Ensure PdfStore fulfills pdf.Store.
var _ pdf.Store = (*PdfStore)(nil)
