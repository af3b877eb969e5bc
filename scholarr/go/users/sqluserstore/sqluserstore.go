// Package sqluserstore implements users.Store using an SQL database.
package sqluserstore

import (
	"context"

	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sql/pool"
	"github.com/scholarr/scholarr/scholarr/go/users"
)

// statement is an SQL statement identifier.
type statement int

const (
	// The identifiers for all the SQL statements used.
	insertUser statement = iota
	getUser
	getUserByEmail
	listActiveUsers
	updateSettings
	setActive
	setLatestCompletedRun
)

// statements holds all the raw SQL statements.
var statements = map[statement]string{
	insertUser: `
		INSERT INTO
			Users (email, is_admin, settings)
		VALUES
			($1, $2, $3)
		RETURNING
			id, created_at
	`,
	getUser: `
		SELECT
			id, email, is_admin, is_active, settings,
			COALESCE(latest_completed_run_id, 0), created_at
		FROM
			Users
		WHERE
			id=$1
	`,
	getUserByEmail: `
		SELECT
			id, email, is_admin, is_active, settings,
			COALESCE(latest_completed_run_id, 0), created_at
		FROM
			Users
		WHERE
			email=$1
	`,
	listActiveUsers: `
		SELECT
			id, email, is_admin, is_active, settings,
			COALESCE(latest_completed_run_id, 0), created_at
		FROM
			Users
		WHERE
			is_active
		ORDER BY
			id
	`,
	updateSettings: `
		UPDATE
			Users
		SET
			settings=$1
		WHERE
			id=$2
	`,
	setActive: `
		UPDATE
			Users
		SET
			is_active=$1
		WHERE
			id=$2
	`,
	setLatestCompletedRun: `
		UPDATE
			Users
		SET
			latest_completed_run_id=$1
		WHERE
			id=$2
	`,
}

// UserStore implements the users.Store interface using an SQL database.
type UserStore struct {
	db pool.Pool
}

// New returns a new *UserStore.
func New(db pool.Pool) *UserStore {
	return &UserStore{
		db: db,
	}
}

// Create implements the users.Store interface.
func (s *UserStore) Create(ctx context.Context, email string, isAdmin bool) (*users.User, error) {
	u := &users.User{
		Email:    email,
		IsAdmin:  isAdmin,
		IsActive: true,
		Settings: users.DefaultSettings(),
	}
	if err := s.db.QueryRow(ctx, statements[insertUser], email, isAdmin, u.Settings).Scan(&u.ID, &u.CreatedAt); err != nil {
		return nil, skerr.Wrapf(err, "Failed to create user %q", email)
	}
	return u, nil
}

// Get implements the users.Store interface.
func (s *UserStore) Get(ctx context.Context, id int64) (*users.User, error) {
	u := &users.User{}
	if err := s.db.QueryRow(ctx, statements[getUser], id).Scan(
		&u.ID,
		&u.Email,
		&u.IsAdmin,
		&u.IsActive,
		&u.Settings,
		&u.LatestCompletedRunID,
		&u.CreatedAt,
	); err != nil {
		return nil, skerr.Wrapf(err, "Failed to load user %d", id)
	}
	return u, nil
}

// GetByEmail implements the users.Store interface.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	u := &users.User{}
	if err := s.db.QueryRow(ctx, statements[getUserByEmail], email).Scan(
		&u.ID,
		&u.Email,
		&u.IsAdmin,
		&u.IsActive,
		&u.Settings,
		&u.LatestCompletedRunID,
		&u.CreatedAt,
	); err != nil {
		return nil, skerr.Wrapf(err, "Failed to load user %q", email)
	}
	return u, nil
}

// ListActive implements the users.Store interface.
func (s *UserStore) ListActive(ctx context.Context) ([]*users.User, error) {
	rows, err := s.db.Query(ctx, statements[listActiveUsers])
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer rows.Close()
	ret := []*users.User{}
	for rows.Next() {
		u := &users.User{}
		if err := rows.Scan(
			&u.ID,
			&u.Email,
			&u.IsAdmin,
			&u.IsActive,
			&u.Settings,
			&u.LatestCompletedRunID,
			&u.CreatedAt,
		); err != nil {
			return nil, skerr.Wrap(err)
		}
		ret = append(ret, u)
	}
	return ret, nil
}

// UpdateSettings implements the users.Store interface.
func (s *UserStore) UpdateSettings(ctx context.Context, id int64, settings users.Settings) error {
	cmd, err := s.db.Exec(ctx, statements[updateSettings], settings, id)
	if err != nil {
		return skerr.Wrapf(err, "Failed to update settings for user %d", id)
	}
	if cmd.RowsAffected() == 0 {
		return skerr.Fmt("User %d does not exist.", id)
	}
	return nil
}

// SetActive implements the users.Store interface.
func (s *UserStore) SetActive(ctx context.Context, id int64, active bool) error {
	cmd, err := s.db.Exec(ctx, statements[setActive], active, id)
	if err != nil {
		return skerr.Wrapf(err, "Failed to set active=%v for user %d", active, id)
	}
	if cmd.RowsAffected() == 0 {
		return skerr.Fmt("User %d does not exist.", id)
	}
	return nil
}

// SetLatestCompletedRun implements the users.Store interface.
func (s *UserStore) SetLatestCompletedRun(ctx context.Context, id int64, runID int64) error {
	cmd, err := s.db.Exec(ctx, statements[setLatestCompletedRun], runID, id)
	if err != nil {
		return skerr.Wrapf(err, "Failed to set latest run for user %d", id)
	}
	if cmd.RowsAffected() == 0 {
		return skerr.Fmt("User %d does not exist.", id)
	}
	return nil
}

// Ensure UserStore fulfills users.Store.
var _ users.Store = (*UserStore)(nil)
