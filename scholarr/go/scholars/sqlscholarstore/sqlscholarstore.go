// Package sqlscholarstore implements scholars.Store using an SQL database.
package sqlscholarstore

import (
	"context"
	"time"

	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sql/pool"
	"github.com/scholarr/scholarr/scholarr/go/scholars"
)

// statement is an SQL statement identifier.
type statement int

const (
	// The identifiers for all the SQL statements used.
	insertProfile statement = iota
	getProfile
	listByUser
	listEnabledByUser
	updateProfile
	setProfileImage
	updateScrapedMeta
	recordCheck
	setFingerprintHead
)

// profileColumns is the SELECT column list every read statement shares.
// Nullable columns are coalesced so rows scan into plain Go values.
const profileColumns = `
	id, user_id, scholar_id, display_name, affiliation,
	profile_image_source, COALESCE(profile_image_url, ''),
	is_enabled,
	COALESCE(last_checked_at, '0001-01-01 00:00:00+00'::TIMESTAMPTZ),
	last_outcome, last_fingerprint_head, created_at
`

// statements holds all the raw SQL statements.
var statements = map[statement]string{
	insertProfile: `
		INSERT INTO
			ScholarProfiles (user_id, scholar_id, display_name, affiliation,
				profile_image_source, profile_image_url, is_enabled)
		VALUES
			($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		RETURNING
			id, created_at
	`,
	getProfile: `
		SELECT` + profileColumns + `
		FROM
			ScholarProfiles
		WHERE
			id=$1
	`,
	listByUser: `
		SELECT` + profileColumns + `
		FROM
			ScholarProfiles
		WHERE
			user_id=$1
		ORDER BY
			created_at DESC, id DESC
	`,
	listEnabledByUser: `
		SELECT` + profileColumns + `
		FROM
			ScholarProfiles
		WHERE
			user_id=$1 AND is_enabled
		ORDER BY
			created_at, id
	`,
	updateProfile: `
		UPDATE
			ScholarProfiles
		SET
			(display_name, is_enabled) = ($1, $2)
		WHERE
			id=$3
	`,
	setProfileImage: `
		UPDATE
			ScholarProfiles
		SET
			(profile_image_source, profile_image_url) = ($1, NULLIF($2, ''))
		WHERE
			id=$3
	`,
	updateScrapedMeta: `
		UPDATE
			ScholarProfiles
		SET
			display_name = CASE WHEN display_name = '' THEN $1 ELSE display_name END,
			affiliation = $2,
			profile_image_url = CASE WHEN profile_image_source = 'scraped' THEN NULLIF($3, '') ELSE profile_image_url END
		WHERE
			id=$4
	`,
	recordCheck: `
		UPDATE
			ScholarProfiles
		SET
			(last_checked_at, last_outcome) = ($1, $2)
		WHERE
			id=$3
	`,
	setFingerprintHead: `
		UPDATE
			ScholarProfiles
		SET
			last_fingerprint_head=$1
		WHERE
			id=$2
	`,
}

// ScholarStore implements the scholars.Store interface using an SQL
// database.
type ScholarStore struct {
	db pool.Pool
}

// New returns a new *ScholarStore.
func New(db pool.Pool) *ScholarStore {
	return &ScholarStore{
		db: db,
	}
}

// scanProfile reads one profile row in profileColumns order.
func scanProfile(scan func(...interface{}) error) (*scholars.ScholarProfile, error) {
	p := &scholars.ScholarProfile{}
	if err := scan(
		&p.ID,
		&p.UserID,
		&p.ScholarID,
		&p.DisplayName,
		&p.Affiliation,
		&p.ProfileImageSource,
		&p.ProfileImageURL,
		&p.IsEnabled,
		&p.LastCheckedAt,
		&p.LastOutcome,
		&p.LastFingerprintHead,
		&p.CreatedAt,
	); err != nil {
		return nil, skerr.Wrap(err)
	}
	// The sentinel we coalesce NULL into reads back as the zero time.
	if p.LastCheckedAt.Year() == 1 {
		p.LastCheckedAt = time.Time{}
	}
	return p, nil
}

// Create implements the scholars.Store interface.
func (s *ScholarStore) Create(ctx context.Context, p scholars.ScholarProfile) (*scholars.ScholarProfile, error) {
	if !scholars.ValidScholarID(p.ScholarID) {
		return nil, skerr.Fmt("Invalid scholar id %q", p.ScholarID)
	}
	if p.ProfileImageSource == "" {
		p.ProfileImageSource = scholars.ImageFallback
	}
	if err := s.db.QueryRow(ctx, statements[insertProfile],
		p.UserID, p.ScholarID, p.DisplayName, p.Affiliation,
		p.ProfileImageSource, p.ProfileImageURL, p.IsEnabled,
	).Scan(&p.ID, &p.CreatedAt); err != nil {
		return nil, skerr.Wrapf(err, "Failed to create scholar %q for user %d", p.ScholarID, p.UserID)
	}
	return &p, nil
}

// Get implements the scholars.Store interface.
func (s *ScholarStore) Get(ctx context.Context, id int64) (*scholars.ScholarProfile, error) {
	row := s.db.QueryRow(ctx, statements[getProfile], id)
	p, err := scanProfile(row.Scan)
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed to load scholar %d", id)
	}
	return p, nil
}

// ListByUser implements the scholars.Store interface.
func (s *ScholarStore) ListByUser(ctx context.Context, userID int64) ([]*scholars.ScholarProfile, error) {
	return s.list(ctx, statements[listByUser], userID)
}

// ListEnabledByUser implements the scholars.Store interface.
func (s *ScholarStore) ListEnabledByUser(ctx context.Context, userID int64) ([]*scholars.ScholarProfile, error) {
	return s.list(ctx, statements[listEnabledByUser], userID)
}

func (s *ScholarStore) list(ctx context.Context, stmt string, userID int64) ([]*scholars.ScholarProfile, error) {
	rows, err := s.db.Query(ctx, stmt, userID)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer rows.Close()
	ret := []*scholars.ScholarProfile{}
	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		ret = append(ret, p)
	}
	return ret, nil
}

// Update implements the scholars.Store interface.
func (s *ScholarStore) Update(ctx context.Context, id int64, displayName string, isEnabled bool) error {
	cmd, err := s.db.Exec(ctx, statements[updateProfile], displayName, isEnabled, id)
	if err != nil {
		return skerr.Wrapf(err, "Failed to update scholar %d", id)
	}
	if cmd.RowsAffected() == 0 {
		return skerr.Fmt("Scholar %d does not exist.", id)
	}
	return nil
}

// SetProfileImage implements the scholars.Store interface.
func (s *ScholarStore) SetProfileImage(ctx context.Context, id int64, source scholars.ImageSource, url string) error {
	cmd, err := s.db.Exec(ctx, statements[setProfileImage], source, url, id)
	if err != nil {
		return skerr.Wrapf(err, "Failed to set image for scholar %d", id)
	}
	if cmd.RowsAffected() == 0 {
		return skerr.Fmt("Scholar %d does not exist.", id)
	}
	return nil
}

// UpdateScrapedMeta implements the scholars.Store interface.
func (s *ScholarStore) UpdateScrapedMeta(ctx context.Context, id int64, displayName, affiliation, imageURL string) error {
	if _, err := s.db.Exec(ctx, statements[updateScrapedMeta], displayName, affiliation, imageURL, id); err != nil {
		return skerr.Wrapf(err, "Failed to refresh scraped meta for scholar %d", id)
	}
	return nil
}

// RecordCheck implements the scholars.Store interface.
func (s *ScholarStore) RecordCheck(ctx context.Context, id int64, at time.Time, outcome string) error {
	if _, err := s.db.Exec(ctx, statements[recordCheck], at, outcome, id); err != nil {
		return skerr.Wrapf(err, "Failed to record check for scholar %d", id)
	}
	return nil
}

// SetFingerprintHead implements the scholars.Store interface.
func (s *ScholarStore) SetFingerprintHead(ctx context.Context, id int64, head string) error {
	if _, err := s.db.Exec(ctx, statements[setFingerprintHead], head, id); err != nil {
		return skerr.Wrapf(err, "Failed to set fingerprint head for scholar %d", id)
	}
	return nil
}

// Ensure ScholarStore fulfills scholars.Store.
var _ scholars.Store = (*ScholarStore)(nil)
