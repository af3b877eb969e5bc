// Package scholars defines the ScholarProfile entity and its Store.
package scholars

import (
	"context"
	"regexp"
	"time"
)

// ImageSource says where a profile's image comes from.
type ImageSource string

const (
	// ImageScraped follows the image the profile page serves.
	ImageScraped ImageSource = "scraped"
	// ImageOverride is a user-supplied image URL.
	ImageOverride ImageSource = "override"
	// ImageUpload is an image the user uploaded to this instance.
	ImageUpload ImageSource = "upload"
	// ImageFallback is the generated initials avatar.
	ImageFallback ImageSource = "fallback"
)

// scholarIDRe matches the 12-character profile identifier from the upstream
// profile URL's user= parameter.
var scholarIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{12}$`)

// ValidScholarID reports whether s is a well-formed scholar identifier.
func ValidScholarID(s string) bool {
	return scholarIDRe.MatchString(s)
}

// ScholarProfile is one tracked author profile, owned by one user. Two users
// tracking the same upstream scholar hold two independent rows.
type ScholarProfile struct {
	ID     int64
	UserID int64

	// ScholarID is the upstream profile identifier, always 12 characters.
	ScholarID string

	DisplayName        string
	Affiliation        string
	ProfileImageSource ImageSource
	ProfileImageURL    string
	IsEnabled          bool

	// LastCheckedAt is when ingestion last finished for this scholar,
	// regardless of outcome. Zero before the first attempt.
	LastCheckedAt time.Time
	LastOutcome   string

	// LastFingerprintHead is the fingerprint of the newest row on the
	// scholar's first page at the end of the last successful walk. An
	// unchanged head lets the next walk stop after page 0.
	LastFingerprintHead string

	CreatedAt time.Time
}

// Store persists ScholarProfiles.
type Store interface {
	// Create adds a profile. (UserID, ScholarID) must not already exist.
	Create(ctx context.Context, p ScholarProfile) (*ScholarProfile, error)

	// Get returns the profile with the given id.
	Get(ctx context.Context, id int64) (*ScholarProfile, error)

	// ListByUser returns all of the user's profiles, newest first.
	ListByUser(ctx context.Context, userID int64) ([]*ScholarProfile, error)

	// ListEnabledByUser returns the user's enabled profiles in creation
	// order, which is the order a run visits them.
	ListEnabledByUser(ctx context.Context, userID int64) ([]*ScholarProfile, error)

	// Update sets the user-editable fields: display name and enabled flag.
	Update(ctx context.Context, id int64, displayName string, isEnabled bool) error

	// SetProfileImage records the image choice.
	SetProfileImage(ctx context.Context, id int64, source ImageSource, url string) error

	// UpdateScrapedMeta refreshes affiliation (always) and display name
	// (only when currently empty) from a freshly parsed profile header, and
	// the image URL when the image source is scraped.
	UpdateScrapedMeta(ctx context.Context, id int64, displayName, affiliation, imageURL string) error

	// RecordCheck stamps the end of an ingestion attempt.
	RecordCheck(ctx context.Context, id int64, at time.Time, outcome string) error

	// SetFingerprintHead records the first-page head fingerprint after a
	// complete, successful walk.
	SetFingerprintHead(ctx context.Context, id int64, head string) error
}
