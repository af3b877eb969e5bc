// Package schema is the source of truth for the SQL schema. The tables are
// defined as Go structs with `sql` field tags; the tosql generator turns them
// into the Schema constant in the parent sql package, which init-db and the
// test harness apply.
package schema

import (
	"time"
)

// Tables represents all SQL tables used by Scholarr. The order of the fields
// is the order tables are created in and the order test data is inserted in.
type Tables struct {
	Users                   []UserRow
	ScholarProfiles         []ScholarProfileRow
	Runs                    []RunRow
	Publications            []PublicationRow
	ScholarPublicationLinks []ScholarPublicationLinkRow
	RunScholarResults       []RunScholarResultRow
	ContinuationQueue       []ContinuationRow
	PdfQueue                []PdfQueueRow
	SafetyStates            []SafetyStateRow
}

// UserRow is one account that owns scholars, runs and settings.
type UserRow struct {
	ID int64 `sql:"id INT PRIMARY KEY DEFAULT unique_rowid()"`
	// Email is the identity asserted by the auth proxy header.
	Email   string `sql:"email STRING UNIQUE NOT NULL"`
	IsAdmin bool   `sql:"is_admin BOOL NOT NULL DEFAULT false"`
	// IsActive is false for disabled accounts; they keep their data but can
	// neither log in nor be scheduled.
	IsActive bool `sql:"is_active BOOL NOT NULL DEFAULT true"`
	// Settings is a config.UserSettings serialized as JSON. Values below the
	// instance floors are raised on read, never rewritten in place.
	Settings interface{} `sql:"settings JSONB NOT NULL"`
	// LatestCompletedRunID backs the publications mode=latest view. NULL
	// until the user's first run reaches a terminal state.
	LatestCompletedRunID int64     `sql:"latest_completed_run_id INT"`
	CreatedAt            time.Time `sql:"created_at TIMESTAMPTZ NOT NULL DEFAULT now()"`
}

// ScholarProfileRow is one tracked Google Scholar author profile, owned by
// one user. The same upstream scholar tracked by two users is two rows.
type ScholarProfileRow struct {
	ID     int64 `sql:"id INT PRIMARY KEY DEFAULT unique_rowid()"`
	UserID int64 `sql:"user_id INT NOT NULL"`
	// ScholarID is the 12-character profile identifier from the upstream
	// profile URL.
	ScholarID   string `sql:"scholar_id CHAR(12) NOT NULL"`
	DisplayName string `sql:"display_name STRING NOT NULL"`
	Affiliation string `sql:"affiliation STRING NOT NULL DEFAULT ''"`
	// ProfileImageSource is one of: scraped, override, upload, fallback.
	ProfileImageSource string `sql:"profile_image_source STRING NOT NULL DEFAULT 'fallback'"`
	ProfileImageURL    string `sql:"profile_image_url STRING"`
	IsEnabled          bool   `sql:"is_enabled BOOL NOT NULL DEFAULT true"`
	// LastCheckedAt is when ingestion last finished for this scholar,
	// regardless of outcome. NULL until the first attempt.
	LastCheckedAt time.Time `sql:"last_checked_at TIMESTAMPTZ"`
	LastOutcome   string    `sql:"last_outcome STRING NOT NULL DEFAULT ''"`
	// LastFingerprintHead is the fingerprint of the newest publication row
	// seen on the scholar's first page, used to short-circuit unchanged
	// profiles.
	LastFingerprintHead string    `sql:"last_fingerprint_head STRING NOT NULL DEFAULT ''"`
	CreatedAt           time.Time `sql:"created_at TIMESTAMPTZ NOT NULL DEFAULT now()"`

	byUserAndScholar struct{} `sql:"UNIQUE INDEX by_user_and_scholar (user_id, scholar_id)"`
}

// RunRow is one ingestion run for one user.
type RunRow struct {
	ID     int64 `sql:"id INT PRIMARY KEY DEFAULT unique_rowid()"`
	UserID int64 `sql:"user_id INT NOT NULL"`
	// TriggeredBy is one of: manual, scheduled, continuation.
	TriggeredBy string `sql:"triggered_by STRING NOT NULL"`
	// Status is one of: pending, running, resolving, success,
	// partial_failure, failed, cancelled.
	Status  string    `sql:"status STRING NOT NULL DEFAULT 'pending'"`
	StartDt time.Time `sql:"start_dt TIMESTAMPTZ NOT NULL DEFAULT now()"`
	// EndDt is NULL while the run is non-terminal.
	EndDt               time.Time `sql:"end_dt TIMESTAMPTZ"`
	ScholarCount        int32     `sql:"scholar_count INT NOT NULL DEFAULT 0"`
	NewPublicationCount int32     `sql:"new_publication_count INT NOT NULL DEFAULT 0"`
	FailedCount         int32     `sql:"failed_count INT NOT NULL DEFAULT 0"`
	PartialCount        int32     `sql:"partial_count INT NOT NULL DEFAULT 0"`
	CancelRequested     bool      `sql:"cancel_requested BOOL NOT NULL DEFAULT false"`

	// At most one non-terminal run per user.
	oneActivePerUser struct{} `sql:"UNIQUE INDEX one_active_run_per_user (user_id) WHERE status IN ('pending', 'running', 'resolving')"`
	byUserStarted    struct{} `sql:"INDEX by_user_and_start (user_id, start_dt DESC)"`
}

// PublicationRow is one globally deduplicated publication. Per-user state
// never lives here; see ScholarPublicationLinkRow.
type PublicationRow struct {
	ID int64 `sql:"id INT PRIMARY KEY DEFAULT unique_rowid()"`
	// Fingerprint is fingerprint.Fingerprint(title, year): the stable
	// identity rows are deduplicated on.
	Fingerprint    string `sql:"fingerprint STRING UNIQUE NOT NULL"`
	CanonicalTitle string `sql:"canonical_title STRING NOT NULL"`
	// AuthorsText is the author list as the profile row displayed it, kept
	// for provider lookups and the UI.
	AuthorsText string `sql:"authors_text STRING NOT NULL DEFAULT ''"`
	// Year is NULL when the source row carried none.
	Year      int32  `sql:"year INT"`
	VenueText string `sql:"venue_text STRING NOT NULL DEFAULT ''"`
	// ClusterID is the upstream per-paper cluster identifier; unique when
	// present, with NULLs allowed to repeat.
	ClusterID  string `sql:"cluster_id STRING UNIQUE"`
	DOI        string `sql:"doi STRING UNIQUE"`
	ArxivID    string `sql:"arxiv_id STRING UNIQUE"`
	Pmid       string `sql:"pmid STRING UNIQUE"`
	OpenalexID string `sql:"openalex_id STRING"`
	PubURL     string `sql:"pub_url STRING NOT NULL DEFAULT ''"`
	// CitationCount is the global maximum observed across linking scholars.
	CitationCount int32 `sql:"citation_count INT NOT NULL DEFAULT 0"`
	PdfURL        string `sql:"pdf_url STRING NOT NULL DEFAULT ''"`
	// PdfStatus is one of: untracked, queued, running, resolved, failed.
	PdfStatus        string    `sql:"pdf_status STRING NOT NULL DEFAULT 'untracked'"`
	PdfAttemptCount  int32     `sql:"pdf_attempt_count INT NOT NULL DEFAULT 0"`
	PdfFailureReason string    `sql:"pdf_failure_reason STRING NOT NULL DEFAULT ''"`
	CreatedAt        time.Time `sql:"created_at TIMESTAMPTZ NOT NULL DEFAULT now()"`
	UpdatedAt        time.Time `sql:"updated_at TIMESTAMPTZ NOT NULL DEFAULT now()"`
}

// ScholarPublicationLinkRow ties one publication to one scholar profile.
// All per-user read/favorite/new state lives here and only here.
type ScholarPublicationLinkRow struct {
	ScholarProfileID int64 `sql:"scholar_profile_id INT NOT NULL"`
	PublicationID    int64 `sql:"publication_id INT NOT NULL"`
	// FirstSeenRunID is the run that created this link; it never changes.
	FirstSeenRunID int64 `sql:"first_seen_run_id INT NOT NULL"`
	IsRead         bool  `sql:"is_read BOOL NOT NULL DEFAULT false"`
	IsFavorite     bool  `sql:"is_favorite BOOL NOT NULL DEFAULT false"`
	// IsNewInLatestRun marks links first seen by the owning user's most
	// recent run; cleared at the start of the next run that reaches this
	// scholar.
	IsNewInLatestRun bool `sql:"is_new_in_latest_run BOOL NOT NULL DEFAULT true"`
	// CitationCount is the count as this scholar's profile reports it, which
	// can lag the publication's global maximum.
	CitationCount     int32  `sql:"citation_count INT NOT NULL DEFAULT 0"`
	LinkScholarPubURL string `sql:"link_scholar_pub_url STRING NOT NULL DEFAULT ''"`

	primaryKey     struct{} `sql:"PRIMARY KEY (scholar_profile_id, publication_id)"`
	byPublication  struct{} `sql:"INDEX by_publication (publication_id)"`
	byFirstSeenRun struct{} `sql:"INDEX by_first_seen_run (first_seen_run_id)"`
}

// RunScholarResultRow records how one scholar fared inside one run.
type RunScholarResultRow struct {
	RunID            int64 `sql:"run_id INT NOT NULL"`
	ScholarProfileID int64 `sql:"scholar_profile_id INT NOT NULL"`
	// Outcome is one of: success, partial, failed, skipped.
	Outcome string `sql:"outcome STRING NOT NULL"`
	// State is the terminal processor state, e.g. completed, blocked,
	// network_error, parse_failure, deadline_exceeded, cancelled.
	State       string `sql:"state STRING NOT NULL"`
	StateReason string `sql:"state_reason STRING NOT NULL DEFAULT ''"`
	// PublicationCount is how many rows were parsed and linked before the
	// terminal state was reached.
	PublicationCount int32 `sql:"publication_count INT NOT NULL DEFAULT 0"`
	AttemptCount     int32 `sql:"attempt_count INT NOT NULL DEFAULT 1"`
	// Warnings is a JSON array of user-facing warning strings.
	Warnings interface{} `sql:"warnings JSONB"`

	primaryKey struct{} `sql:"PRIMARY KEY (run_id, scholar_profile_id)"`
}

// ContinuationRow is one scheduled resumption of a scholar whose ingestion
// ended mid-walk.
type ContinuationRow struct {
	ID               int64 `sql:"id INT PRIMARY KEY DEFAULT unique_rowid()"`
	UserID           int64 `sql:"user_id INT NOT NULL"`
	ScholarProfileID int64 `sql:"scholar_profile_id INT NOT NULL"`
	// ResumeCursor is the page index the resumed walk starts from.
	ResumeCursor int32 `sql:"resume_cursor INT NOT NULL DEFAULT 0"`
	AttemptCount int32 `sql:"attempt_count INT NOT NULL DEFAULT 0"`
	// Status is one of: queued, retrying, dropped, cleared.
	Status        string    `sql:"status STRING NOT NULL DEFAULT 'queued'"`
	NextAttemptDt time.Time `sql:"next_attempt_dt TIMESTAMPTZ NOT NULL"`
	UpdatedAt     time.Time `sql:"updated_at TIMESTAMPTZ NOT NULL DEFAULT now()"`

	// At most one live continuation per scholar.
	onePendingPerScholar struct{} `sql:"UNIQUE INDEX one_pending_per_scholar (user_id, scholar_profile_id) WHERE status IN ('queued', 'retrying')"`
	byNextAttempt        struct{} `sql:"INDEX by_next_attempt (next_attempt_dt) WHERE status IN ('queued', 'retrying')"`
}

// PdfQueueRow is one pending or finished PDF-link resolution for a
// publication.
type PdfQueueRow struct {
	ID            int64 `sql:"id INT PRIMARY KEY DEFAULT unique_rowid()"`
	PublicationID int64 `sql:"publication_id INT NOT NULL"`
	// Status is one of: queued, running, resolved, failed, abandoned.
	Status        string    `sql:"status STRING NOT NULL DEFAULT 'queued'"`
	AttemptCount  int32     `sql:"attempt_count INT NOT NULL DEFAULT 0"`
	NextAttemptDt time.Time `sql:"next_attempt_dt TIMESTAMPTZ NOT NULL"`
	LastError     string    `sql:"last_error STRING NOT NULL DEFAULT ''"`
	UpdatedAt     time.Time `sql:"updated_at TIMESTAMPTZ NOT NULL DEFAULT now()"`

	// At most one active queue entry per publication.
	oneActivePerPublication struct{} `sql:"UNIQUE INDEX one_active_per_publication (publication_id) WHERE status IN ('queued', 'running')"`
	byNextAttempt           struct{} `sql:"INDEX by_pdf_next_attempt (next_attempt_dt) WHERE status = 'queued'"`
}

// SafetyStateRow is the per-user scrape-safety record, exactly one row per
// user, mutated only by the safety controller.
type SafetyStateRow struct {
	UserID         int64 `sql:"user_id INT PRIMARY KEY"`
	CooldownActive bool  `sql:"cooldown_active BOOL NOT NULL DEFAULT false"`
	// CooldownReason is one of: blocked, network, none.
	CooldownReason string `sql:"cooldown_reason STRING NOT NULL DEFAULT 'none'"`
	// CooldownUntil is NULL when no cooldown is active.
	CooldownUntil          time.Time `sql:"cooldown_until TIMESTAMPTZ"`
	ConsecutiveBlockedRuns int32     `sql:"consecutive_blocked_runs INT NOT NULL DEFAULT 0"`
	ConsecutiveNetworkRuns int32     `sql:"consecutive_network_runs INT NOT NULL DEFAULT 0"`
	// CooldownEntryCount counts lifetime cooldown entries, for operator
	// visibility.
	CooldownEntryCount int32 `sql:"cooldown_entry_count INT NOT NULL DEFAULT 0"`
	// BlockedStartCount counts runs refused at admission while blocked.
	BlockedStartCount  int32     `sql:"blocked_start_count INT NOT NULL DEFAULT 0"`
	LastEvaluatedRunID int64     `sql:"last_evaluated_run_id INT NOT NULL DEFAULT 0"`
	UpdatedAt          time.Time `sql:"updated_at TIMESTAMPTZ NOT NULL DEFAULT now()"`
}
