// Package publication defines the globally deduplicated publication catalog
// and the per-scholar links that carry all user-facing read/favorite/new
// state. Deduplication is by fingerprint, with the upstream cluster id and
// normalized identifiers as stronger keys when present.
package publication

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/scholarr/scholarr/scholarr/go/fingerprint"
	"github.com/scholarr/scholarr/scholarr/go/scholarsource"
)

// PdfStatus tracks PDF-link resolution on a publication.
type PdfStatus string

const (
	PdfUntracked PdfStatus = "untracked"
	PdfQueued    PdfStatus = "queued"
	PdfRunning   PdfStatus = "running"
	PdfResolved  PdfStatus = "resolved"
	PdfFailed    PdfStatus = "failed"
)

// Publication is one deduplicated publication. Per-user state never lives
// here; see Link.
type Publication struct {
	ID             int64  `json:"id"`
	Fingerprint    string `json:"fingerprint"`
	CanonicalTitle string `json:"title"`
	AuthorsText    string `json:"authors"`

	// Year is 0 when the source row carried none.
	Year      int    `json:"year,omitempty"`
	VenueText string `json:"venue,omitempty"`

	// ClusterID is the upstream per-paper work id; empty when unknown.
	ClusterID  string `json:"cluster_id,omitempty"`
	DOI        string `json:"doi,omitempty"`
	ArxivID    string `json:"arxiv_id,omitempty"`
	Pmid       string `json:"pmid,omitempty"`
	OpenalexID string `json:"openalex_id,omitempty"`

	PubURL string `json:"pub_url,omitempty"`

	// CitationCount is the maximum observed across all linking scholars.
	CitationCount int `json:"citation_count"`

	PdfURL           string    `json:"pdf_url,omitempty"`
	PdfStatus        PdfStatus `json:"pdf_status"`
	PdfAttemptCount  int       `json:"pdf_attempt_count,omitempty"`
	PdfFailureReason string    `json:"pdf_failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisplayIdentifier returns the identifier shown to users, preferring DOI,
// then arXiv, then PMID. Empty when the publication has none.
func (p *Publication) DisplayIdentifier() string {
	switch {
	case p.DOI != "":
		return "doi:" + p.DOI
	case p.ArxivID != "":
		return "arXiv:" + p.ArxivID
	case p.Pmid != "":
		return "PMID:" + p.Pmid
	}
	return ""
}

// Link ties one publication to one scholar profile. All read/favorite/new
// state lives here and only here.
type Link struct {
	ScholarProfileID int64 `json:"scholar_profile_id"`
	PublicationID    int64 `json:"publication_id"`

	// FirstSeenRunID is the run that created this link; it never changes.
	FirstSeenRunID int64 `json:"first_seen_run_id"`

	IsRead     bool `json:"is_read"`
	IsFavorite bool `json:"is_favorite"`

	// IsNewInLatestRun marks links first seen by the owning user's most
	// recently completed run for this scholar.
	IsNewInLatestRun bool `json:"is_new_in_latest_run"`

	// CitationCount is the count as this scholar's profile reports it.
	// Monotone: a lower reported value keeps the stored one.
	CitationCount int `json:"citation_count"`

	ScholarPubURL string `json:"scholar_pub_url,omitempty"`
}

// Candidate is one parsed profile row, normalized and fingerprinted, ready
// for ResolveAndLink.
type Candidate struct {
	Fingerprint   string
	Title         string
	AuthorsText   string
	Year          int
	VenueText     string
	ClusterID     string
	DOI           string
	ArxivID       string
	PubURL        string
	PDFURL        string
	CitationCount int
}

// CandidateFromRow builds a Candidate from a parsed profile row, computing
// the fingerprint and pulling normalized identifiers out of the row's links
// when they point at doi.org or arxiv.org.
func CandidateFromRow(row scholarsource.PublicationRow) Candidate {
	c := Candidate{
		Fingerprint:   fingerprint.Fingerprint(row.Title, row.Year),
		Title:         row.Title,
		AuthorsText:   row.Authors,
		Year:          row.Year,
		VenueText:     row.VenueText,
		ClusterID:     row.ClusterID,
		PubURL:        row.PubURL,
		PDFURL:        row.PDFURL,
		CitationCount: row.CitationCount,
	}
	for _, raw := range []string{row.PubURL, row.PDFURL} {
		if c.DOI == "" {
			c.DOI = doiFromURL(raw)
		}
		if c.ArxivID == "" {
			c.ArxivID = arxivIDFromURL(raw)
		}
	}
	return c
}

// doiFromURL extracts a normalized DOI from doi.org links.
func doiFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if host != "doi.org" && host != "dx.doi.org" {
		return ""
	}
	return fingerprint.NormalizeDOI(strings.TrimPrefix(u.Path, "/"))
}

// arxivIDFromURL extracts a normalized arXiv id from abs/pdf links.
func arxivIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if host != "arxiv.org" && host != "export.arxiv.org" {
		return ""
	}
	p := strings.TrimPrefix(u.Path, "/")
	for _, prefix := range []string{"abs/", "pdf/"} {
		if strings.HasPrefix(p, prefix) {
			return fingerprint.NormalizeArxivID(strings.TrimSuffix(strings.TrimPrefix(p, prefix), ".pdf"))
		}
	}
	return ""
}

// UpsertResult reports what ResolveAndLink did with one Candidate.
type UpsertResult struct {
	Publication *Publication

	// Created is true when the publication row itself was inserted.
	Created bool

	// LinkCreated is true when the scholar saw this publication for the
	// first time, i.e. the link row was inserted by this run.
	LinkCreated bool

	// CitationCountChanged is true when the stored link citation count
	// moved. Counts are monotone, so this only reports increases. A page
	// whose rows are all already linked with unchanged counts lets the
	// paginator stop early.
	CitationCountChanged bool

	// Warnings are user-facing notes, e.g. a citation count that went
	// backwards upstream.
	Warnings []string
}

// Identifiers is the fill-in set applied by enrichment. Empty fields are
// left untouched; fields already set on the publication are never
// overwritten.
type Identifiers struct {
	DOI        string
	ArxivID    string
	Pmid       string
	OpenalexID string
}

// IdentifierKind names a unique identifier column for lookups.
type IdentifierKind string

const (
	KindClusterID IdentifierKind = "cluster_id"
	KindDOI       IdentifierKind = "doi"
	KindArxivID   IdentifierKind = "arxiv_id"
	KindPmid      IdentifierKind = "pmid"
)

// Mode selects which links a listing returns.
type Mode string

const (
	ModeAll    Mode = "all"
	ModeUnread Mode = "unread"

	// ModeLatest returns links first seen by the user's latest completed
	// run. The API also accepts "new" as an alias.
	ModeLatest Mode = "latest"
)

// SortBy names a listing sort key.
type SortBy string

const (
	SortByFirstSeen SortBy = "first_seen"
	SortByTitle     SortBy = "title"
	SortByYear      SortBy = "year"
	SortByCitations SortBy = "citations"
)

// SortDir is a listing sort direction.
type SortDir string

const (
	SortAsc  SortDir = "asc"
	SortDesc SortDir = "desc"
)

// ListOptions filters and pages a publication listing.
type ListOptions struct {
	Mode Mode

	// ScholarProfileID restricts to one scholar; 0 means all of the user's
	// scholars.
	ScholarProfileID int64

	FavoriteOnly bool

	// Search matches title, authors and venue, case-insensitively.
	Search string

	SortBy  SortBy
	SortDir SortDir

	// Page is 1-based.
	Page     int
	PageSize int

	// SnapshotRunID bounds the listing to links first seen at or before
	// the given run so pages stay stable while a run is appending. 0 on
	// the first request; the response echoes the bound to use for
	// subsequent pages.
	SnapshotRunID int64

	// LatestRunID is the user's latest completed run id, required for
	// ModeLatest.
	LatestRunID int64
}

// ListItem is one (publication, link) pair of a listing.
type ListItem struct {
	Publication        Publication `json:"publication"`
	Link               Link        `json:"link"`
	ScholarDisplayName string      `json:"scholar_display_name"`
}

// ListResult is one page of a listing.
type ListResult struct {
	Items         []*ListItem `json:"items"`
	Total         int         `json:"total"`
	Page          int         `json:"page"`
	PageSize      int         `json:"page_size"`
	SnapshotRunID int64       `json:"snapshot"`
}

// Store persists publications and links.
type Store interface {
	// ResolveAndLink finds or creates the publication for the candidate
	// and upserts the scholar's link, all in one serializable transaction.
	// Resolution tries the cluster id, then the fingerprint, then any
	// normalized identifier on the candidate, then inserts; an insert that
	// loses a concurrent race falls back to the lookup path once.
	ResolveAndLink(ctx context.Context, scholarProfileID int64, runID int64, c Candidate) (*UpsertResult, error)

	// ClearStaleNewFlags flips is_new_in_latest_run to false on every link
	// of the scholar not first seen by the given run.
	ClearStaleNewFlags(ctx context.Context, scholarProfileID int64, runID int64) error

	// CountFirstSeenIn returns the number of distinct publications first
	// linked by the given run.
	CountFirstSeenIn(ctx context.Context, runID int64) (int, error)

	// Get returns a publication by id.
	Get(ctx context.Context, id int64) (*Publication, error)

	// GetByIdentifier returns the publication carrying the identifier, or
	// nil when none does.
	GetByIdentifier(ctx context.Context, kind IdentifierKind, value string) (*Publication, error)

	// GetLink returns one link row.
	GetLink(ctx context.Context, scholarProfileID int64, publicationID int64) (*Link, error)

	// ListNeedingEnrichment returns the run's newly linked publications
	// whose identifier set is incomplete.
	ListNeedingEnrichment(ctx context.Context, runID int64) ([]*Publication, error)

	// ListPdfCandidates returns the run's newly linked publications that
	// still lack a PDF URL and are not already queued or failed.
	ListPdfCandidates(ctx context.Context, runID int64) ([]*Publication, error)

	// UpdateIdentifiers fills absent identifier fields and returns the
	// updated publication. Present fields are never overwritten.
	UpdateIdentifiers(ctx context.Context, id int64, ids Identifiers) (*Publication, error)

	// Merge folds the loser publication into the winner: links are
	// rewritten (user state on conflicting links is unioned), the winner
	// keeps the union of identifiers, the loser row is deleted.
	Merge(ctx context.Context, winnerID int64, loserID int64) error

	// ListForUser returns one page of the user's publications.
	ListForUser(ctx context.Context, userID int64, opts ListOptions) (*ListResult, error)

	// MarkAllRead marks every link of the user read and returns how many
	// changed.
	MarkAllRead(ctx context.Context, userID int64) (int64, error)

	// MarkSelectedRead marks the given publications read for the user.
	MarkSelectedRead(ctx context.Context, userID int64, publicationIDs []int64) (int64, error)

	// SetFavorite flips the favorite flag on the user's link.
	SetFavorite(ctx context.Context, userID int64, publicationID int64, favorite bool) error

	// SetPdfStatus moves the publication's pdf_status, for queue
	// transitions.
	SetPdfStatus(ctx context.Context, id int64, status PdfStatus) error

	// ResolvePdf records a successfully resolved PDF URL.
	ResolvePdf(ctx context.Context, id int64, pdfURL string) error

	// FailPdf records a failed resolution with its reason and the attempt
	// count spent.
	FailPdf(ctx context.Context, id int64, reason string, attemptCount int) error
}
