// Package sqlpublicationstore implements publication.Store using an SQL
// database.
package sqlpublicationstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sql/pool"
	"github.com/scholarr/scholarr/scholarr/go/publication"
	"github.com/scholarr/scholarr/scholarr/go/scholarrerr"
)

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"

	// maxResolveAttempts bounds retries of the resolve transaction on
	// serialization failures and on unique-index races, where the retried
	// lookup path finds the row the competing writer created.
	maxResolveAttempts = 3

	defaultPageSize = 50
	maxPageSize     = 200
)

// statement is an SQL statement identifier.
type statement int

const (
	// The identifiers for all the SQL statements used.
	getPublication statement = iota
	insertPublication
	fillPublication
	updateIdentifiers
	insertLink
	getLinkBasics
	updateLink
	getLink
	clearStaleNewFlags
	countFirstSeenIn
	listNeedingEnrichment
	listPdfCandidates
	mergeLinks
	deleteLoserLinks
	deleteLoserPdfItems
	deletePublication
	unionIntoWinner
	snapshotRunID
	markAllRead
	markSelectedRead
	setFavorite
	setPdfStatus
	resolvePdf
	failPdf
)

// publicationColumns is the shared SELECT column list. Every query aliases
// Publications as p. Nullable columns read back as their zero sentinel.
const publicationColumns = `
	p.id, p.fingerprint, p.canonical_title, p.authors_text,
	COALESCE(p.year, 0), p.venue_text,
	COALESCE(p.cluster_id, ''), COALESCE(p.doi, ''),
	COALESCE(p.arxiv_id, ''), COALESCE(p.pmid, ''),
	COALESCE(p.openalex_id, ''),
	p.pub_url, p.citation_count, p.pdf_url, p.pdf_status,
	p.pdf_attempt_count, p.pdf_failure_reason, p.created_at, p.updated_at
`

// linkColumns is the shared SELECT column list for links, aliased as l.
const linkColumns = `
	l.scholar_profile_id, l.publication_id, l.first_seen_run_id, l.is_read,
	l.is_favorite, l.is_new_in_latest_run, l.citation_count,
	l.link_scholar_pub_url
`

// statements holds all the raw SQL statements.
var statements = map[statement]string{
	getPublication: `
		SELECT
			` + publicationColumns + `
		FROM
			Publications AS p
		WHERE
			p.id=$1
	`,
	insertPublication: `
		INSERT INTO
			Publications (fingerprint, canonical_title, authors_text, year,
				venue_text, cluster_id, doi, arxiv_id, pub_url,
				citation_count, pdf_url, pdf_status)
		VALUES
			($1, $2, $3, NULLIF($4, 0), $5, NULLIF($6, ''), NULLIF($7, ''),
			 NULLIF($8, ''), $9, $10, $11, $12)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING
			id, created_at, updated_at
	`,
	// Fill-in on an existing publication: only absent fields are set, and
	// the citation count only moves up.
	fillPublication: `
		UPDATE
			Publications AS p
		SET
			cluster_id = COALESCE(p.cluster_id, NULLIF($1, '')),
			doi = COALESCE(p.doi, NULLIF($2, '')),
			arxiv_id = COALESCE(p.arxiv_id, NULLIF($3, '')),
			year = COALESCE(p.year, NULLIF($4, 0)),
			venue_text = CASE WHEN p.venue_text = '' THEN $5 ELSE p.venue_text END,
			authors_text = CASE WHEN p.authors_text = '' THEN $6 ELSE p.authors_text END,
			pub_url = CASE WHEN p.pub_url = '' THEN $7 ELSE p.pub_url END,
			pdf_url = CASE WHEN p.pdf_url = '' THEN $8 ELSE p.pdf_url END,
			pdf_status = CASE WHEN p.pdf_url = '' AND $8 <> '' THEN 'resolved' ELSE p.pdf_status END,
			citation_count = GREATEST(p.citation_count, $9),
			updated_at = now()
		WHERE
			p.id = $10
		RETURNING
			` + publicationColumns + `
	`,
	updateIdentifiers: `
		UPDATE
			Publications AS p
		SET
			doi = COALESCE(p.doi, NULLIF($1, '')),
			arxiv_id = COALESCE(p.arxiv_id, NULLIF($2, '')),
			pmid = COALESCE(p.pmid, NULLIF($3, '')),
			openalex_id = COALESCE(p.openalex_id, NULLIF($4, '')),
			updated_at = now()
		WHERE
			p.id = $5
		RETURNING
			` + publicationColumns + `
	`,
	insertLink: `
		INSERT INTO
			ScholarPublicationLinks (scholar_profile_id, publication_id,
				first_seen_run_id, citation_count, link_scholar_pub_url)
		VALUES
			($1, $2, $3, $4, $5)
		ON CONFLICT (scholar_profile_id, publication_id) DO NOTHING
	`,
	getLinkBasics: `
		SELECT
			first_seen_run_id, citation_count
		FROM
			ScholarPublicationLinks
		WHERE
			scholar_profile_id=$1 AND publication_id=$2
	`,
	updateLink: `
		UPDATE
			ScholarPublicationLinks
		SET
			citation_count=$1,
			is_new_in_latest_run=$2,
			link_scholar_pub_url = CASE WHEN $3 = '' THEN link_scholar_pub_url ELSE $3 END
		WHERE
			scholar_profile_id=$4 AND publication_id=$5
	`,
	getLink: `
		SELECT
			` + linkColumns + `
		FROM
			ScholarPublicationLinks AS l
		WHERE
			l.scholar_profile_id=$1 AND l.publication_id=$2
	`,
	clearStaleNewFlags: `
		UPDATE
			ScholarPublicationLinks
		SET
			is_new_in_latest_run=false
		WHERE
			scholar_profile_id=$1
			AND is_new_in_latest_run
			AND first_seen_run_id <> $2
	`,
	countFirstSeenIn: `
		SELECT
			COUNT(DISTINCT publication_id)
		FROM
			ScholarPublicationLinks
		WHERE
			first_seen_run_id=$1
	`,
	listNeedingEnrichment: `
		SELECT DISTINCT
			` + publicationColumns + `
		FROM
			Publications AS p
		JOIN
			ScholarPublicationLinks AS l ON l.publication_id = p.id
		WHERE
			l.first_seen_run_id = $1
			AND (p.doi IS NULL OR p.arxiv_id IS NULL)
		ORDER BY
			p.id
	`,
	listPdfCandidates: `
		SELECT DISTINCT
			` + publicationColumns + `
		FROM
			Publications AS p
		JOIN
			ScholarPublicationLinks AS l ON l.publication_id = p.id
		WHERE
			l.first_seen_run_id = $1
			AND p.pdf_url = ''
			AND p.pdf_status = 'untracked'
		ORDER BY
			p.id
	`,
	// Rewrite the loser's links onto the winner. Where the same scholar
	// already links the winner, user state is unioned.
	mergeLinks: `
		INSERT INTO
			ScholarPublicationLinks (scholar_profile_id, publication_id,
				first_seen_run_id, is_read, is_favorite,
				is_new_in_latest_run, citation_count, link_scholar_pub_url)
		SELECT
			scholar_profile_id, $1, first_seen_run_id, is_read, is_favorite,
			is_new_in_latest_run, citation_count, link_scholar_pub_url
		FROM
			ScholarPublicationLinks
		WHERE
			publication_id = $2
		ON CONFLICT (scholar_profile_id, publication_id) DO UPDATE
		SET
			is_read = ScholarPublicationLinks.is_read OR excluded.is_read,
			is_favorite = ScholarPublicationLinks.is_favorite OR excluded.is_favorite,
			is_new_in_latest_run = ScholarPublicationLinks.is_new_in_latest_run OR excluded.is_new_in_latest_run,
			citation_count = GREATEST(ScholarPublicationLinks.citation_count, excluded.citation_count)
	`,
	deleteLoserLinks: `
		DELETE FROM
			ScholarPublicationLinks
		WHERE
			publication_id = $1
	`,
	deleteLoserPdfItems: `
		DELETE FROM
			PdfQueue
		WHERE
			publication_id = $1
	`,
	deletePublication: `
		DELETE FROM
			Publications
		WHERE
			id = $1
	`,
	// The loser row is already deleted when this runs, so moving its
	// unique identifiers over cannot collide with it.
	unionIntoWinner: `
		UPDATE
			Publications AS p
		SET
			cluster_id = COALESCE(p.cluster_id, NULLIF($1, '')),
			doi = COALESCE(p.doi, NULLIF($2, '')),
			arxiv_id = COALESCE(p.arxiv_id, NULLIF($3, '')),
			pmid = COALESCE(p.pmid, NULLIF($4, '')),
			openalex_id = COALESCE(p.openalex_id, NULLIF($5, '')),
			year = COALESCE(p.year, NULLIF($6, 0)),
			venue_text = CASE WHEN p.venue_text = '' THEN $7 ELSE p.venue_text END,
			authors_text = CASE WHEN p.authors_text = '' THEN $8 ELSE p.authors_text END,
			pub_url = CASE WHEN p.pub_url = '' THEN $9 ELSE p.pub_url END,
			pdf_url = CASE WHEN p.pdf_url = '' THEN $10 ELSE p.pdf_url END,
			pdf_status = CASE WHEN p.pdf_url = '' AND $10 <> '' THEN 'resolved' ELSE p.pdf_status END,
			citation_count = GREATEST(p.citation_count, $11),
			updated_at = now()
		WHERE
			p.id = $12
	`,
	snapshotRunID: `
		SELECT
			COALESCE(MAX(l.first_seen_run_id), 0)
		FROM
			ScholarPublicationLinks AS l
		JOIN
			ScholarProfiles AS sp ON sp.id = l.scholar_profile_id
		WHERE
			sp.user_id = $1
	`,
	markAllRead: `
		UPDATE
			ScholarPublicationLinks
		SET
			is_read=true
		WHERE
			NOT is_read
			AND scholar_profile_id IN (
				SELECT id FROM ScholarProfiles WHERE user_id=$1
			)
	`,
	markSelectedRead: `
		UPDATE
			ScholarPublicationLinks
		SET
			is_read=true
		WHERE
			NOT is_read
			AND publication_id = ANY($2)
			AND scholar_profile_id IN (
				SELECT id FROM ScholarProfiles WHERE user_id=$1
			)
	`,
	setFavorite: `
		UPDATE
			ScholarPublicationLinks
		SET
			is_favorite=$1
		WHERE
			publication_id=$2
			AND scholar_profile_id IN (
				SELECT id FROM ScholarProfiles WHERE user_id=$3
			)
	`,
	setPdfStatus: `
		UPDATE
			Publications
		SET
			pdf_status=$1, updated_at=now()
		WHERE
			id=$2
	`,
	resolvePdf: `
		UPDATE
			Publications
		SET
			pdf_url=$1, pdf_status='resolved', pdf_failure_reason='',
			updated_at=now()
		WHERE
			id=$2
	`,
	failPdf: `
		UPDATE
			Publications
		SET
			pdf_status='failed', pdf_failure_reason=$1, pdf_attempt_count=$2,
			updated_at=now()
		WHERE
			id=$3
	`,
}

// identifierColumn maps lookup kinds onto their columns.
var identifierColumn = map[publication.IdentifierKind]string{
	publication.KindClusterID: "cluster_id",
	publication.KindDOI:       "doi",
	publication.KindArxivID:   "arxiv_id",
	publication.KindPmid:      "pmid",
}

// PublicationStore implements the publication.Store interface using an SQL
// database.
type PublicationStore struct {
	db pool.Pool
}

// New returns a new *PublicationStore.
func New(db pool.Pool) *PublicationStore {
	return &PublicationStore{
		db: db,
	}
}

// scanPublication scans a single row produced by publicationColumns.
func scanPublication(scan func(...interface{}) error) (*publication.Publication, error) {
	p := &publication.Publication{}
	if err := scan(
		&p.ID,
		&p.Fingerprint,
		&p.CanonicalTitle,
		&p.AuthorsText,
		&p.Year,
		&p.VenueText,
		&p.ClusterID,
		&p.DOI,
		&p.ArxivID,
		&p.Pmid,
		&p.OpenalexID,
		&p.PubURL,
		&p.CitationCount,
		&p.PdfURL,
		&p.PdfStatus,
		&p.PdfAttemptCount,
		&p.PdfFailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

// scanLink scans a single row produced by linkColumns.
func scanLink(scan func(...interface{}) error) (*publication.Link, error) {
	l := &publication.Link{}
	if err := scan(
		&l.ScholarProfileID,
		&l.PublicationID,
		&l.FirstSeenRunID,
		&l.IsRead,
		&l.IsFavorite,
		&l.IsNewInLatestRun,
		&l.CitationCount,
		&l.ScholarPubURL,
	); err != nil {
		return nil, err
	}
	return l, nil
}

// querier runs either on the pool or inside a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// getByIdentifier looks up one publication by a unique identifier column,
// returning nil when no row carries the value.
func getByIdentifier(ctx context.Context, q querier, kind publication.IdentifierKind, value string) (*publication.Publication, error) {
	column, ok := identifierColumn[kind]
	if !ok {
		return nil, skerr.Fmt("Unknown identifier kind %q.", kind)
	}
	stmt := fmt.Sprintf(`SELECT %s FROM Publications AS p WHERE p.%s = $1`, publicationColumns, column)
	p, err := scanPublication(q.QueryRow(ctx, stmt, value).Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed to look up publication by %s", column)
	}
	return p, nil
}

// getByFingerprint looks up one publication by fingerprint, returning nil
// when absent.
func getByFingerprint(ctx context.Context, q querier, fp string) (*publication.Publication, error) {
	stmt := fmt.Sprintf(`SELECT %s FROM Publications AS p WHERE p.fingerprint = $1`, publicationColumns)
	p, err := scanPublication(q.QueryRow(ctx, stmt, fp).Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return p, nil
}

// lookup resolves a candidate against existing rows: cluster id first, then
// fingerprint, then any normalized identifier on the candidate.
func lookup(ctx context.Context, q querier, c publication.Candidate) (*publication.Publication, error) {
	if c.ClusterID != "" {
		if p, err := getByIdentifier(ctx, q, publication.KindClusterID, c.ClusterID); p != nil || err != nil {
			return p, err
		}
	}
	if p, err := getByFingerprint(ctx, q, c.Fingerprint); p != nil || err != nil {
		return p, err
	}
	if c.DOI != "" {
		if p, err := getByIdentifier(ctx, q, publication.KindDOI, c.DOI); p != nil || err != nil {
			return p, err
		}
	}
	if c.ArxivID != "" {
		if p, err := getByIdentifier(ctx, q, publication.KindArxivID, c.ArxivID); p != nil || err != nil {
			return p, err
		}
	}
	return nil, nil
}

// isRetryableTxError returns true for serialization failures and unique
// index races, both of which resolve on a retried attempt.
func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == serializationFailure || pgErr.Code == uniqueViolation
	}
	return false
}

// ResolveAndLink implements the publication.Store interface.
func (s *PublicationStore) ResolveAndLink(ctx context.Context, scholarProfileID int64, runID int64, c publication.Candidate) (*publication.UpsertResult, error) {
	if c.Fingerprint == "" || c.Title == "" {
		return nil, scholarrerr.New(scholarrerr.Validation, "Publication candidate is missing its fingerprint or title.")
	}
	var lastErr error
	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		res, err := s.resolveAndLinkOnce(ctx, scholarProfileID, runID, c)
		if err == nil {
			return res, nil
		}
		if !isRetryableTxError(err) {
			return nil, skerr.Wrapf(err, "Failed to upsert %q for scholar profile %d", c.Title, scholarProfileID)
		}
		lastErr = err
	}
	return nil, skerr.Wrapf(lastErr, "Giving up upserting %q after %d attempts", c.Title, maxResolveAttempts)
}

// resolveAndLinkOnce runs one serializable resolve-and-link transaction.
func (s *PublicationStore) resolveAndLinkOnce(ctx context.Context, scholarProfileID int64, runID int64, c publication.Candidate) (*publication.UpsertResult, error) {
	res := &publication.UpsertResult{}
	err := s.db.BeginTxFunc(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		*res = publication.UpsertResult{}

		pub, err := lookup(ctx, tx, c)
		if err != nil {
			return err
		}
		if pub == nil {
			pub, err = insertCandidate(ctx, tx, c)
			if err != nil {
				return err
			}
			if pub == nil {
				// Lost a concurrent insert race on the fingerprint; the
				// row exists now.
				pub, err = lookup(ctx, tx, c)
				if err != nil {
					return err
				}
				if pub == nil {
					return skerr.Fmt("Insert of fingerprint %s conflicted but no row matches the candidate.", c.Fingerprint)
				}
			} else {
				res.Created = true
			}
		}

		if !res.Created {
			pub, err = scanPublication(tx.QueryRow(ctx, statements[fillPublication],
				c.ClusterID, c.DOI, c.ArxivID, c.Year, c.VenueText,
				c.AuthorsText, c.PubURL, c.PDFURL, c.CitationCount, pub.ID,
			).Scan)
			if err != nil {
				return err
			}
		}

		tag, err := tx.Exec(ctx, statements[insertLink], scholarProfileID, pub.ID, runID, c.CitationCount, c.PubURL)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			res.LinkCreated = true
		} else {
			var firstSeen int64
			var prevCount int
			if err := tx.QueryRow(ctx, statements[getLinkBasics], scholarProfileID, pub.ID).Scan(&firstSeen, &prevCount); err != nil {
				return err
			}
			count := prevCount
			if c.CitationCount > count {
				count = c.CitationCount
				res.CitationCountChanged = true
			} else if c.CitationCount < prevCount {
				res.Warnings = append(res.Warnings, fmt.Sprintf("Citation count for %q reported as %d, below the stored %d; keeping the stored count.", c.Title, c.CitationCount, prevCount))
			}
			isNew := firstSeen == runID
			if _, err := tx.Exec(ctx, statements[updateLink], count, isNew, c.PubURL, scholarProfileID, pub.ID); err != nil {
				return err
			}
		}

		res.Publication = pub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// insertCandidate inserts a new publication row, returning nil when a
// concurrent insert already created the fingerprint.
func insertCandidate(ctx context.Context, tx pgx.Tx, c publication.Candidate) (*publication.Publication, error) {
	pub := &publication.Publication{
		Fingerprint:    c.Fingerprint,
		CanonicalTitle: c.Title,
		AuthorsText:    c.AuthorsText,
		Year:           c.Year,
		VenueText:      c.VenueText,
		ClusterID:      c.ClusterID,
		DOI:            c.DOI,
		ArxivID:        c.ArxivID,
		PubURL:         c.PubURL,
		CitationCount:  c.CitationCount,
		PdfURL:         c.PDFURL,
		PdfStatus:      publication.PdfUntracked,
	}
	if c.PDFURL != "" {
		// The profile row already links a PDF; nothing to resolve.
		pub.PdfStatus = publication.PdfResolved
	}
	err := tx.QueryRow(ctx, statements[insertPublication],
		c.Fingerprint, c.Title, c.AuthorsText, c.Year, c.VenueText,
		c.ClusterID, c.DOI, c.ArxivID, c.PubURL, c.CitationCount,
		c.PDFURL, pub.PdfStatus,
	).Scan(&pub.ID, &pub.CreatedAt, &pub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pub.CreatedAt = pub.CreatedAt.UTC()
	pub.UpdatedAt = pub.UpdatedAt.UTC()
	return pub, nil
}

// ClearStaleNewFlags implements the publication.Store interface.
func (s *PublicationStore) ClearStaleNewFlags(ctx context.Context, scholarProfileID int64, runID int64) error {
	if _, err := s.db.Exec(ctx, statements[clearStaleNewFlags], scholarProfileID, runID); err != nil {
		return skerr.Wrapf(err, "Failed to clear new flags for scholar profile %d", scholarProfileID)
	}
	return nil
}

// CountFirstSeenIn implements the publication.Store interface.
func (s *PublicationStore) CountFirstSeenIn(ctx context.Context, runID int64) (int, error) {
	var count int
	if err := s.db.QueryRow(ctx, statements[countFirstSeenIn], runID).Scan(&count); err != nil {
		return 0, skerr.Wrapf(err, "Failed to count publications first seen in run %d", runID)
	}
	return count, nil
}

// Get implements the publication.Store interface.
func (s *PublicationStore) Get(ctx context.Context, id int64) (*publication.Publication, error) {
	p, err := scanPublication(s.db.QueryRow(ctx, statements[getPublication], id).Scan)
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed to load publication %d", id)
	}
	return p, nil
}

// GetByIdentifier implements the publication.Store interface.
func (s *PublicationStore) GetByIdentifier(ctx context.Context, kind publication.IdentifierKind, value string) (*publication.Publication, error) {
	return getByIdentifier(ctx, s.db, kind, value)
}

// GetLink implements the publication.Store interface.
func (s *PublicationStore) GetLink(ctx context.Context, scholarProfileID int64, publicationID int64) (*publication.Link, error) {
	l, err := scanLink(s.db.QueryRow(ctx, statements[getLink], scholarProfileID, publicationID).Scan)
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed to load link (%d, %d)", scholarProfileID, publicationID)
	}
	return l, nil
}

// queryPublications runs a statement returning publicationColumns rows.
func (s *PublicationStore) queryPublications(ctx context.Context, stmt statement, args ...interface{}) ([]*publication.Publication, error) {
	rows, err := s.db.Query(ctx, statements[stmt], args...)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	defer rows.Close()
	ret := []*publication.Publication{}
	for rows.Next() {
		p, err := scanPublication(rows.Scan)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		ret = append(ret, p)
	}
	return ret, skerr.Wrap(rows.Err())
}

// ListNeedingEnrichment implements the publication.Store interface.
func (s *PublicationStore) ListNeedingEnrichment(ctx context.Context, runID int64) ([]*publication.Publication, error) {
	return s.queryPublications(ctx, listNeedingEnrichment, runID)
}

// ListPdfCandidates implements the publication.Store interface.
func (s *PublicationStore) ListPdfCandidates(ctx context.Context, runID int64) ([]*publication.Publication, error) {
	return s.queryPublications(ctx, listPdfCandidates, runID)
}

// UpdateIdentifiers implements the publication.Store interface.
func (s *PublicationStore) UpdateIdentifiers(ctx context.Context, id int64, ids publication.Identifiers) (*publication.Publication, error) {
	p, err := scanPublication(s.db.QueryRow(ctx, statements[updateIdentifiers],
		ids.DOI, ids.ArxivID, ids.Pmid, ids.OpenalexID, id,
	).Scan)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, scholarrerr.Wrap(scholarrerr.Conflict, err, "Another publication already carries one of these identifiers.").WithCode("identifier_conflict")
		}
		return nil, skerr.Wrapf(err, "Failed to update identifiers of publication %d", id)
	}
	return p, nil
}

// Merge implements the publication.Store interface.
func (s *PublicationStore) Merge(ctx context.Context, winnerID int64, loserID int64) error {
	if winnerID == loserID {
		return skerr.Fmt("Refusing to merge publication %d into itself.", winnerID)
	}
	err := s.db.BeginTxFunc(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		loser, err := scanPublication(tx.QueryRow(ctx, statements[getPublication], loserID).Scan)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, statements[mergeLinks], winnerID, loserID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, statements[deleteLoserLinks], loserID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, statements[deleteLoserPdfItems], loserID); err != nil {
			return err
		}
		// Delete before the union so the loser's unique identifiers are
		// free to move to the winner.
		if _, err := tx.Exec(ctx, statements[deletePublication], loserID); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, statements[unionIntoWinner],
			loser.ClusterID, loser.DOI, loser.ArxivID, loser.Pmid,
			loser.OpenalexID, loser.Year, loser.VenueText, loser.AuthorsText,
			loser.PubURL, loser.PdfURL, loser.CitationCount, winnerID,
		)
		return err
	})
	if err != nil {
		return skerr.Wrapf(err, "Failed to merge publication %d into %d", loserID, winnerID)
	}
	return nil
}

// escapeLike escapes user input for use inside an ILIKE pattern.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// normalizeListOptions applies listing defaults and bounds.
func normalizeListOptions(opts publication.ListOptions) publication.ListOptions {
	if opts.Mode == "" {
		opts.Mode = publication.ModeAll
	}
	if opts.SortBy == "" {
		opts.SortBy = publication.SortByFirstSeen
	}
	if opts.SortDir == "" {
		if opts.SortBy == publication.SortByTitle {
			opts.SortDir = publication.SortAsc
		} else {
			opts.SortDir = publication.SortDesc
		}
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = defaultPageSize
	}
	if opts.PageSize > maxPageSize {
		opts.PageSize = maxPageSize
	}
	return opts
}

// orderBy returns the ORDER BY clause for the given sort options. The
// publication id breaks ties so pages never overlap.
func orderBy(by publication.SortBy, dir publication.SortDir) string {
	d := "DESC"
	if dir == publication.SortAsc {
		d = "ASC"
	}
	switch by {
	case publication.SortByTitle:
		return fmt.Sprintf("ORDER BY lower(p.canonical_title) %s, p.id %s", d, d)
	case publication.SortByYear:
		return fmt.Sprintf("ORDER BY COALESCE(p.year, 0) %s, p.id %s", d, d)
	case publication.SortByCitations:
		return fmt.Sprintf("ORDER BY l.citation_count %s, p.id %s", d, d)
	}
	return fmt.Sprintf("ORDER BY l.first_seen_run_id %s, p.id %s", d, d)
}

// ListForUser implements the publication.Store interface.
func (s *PublicationStore) ListForUser(ctx context.Context, userID int64, opts publication.ListOptions) (*publication.ListResult, error) {
	opts = normalizeListOptions(opts)

	snapshot := opts.SnapshotRunID
	if snapshot == 0 {
		if err := s.db.QueryRow(ctx, statements[snapshotRunID], userID).Scan(&snapshot); err != nil {
			return nil, skerr.Wrapf(err, "Failed to establish a listing snapshot for user %d", userID)
		}
	}

	args := []interface{}{userID, snapshot}
	var where strings.Builder
	where.WriteString(`
		FROM
			ScholarPublicationLinks AS l
		JOIN
			ScholarProfiles AS sp ON sp.id = l.scholar_profile_id
		JOIN
			Publications AS p ON p.id = l.publication_id
		WHERE
			sp.user_id = $1
			AND l.first_seen_run_id <= $2
	`)
	switch opts.Mode {
	case publication.ModeUnread:
		where.WriteString(" AND NOT l.is_read")
	case publication.ModeLatest:
		args = append(args, opts.LatestRunID)
		fmt.Fprintf(&where, " AND l.first_seen_run_id = $%d", len(args))
	}
	if opts.ScholarProfileID != 0 {
		args = append(args, opts.ScholarProfileID)
		fmt.Fprintf(&where, " AND l.scholar_profile_id = $%d", len(args))
	}
	if opts.FavoriteOnly {
		where.WriteString(" AND l.is_favorite")
	}
	if opts.Search != "" {
		args = append(args, "%"+escapeLike(opts.Search)+"%")
		n := len(args)
		fmt.Fprintf(&where, " AND (p.canonical_title ILIKE $%d OR p.authors_text ILIKE $%d OR p.venue_text ILIKE $%d)", n, n, n)
	}

	ret := &publication.ListResult{
		Items:         []*publication.ListItem{},
		Page:          opts.Page,
		PageSize:      opts.PageSize,
		SnapshotRunID: snapshot,
	}
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) "+where.String(), args...).Scan(&ret.Total); err != nil {
		return nil, skerr.Wrapf(err, "Failed to count publications for user %d", userID)
	}

	query := fmt.Sprintf("SELECT %s, %s, sp.display_name %s %s LIMIT %d OFFSET %d",
		publicationColumns, linkColumns, where.String(),
		orderBy(opts.SortBy, opts.SortDir),
		opts.PageSize, (opts.Page-1)*opts.PageSize,
	)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, skerr.Wrapf(err, "Failed to list publications for user %d", userID)
	}
	defer rows.Close()
	for rows.Next() {
		item := &publication.ListItem{}
		if err := rows.Scan(
			&item.Publication.ID,
			&item.Publication.Fingerprint,
			&item.Publication.CanonicalTitle,
			&item.Publication.AuthorsText,
			&item.Publication.Year,
			&item.Publication.VenueText,
			&item.Publication.ClusterID,
			&item.Publication.DOI,
			&item.Publication.ArxivID,
			&item.Publication.Pmid,
			&item.Publication.OpenalexID,
			&item.Publication.PubURL,
			&item.Publication.CitationCount,
			&item.Publication.PdfURL,
			&item.Publication.PdfStatus,
			&item.Publication.PdfAttemptCount,
			&item.Publication.PdfFailureReason,
			&item.Publication.CreatedAt,
			&item.Publication.UpdatedAt,
			&item.Link.ScholarProfileID,
			&item.Link.PublicationID,
			&item.Link.FirstSeenRunID,
			&item.Link.IsRead,
			&item.Link.IsFavorite,
			&item.Link.IsNewInLatestRun,
			&item.Link.CitationCount,
			&item.Link.ScholarPubURL,
			&item.ScholarDisplayName,
		); err != nil {
			return nil, skerr.Wrap(err)
		}
		item.Publication.CreatedAt = item.Publication.CreatedAt.UTC()
		item.Publication.UpdatedAt = item.Publication.UpdatedAt.UTC()
		ret.Items = append(ret.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, skerr.Wrap(err)
	}
	return ret, nil
}

// MarkAllRead implements the publication.Store interface.
func (s *PublicationStore) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	tag, err := s.db.Exec(ctx, statements[markAllRead], userID)
	if err != nil {
		return 0, skerr.Wrapf(err, "Failed to mark all read for user %d", userID)
	}
	return tag.RowsAffected(), nil
}

// MarkSelectedRead implements the publication.Store interface.
func (s *PublicationStore) MarkSelectedRead(ctx context.Context, userID int64, publicationIDs []int64) (int64, error) {
	if len(publicationIDs) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, statements[markSelectedRead], userID, publicationIDs)
	if err != nil {
		return 0, skerr.Wrapf(err, "Failed to mark %d publications read for user %d", len(publicationIDs), userID)
	}
	return tag.RowsAffected(), nil
}

// SetFavorite implements the publication.Store interface.
func (s *PublicationStore) SetFavorite(ctx context.Context, userID int64, publicationID int64, favorite bool) error {
	tag, err := s.db.Exec(ctx, statements[setFavorite], favorite, publicationID, userID)
	if err != nil {
		return skerr.Wrapf(err, "Failed to set favorite on publication %d", publicationID)
	}
	if tag.RowsAffected() == 0 {
		return scholarrerr.New(scholarrerr.NotFound, "Publication %d is not linked to any of your scholars.", publicationID)
	}
	return nil
}

// SetPdfStatus implements the publication.Store interface.
func (s *PublicationStore) SetPdfStatus(ctx context.Context, id int64, status publication.PdfStatus) error {
	tag, err := s.db.Exec(ctx, statements[setPdfStatus], status, id)
	if err != nil {
		return skerr.Wrapf(err, "Failed to set pdf status of publication %d", id)
	}
	if tag.RowsAffected() == 0 {
		return skerr.Fmt("Publication %d does not exist.", id)
	}
	return nil
}

// ResolvePdf implements the publication.Store interface.
func (s *PublicationStore) ResolvePdf(ctx context.Context, id int64, pdfURL string) error {
	tag, err := s.db.Exec(ctx, statements[resolvePdf], pdfURL, id)
	if err != nil {
		return skerr.Wrapf(err, "Failed to record pdf for publication %d", id)
	}
	if tag.RowsAffected() == 0 {
		return skerr.Fmt("Publication %d does not exist.", id)
	}
	return nil
}

// FailPdf implements the publication.Store interface.
func (s *PublicationStore) FailPdf(ctx context.Context, id int64, reason string, attemptCount int) error {
	tag, err := s.db.Exec(ctx, statements[failPdf], reason, attemptCount, id)
	if err != nil {
		return skerr.Wrapf(err, "Failed to record pdf failure for publication %d", id)
	}
	if tag.RowsAffected() == 0 {
		return skerr.Fmt("Publication %d does not exist.", id)
	}
	return nil
}

// Ensure PublicationStore fulfills publication.Store.
var _ publication.Store = (*PublicationStore)(nil)
