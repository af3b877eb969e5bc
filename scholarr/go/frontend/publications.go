package frontend

import (
	"net/http"
	"strconv"

	"github.com/scholarr/scholarr/scholarr/go/config"
	"github.com/scholarr/scholarr/scholarr/go/publication"
	"github.com/scholarr/scholarr/scholarr/go/scholarrerr"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// listPublicationsHandler handles GET /api/v1/publications.
func (a *App) listPublicationsHandler(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	opts, err := listOptionsFromQuery(r)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	opts.LatestRunID = u.LatestCompletedRunID
	res, err := a.pubs.ListForUser(r.Context(), u.ID, *opts)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	a.sendData(w, r, res)
}

// listOptionsFromQuery parses and validates the listing query parameters.
func listOptionsFromQuery(r *http.Request) (*publication.ListOptions, error) {
	q := r.URL.Query()
	opts := &publication.ListOptions{
		Mode:     publication.ModeAll,
		SortBy:   publication.SortByFirstSeen,
		SortDir:  publication.SortDesc,
		Page:     1,
		PageSize: defaultPageSize,
		Search:   q.Get("search"),
	}
	switch q.Get("mode") {
	case "", "all":
	case "unread":
		opts.Mode = publication.ModeUnread
	case "latest", "new":
		// "new" is a legacy alias, kept indefinitely.
		opts.Mode = publication.ModeLatest
	default:
		return nil, scholarrerr.New(scholarrerr.Validation, "mode %q is not one of all, unread, latest.", q.Get("mode"))
	}
	if s := q.Get("scholar"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id < 1 {
			return nil, scholarrerr.New(scholarrerr.Validation, "scholar %q is not a valid id.", s)
		}
		opts.ScholarProfileID = id
	}
	if s := q.Get("favorite"); s != "" {
		b, err := config.ParseBool(s)
		if err != nil {
			return nil, scholarrerr.Wrap(scholarrerr.Validation, err, "favorite")
		}
		opts.FavoriteOnly = b
	}
	switch q.Get("sort_by") {
	case "", "first_seen":
	case "title":
		opts.SortBy = publication.SortByTitle
	case "year":
		opts.SortBy = publication.SortByYear
	case "citations":
		opts.SortBy = publication.SortByCitations
	default:
		return nil, scholarrerr.New(scholarrerr.Validation, "sort_by %q is not one of first_seen, title, year, citations.", q.Get("sort_by"))
	}
	switch q.Get("sort_dir") {
	case "":
	case "asc":
		opts.SortDir = publication.SortAsc
	case "desc":
		opts.SortDir = publication.SortDesc
	default:
		return nil, scholarrerr.New(scholarrerr.Validation, "sort_dir %q is not asc or desc.", q.Get("sort_dir"))
	}
	if s := q.Get("page"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return nil, scholarrerr.New(scholarrerr.Validation, "page %q is not a positive integer.", s)
		}
		opts.Page = n
	}
	if s := q.Get("page_size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return nil, scholarrerr.New(scholarrerr.Validation, "page_size %q is not a positive integer.", s)
		}
		if n > maxPageSize {
			n = maxPageSize
		}
		opts.PageSize = n
	}
	if s := q.Get("snapshot"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id < 0 {
			return nil, scholarrerr.New(scholarrerr.Validation, "snapshot %q is not a valid run id.", s)
		}
		opts.SnapshotRunID = id
	}
	return opts, nil
}

// markAllReadHandler handles POST /api/v1/publications/mark-all-read.
func (a *App) markAllReadHandler(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	n, err := a.pubs.MarkAllRead(r.Context(), u.ID)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	a.sendData(w, r, map[string]int64{"marked": n})
}

// markSelectedReadHandler handles POST /api/v1/publications/mark-selected-read.
func (a *App) markSelectedReadHandler(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	var body struct {
		PublicationIDs []int64 `json:"publication_ids"`
	}
	if err := decodeBody(r, &body); err != nil {
		a.sendErr(w, r, err)
		return
	}
	if len(body.PublicationIDs) == 0 {
		a.sendErr(w, r, scholarrerr.New(scholarrerr.Validation, "publication_ids must not be empty."))
		return
	}
	n, err := a.pubs.MarkSelectedRead(r.Context(), u.ID, body.PublicationIDs)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	a.sendData(w, r, map[string]int64{"marked": n})
}

// favoriteHandler handles POST /api/v1/publications/{id}/favorite.
func (a *App) favoriteHandler(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	id, err := idParam(r)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	var body struct {
		Favorite bool `json:"favorite"`
	}
	if err := decodeBody(r, &body); err != nil {
		a.sendErr(w, r, err)
		return
	}
	if err := a.pubs.SetFavorite(r.Context(), u.ID, id, body.Favorite); err != nil {
		a.sendErr(w, r, err)
		return
	}
	a.sendData(w, r, map[string]bool{"favorite": body.Favorite})
}

// retryPdfHandler handles POST /api/v1/publications/{id}/retry-pdf. PDF
// state is global, so any authenticated user may nudge a failed resolution.
func (a *App) retryPdfHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	if _, err := a.pubs.Get(r.Context(), id); err != nil {
		a.sendErr(w, r, err)
		return
	}
	if a.pdf == nil {
		a.sendErr(w, r, scholarrerr.New(scholarrerr.NotFound, "PDF resolution is not enabled on this instance."))
		return
	}
	if err := a.pdf.Enqueue(r.Context(), id); err != nil {
		a.sendErr(w, r, err)
		return
	}
	a.sendData(w, r, map[string]string{"pdf_status": string(publication.PdfQueued)})
}
