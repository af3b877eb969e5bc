package frontend

import (
	"net/http"
	"time"

	"github.com/scholarr/scholarr/go/sklog"
	"github.com/scholarr/scholarr/scholarr/go/pager"
	"github.com/scholarr/scholarr/scholarr/go/scholarrerr"
	"github.com/scholarr/scholarr/scholarr/go/scholars"
	"github.com/scholarr/scholarr/scholarr/go/scholarsource"
)

// apiScholar is the wire form of a tracked scholar.
type apiScholar struct {
	ID                 int64      `json:"id"`
	ScholarID          string     `json:"scholar_id"`
	DisplayName        string     `json:"display_name"`
	Affiliation        string     `json:"affiliation,omitempty"`
	ProfileImageSource string     `json:"profile_image_source"`
	ProfileImageURL    string     `json:"profile_image_url,omitempty"`
	IsEnabled          bool       `json:"is_enabled"`
	LastCheckedAt      *time.Time `json:"last_checked_at,omitempty"`
	LastOutcome        string     `json:"last_outcome,omitempty"`
}

func apiScholarOf(sp *scholars.ScholarProfile) apiScholar {
	out := apiScholar{
		ID:                 sp.ID,
		ScholarID:          sp.ScholarID,
		DisplayName:        sp.DisplayName,
		Affiliation:        sp.Affiliation,
		ProfileImageSource: string(sp.ProfileImageSource),
		ProfileImageURL:    sp.ProfileImageURL,
		IsEnabled:          sp.IsEnabled,
		LastOutcome:        sp.LastOutcome,
	}
	if !sp.LastCheckedAt.IsZero() {
		at := sp.LastCheckedAt
		out.LastCheckedAt = &at
	}
	return out
}

// apiAuthorResult is the wire form of one name-search hit.
type apiAuthorResult struct {
	ScholarID   string `json:"scholar_id"`
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
	EmailDomain string `json:"email_domain,omitempty"`
	CitedBy     int    `json:"cited_by,omitempty"`
}

// listScholarsHandler handles GET /api/v1/scholars.
func (a *App) listScholarsHandler(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	list, err := a.scholars.ListByUser(r.Context(), u.ID)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	out := make([]apiScholar, 0, len(list))
	for _, sp := range list {
		out = append(out, apiScholarOf(sp))
	}
	a.sendData(w, r, out)
}

// addScholarHandler handles POST /api/v1/scholars. When a meta fetcher is
// wired the profile's first page is fetched once, best effort, so the new
// scholar shows its scraped name, affiliation and image before the first
// run.
func (a *App) addScholarHandler(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	var body struct {
		ScholarID   string `json:"scholar_id"`
		DisplayName string `json:"display_name"`
	}
	if err := decodeBody(r, &body); err != nil {
		a.sendErr(w, r, err)
		return
	}
	if !scholars.ValidScholarID(body.ScholarID) {
		a.sendErr(w, r, scholarrerr.New(scholarrerr.Validation, "%q is not a valid scholar id.", body.ScholarID))
		return
	}
	profile := scholars.ScholarProfile{
		UserID:             u.ID,
		ScholarID:          body.ScholarID,
		DisplayName:        body.DisplayName,
		ProfileImageSource: scholars.ImageFallback,
		IsEnabled:          true,
	}
	if meta := a.fetchProfileMeta(r, body.ScholarID); meta != nil {
		if profile.DisplayName == "" {
			profile.DisplayName = meta.DisplayName
		}
		profile.Affiliation = meta.Affiliation
		if meta.ImageURL != "" {
			profile.ProfileImageSource = scholars.ImageScraped
			profile.ProfileImageURL = meta.ImageURL
		}
	}
	created, err := a.scholars.Create(r.Context(), profile)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	a.sendData(w, r, apiScholarOf(created))
}

// fetchProfileMeta fetches page 0 of the profile for its header metadata.
// Failures only cost the initial metadata; the first run fills it in.
func (a *App) fetchProfileMeta(r *http.Request, scholarID string) *scholarsource.ProfileMeta {
	if a.meta == nil {
		return nil
	}
	u := userFrom(r)
	page, err := a.meta.FetchPage(r.Context(), scholarID, 0, pager.PacingFor(a.cfg.RunConfigForUser(u.Settings.RequestDelaySeconds)))
	if err != nil {
		sklog.Warningf("Initial fetch for scholar %s failed: %s", scholarID, err)
		return nil
	}
	return page.Profile
}

// updateScholarHandler handles PUT /api/v1/scholars/{id}: display-name
// override and the enabled flag.
func (a *App) updateScholarHandler(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	id, err := idParam(r)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	sp, err := a.scholars.Get(r.Context(), id)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	if sp.UserID != u.ID {
		a.sendErr(w, r, scholarrerr.New(scholarrerr.NotFound, "No scholar with id %d.", id))
		return
	}
	var body struct {
		DisplayName string `json:"display_name"`
		IsEnabled   bool   `json:"is_enabled"`
	}
	if err := decodeBody(r, &body); err != nil {
		a.sendErr(w, r, err)
		return
	}
	if err := a.scholars.Update(r.Context(), id, body.DisplayName, body.IsEnabled); err != nil {
		a.sendErr(w, r, err)
		return
	}
	updated, err := a.scholars.Get(r.Context(), id)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	a.sendData(w, r, apiScholarOf(updated))
}

// searchScholarsHandler handles POST /api/v1/scholars/search through the
// name-search side channel, including its circuit breaker refusals.
func (a *App) searchScholarsHandler(w http.ResponseWriter, r *http.Request) {
	if a.searcher == nil {
		a.sendErr(w, r, scholarrerr.New(scholarrerr.NotFound, "Name search is not enabled on this instance."))
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		a.sendErr(w, r, err)
		return
	}
	hits, err := a.searcher.Search(r.Context(), body.Name)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	out := make([]apiAuthorResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, apiAuthorResult{
			ScholarID:   h.ScholarID,
			Name:        h.Name,
			Affiliation: h.Affiliation,
			EmailDomain: h.EmailDomain,
			CitedBy:     h.CitedBy,
		})
	}
	a.sendData(w, r, out)
}
