package frontend_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scholarr/scholarr/go/alogin"
	aloginmocks "github.com/scholarr/scholarr/go/alogin/mocks"
	"github.com/scholarr/scholarr/scholarr/go/config"
	"github.com/scholarr/scholarr/scholarr/go/frontend"
	"github.com/scholarr/scholarr/scholarr/go/gateway"
	"github.com/scholarr/scholarr/scholarr/go/publication"
	"github.com/scholarr/scholarr/scholarr/go/runner"
	"github.com/scholarr/scholarr/scholarr/go/runs"
	"github.com/scholarr/scholarr/scholarr/go/safety"
	"github.com/scholarr/scholarr/scholarr/go/scholarrerr"
	"github.com/scholarr/scholarr/scholarr/go/scholars"
	"github.com/scholarr/scholarr/scholarr/go/scholarsource"
	"github.com/scholarr/scholarr/scholarr/go/users"
)

const userEmail = "u@example.org"

// The fakes embed their interface so only the methods the handlers reach
// need implementations.

type fakeUsers struct {
	users.Store
	user    *users.User
	updated *users.Settings
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*users.User, error) {
	if f.user != nil && f.user.Email == email {
		return f.user, nil
	}
	return nil, scholarrerr.New(scholarrerr.NotFound, "no user %q", email)
}

func (f *fakeUsers) UpdateSettings(_ context.Context, id int64, s users.Settings) error {
	f.updated = &s
	return nil
}

type fakeRuns struct {
	runs.Store
	byID      map[int64]*runs.Run
	list      []*runs.Run
	cancelled []int64
	results   map[int64][]*runs.ScholarResult
}

func (f *fakeRuns) Get(_ context.Context, id int64) (*runs.Run, error) {
	if run, ok := f.byID[id]; ok {
		return run, nil
	}
	return nil, scholarrerr.New(scholarrerr.NotFound, "no run %d", id)
}

func (f *fakeRuns) List(_ context.Context, userID int64, limit int) ([]*runs.Run, error) {
	if len(f.list) > limit {
		return f.list[:limit], nil
	}
	return f.list, nil
}

func (f *fakeRuns) RequestCancel(_ context.Context, id int64) error {
	f.cancelled = append(f.cancelled, id)
	f.byID[id].CancelRequested = true
	return nil
}

func (f *fakeRuns) ListScholarResults(_ context.Context, runID int64) ([]*runs.ScholarResult, error) {
	return f.results[runID], nil
}

type fakeScholars struct {
	scholars.Store
	byID    map[int64]*scholars.ScholarProfile
	created *scholars.ScholarProfile
}

func (f *fakeScholars) ListByUser(_ context.Context, userID int64) ([]*scholars.ScholarProfile, error) {
	var out []*scholars.ScholarProfile
	for _, sp := range f.byID {
		if sp.UserID == userID {
			out = append(out, sp)
		}
	}
	return out, nil
}

func (f *fakeScholars) Get(_ context.Context, id int64) (*scholars.ScholarProfile, error) {
	if sp, ok := f.byID[id]; ok {
		return sp, nil
	}
	return nil, scholarrerr.New(scholarrerr.NotFound, "no scholar %d", id)
}

func (f *fakeScholars) Create(_ context.Context, p scholars.ScholarProfile) (*scholars.ScholarProfile, error) {
	p.ID = 100
	f.created = &p
	if f.byID == nil {
		f.byID = map[int64]*scholars.ScholarProfile{}
	}
	f.byID[p.ID] = &p
	return &p, nil
}

func (f *fakeScholars) Update(_ context.Context, id int64, displayName string, isEnabled bool) error {
	f.byID[id].DisplayName = displayName
	f.byID[id].IsEnabled = isEnabled
	return nil
}

type fakePubs struct {
	publication.Store
	listResult   *publication.ListResult
	lastOpts     publication.ListOptions
	pubs         map[int64]*publication.Publication
	markedAll    bool
	selectedRead []int64
	favorites    map[int64]bool
}

func (f *fakePubs) ListForUser(_ context.Context, userID int64, opts publication.ListOptions) (*publication.ListResult, error) {
	f.lastOpts = opts
	if f.listResult != nil {
		return f.listResult, nil
	}
	return &publication.ListResult{Items: []*publication.ListItem{}, Page: opts.Page, PageSize: opts.PageSize}, nil
}

func (f *fakePubs) Get(_ context.Context, id int64) (*publication.Publication, error) {
	if p, ok := f.pubs[id]; ok {
		return p, nil
	}
	return nil, scholarrerr.New(scholarrerr.NotFound, "no publication %d", id)
}

func (f *fakePubs) MarkAllRead(_ context.Context, userID int64) (int64, error) {
	f.markedAll = true
	return 7, nil
}

func (f *fakePubs) MarkSelectedRead(_ context.Context, userID int64, ids []int64) (int64, error) {
	f.selectedRead = ids
	return int64(len(ids)), nil
}

func (f *fakePubs) SetFavorite(_ context.Context, userID int64, publicationID int64, favorite bool) error {
	if f.favorites == nil {
		f.favorites = map[int64]bool{}
	}
	f.favorites[publicationID] = favorite
	return nil
}

type fakeSubmitter struct {
	run   *runs.Run
	err   error
	calls int
}

func (f *fakeSubmitter) Submit(_ context.Context, userID int64, trigger runs.Trigger, tasks []runner.ScholarTask) (*runs.Run, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.run, nil
}

type fakeSearcher struct {
	hits []scholarsource.AuthorResult
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, name string) ([]scholarsource.AuthorResult, error) {
	return f.hits, f.err
}

type fakePdf struct {
	enqueued []int64
}

func (f *fakePdf) Enqueue(_ context.Context, publicationID int64) error {
	f.enqueued = append(f.enqueued, publicationID)
	return nil
}

type fakeMeta struct {
	page *scholarsource.ParsedPage
	err  error
}

func (f *fakeMeta) FetchPage(_ context.Context, scholarID string, pageIndex int, pacing gateway.Pacing) (*scholarsource.ParsedPage, error) {
	return f.page, f.err
}

// memSafetyStore is the in-memory safety.Store from the safety tests.
type memSafetyStore struct {
	mtx    sync.Mutex
	states map[int64]safety.State
}

func (m *memSafetyStore) Get(_ context.Context, userID int64) (safety.State, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if s, ok := m.states[userID]; ok {
		return s, nil
	}
	return safety.NewState(userID), nil
}

func (m *memSafetyStore) Update(_ context.Context, userID int64, cb safety.UpdateCallback) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	s, ok := m.states[userID]
	if !ok {
		s = safety.NewState(userID)
	}
	m.states[userID] = cb(s)
	return nil
}

// fixture wires an App over the fakes.
type fixture struct {
	app       http.Handler
	cfg       *config.InstanceConfig
	users     *fakeUsers
	runs      *fakeRuns
	scholars  *fakeScholars
	pubs      *fakePubs
	submitter *fakeSubmitter
	searcher  *fakeSearcher
	pdf       *fakePdf
	meta      *fakeMeta
}

func newFixture(t *testing.T) *fixture {
	cfg := config.NewInstanceConfig()
	cfg.ConnectionString = "unused"

	login := aloginmocks.NewLogin(t)
	login.On("LoggedInAs", mock.Anything).Return(alogin.EMail(userEmail)).Maybe()

	f := &fixture{
		cfg: cfg,
		users: &fakeUsers{user: &users.User{
			ID:                   1,
			Email:                userEmail,
			IsActive:             true,
			Settings:             users.DefaultSettings(),
			LatestCompletedRunID: 42,
		}},
		runs:      &fakeRuns{byID: map[int64]*runs.Run{}},
		scholars:  &fakeScholars{byID: map[int64]*scholars.ScholarProfile{}},
		pubs:      &fakePubs{pubs: map[int64]*publication.Publication{}},
		submitter: &fakeSubmitter{},
		searcher:  &fakeSearcher{},
		pdf:       &fakePdf{},
		meta:      &fakeMeta{},
	}
	f.app = frontend.New(frontend.Params{
		Config:       cfg,
		Login:        login,
		Users:        f.users,
		Scholars:     f.scholars,
		Runs:         f.runs,
		Publications: f.pubs,
		Safety:       safety.New(&memSafetyStore{states: map[int64]safety.State{}}, cfg),
		Submitter:    f.submitter,
		Searcher:     f.searcher,
		Pdf:          f.pdf,
		Meta:         f.meta,
	}).Router()
	return f
}

// envelope is the decoded response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
	Meta struct {
		RequestID string `json:"request_id"`
	} `json:"meta"`
}

func (f *fixture) do(t *testing.T, method, target string, body interface{}) (int, envelope) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	f.app.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NotEmpty(t, env.Meta.RequestID)
	return w.Code, env
}

func TestAuth_NotLoggedIn_Unauthorized(t *testing.T) {
	cfg := config.NewInstanceConfig()
	cfg.ConnectionString = "unused"
	login := aloginmocks.NewLogin(t)
	login.On("LoggedInAs", mock.Anything).Return(alogin.NotLoggedIn)
	app := frontend.New(frontend.Params{
		Config: cfg,
		Login:  login,
		Users:  &fakeUsers{},
		Safety: safety.New(&memSafetyStore{states: map[int64]safety.State{}}, cfg),
	}).Router()

	req := httptest.NewRequest("GET", "/api/v1/runs", nil)
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Equal(t, "unauthorized", env.Error.Code)
}

func TestAuth_UnknownAccount_Unauthorized(t *testing.T) {
	f := newFixture(t)
	f.users.user = nil

	code, env := f.do(t, "GET", "/api/v1/runs", nil)

	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, "unauthorized", env.Error.Code)
}

func TestAuth_DeactivatedAccount_Forbidden(t *testing.T) {
	f := newFixture(t)
	f.users.user.IsActive = false

	code, env := f.do(t, "GET", "/api/v1/runs", nil)

	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "forbidden", env.Error.Code)
}

func TestTriggerRun_SubmitsManualRun(t *testing.T) {
	f := newFixture(t)
	f.submitter.run = &runs.Run{ID: 9, UserID: 1, Trigger: runs.TriggerManual, Status: runs.StatusPending, StartDt: time.Now()}

	code, env := f.do(t, "POST", "/api/v1/runs", nil)

	require.Equal(t, http.StatusOK, code)
	var got struct {
		ID      int64  `json:"id"`
		Trigger string `json:"trigger"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Equal(t, int64(9), got.ID)
	require.Equal(t, "manual", got.Trigger)
	require.Equal(t, 1, f.submitter.calls)
}

func TestTriggerRun_DuplicateWithinWindow_ReturnsInFlightRun(t *testing.T) {
	f := newFixture(t)
	inFlight := &runs.Run{ID: 9, UserID: 1, Trigger: runs.TriggerManual, Status: runs.StatusRunning, StartDt: time.Now()}
	f.submitter.run = inFlight
	f.runs.byID[9] = inFlight

	code, _ := f.do(t, "POST", "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, code)
	code, env := f.do(t, "POST", "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, code)

	var got struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Equal(t, int64(9), got.ID)
	// The second POST never reached the submitter.
	require.Equal(t, 1, f.submitter.calls)
}

func TestTriggerRun_CooldownRefusal_ConflictWithSafetyState(t *testing.T) {
	f := newFixture(t)
	state := safety.NewState(1)
	state.CooldownActive = true
	state.CooldownReason = safety.ReasonBlocked
	f.submitter.err = scholarrerr.New(scholarrerr.Cooldown, "cooling down").WithDetails(state)

	code, env := f.do(t, "POST", "/api/v1/runs", nil)

	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "scrape_cooldown_active", env.Error.Code)
	var details struct {
		CooldownReason string `json:"cooldown_reason"`
	}
	require.NoError(t, json.Unmarshal(env.Error.Details, &details))
	require.Equal(t, "blocked", details.CooldownReason)
}

func TestListRuns_IncludesSafetyState(t *testing.T) {
	f := newFixture(t)
	f.runs.list = []*runs.Run{
		{ID: 2, UserID: 1, Status: runs.StatusSuccess, StartDt: time.Now()},
		{ID: 1, UserID: 1, Status: runs.StatusFailed, StartDt: time.Now().Add(-time.Hour)},
	}

	code, env := f.do(t, "GET", "/api/v1/runs?limit=10", nil)

	require.Equal(t, http.StatusOK, code)
	var got struct {
		Runs        []json.RawMessage `json:"runs"`
		SafetyState struct {
			CooldownActive bool `json:"cooldown_active"`
		} `json:"safety_state"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Len(t, got.Runs, 2)
	require.False(t, got.SafetyState.CooldownActive)
}

func TestRunDetail_OtherUsersRun_NotFound(t *testing.T) {
	f := newFixture(t)
	f.runs.byID[5] = &runs.Run{ID: 5, UserID: 2, Status: runs.StatusSuccess}

	code, env := f.do(t, "GET", "/api/v1/runs/5", nil)

	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "not_found", env.Error.Code)
}

func TestCancelRun_SetsFlag(t *testing.T) {
	f := newFixture(t)
	f.runs.byID[5] = &runs.Run{ID: 5, UserID: 1, Status: runs.StatusRunning}

	code, env := f.do(t, "POST", "/api/v1/runs/5/cancel", nil)

	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []int64{5}, f.runs.cancelled)
	var got struct {
		CancelRequested bool `json:"cancel_requested"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.True(t, got.CancelRequested)
}

func TestListPublications_NewAliasAndLatestRunID(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, "GET", "/api/v1/publications?mode=new&favorite=yes&page=2&page_size=10&sort_by=year&sort_dir=asc", nil)

	require.Equal(t, http.StatusOK, code)
	require.Equal(t, publication.ModeLatest, f.pubs.lastOpts.Mode)
	require.Equal(t, int64(42), f.pubs.lastOpts.LatestRunID)
	require.True(t, f.pubs.lastOpts.FavoriteOnly)
	require.Equal(t, 2, f.pubs.lastOpts.Page)
	require.Equal(t, 10, f.pubs.lastOpts.PageSize)
	require.Equal(t, publication.SortByYear, f.pubs.lastOpts.SortBy)
	require.Equal(t, publication.SortAsc, f.pubs.lastOpts.SortDir)
}

func TestListPublications_UnknownMode_BadRequest(t *testing.T) {
	f := newFixture(t)

	code, env := f.do(t, "GET", "/api/v1/publications?mode=starred", nil)

	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "validation_error", env.Error.Code)
}

func TestMarkSelectedRead_EmptySelection_BadRequest(t *testing.T) {
	f := newFixture(t)

	code, env := f.do(t, "POST", "/api/v1/publications/mark-selected-read", map[string]interface{}{"publication_ids": []int64{}})

	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "validation_error", env.Error.Code)
}

func TestMarkSelectedRead_MarksAndCounts(t *testing.T) {
	f := newFixture(t)

	code, env := f.do(t, "POST", "/api/v1/publications/mark-selected-read", map[string]interface{}{"publication_ids": []int64{3, 4}})

	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []int64{3, 4}, f.pubs.selectedRead)
	var got struct {
		Marked int64 `json:"marked"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Equal(t, int64(2), got.Marked)
}

func TestFavorite_FlipsFlag(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, "POST", "/api/v1/publications/12/favorite", map[string]bool{"favorite": true})

	require.Equal(t, http.StatusOK, code)
	require.True(t, f.pubs.favorites[12])
}

func TestRetryPdf_EnqueuesExistingPublication(t *testing.T) {
	f := newFixture(t)
	f.pubs.pubs[12] = &publication.Publication{ID: 12, PdfStatus: publication.PdfFailed}

	code, _ := f.do(t, "POST", "/api/v1/publications/12/retry-pdf", nil)

	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []int64{12}, f.pdf.enqueued)
}

func TestRetryPdf_MissingPublication_NotFound(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, "POST", "/api/v1/publications/12/retry-pdf", nil)

	require.Equal(t, http.StatusNotFound, code)
	require.Empty(t, f.pdf.enqueued)
}

func TestGetSettings_CarriesPolicyFloors(t *testing.T) {
	f := newFixture(t)

	code, env := f.do(t, "GET", "/api/v1/settings", nil)

	require.Equal(t, http.StatusOK, code)
	var got struct {
		Policy struct {
			MinRequestDelaySeconds int `json:"min_request_delay_seconds"`
			MinRunIntervalMinutes  int `json:"min_run_interval_minutes"`
		} `json:"policy"`
		SafetyState struct {
			CooldownReason string `json:"cooldown_reason"`
		} `json:"safety_state"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Equal(t, config.FloorRequestDelaySeconds, got.Policy.MinRequestDelaySeconds)
	require.Equal(t, config.FloorRunIntervalMinutes, got.Policy.MinRunIntervalMinutes)
	require.Equal(t, "none", got.SafetyState.CooldownReason)
}

func TestPutSettings_BelowFloor_Refused(t *testing.T) {
	f := newFixture(t)
	s := users.DefaultSettings()
	s.RequestDelaySeconds = 1

	code, env := f.do(t, "PUT", "/api/v1/settings", s)

	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "validation_error", env.Error.Code)
	require.Nil(t, f.users.updated)
}

func TestPutSettings_Valid_Persisted(t *testing.T) {
	f := newFixture(t)
	s := users.DefaultSettings()
	s.AutoRunEnabled = true
	s.RunIntervalMinutes = 120

	code, _ := f.do(t, "PUT", "/api/v1/settings", s)

	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, f.users.updated)
	require.True(t, f.users.updated.AutoRunEnabled)
	require.Equal(t, 120, f.users.updated.RunIntervalMinutes)
}

func TestAddScholar_InvalidID_BadRequest(t *testing.T) {
	f := newFixture(t)

	code, env := f.do(t, "POST", "/api/v1/scholars", map[string]string{"scholar_id": "nope"})

	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "validation_error", env.Error.Code)
}

func TestAddScholar_InitialFetchFillsMetadata(t *testing.T) {
	f := newFixture(t)
	f.meta.page = &scholarsource.ParsedPage{
		Profile: &scholarsource.ProfileMeta{
			DisplayName: "Ada Lovelace",
			Affiliation: "Analytical Engines Ltd",
			ImageURL:    "https://example.org/ada.png",
		},
	}

	code, env := f.do(t, "POST", "/api/v1/scholars", map[string]string{"scholar_id": "AbCdEfGhIjKl"})

	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Ada Lovelace", f.scholars.created.DisplayName)
	require.Equal(t, "Analytical Engines Ltd", f.scholars.created.Affiliation)
	require.Equal(t, scholars.ImageScraped, f.scholars.created.ProfileImageSource)
	var got struct {
		ScholarID string `json:"scholar_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Equal(t, "AbCdEfGhIjKl", got.ScholarID)
}

func TestAddScholar_FetchFailure_StillCreated(t *testing.T) {
	f := newFixture(t)
	f.meta.err = scholarrerr.New(scholarrerr.Network, "connection reset")

	code, _ := f.do(t, "POST", "/api/v1/scholars", map[string]string{"scholar_id": "AbCdEfGhIjKl", "display_name": "A. Person"})

	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "A. Person", f.scholars.created.DisplayName)
	require.Equal(t, scholars.ImageFallback, f.scholars.created.ProfileImageSource)
}

func TestUpdateScholar_OtherUsersScholar_NotFound(t *testing.T) {
	f := newFixture(t)
	f.scholars.byID[7] = &scholars.ScholarProfile{ID: 7, UserID: 2, ScholarID: "AbCdEfGhIjKl"}

	code, _ := f.do(t, "PUT", "/api/v1/scholars/7", map[string]interface{}{"display_name": "X", "is_enabled": false})

	require.Equal(t, http.StatusNotFound, code)
}

func TestUpdateScholar_TogglesEnabled(t *testing.T) {
	f := newFixture(t)
	f.scholars.byID[7] = &scholars.ScholarProfile{ID: 7, UserID: 1, ScholarID: "AbCdEfGhIjKl", IsEnabled: true}

	code, env := f.do(t, "PUT", "/api/v1/scholars/7", map[string]interface{}{"display_name": "Renamed", "is_enabled": false})

	require.Equal(t, http.StatusOK, code)
	var got struct {
		DisplayName string `json:"display_name"`
		IsEnabled   bool   `json:"is_enabled"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Equal(t, "Renamed", got.DisplayName)
	require.False(t, got.IsEnabled)
}

func TestSearchScholars_MapsHits(t *testing.T) {
	f := newFixture(t)
	f.searcher.hits = []scholarsource.AuthorResult{
		{ScholarID: "AbCdEfGhIjKl", Name: "Ada Lovelace", Affiliation: "AEL", CitedBy: 123},
	}

	code, env := f.do(t, "POST", "/api/v1/scholars/search", map[string]string{"name": "ada lovelace"})

	require.Equal(t, http.StatusOK, code)
	var got []struct {
		ScholarID string `json:"scholar_id"`
		Name      string `json:"name"`
		CitedBy   int    `json:"cited_by"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Len(t, got, 1)
	require.Equal(t, "AbCdEfGhIjKl", got[0].ScholarID)
	require.Equal(t, 123, got[0].CitedBy)
}

func TestSearchScholars_BreakerOpen_Conflict(t *testing.T) {
	f := newFixture(t)
	f.searcher.err = scholarrerr.New(scholarrerr.Cooldown, "paused").WithCode("name_search_cooldown")

	code, env := f.do(t, "POST", "/api/v1/scholars/search", map[string]string{"name": "ada"})

	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "name_search_cooldown", env.Error.Code)
}
