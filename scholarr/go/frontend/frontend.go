// Package frontend serves the REST and SSE API under /api/v1.
//
// Every response is wrapped in an envelope carrying a request id:
// {"data": ..., "meta": {"request_id": "..."}} on success and
// {"error": {"code", "message", "details"}, "meta": {"request_id"}} on
// failure. Domain errors map onto codes and HTTP statuses through
// scholarrerr; everything else is logged under the request id and surfaced
// as a bare internal_error.
//
// Authentication is the auth proxy's identity header (alogin); handlers
// resolve it to a user row and refuse unknown or deactivated accounts.
package frontend

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/scholarr/scholarr/go/alogin"
	"github.com/scholarr/scholarr/go/httputils"
	"github.com/scholarr/scholarr/go/sklog"
	"github.com/scholarr/scholarr/go/sser"
	"github.com/scholarr/scholarr/scholarr/go/config"
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

// idempotencyWindow is how long a manual-run submission shadows duplicates:
// a second POST /runs inside the window returns the in-flight run instead
// of a run_in_progress error.
const idempotencyWindow = 60 * time.Second

// Submitter starts runs. Satisfied by *runner.Runner.
type Submitter interface {
	Submit(ctx context.Context, userID int64, trigger runs.Trigger, tasks []runner.ScholarTask) (*runs.Run, error)
}

// Searcher is the name-search side channel. Satisfied by
// *namesearch.Searcher.
type Searcher interface {
	Search(ctx context.Context, name string) ([]scholarsource.AuthorResult, error)
}

// PdfRetrier re-queues one publication for PDF resolution. Satisfied by
// *pdf.Worker.
type PdfRetrier interface {
	Enqueue(ctx context.Context, publicationID int64) error
}

// MetaFetcher fetches one profile page, used best-effort when a scholar is
// added to capture display metadata. Satisfied by *pager.Pager.
type MetaFetcher interface {
	FetchPage(ctx context.Context, scholarID string, pageIndex int, pacing gateway.Pacing) (*scholarsource.ParsedPage, error)
}

// Params collects the collaborators an App needs. Searcher, PdfRetrier,
// MetaFetcher and SSE are optional; the rest are required.
type Params struct {
	Config *config.InstanceConfig

	// BaseCtx bounds run execution and SSE connections. Pass the process
	// context, not a request-scoped one.
	BaseCtx context.Context

	Login        alogin.Login
	Users        users.Store
	Scholars     scholars.Store
	Runs         runs.Store
	Publications publication.Store
	Safety       *safety.Controller
	Submitter    Submitter
	Searcher     Searcher
	Pdf          PdfRetrier
	Meta         MetaFetcher
	SSE          sser.Server
}

// App is the API server.
type App struct {
	cfg       *config.InstanceConfig
	baseCtx   context.Context
	login     alogin.Login
	users     users.Store
	scholars  scholars.Store
	runs      runs.Store
	pubs      publication.Store
	safety    *safety.Controller
	submitter Submitter
	searcher  Searcher
	pdf       PdfRetrier
	meta      MetaFetcher
	sse       sser.Server

	// pending maps a user id to their last manually submitted run id for
	// the idempotency window.
	pending *cache.Cache
}

// New returns an App built from p.
func New(p Params) *App {
	baseCtx := p.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &App{
		cfg:       p.Config,
		baseCtx:   baseCtx,
		login:     p.Login,
		users:     p.Users,
		scholars:  p.Scholars,
		runs:      p.Runs,
		pubs:      p.Publications,
		safety:    p.Safety,
		submitter: p.Submitter,
		searcher:  p.Searcher,
		pdf:       p.Pdf,
		meta:      p.Meta,
		sse:       p.SSE,
		pending:   cache.New(idempotencyWindow, time.Minute),
	}
}

// Router returns the full handler tree, ready to serve.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.HandleFunc("/healthz", httputils.HealthCheckHandler)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(withRequestID)
		r.Use(a.requireUser)

		r.Post("/runs", a.triggerRunHandler)
		r.Get("/runs", a.listRunsHandler)
		r.Get("/runs/{id}", a.runDetailHandler)
		r.Post("/runs/{id}/cancel", a.cancelRunHandler)
		r.Get("/runs/{id}/stream", a.runStreamHandler)

		r.Get("/publications", a.listPublicationsHandler)
		r.Post("/publications/mark-all-read", a.markAllReadHandler)
		r.Post("/publications/mark-selected-read", a.markSelectedReadHandler)
		r.Post("/publications/{id}/favorite", a.favoriteHandler)
		r.Post("/publications/{id}/retry-pdf", a.retryPdfHandler)

		r.Get("/settings", a.getSettingsHandler)
		r.Put("/settings", a.putSettingsHandler)

		r.Get("/scholars", a.listScholarsHandler)
		r.Post("/scholars", a.addScholarHandler)
		r.Put("/scholars/{id}", a.updateScholarHandler)
		r.Post("/scholars/search", a.searchScholarsHandler)
	})
	return r
}

type contextKey string

const (
	requestIDKey contextKey = "requestID"
	userKey      contextKey = "user"
)

// withRequestID stamps every request with a fresh id, echoed in the
// response header, the envelope meta and the log line of any failure.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// requireUser resolves the proxy-asserted identity to a user row and stores
// it on the request context.
func (a *App) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := a.login.LoggedInAs(r)
		if email == alogin.NotLoggedIn {
			a.sendErr(w, r, scholarrerr.New(scholarrerr.Unauthorized, "Not logged in."))
			return
		}
		u, err := a.users.GetByEmail(r.Context(), email.String())
		if err != nil {
			if scholarrerr.IsKind(err, scholarrerr.NotFound) {
				a.sendErr(w, r, scholarrerr.New(scholarrerr.Unauthorized, "No account exists for %s.", email))
			} else {
				a.sendErr(w, r, err)
			}
			return
		}
		if !u.IsActive {
			a.sendErr(w, r, scholarrerr.New(scholarrerr.Forbidden, "This account has been deactivated."))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, u)))
	})
}

// userFrom returns the authenticated user planted by requireUser.
func userFrom(r *http.Request) *users.User {
	return r.Context().Value(userKey).(*users.User)
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Envelopes.

type envelopeMeta struct {
	RequestID string `json:"request_id"`
}

type dataEnvelope struct {
	Data interface{}  `json:"data"`
	Meta envelopeMeta `json:"meta"`
}

type errorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody    `json:"error"`
	Meta  envelopeMeta `json:"meta"`
}

// sendData writes a success envelope.
func (a *App) sendData(w http.ResponseWriter, r *http.Request, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(dataEnvelope{
		Data: data,
		Meta: envelopeMeta{RequestID: requestIDFrom(r.Context())},
	}); err != nil {
		sklog.Errorf("Request %s: writing response: %s", requestIDFrom(r.Context()), err)
	}
}

// sendErr writes an error envelope. Errors without a domain kind are logged
// under the request id and surfaced as internal_error without detail.
func (a *App) sendErr(w http.ResponseWriter, r *http.Request, err error) {
	reqID := requestIDFrom(r.Context())
	se := scholarrerr.AsError(err)
	if se == nil {
		sklog.Errorf("Request %s: %s", reqID, err)
		se = scholarrerr.New(scholarrerr.Internal, "Something went wrong. The failure is logged under this request id.")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(se.Kind.HTTPStatus())
	if werr := json.NewEncoder(w).Encode(errorEnvelope{
		Error: errorBody{Code: se.Code, Message: se.Message, Details: se.Details},
		Meta:  envelopeMeta{RequestID: reqID},
	}); werr != nil {
		sklog.Errorf("Request %s: writing error response: %s", reqID, werr)
	}
}

// decodeBody decodes a JSON request body into dst.
func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return scholarrerr.Wrap(scholarrerr.Validation, err, "The request body is not valid JSON.")
	}
	return nil
}

// idParam parses the {id} URL parameter.
func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, scholarrerr.New(scholarrerr.Validation, "%q is not a valid id.", chi.URLParam(r, "id"))
	}
	return id, nil
}
