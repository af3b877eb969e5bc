package frontend

import (
	"net/http"
	"strconv"
	"time"

	"github.com/scholarr/scholarr/go/sser"
	"github.com/scholarr/scholarr/scholarr/go/events"
	"github.com/scholarr/scholarr/scholarr/go/runs"
	"github.com/scholarr/scholarr/scholarr/go/scholarrerr"
)

const (
	defaultRunListLimit = 20
	maxRunListLimit     = 100
)

// apiRun is the wire form of a run.
type apiRun struct {
	ID                  int64      `json:"id"`
	Trigger             string     `json:"trigger"`
	Status              string     `json:"status"`
	StartDt             time.Time  `json:"start_dt"`
	EndDt               *time.Time `json:"end_dt,omitempty"`
	ScholarCount        int        `json:"scholar_count"`
	NewPublicationCount int        `json:"new_publication_count"`
	FailedCount         int        `json:"failed_count"`
	PartialCount        int        `json:"partial_count"`
	CancelRequested     bool       `json:"cancel_requested,omitempty"`
}

func apiRunOf(run *runs.Run) apiRun {
	out := apiRun{
		ID:                  run.ID,
		Trigger:             string(run.Trigger),
		Status:              string(run.Status),
		StartDt:             run.StartDt,
		ScholarCount:        run.ScholarCount,
		NewPublicationCount: run.NewPublicationCount,
		FailedCount:         run.FailedCount,
		PartialCount:        run.PartialCount,
		CancelRequested:     run.CancelRequested,
	}
	if !run.EndDt.IsZero() {
		end := run.EndDt
		out.EndDt = &end
	}
	return out
}

// apiScholarResult is the wire form of one per-scholar run result.
type apiScholarResult struct {
	ScholarProfileID int64    `json:"scholar_profile_id"`
	Outcome          string   `json:"outcome"`
	State            string   `json:"state"`
	StateReason      string   `json:"state_reason,omitempty"`
	PublicationCount int      `json:"publication_count"`
	AttemptCount     int      `json:"attempt_count"`
	Warnings         []string `json:"warnings,omitempty"`
}

// triggerRunHandler handles POST /api/v1/runs. A duplicate submission
// within the idempotency window returns the run the first submission
// started, as long as it is still in flight.
func (a *App) triggerRunHandler(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	key := strconv.FormatInt(u.ID, 10)
	if v, ok := a.pending.Get(key); ok {
		if run, err := a.runs.Get(r.Context(), v.(int64)); err == nil && !run.Status.Terminal() {
			a.sendData(w, r, apiRunOf(run))
			return
		}
	}
	// Execution must outlive the request, so the run is launched on the
	// process context.
	run, err := a.submitter.Submit(a.baseCtx, u.ID, runs.TriggerManual, nil)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	a.pending.SetDefault(key, run.ID)
	a.sendData(w, r, apiRunOf(run))
}

// listRunsHandler handles GET /api/v1/runs?limit=. The response carries the
// user's current safety state next to the run list.
func (a *App) listRunsHandler(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	limit := defaultRunListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			a.sendErr(w, r, scholarrerr.New(scholarrerr.Validation, "limit %q is not a positive integer.", s))
			return
		}
		limit = n
	}
	if limit > maxRunListLimit {
		limit = maxRunListLimit
	}
	list, err := a.runs.List(r.Context(), u.ID, limit)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	state, err := a.safety.State(r.Context(), u.ID)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	out := make([]apiRun, 0, len(list))
	for _, run := range list {
		out = append(out, apiRunOf(run))
	}
	a.sendData(w, r, map[string]interface{}{
		"runs":         out,
		"safety_state": state,
	})
}

// ownedRun loads a run and refuses ids that belong to someone else, which
// are indistinguishable from missing ones.
func (a *App) ownedRun(r *http.Request) (*runs.Run, error) {
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	run, err := a.runs.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if run.UserID != userFrom(r).ID {
		return nil, scholarrerr.New(scholarrerr.NotFound, "No run with id %d.", id)
	}
	return run, nil
}

// runDetailHandler handles GET /api/v1/runs/{id}.
func (a *App) runDetailHandler(w http.ResponseWriter, r *http.Request) {
	run, err := a.ownedRun(r)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	results, err := a.runs.ListScholarResults(r.Context(), run.ID)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	out := make([]apiScholarResult, 0, len(results))
	for _, res := range results {
		out = append(out, apiScholarResult{
			ScholarProfileID: res.ScholarProfileID,
			Outcome:          string(res.Outcome),
			State:            res.State,
			StateReason:      res.StateReason,
			PublicationCount: res.PublicationCount,
			AttemptCount:     res.AttemptCount,
			Warnings:         res.Warnings,
		})
	}
	a.sendData(w, r, map[string]interface{}{
		"run":     apiRunOf(run),
		"results": out,
	})
}

// cancelRunHandler handles POST /api/v1/runs/{id}/cancel. Cancellation is
// cooperative; the response reflects the request, not the completed cancel.
func (a *App) cancelRunHandler(w http.ResponseWriter, r *http.Request) {
	run, err := a.ownedRun(r)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	if err := a.runs.RequestCancel(r.Context(), run.ID); err != nil {
		a.sendErr(w, r, err)
		return
	}
	updated, err := a.runs.Get(r.Context(), run.ID)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	a.sendData(w, r, apiRunOf(updated))
}

// runStreamHandler handles GET /api/v1/runs/{id}/stream by handing the
// connection to the SSE server on the run's stream. Missed events are not
// replayed; clients reconcile over REST on reconnect.
func (a *App) runStreamHandler(w http.ResponseWriter, r *http.Request) {
	run, err := a.ownedRun(r)
	if err != nil {
		a.sendErr(w, r, err)
		return
	}
	if a.sse == nil {
		a.sendErr(w, r, scholarrerr.New(scholarrerr.NotFound, "Live streams are not enabled on this instance."))
		return
	}
	q := r.URL.Query()
	q.Set(sser.QueryParameterName, events.StreamName(run.ID))
	r.URL.RawQuery = q.Encode()
	a.sse.ClientConnectionHandler(a.baseCtx)(w, r)
}
