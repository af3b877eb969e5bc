// Package processor drives the per-scholar ingestion state machine of one
// run: walk the profile pages, upsert every parsed row, and fold whatever
// happened into the terminal state the run records for that scholar.
package processor

import (
	"context"
	"errors"

	"github.com/scholarr/scholarr/go/metrics2"
	"github.com/scholarr/scholarr/go/now"
	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sklog"
	"github.com/scholarr/scholarr/scholarr/go/events"
	"github.com/scholarr/scholarr/scholarr/go/gateway"
	"github.com/scholarr/scholarr/scholarr/go/pager"
	"github.com/scholarr/scholarr/scholarr/go/publication"
	"github.com/scholarr/scholarr/scholarr/go/runs"
	"github.com/scholarr/scholarr/scholarr/go/safety"
	"github.com/scholarr/scholarr/scholarr/go/scholarrerr"
	"github.com/scholarr/scholarr/scholarr/go/scholars"
	"github.com/scholarr/scholarr/scholarr/go/scholarsource"
)

// processedMetricName counts scholars by terminal state.
const processedMetricName = "processor_scholars_processed"

// State is one step of the per-scholar ingestion machine.
type State string

const (
	StateFetching  State = "fetching"
	StateUpserting State = "upserting"

	StateSuccess         State = "success"
	StateSkippedNoChange State = "skipped_no_change"
	StateParseFailure    State = "parse_failure"
	StateBlocked         State = "blocked"
	StateNetworkError    State = "network_error"
	StateUpsertException State = "upsert_exception"

	// StateCancelled ends a scholar whose walk was cut by run
	// cancellation. It is never persisted as a scholar result.
	StateCancelled State = "cancelled"
)

// Terminal reports whether the machine stops in this state.
func (s State) Terminal() bool {
	switch s {
	case StateFetching, StateUpserting:
		return false
	}
	return true
}

// Result is how one scholar fared in one run.
type Result struct {
	ScholarProfileID int64

	// State is the terminal machine state.
	State State

	// Outcome is the coarse form persisted on the run record.
	Outcome runs.ScholarOutcome

	// StateReason is the human-readable failure detail, "" on success.
	StateReason string

	PagesFetched int

	// HandledPages counts pages whose rows were fully upserted. A failure
	// after at least one handled page is a partial outcome.
	HandledPages int

	// LinkedRows counts rows parsed and linked before the terminal state.
	LinkedRows int

	// NewLinks counts rows this scholar had never seen before.
	NewLinks int

	// Profile is the parsed author header when page 0 was fetched.
	Profile *scholarsource.ProfileMeta

	// HeadFingerprint is recorded on the scholar after a complete walk.
	HeadFingerprint string

	// ResumeCursor is the first unhandled page index when the walk was
	// interrupted, -1 otherwise.
	ResumeCursor int

	Warnings []string
}

// NeedsContinuation reports whether the interruption should be retried
// through a continuation slot. Only blocked and network interruptions heal
// with time; layout and upsert failures do not.
func (r *Result) NeedsContinuation() bool {
	return (r.State == StateBlocked || r.State == StateNetworkError) && r.ResumeCursor >= 0
}

// ScholarResult is the persisted form of the result.
func (r *Result) ScholarResult(runID int64, attempt int) runs.ScholarResult {
	return runs.ScholarResult{
		RunID:            runID,
		ScholarProfileID: r.ScholarProfileID,
		Outcome:          r.Outcome,
		State:            string(r.State),
		StateReason:      r.StateReason,
		PublicationCount: r.LinkedRows,
		AttemptCount:     attempt,
		Warnings:         r.Warnings,
	}
}

// Processor runs the machine for one scholar at a time.
type Processor struct {
	pager *pager.Pager
	pubs  publication.Store
}

// New returns a Processor walking pages through pg and upserting rows into
// pubs.
func New(pg *pager.Pager, pubs publication.Store) *Processor {
	return &Processor{
		pager: pg,
		pubs:  pubs,
	}
}

// Process walks the scholar's profile for the run, upserting every parsed
// page before the next one is fetched, and returns the terminal Result. It
// never returns an error: every failure mode is a terminal state, and rows
// linked before an interruption stay linked. publisher may be nil.
func (p *Processor) Process(ctx context.Context, runID int64, scholar *scholars.ScholarProfile, pacing gateway.Pacing, forced bool, startCursor int, publisher *events.Publisher) *Result {
	r := &Result{
		ScholarProfileID: scholar.ID,
		State:            StateFetching,
		ResumeCursor:     -1,
	}

	handle := func(ctx context.Context, pageIndex int, page *scholarsource.ParsedPage) (bool, error) {
		r.State = StateUpserting
		stable := len(page.Rows) > 0
		for _, row := range page.Rows {
			res, err := p.pubs.ResolveAndLink(ctx, scholar.ID, runID, publication.CandidateFromRow(row))
			if err != nil {
				return false, skerr.Wrap(err)
			}
			r.LinkedRows++
			r.Warnings = append(r.Warnings, res.Warnings...)
			if res.Created || res.CitationCountChanged {
				stable = false
			}
			if res.LinkCreated {
				stable = false
				r.NewLinks++
				publisher.PublicationDiscovered(events.PublicationDiscovered{
					PublicationID:    res.Publication.ID,
					ScholarProfileID: scholar.ID,
					Title:            res.Publication.CanonicalTitle,
					FirstSeenAt:      now.Now(ctx).UTC(),
					PubURL:           res.Publication.PubURL,
				})
			}
		}
		r.HandledPages++
		r.State = StateFetching
		return stable, nil
	}

	walk, err := p.pager.Walk(ctx, scholar, pacing, forced, startCursor, handle)
	r.PagesFetched = walk.PagesFetched
	r.Profile = walk.Profile
	r.HeadFingerprint = walk.HeadFingerprint
	switch {
	case err != nil:
		r.ResumeCursor = walk.ResumeCursor
		r.finish(classify(err), reasonOf(err))
		sklog.Warningf("Scholar %d (%s) ended %s after %d pages: %s", scholar.ID, scholar.ScholarID, r.State, r.PagesFetched, r.StateReason)
	case walk.SkippedNoChange:
		r.finish(StateSkippedNoChange, "")
		sklog.Infof("Scholar %d (%s) unchanged since the last run.", scholar.ID, scholar.ScholarID)
	default:
		r.finish(StateSuccess, "")
		sklog.Infof("Scholar %d (%s) walked %d pages, %d rows, %d new.", scholar.ID, scholar.ScholarID, r.PagesFetched, r.LinkedRows, r.NewLinks)
	}
	return r
}

// finish moves the machine to its terminal state and counts it.
func (r *Result) finish(s State, reason string) {
	r.State = s
	r.StateReason = reason
	r.Outcome = outcomeFor(s, r.HandledPages)
	metrics2.GetCounter(processedMetricName, map[string]string{"state": string(s)}).Inc(1)
}

// classify maps a walk error to the terminal state it ends in.
func classify(err error) State {
	if errors.Is(err, context.Canceled) {
		return StateCancelled
	}
	switch scholarrerr.KindOf(err) {
	case scholarrerr.Blocked:
		return StateBlocked
	case scholarrerr.Network:
		return StateNetworkError
	case scholarrerr.Layout:
		return StateParseFailure
	}
	return StateUpsertException
}

// reasonOf is the human-readable part of a failure, without stack noise.
func reasonOf(err error) string {
	if se := scholarrerr.AsError(err); se != nil {
		return se.Message
	}
	return skerr.Unwrap(err).Error()
}

// outcomeFor maps a terminal state to the coarse per-scholar outcome. An
// interruption after at least one fully handled page is partial, because
// those rows are already linked.
func outcomeFor(s State, handledPages int) runs.ScholarOutcome {
	switch s {
	case StateSuccess:
		return runs.OutcomeSuccess
	case StateSkippedNoChange:
		return runs.OutcomeSkipped
	}
	if handledPages > 0 {
		return runs.OutcomePartial
	}
	return runs.OutcomeFailed
}

// Rollup maps the run's per-scholar outcomes to its terminal status: all
// successful (or skipped) scholars roll up to success, none to failed,
// anything in between to partial failure. An empty run is a success.
func Rollup(results []*Result) runs.Status {
	succeeded, failed := 0, 0
	for _, r := range results {
		switch r.Outcome {
		case runs.OutcomeSuccess, runs.OutcomeSkipped:
			succeeded++
		default:
			failed++
		}
	}
	switch {
	case failed == 0:
		return runs.StatusSuccess
	case succeeded == 0:
		return runs.StatusFailed
	}
	return runs.StatusPartialFailure
}

// SafetyCounters tallies the failure classes the safety controller
// evaluates after the run.
func SafetyCounters(results []*Result) safety.Counters {
	var c safety.Counters
	for _, r := range results {
		switch r.State {
		case StateBlocked:
			c.BlockedFailures++
		case StateNetworkError:
			c.NetworkFailures++
		}
	}
	return c
}
