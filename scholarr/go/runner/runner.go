// Package runner executes runs end to end: admission, the per-scholar
// ingestion loop, the resolving phase, and finalization.
//
// A run moves through pending -> running -> resolving -> terminal. The
// ingestion loop visits one scholar at a time and persists each scholar's
// result as soon as it is known, so a run killed mid-flight leaves behind
// everything it actually did. Cancellation is cooperative: the flag on the
// run row is polled while the loop runs, and an observed request ends the
// run at the next scholar boundary (or mid-walk, via context cancellation,
// before the next page fetch).
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/scholarr/scholarr/go/eventbus"
	"github.com/scholarr/scholarr/go/metrics2"
	"github.com/scholarr/scholarr/go/now"
	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sklog"
	"github.com/scholarr/scholarr/go/util"
	"github.com/scholarr/scholarr/scholarr/go/config"
	"github.com/scholarr/scholarr/scholarr/go/continuation"
	"github.com/scholarr/scholarr/scholarr/go/enrich"
	"github.com/scholarr/scholarr/scholarr/go/events"
	"github.com/scholarr/scholarr/scholarr/go/pager"
	"github.com/scholarr/scholarr/scholarr/go/pdf"
	"github.com/scholarr/scholarr/scholarr/go/processor"
	"github.com/scholarr/scholarr/scholarr/go/publication"
	"github.com/scholarr/scholarr/scholarr/go/runs"
	"github.com/scholarr/scholarr/scholarr/go/safety"
	"github.com/scholarr/scholarr/scholarr/go/scholars"
	"github.com/scholarr/scholarr/scholarr/go/users"
)

const (
	// cancelPollInterval is how often the cancellation flag on the run row
	// is re-read while the scholar loop is executing.
	cancelPollInterval = 2 * time.Second

	startedMetricName   = "runner_runs_started"
	completedMetricName = "runner_runs_completed"
)

// StreamFactory prepares the live event stream of one run before its first
// event is published and returns the stream's teardown. The teardown is
// called after the run's final event has drained.
type StreamFactory func(runID int64) (teardown func())

// ScholarTask selects one scholar for a run. Fresh runs start every enabled
// scholar at page zero; continuation runs carry the resume cursor and
// attempt count of the slot that scheduled them.
type ScholarTask struct {
	ScholarProfileID int64
	StartCursor      int
	Attempt          int
}

// Params collects the collaborators a Runner needs. Enricher, Pdf and
// Streams are optional; the rest are required.
type Params struct {
	Config        *config.InstanceConfig
	Bus           eventbus.EventBus
	Streams       StreamFactory
	Processor     *processor.Processor
	Runs          runs.Store
	Users         users.Store
	Scholars      scholars.Store
	Publications  publication.Store
	Safety        *safety.Controller
	Continuations continuation.Store
	Enricher      *enrich.Enricher
	Pdf           *pdf.Worker
}

// Runner admits and executes runs. Execution is serialized on a single
// slot so that no two users are ever scraped concurrently.
type Runner struct {
	cfg      *config.InstanceConfig
	bus      eventbus.EventBus
	streams  StreamFactory
	proc     *processor.Processor
	runs     runs.Store
	users    users.Store
	scholars scholars.Store
	pubs     publication.Store
	safety   *safety.Controller
	conts    continuation.Store
	enricher *enrich.Enricher
	pdfQueue *pdf.Worker
	slot     chan struct{}
}

// New returns a Runner built from p.
func New(p Params) *Runner {
	return &Runner{
		cfg:      p.Config,
		bus:      p.Bus,
		streams:  p.Streams,
		proc:     p.Processor,
		runs:     p.Runs,
		users:    p.Users,
		scholars: p.Scholars,
		pubs:     p.Publications,
		safety:   p.Safety,
		conts:    p.Continuations,
		enricher: p.Enricher,
		pdfQueue: p.Pdf,
		slot:     make(chan struct{}, 1),
	}
}

// Start admits a run through the safety controller and creates the run row
// in StatusPending. It does not execute anything; pair it with Launch, or
// use Submit. Refusals come back as Cooldown, Forbidden or Conflict errors
// with their codes intact.
func (r *Runner) Start(ctx context.Context, userID int64, trigger runs.Trigger) (*runs.Run, error) {
	if err := r.safety.Admit(ctx, userID, trigger); err != nil {
		return nil, err
	}
	run, err := r.runs.Create(ctx, userID, trigger)
	if err != nil {
		return nil, err
	}
	metrics2.GetCounter(startedMetricName, map[string]string{"trigger": string(trigger)}).Inc(1)
	return run, nil
}

// Launch executes the run on the runner's execution slot. The call returns
// immediately; ctx bounds the whole execution, so pass the process context
// rather than a request-scoped one.
func (r *Runner) Launch(ctx context.Context, run *runs.Run, tasks []ScholarTask) {
	go func() {
		r.slot <- struct{}{}
		defer func() { <-r.slot }()
		r.Execute(ctx, run, tasks)
	}()
}

// Submit is Start followed by Launch: the entry point for the scheduler and
// for manually triggered runs. A nil tasks slice means every enabled scholar
// of the user, fresh from page zero.
func (r *Runner) Submit(ctx context.Context, userID int64, trigger runs.Trigger, tasks []ScholarTask) (*runs.Run, error) {
	run, err := r.Start(ctx, userID, trigger)
	if err != nil {
		return nil, err
	}
	r.Launch(ctx, run, tasks)
	return run, nil
}

// resolvedTask is a ScholarTask with its profile loaded.
type resolvedTask struct {
	scholar *scholars.ScholarProfile
	cursor  int
	attempt int
}

// Execute runs the full lifecycle of an already-created run synchronously.
// It never returns an error: every failure is absorbed into the run's
// terminal status and the log.
func (r *Runner) Execute(ctx context.Context, run *runs.Run, tasks []ScholarTask) {
	publisher := events.NewPublisher(r.bus, run.ID)
	var teardown func()
	if r.streams != nil {
		teardown = r.streams(run.ID)
	}
	defer func() {
		publisher.Wait()
		if teardown != nil {
			teardown()
		}
	}()

	user, err := r.users.Get(ctx, run.UserID)
	if err != nil {
		r.abort(ctx, run, publisher, skerr.Wrap(err))
		return
	}
	list, err := r.resolveTasks(ctx, run.UserID, tasks)
	if err != nil {
		r.abort(ctx, run, publisher, err)
		return
	}
	if err := r.runs.SetStatus(ctx, run.ID, runs.StatusRunning); err != nil {
		r.abort(ctx, run, publisher, skerr.Wrap(err))
		return
	}
	if err := r.runs.SetScholarCount(ctx, run.ID, len(list)); err != nil {
		sklog.Errorf("Run %d: recording scholar count: %s", run.ID, err)
	}
	sklog.Infof("Run %d (%s) started for user %d: %d scholars.", run.ID, run.Trigger, run.UserID, len(list))

	// Settings are frozen into a snapshot at run start; an edit mid-run
	// takes effect on the next run only.
	rc := r.cfg.RunConfigForUser(user.Settings.RequestDelaySeconds)
	rc.Force = run.Trigger == runs.TriggerManual
	pacing := pager.PacingFor(rc)

	loopCtx, stopWatch := r.watchCancel(ctx, run.ID)
	defer stopWatch()

	results := make([]*processor.Result, 0, len(list))
	cancelled := false
	publisher.Progress(0, len(list))
	for _, task := range list {
		if loopCtx.Err() != nil || r.cancelRequested(ctx, run.ID) {
			cancelled = true
			break
		}
		res := r.proc.Process(loopCtx, run.ID, task.scholar, pacing, rc.Force, task.cursor, publisher)
		if res.State == processor.StateCancelled {
			// Pages already handled are durable, but the interrupted
			// scholar gets no result row and no outcome stamp.
			cancelled = true
			break
		}
		r.concludeScholar(ctx, run, task, res)
		results = append(results, res)
		publisher.Progress(len(results), len(list))
	}
	stopWatch()

	if !cancelled {
		r.resolve(ctx, run, results, publisher)
	}
	r.finalize(ctx, run, len(list), results, cancelled, publisher)
}

// resolveTasks turns the submitted task list into loaded profiles. A nil
// list expands to every enabled scholar of the user in creation order.
// Tasks whose scholar has since been disabled, deleted or reassigned are
// skipped, and any continuation slot they carried is cleared.
func (r *Runner) resolveTasks(ctx context.Context, userID int64, tasks []ScholarTask) ([]resolvedTask, error) {
	if tasks == nil {
		profiles, err := r.scholars.ListEnabledByUser(ctx, userID)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		list := make([]resolvedTask, 0, len(profiles))
		for _, sp := range profiles {
			list = append(list, resolvedTask{scholar: sp, cursor: 0, attempt: 1})
		}
		return list, nil
	}
	list := make([]resolvedTask, 0, len(tasks))
	for _, task := range tasks {
		sp, err := r.scholars.Get(ctx, task.ScholarProfileID)
		if err != nil {
			sklog.Warningf("Skipping scholar %d: %s", task.ScholarProfileID, err)
			continue
		}
		if sp.UserID != userID || !sp.IsEnabled {
			if err := r.conts.Clear(ctx, userID, task.ScholarProfileID); err != nil {
				sklog.Errorf("Clearing continuation for skipped scholar %d: %s", task.ScholarProfileID, err)
			}
			continue
		}
		attempt := task.Attempt
		if attempt < 1 {
			attempt = 1
		}
		list = append(list, resolvedTask{scholar: sp, cursor: task.StartCursor, attempt: attempt})
	}
	return list, nil
}

// concludeScholar persists one scholar's terminal state: the result row,
// the outcome stamp on the profile, scraped header metadata, the head
// fingerprint, and the continuation slot. Persistence failures are logged
// and do not stop the run.
func (r *Runner) concludeScholar(ctx context.Context, run *runs.Run, task resolvedTask, res *processor.Result) {
	result := res.ScholarResult(run.ID, task.attempt)

	// Continuation bookkeeping first, so a freshly dropped slot's warning
	// lands on the persisted result row.
	if res.NeedsContinuation() {
		slot, err := r.conts.Record(ctx, run.UserID, res.ScholarProfileID, res.ResumeCursor)
		if err != nil {
			sklog.Errorf("Run %d: recording continuation for scholar %d: %s", run.ID, res.ScholarProfileID, err)
		} else if slot.Status == continuation.StatusDropped {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Gave up resuming after %d interrupted attempts; the next full run starts over from the first page.", slot.AttemptCount))
		}
	} else {
		// Completed walks and permanent failures both end the chain; a
		// layout or upsert failure will not heal by re-fetching the page.
		if err := r.conts.Clear(ctx, run.UserID, res.ScholarProfileID); err != nil {
			sklog.Errorf("Run %d: clearing continuation for scholar %d: %s", run.ID, res.ScholarProfileID, err)
		}
	}

	if err := r.runs.UpsertScholarResult(ctx, result); err != nil {
		sklog.Errorf("Run %d: persisting result for scholar %d: %s", run.ID, res.ScholarProfileID, err)
	}
	if err := r.scholars.RecordCheck(ctx, res.ScholarProfileID, now.Now(ctx).UTC(), string(res.State)); err != nil {
		sklog.Errorf("Run %d: stamping check on scholar %d: %s", run.ID, res.ScholarProfileID, err)
	}
	if res.Profile != nil {
		if err := r.scholars.UpdateScrapedMeta(ctx, res.ScholarProfileID, res.Profile.DisplayName, res.Profile.Affiliation, res.Profile.ImageURL); err != nil {
			sklog.Errorf("Run %d: updating scraped metadata for scholar %d: %s", run.ID, res.ScholarProfileID, err)
		}
	}
	// The head is only trustworthy when the walk covered page zero and
	// finished cleanly; a resumed or interrupted walk never saw the head.
	if task.cursor == 0 && (res.State == processor.StateSuccess || res.State == processor.StateSkippedNoChange) {
		if err := r.scholars.SetFingerprintHead(ctx, res.ScholarProfileID, res.HeadFingerprint); err != nil {
			sklog.Errorf("Run %d: recording head fingerprint for scholar %d: %s", run.ID, res.ScholarProfileID, err)
		}
	}
}

// resolve is the post-ingestion phase: stale new-flag sweep, identifier
// enrichment and PDF queueing. Cancelled runs skip it entirely.
func (r *Runner) resolve(ctx context.Context, run *runs.Run, results []*processor.Result, publisher *events.Publisher) {
	if err := r.runs.SetStatus(ctx, run.ID, runs.StatusResolving); err != nil {
		sklog.Errorf("Run %d: entering resolving phase: %s", run.ID, err)
	}
	for _, res := range results {
		if err := r.pubs.ClearStaleNewFlags(ctx, res.ScholarProfileID, run.ID); err != nil {
			sklog.Errorf("Run %d: sweeping new flags for scholar %d: %s", run.ID, res.ScholarProfileID, err)
		}
	}
	if r.enricher != nil {
		enriched := r.enricher.EnrichRun(ctx, run.ID, publisher)
		for _, w := range enriched.Warnings {
			sklog.Warningf("Run %d enrichment: %s", run.ID, w)
		}
	}
	if r.pdfQueue != nil {
		queued, err := r.pdfQueue.EnqueueForRun(ctx, run.ID)
		if err != nil {
			sklog.Errorf("Run %d: queueing PDF resolution: %s", run.ID, err)
		} else if queued > 0 {
			sklog.Infof("Run %d: queued %d publications for PDF resolution.", run.ID, queued)
		}
	}
}

// finalize stamps the run terminal, hands the outcome to the safety
// controller and emits the closing event. It runs for every execution,
// cancelled or not.
func (r *Runner) finalize(ctx context.Context, run *runs.Run, total int, results []*processor.Result, cancelled bool, publisher *events.Publisher) {
	status := processor.Rollup(results)
	if cancelled {
		status = runs.StatusCancelled
	}
	newCount, err := r.pubs.CountFirstSeenIn(ctx, run.ID)
	if err != nil {
		sklog.Errorf("Run %d: counting first-seen links: %s", run.ID, err)
		newCount = 0
	}
	failed, partial := 0, 0
	for _, res := range results {
		switch res.Outcome {
		case runs.OutcomeFailed:
			failed++
		case runs.OutcomePartial:
			partial++
		}
	}
	if err := r.runs.Finalize(ctx, run.ID, status, now.Now(ctx).UTC(), newCount, failed, partial); err != nil {
		sklog.Errorf("Run %d: finalizing as %s: %s", run.ID, status, err)
	}
	if !cancelled {
		// Cancelled runs skip the resolving sweep, so they never become
		// the run the new-publication views hang off of.
		if err := r.users.SetLatestCompletedRun(ctx, run.UserID, run.ID); err != nil {
			sklog.Errorf("Run %d: recording latest completed run: %s", run.ID, err)
		}
	}
	if _, err := r.safety.Evaluate(ctx, run.UserID, run.ID, processor.SafetyCounters(results)); err != nil {
		sklog.Errorf("Run %d: evaluating safety state: %s", run.ID, err)
	}
	if dropped, err := r.conts.TakeDropped(ctx, run.UserID); err != nil {
		sklog.Errorf("Run %d: collecting dropped continuations: %s", run.ID, err)
	} else {
		for _, d := range dropped {
			sklog.Warningf("Run %d: continuation for scholar %d dropped after %d attempts.", run.ID, d.ScholarProfileID, d.AttemptCount)
		}
	}
	metrics2.GetCounter(completedMetricName, map[string]string{"status": string(status)}).Inc(1)
	sklog.Infof("Run %d finished %s: %d scholars, %d new publications, %d failed, %d partial.", run.ID, status, total, newCount, failed, partial)
	publisher.Completed(string(status), events.RunSummary{
		ScholarCount:        total,
		NewPublicationCount: newCount,
		FailedCount:         failed,
		PartialCount:        partial,
	})
}

// abort finalizes a run that failed before its scholar loop could start.
func (r *Runner) abort(ctx context.Context, run *runs.Run, publisher *events.Publisher, err error) {
	sklog.Errorf("Run %d aborted: %s", run.ID, err)
	if ferr := r.runs.Finalize(ctx, run.ID, runs.StatusFailed, now.Now(ctx).UTC(), 0, 0, 0); ferr != nil {
		sklog.Errorf("Run %d: finalizing aborted run: %s", run.ID, ferr)
	}
	metrics2.GetCounter(completedMetricName, map[string]string{"status": string(runs.StatusFailed)}).Inc(1)
	publisher.Completed(string(runs.StatusFailed), events.RunSummary{})
}

// watchCancel polls the run's cancellation flag and cancels the returned
// context when a request is observed, which aborts any gateway wait before
// its next page fetch. The returned stop func ends the watcher.
func (r *Runner) watchCancel(ctx context.Context, runID int64) (context.Context, context.CancelFunc) {
	loopCtx, cancel := context.WithCancel(ctx)
	go util.RepeatCtx(loopCtx, cancelPollInterval, func(ctx context.Context) {
		requested, err := r.runs.CancelRequested(ctx, runID)
		if err != nil {
			// Transient read failures are fine; the boundary check and the
			// next tick both retry.
			return
		}
		if requested {
			cancel()
		}
	})
	return loopCtx, cancel
}

// cancelRequested reads the cancellation flag once, at a scholar boundary.
func (r *Runner) cancelRequested(ctx context.Context, runID int64) bool {
	requested, err := r.runs.CancelRequested(ctx, runID)
	if err != nil {
		sklog.Errorf("Run %d: reading cancellation flag: %s", runID, err)
		return false
	}
	return requested
}
