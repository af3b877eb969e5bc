package pdf

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/scholarr/scholarr/go/metrics2"
	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sklog"
	"github.com/scholarr/scholarr/go/util"
	"github.com/scholarr/scholarr/scholarr/go/publication"
)

const (
	// staleRunningAfter is how long an item may sit in running before it is
	// presumed orphaned by a crashed worker and returned to the queue.
	staleRunningAfter = 30 * time.Minute

	// claimBatchSize bounds how many items one pass claims.
	claimBatchSize = 50
)

// Worker drains the PDF queue. One Worker runs per process; parallelism is
// internal.
type Worker struct {
	queue       Store
	pubs        publication.Store
	resolvers   []Resolver
	policy      Policy
	parallelism int

	resolved    metrics2.Counter
	failed      metrics2.Counter
	abandoned   metrics2.Counter
	rescheduled metrics2.Counter
}

// NewWorker returns a Worker resolving PDFs through the given resolvers, in
// order.
func NewWorker(queue Store, pubs publication.Store, resolvers []Resolver, policy Policy, parallelism int) *Worker {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Worker{
		queue:       queue,
		pubs:        pubs,
		resolvers:   resolvers,
		policy:      policy,
		parallelism: parallelism,
		resolved:    metrics2.GetCounter("pdf_items_resolved"),
		failed:      metrics2.GetCounter("pdf_items_failed"),
		abandoned:   metrics2.GetCounter("pdf_items_abandoned"),
		rescheduled: metrics2.GetCounter("pdf_items_rescheduled"),
	}
}

// Start drains the queue every tick until the context is cancelled.
func (w *Worker) Start(ctx context.Context, tick time.Duration) {
	go util.RepeatCtx(ctx, tick, func(ctx context.Context) {
		if _, err := w.ProcessOnce(ctx); err != nil {
			sklog.Errorf("PDF queue pass failed: %s", err)
		}
	})
}

// EnqueueForRun queues every PDF candidate the run produced and returns how
// many items it created.
func (w *Worker) EnqueueForRun(ctx context.Context, runID int64) (int, error) {
	pubs, err := w.pubs.ListPdfCandidates(ctx, runID)
	if err != nil {
		return 0, skerr.Wrap(err)
	}
	queued := 0
	for _, p := range pubs {
		created, err := w.queue.Enqueue(ctx, p.ID)
		if err != nil {
			return queued, skerr.Wrap(err)
		}
		if !created {
			continue
		}
		if err := w.pubs.SetPdfStatus(ctx, p.ID, publication.PdfQueued); err != nil {
			return queued, skerr.Wrap(err)
		}
		queued++
	}
	return queued, nil
}

// Enqueue queues one publication for resolution, marking it queued. Already
// live items are left alone; a terminally failed publication gets a fresh
// attempt budget.
func (w *Worker) Enqueue(ctx context.Context, publicationID int64) error {
	created, err := w.queue.Enqueue(ctx, publicationID)
	if err != nil {
		return skerr.Wrap(err)
	}
	if !created {
		return nil
	}
	return skerr.Wrap(w.pubs.SetPdfStatus(ctx, publicationID, publication.PdfQueued))
}

// ProcessOnce claims one batch of due items and works them, returning how
// many items were claimed. Per-item failures are absorbed into the item's
// retry state, never returned.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	if n, err := w.queue.RequeueStaleRunning(ctx, staleRunningAfter); err != nil {
		return 0, skerr.Wrap(err)
	} else if n > 0 {
		sklog.Warningf("Returned %d orphaned PDF items to the queue.", n)
	}
	items, err := w.queue.ClaimDue(ctx, claimBatchSize)
	if err != nil {
		return 0, skerr.Wrap(err)
	}
	var eg errgroup.Group
	eg.SetLimit(w.parallelism)
	for _, item := range items {
		item := item
		eg.Go(func() error {
			w.processItem(ctx, item)
			return nil
		})
	}
	_ = eg.Wait()
	return len(items), nil
}

// processItem runs one attempt for one claimed item. Every outcome is
// written back to both the queue item and the publication.
func (w *Worker) processItem(ctx context.Context, item *Item) {
	pub, err := w.pubs.Get(ctx, item.PublicationID)
	if err != nil {
		// The publication is gone, most likely merged away; its queue rows
		// should have gone with it.
		sklog.Warningf("PDF item %d references missing publication %d: %s", item.ID, item.PublicationID, err)
		if err := w.queue.Fail(ctx, item.ID, "publication no longer exists"); err != nil {
			sklog.Errorf("Failed to drop PDF item %d: %s", item.ID, err)
		}
		return
	}
	if pub.PdfURL != "" {
		// Resolved elsewhere, e.g. a merge copied a PDF over.
		w.finishResolved(ctx, item, pub.ID, pub.PdfURL)
		return
	}
	if err := w.pubs.SetPdfStatus(ctx, pub.ID, publication.PdfRunning); err != nil {
		sklog.Errorf("Failed to mark publication %d pdf-running: %s", pub.ID, err)
	}

	url, err := w.resolve(ctx, pub)
	switch {
	case err == nil:
		w.finishResolved(ctx, item, pub.ID, url)
	case errors.Is(err, ErrNoOpenAccess):
		w.finishFailed(ctx, item, pub.ID, "no open access copy located")
	case item.AttemptCount >= w.policy.MaxAttempts:
		sklog.Warningf("Giving up on PDF for publication %d after %d attempts: %s", pub.ID, item.AttemptCount, err)
		w.finishAbandoned(ctx, item, pub.ID, err.Error())
	default:
		updated, rerr := w.queue.Reschedule(ctx, item.ID, err.Error())
		if rerr != nil {
			sklog.Errorf("Failed to reschedule PDF item %d: %s", item.ID, rerr)
			return
		}
		if perr := w.pubs.SetPdfStatus(ctx, pub.ID, publication.PdfQueued); perr != nil {
			sklog.Errorf("Failed to mark publication %d pdf-queued: %s", pub.ID, perr)
		}
		w.rescheduled.Inc(1)
		sklog.Infof("PDF attempt %d for publication %d failed (%s), next attempt at %s.", item.AttemptCount, pub.ID, err, updated.NextAttemptDt)
	}
}

func (w *Worker) finishResolved(ctx context.Context, item *Item, publicationID int64, url string) {
	if err := w.pubs.ResolvePdf(ctx, publicationID, url); err != nil {
		sklog.Errorf("Failed to record PDF for publication %d: %s", publicationID, err)
		return
	}
	if err := w.queue.Resolve(ctx, item.ID); err != nil {
		sklog.Errorf("Failed to close PDF item %d: %s", item.ID, err)
		return
	}
	w.resolved.Inc(1)
}

func (w *Worker) finishFailed(ctx context.Context, item *Item, publicationID int64, reason string) {
	if err := w.pubs.FailPdf(ctx, publicationID, reason, item.AttemptCount); err != nil {
		sklog.Errorf("Failed to record PDF failure for publication %d: %s", publicationID, err)
		return
	}
	if err := w.queue.Fail(ctx, item.ID, reason); err != nil {
		sklog.Errorf("Failed to close PDF item %d: %s", item.ID, err)
		return
	}
	w.failed.Inc(1)
}

// finishAbandoned closes an item whose attempt budget ran out with only
// transient answers. The publication records the last error the same way a
// failure does, so the retry endpoint treats both alike.
func (w *Worker) finishAbandoned(ctx context.Context, item *Item, publicationID int64, reason string) {
	if err := w.pubs.FailPdf(ctx, publicationID, reason, item.AttemptCount); err != nil {
		sklog.Errorf("Failed to record PDF failure for publication %d: %s", publicationID, err)
		return
	}
	if err := w.queue.Abandon(ctx, item.ID, reason); err != nil {
		sklog.Errorf("Failed to close PDF item %d: %s", item.ID, err)
		return
	}
	w.abandoned.Inc(1)
}

// resolve tries each resolver in order. A hit wins immediately. When every
// source definitively reports no open access the item is hopeless; if any
// source only failed transiently the combined error keeps the item
// retryable.
func (w *Worker) resolve(ctx context.Context, pub *publication.Publication) (string, error) {
	var transient error
	for _, r := range w.resolvers {
		url, err := r.Resolve(ctx, pub)
		if err == nil && url != "" {
			sklog.Infof("Resolver %s found a PDF for publication %d.", r.Name(), pub.ID)
			return url, nil
		}
		if err == nil || errors.Is(err, ErrNoOpenAccess) {
			continue
		}
		if ctx.Err() != nil {
			return "", skerr.Wrap(ctx.Err())
		}
		transient = multierror.Append(transient, skerr.Wrapf(err, "resolver %s", r.Name()))
	}
	if transient != nil {
		return "", transient
	}
	return "", ErrNoOpenAccess
}
