package pdf

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/scholarr/go/publication"
)

// fakeQueue is an in-memory pdf.Store.
type fakeQueue struct {
	mtx    sync.Mutex
	nextID int64
	items  map[int64]*Item
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{items: map[int64]*Item{}}
}

func (q *fakeQueue) Enqueue(_ context.Context, publicationID int64) (bool, error) {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	for _, i := range q.items {
		if i.PublicationID == publicationID && (i.Status == StatusQueued || i.Status == StatusRunning) {
			return false, nil
		}
	}
	q.nextID++
	q.items[q.nextID] = &Item{ID: q.nextID, PublicationID: publicationID, Status: StatusQueued}
	return true, nil
}

func (q *fakeQueue) ClaimDue(_ context.Context, limit int) ([]*Item, error) {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	var ret []*Item
	for id := int64(1); id <= q.nextID && len(ret) < limit; id++ {
		i, ok := q.items[id]
		if !ok || i.Status != StatusQueued {
			continue
		}
		i.Status = StatusRunning
		i.AttemptCount++
		cp := *i
		ret = append(ret, &cp)
	}
	return ret, nil
}

func (q *fakeQueue) Resolve(_ context.Context, itemID int64) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	q.items[itemID].Status = StatusResolved
	return nil
}

func (q *fakeQueue) Reschedule(_ context.Context, itemID int64, lastError string) (*Item, error) {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	i := q.items[itemID]
	i.Status = StatusQueued
	i.LastError = lastError
	i.NextAttemptDt = time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	cp := *i
	return &cp, nil
}

func (q *fakeQueue) Fail(_ context.Context, itemID int64, lastError string) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	q.items[itemID].Status = StatusFailed
	q.items[itemID].LastError = lastError
	return nil
}

func (q *fakeQueue) Abandon(_ context.Context, itemID int64, lastError string) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	q.items[itemID].Status = StatusAbandoned
	q.items[itemID].LastError = lastError
	return nil
}

func (q *fakeQueue) RequeueStaleRunning(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

func (q *fakeQueue) item(id int64) Item {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	return *q.items[id]
}

var _ Store = (*fakeQueue)(nil)

// fakePubs implements the handful of publication.Store methods the worker
// touches; anything else panics.
type fakePubs struct {
	publication.Store

	mtx        sync.Mutex
	pubs       map[int64]*publication.Publication
	candidates []*publication.Publication
	statuses   map[int64]publication.PdfStatus
	resolved   map[int64]string
	failed     map[int64]string
	attempts   map[int64]int
}

func newFakePubs(pubs ...*publication.Publication) *fakePubs {
	f := &fakePubs{
		pubs:     map[int64]*publication.Publication{},
		statuses: map[int64]publication.PdfStatus{},
		resolved: map[int64]string{},
		failed:   map[int64]string{},
		attempts: map[int64]int{},
	}
	for _, p := range pubs {
		f.pubs[p.ID] = p
	}
	return f
}

func (f *fakePubs) Get(_ context.Context, id int64) (*publication.Publication, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	p, ok := f.pubs[id]
	if !ok {
		return nil, skerr.Fmt("no publication %d", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakePubs) ListPdfCandidates(_ context.Context, _ int64) ([]*publication.Publication, error) {
	return f.candidates, nil
}

func (f *fakePubs) SetPdfStatus(_ context.Context, id int64, status publication.PdfStatus) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.statuses[id] = status
	return nil
}

func (f *fakePubs) ResolvePdf(_ context.Context, id int64, pdfURL string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.resolved[id] = pdfURL
	f.statuses[id] = publication.PdfResolved
	return nil
}

func (f *fakePubs) FailPdf(_ context.Context, id int64, reason string, attemptCount int) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.failed[id] = reason
	f.attempts[id] = attemptCount
	f.statuses[id] = publication.PdfFailed
	return nil
}

// stubResolver returns a fixed answer and counts calls.
type stubResolver struct {
	name  string
	url   string
	err   error
	calls int
}

func (r *stubResolver) Resolve(_ context.Context, _ *publication.Publication) (string, error) {
	r.calls++
	return r.url, r.err
}

func (r *stubResolver) Name() string {
	return r.name
}

func newWorkerForTest(queue Store, pubs publication.Store, resolvers ...Resolver) *Worker {
	return NewWorker(queue, pubs, resolvers, Policy{
		BaseDelay:   time.Minute,
		MaxBackoff:  time.Hour,
		MaxAttempts: 3,
	}, 2)
}

func TestProcessOnce_ResolverFindsPdf_ResolvesItemAndPublication(t *testing.T) {
	ctx := context.Background()
	queue := newFakeQueue()
	pubs := newFakePubs(&publication.Publication{ID: 1, DOI: "10.1/a"})
	w := newWorkerForTest(queue, pubs, &stubResolver{name: "hit", url: "https://oa.example.org/a.pdf"})

	require.NoError(t, w.Enqueue(ctx, 1))
	require.Equal(t, publication.PdfQueued, pubs.statuses[1])

	n, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, "https://oa.example.org/a.pdf", pubs.resolved[1])
	assert.Equal(t, publication.PdfResolved, pubs.statuses[1])
	assert.Equal(t, StatusResolved, queue.item(1).Status)
}

func TestProcessOnce_EverySourceSaysNoOpenAccess_FailsTerminally(t *testing.T) {
	ctx := context.Background()
	queue := newFakeQueue()
	pubs := newFakePubs(&publication.Publication{ID: 1, DOI: "10.1/a"})
	first := &stubResolver{name: "first", err: ErrNoOpenAccess}
	second := &stubResolver{name: "second", err: ErrNoOpenAccess}
	w := newWorkerForTest(queue, pubs, first, second)

	require.NoError(t, w.Enqueue(ctx, 1))
	_, err := w.ProcessOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, publication.PdfFailed, pubs.statuses[1])
	assert.Equal(t, "no open access copy located", pubs.failed[1])
	assert.Equal(t, 1, pubs.attempts[1])
	assert.Equal(t, StatusFailed, queue.item(1).Status)
}

func TestProcessOnce_TransientFailure_ReschedulesAndRequeuesPublication(t *testing.T) {
	ctx := context.Background()
	queue := newFakeQueue()
	pubs := newFakePubs(&publication.Publication{ID: 1, DOI: "10.1/a"})
	w := newWorkerForTest(queue, pubs, &stubResolver{name: "flaky", err: errors.New("socket timeout")})

	require.NoError(t, w.Enqueue(ctx, 1))
	_, err := w.ProcessOnce(ctx)
	require.NoError(t, err)

	item := queue.item(1)
	assert.Equal(t, StatusQueued, item.Status)
	assert.Contains(t, item.LastError, "socket timeout")
	assert.Equal(t, publication.PdfQueued, pubs.statuses[1])
	assert.Empty(t, pubs.failed)
}

func TestProcessOnce_TransientFailureAtAttemptBudget_AbandonsItem(t *testing.T) {
	ctx := context.Background()
	queue := newFakeQueue()
	pubs := newFakePubs(&publication.Publication{ID: 7, DOI: "10.1/a"})
	w := newWorkerForTest(queue, pubs, &stubResolver{name: "flaky", err: errors.New("socket timeout")})

	require.NoError(t, w.Enqueue(ctx, 7))
	// Two attempts already burned; the next claim is attempt 3 of 3.
	queue.items[1].AttemptCount = 2

	_, err := w.ProcessOnce(ctx)
	require.NoError(t, err)

	// Running out of budget is abandoned, not failed: failed is reserved
	// for a definitive no-open-access answer from every source.
	item := queue.item(1)
	assert.Equal(t, StatusAbandoned, item.Status)
	assert.Contains(t, item.LastError, "socket timeout")
	assert.Equal(t, publication.PdfFailed, pubs.statuses[7])
	assert.Contains(t, pubs.failed[7], "socket timeout")
	assert.Equal(t, 3, pubs.attempts[7])
}

func TestProcessOnce_FirstResolverNoOA_SecondWins(t *testing.T) {
	ctx := context.Background()
	queue := newFakeQueue()
	pubs := newFakePubs(&publication.Publication{ID: 1, ArxivID: "2403.01234"})
	miss := &stubResolver{name: "miss", err: ErrNoOpenAccess}
	hit := &stubResolver{name: "hit", url: "https://arxiv.example.org/a.pdf"}
	w := newWorkerForTest(queue, pubs, miss, hit)

	require.NoError(t, w.Enqueue(ctx, 1))
	_, err := w.ProcessOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, miss.calls)
	assert.Equal(t, 1, hit.calls)
	assert.Equal(t, "https://arxiv.example.org/a.pdf", pubs.resolved[1])
}

func TestProcessOnce_PublicationAlreadyHasPdf_ResolvesWithoutResolvers(t *testing.T) {
	ctx := context.Background()
	queue := newFakeQueue()
	pubs := newFakePubs(&publication.Publication{ID: 1, PdfURL: "https://already.example.org/a.pdf"})
	res := &stubResolver{name: "unused", err: ErrNoOpenAccess}
	w := newWorkerForTest(queue, pubs, res)

	require.NoError(t, w.Enqueue(ctx, 1))
	_, err := w.ProcessOnce(ctx)
	require.NoError(t, err)

	assert.Zero(t, res.calls)
	assert.Equal(t, StatusResolved, queue.item(1).Status)
	assert.Equal(t, "https://already.example.org/a.pdf", pubs.resolved[1])
}

func TestProcessOnce_MissingPublication_DropsItem(t *testing.T) {
	ctx := context.Background()
	queue := newFakeQueue()
	pubs := newFakePubs()
	w := newWorkerForTest(queue, pubs, &stubResolver{name: "unused"})

	created, err := queue.Enqueue(ctx, 99)
	require.NoError(t, err)
	require.True(t, created)

	_, err = w.ProcessOnce(ctx)
	require.NoError(t, err)

	item := queue.item(1)
	assert.Equal(t, StatusFailed, item.Status)
	assert.Equal(t, "publication no longer exists", item.LastError)
	assert.Empty(t, pubs.failed)
}

func TestEnqueueForRun_QueuesEachCandidateOnce(t *testing.T) {
	ctx := context.Background()
	queue := newFakeQueue()
	pubs := newFakePubs(
		&publication.Publication{ID: 1},
		&publication.Publication{ID: 2},
	)
	pubs.candidates = []*publication.Publication{pubs.pubs[1], pubs.pubs[2]}
	w := newWorkerForTest(queue, pubs, &stubResolver{name: "unused"})

	// Publication 1 already has a live item.
	created, err := queue.Enqueue(ctx, 1)
	require.NoError(t, err)
	require.True(t, created)

	n, err := w.EnqueueForRun(ctx, int64(42))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Only publication 2 was newly queued, so only it was marked.
	assert.NotContains(t, pubs.statuses, int64(1))
	assert.Equal(t, publication.PdfQueued, pubs.statuses[2])
}
