package enrich

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarr/scholarr/go/eventbus"
	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/scholarr/go/events"
	"github.com/scholarr/scholarr/scholarr/go/publication"
	"github.com/scholarr/scholarr/scholarr/go/scholarrerr"
)

const testRunID = int64(42)

// fakeStore implements the handful of publication.Store methods the enricher
// touches; anything else panics.
type fakeStore struct {
	publication.Store

	needing []*publication.Publication
	listErr error

	pubs         map[int64]*publication.Publication
	byIdentifier map[publication.IdentifierKind]map[string]*publication.Publication

	// conflictOnce makes the next UpdateIdentifiers call fail with an
	// identifier conflict.
	conflictOnce bool

	updates []updateCall
	merges  []mergeCall
}

type updateCall struct {
	id  int64
	ids publication.Identifiers
}

type mergeCall struct {
	winnerID int64
	loserID  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pubs:         map[int64]*publication.Publication{},
		byIdentifier: map[publication.IdentifierKind]map[string]*publication.Publication{},
	}
}

func (f *fakeStore) add(p *publication.Publication, needsEnrichment bool) {
	f.pubs[p.ID] = p
	if needsEnrichment {
		f.needing = append(f.needing, p)
	}
}

func (f *fakeStore) index(kind publication.IdentifierKind, value string, p *publication.Publication) {
	if f.byIdentifier[kind] == nil {
		f.byIdentifier[kind] = map[string]*publication.Publication{}
	}
	f.byIdentifier[kind][value] = p
}

func (f *fakeStore) ListNeedingEnrichment(_ context.Context, _ int64) ([]*publication.Publication, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.needing, nil
}

func (f *fakeStore) Get(_ context.Context, id int64) (*publication.Publication, error) {
	p, ok := f.pubs[id]
	if !ok {
		return nil, skerr.Fmt("no publication %d", id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) GetByIdentifier(_ context.Context, kind publication.IdentifierKind, value string) (*publication.Publication, error) {
	p := f.byIdentifier[kind][value]
	if p == nil {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) UpdateIdentifiers(_ context.Context, id int64, ids publication.Identifiers) (*publication.Publication, error) {
	f.updates = append(f.updates, updateCall{id: id, ids: ids})
	if f.conflictOnce {
		f.conflictOnce = false
		return nil, scholarrerr.New(scholarrerr.Conflict, "Another publication already carries one of these identifiers.")
	}
	p, ok := f.pubs[id]
	if !ok {
		return nil, skerr.Fmt("no publication %d", id)
	}
	if p.DOI == "" {
		p.DOI = ids.DOI
	}
	if p.ArxivID == "" {
		p.ArxivID = ids.ArxivID
	}
	if p.Pmid == "" {
		p.Pmid = ids.Pmid
	}
	if p.OpenalexID == "" {
		p.OpenalexID = ids.OpenalexID
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) Merge(_ context.Context, winnerID int64, loserID int64) error {
	f.merges = append(f.merges, mergeCall{winnerID: winnerID, loserID: loserID})
	winner := f.pubs[winnerID]
	loser := f.pubs[loserID]
	if winner == nil || loser == nil {
		return skerr.Fmt("merge of unknown publications %d, %d", winnerID, loserID)
	}
	if winner.DOI == "" {
		winner.DOI = loser.DOI
	}
	if winner.ArxivID == "" {
		winner.ArxivID = loser.ArxivID
	}
	if winner.Pmid == "" {
		winner.Pmid = loser.Pmid
	}
	delete(f.pubs, loserID)
	return nil
}

var _ publication.Store = (*fakeStore)(nil)

// fakeProvider returns canned identifiers and records every publication it
// was asked about.
type fakeProvider struct {
	name string
	ids  publication.Identifiers
	err  error

	calls []publication.Publication
}

func (f *fakeProvider) Lookup(_ context.Context, p *publication.Publication) (publication.Identifiers, error) {
	f.calls = append(f.calls, *p)
	if f.err != nil {
		return publication.Identifiers{}, f.err
	}
	return f.ids, nil
}

func (f *fakeProvider) Name() string {
	return f.name
}

var _ Provider = (*fakeProvider)(nil)

// capturePublisher returns a run-topic publisher plus a function that drains
// the topic and returns every IdentifierUpdated event published on it.
func capturePublisher(t *testing.T) (*events.Publisher, func() []events.IdentifierUpdated) {
	bus := eventbus.New()
	publisher := events.NewPublisher(bus, testRunID)
	var mtx sync.Mutex
	var got []events.IdentifierUpdated
	unsub := bus.SubscribeAsync(events.RunTopic(testRunID), func(data interface{}) {
		mtx.Lock()
		defer mtx.Unlock()
		if ev, ok := data.(events.IdentifierUpdated); ok {
			got = append(got, ev)
		}
	})
	t.Cleanup(unsub)
	return publisher, func() []events.IdentifierUpdated {
		publisher.Wait()
		mtx.Lock()
		defer mtx.Unlock()
		return got
	}
}

func TestEnrichRun_ProviderFindsIdentifiers_UpdatesAndPublishes(t *testing.T) {
	store := newFakeStore()
	store.add(&publication.Publication{ID: 1, CanonicalTitle: "Alpha Study"}, true)
	prov := &fakeProvider{name: "openalex", ids: publication.Identifiers{DOI: "10.1000/alpha", Pmid: "123456", OpenalexID: "W100"}}
	publisher, drain := capturePublisher(t)

	res := New(store, prov).EnrichRun(context.Background(), testRunID, publisher)

	require.Empty(t, res.Warnings)
	require.Equal(t, 1, res.Enriched)
	require.Equal(t, 0, res.Merged)
	require.Equal(t, []updateCall{{id: 1, ids: publication.Identifiers{DOI: "10.1000/alpha", Pmid: "123456", OpenalexID: "W100"}}}, store.updates)
	evs := drain()
	require.Len(t, evs, 1)
	assert.Equal(t, events.IdentifierUpdated{PublicationID: 1, DisplayIdentifier: "doi:10.1000/alpha"}, evs[0])
}

func TestEnrichRun_StrongIdentifiersCovered_SkipsRemainingProviders(t *testing.T) {
	store := newFakeStore()
	store.add(&publication.Publication{ID: 1, CanonicalTitle: "Alpha Study"}, true)
	first := &fakeProvider{name: "openalex", ids: publication.Identifiers{DOI: "10.1000/alpha", ArxivID: "2403.01234"}}
	second := &fakeProvider{name: "crossref"}

	res := New(store, first, second).EnrichRun(context.Background(), testRunID, nil)

	require.Equal(t, 1, res.Enriched)
	assert.Len(t, first.calls, 1)
	assert.Empty(t, second.calls, "the chain should stop once DOI and arXiv id are both known")
}

func TestEnrichRun_LaterProviderSeesCollectedIdentifiers(t *testing.T) {
	store := newFakeStore()
	store.add(&publication.Publication{ID: 1, CanonicalTitle: "Alpha Study"}, true)
	first := &fakeProvider{name: "openalex", ids: publication.Identifiers{DOI: "10.1000/alpha"}}
	second := &fakeProvider{name: "arxiv", ids: publication.Identifiers{ArxivID: "2403.01234"}}

	res := New(store, first, second).EnrichRun(context.Background(), testRunID, nil)

	require.Equal(t, 1, res.Enriched)
	require.Len(t, second.calls, 1)
	assert.Equal(t, "10.1000/alpha", second.calls[0].DOI, "the working copy should carry the DOI found earlier in the pass")
	require.Len(t, store.updates, 1)
	assert.Equal(t, publication.Identifiers{DOI: "10.1000/alpha", ArxivID: "2403.01234"}, store.updates[0].ids)
}

func TestEnrichRun_ProviderHasNoMatch_TriesNext(t *testing.T) {
	store := newFakeStore()
	store.add(&publication.Publication{ID: 1, CanonicalTitle: "Alpha Study"}, true)
	first := &fakeProvider{name: "openalex", err: ErrNotFound}
	second := &fakeProvider{name: "arxiv", ids: publication.Identifiers{ArxivID: "2403.01234"}}

	res := New(store, first, second).EnrichRun(context.Background(), testRunID, nil)

	require.Empty(t, res.Warnings, "a provider miss is not a warning")
	require.Equal(t, 1, res.Enriched)
	require.Len(t, store.updates, 1)
	assert.Equal(t, publication.Identifiers{ArxivID: "2403.01234"}, store.updates[0].ids)
}

func TestEnrichRun_ProviderTransientError_WarnsAndContinues(t *testing.T) {
	store := newFakeStore()
	store.add(&publication.Publication{ID: 1, CanonicalTitle: "Alpha Study"}, true)
	first := &fakeProvider{name: "openalex", err: errors.New("connection reset")}
	second := &fakeProvider{name: "arxiv", ids: publication.Identifiers{ArxivID: "2403.01234"}}

	res := New(store, first, second).EnrichRun(context.Background(), testRunID, nil)

	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "openalex")
	assert.Contains(t, res.Warnings[0], "connection reset")
	require.Equal(t, 1, res.Enriched, "one failing provider should not stop the others")
	require.Len(t, store.updates, 1)
	assert.Equal(t, publication.Identifiers{ArxivID: "2403.01234"}, store.updates[0].ids)
}

func TestEnrichRun_NothingFound_NoUpdate(t *testing.T) {
	store := newFakeStore()
	store.add(&publication.Publication{ID: 1, CanonicalTitle: "Alpha Study"}, true)
	publisher, drain := capturePublisher(t)

	res := New(store, &fakeProvider{name: "openalex", err: ErrNotFound}).EnrichRun(context.Background(), testRunID, publisher)

	assert.Equal(t, 0, res.Enriched)
	assert.Empty(t, store.updates)
	assert.Empty(t, drain())
}

func TestEnrichRun_DisplayIdentifierUnchanged_NoEvent(t *testing.T) {
	store := newFakeStore()
	// The DOI already wins the display slot; adding a PMID changes nothing
	// user-visible.
	store.add(&publication.Publication{ID: 1, CanonicalTitle: "Alpha Study", DOI: "10.1000/alpha"}, true)
	prov := &fakeProvider{name: "openalex", ids: publication.Identifiers{Pmid: "123456"}}
	publisher, drain := capturePublisher(t)

	res := New(store, prov).EnrichRun(context.Background(), testRunID, publisher)

	require.Equal(t, 1, res.Enriched)
	assert.Empty(t, drain())
}

func TestEnrichRun_IdentifierConflict_MergesOlderWinner(t *testing.T) {
	store := newFakeStore()
	ours := &publication.Publication{ID: 9, CanonicalTitle: "Alpha Study", CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	older := &publication.Publication{ID: 4, CanonicalTitle: "Alpha Study (preprint)", DOI: "10.1000/alpha", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store.add(ours, true)
	store.add(older, false)
	store.index(publication.KindDOI, "10.1000/alpha", older)
	store.conflictOnce = true
	publisher, drain := capturePublisher(t)

	res := New(store, &fakeProvider{name: "openalex", ids: publication.Identifiers{DOI: "10.1000/alpha"}}).EnrichRun(context.Background(), testRunID, publisher)

	require.Empty(t, res.Warnings)
	require.Equal(t, 1, res.Enriched)
	require.Equal(t, 1, res.Merged)
	require.Equal(t, []mergeCall{{winnerID: 4, loserID: 9}}, store.merges, "the older publication should win the merge")
	// First update conflicts on our row, the retry lands on the winner.
	require.Len(t, store.updates, 2)
	assert.Equal(t, int64(9), store.updates[0].id)
	assert.Equal(t, int64(4), store.updates[1].id)
	evs := drain()
	require.Len(t, evs, 1)
	assert.Equal(t, int64(4), evs[0].PublicationID, "the event should name the surviving publication")
}

func TestEnrichRun_IdentifierConflict_TieBreaksOnLowerID(t *testing.T) {
	created := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	ours := &publication.Publication{ID: 5, CanonicalTitle: "Alpha Study", CreatedAt: created}
	other := &publication.Publication{ID: 9, CanonicalTitle: "Alpha Study", DOI: "10.1000/alpha", CreatedAt: created}
	store.add(ours, true)
	store.add(other, false)
	store.index(publication.KindDOI, "10.1000/alpha", other)
	store.conflictOnce = true

	res := New(store, &fakeProvider{name: "openalex", ids: publication.Identifiers{DOI: "10.1000/alpha"}}).EnrichRun(context.Background(), testRunID, nil)

	require.Equal(t, 1, res.Merged)
	require.Equal(t, []mergeCall{{winnerID: 5, loserID: 9}}, store.merges)
}

func TestEnrichRun_ConflictingRowAlreadyGone_RetrySucceeds(t *testing.T) {
	// The row owning the conflicting identifier can disappear between the
	// failed update and the sweep (e.g. another run merged it away). With
	// nothing left to merge the sweep just retries the update.
	store := newFakeStore()
	store.add(&publication.Publication{ID: 1, CanonicalTitle: "Alpha Study"}, true)
	store.conflictOnce = true

	res := New(store, &fakeProvider{name: "openalex", ids: publication.Identifiers{DOI: "10.1000/alpha"}}).EnrichRun(context.Background(), testRunID, nil)

	require.Equal(t, 0, res.Merged)
	require.Equal(t, 1, res.Enriched)
	require.Len(t, store.updates, 2)
	require.Empty(t, res.Warnings)
}

func TestEnrichRun_ListFails_ReturnsWarning(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("connection refused")

	res := New(store).EnrichRun(context.Background(), testRunID, nil)

	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "connection refused")
	assert.Equal(t, 0, res.Enriched)
}

func TestEnrichRun_ContextCancelled_StopsEarly(t *testing.T) {
	store := newFakeStore()
	store.add(&publication.Publication{ID: 1, CanonicalTitle: "Alpha Study"}, true)
	store.add(&publication.Publication{ID: 2, CanonicalTitle: "Beta Methods"}, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := New(store, &fakeProvider{name: "openalex", ids: publication.Identifiers{DOI: "10.1000/alpha"}}).EnrichRun(ctx, testRunID, nil)

	assert.Equal(t, 0, res.Enriched)
	assert.Empty(t, store.updates)
}
