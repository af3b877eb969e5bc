// Package enrich recovers missing publication identifiers (DOI, arXiv id,
// PMID, OpenAlex id) after a run has linked its new publications. Providers
// are consulted in a fixed order until both strong identifiers (DOI and
// arXiv id) are known, each contributing whatever it can; the results are
// applied through the store's fill-absent-only update, and publications
// that turn out to share an identifier are folded together.
//
// Enrichment is best effort. Provider failures and merge failures become
// run warnings, never run failures.
package enrich

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/scholarr/scholarr/go/metrics2"
	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sklog"
	"github.com/scholarr/scholarr/scholarr/go/events"
	"github.com/scholarr/scholarr/scholarr/go/publication"
	"github.com/scholarr/scholarr/scholarr/go/scholarrerr"
)

// ErrNotFound is returned by a Provider that has no match for the
// publication. It is the one provider error that is not worth a warning.
var ErrNotFound = errors.New("no matching work found")

// Provider looks up identifiers for one publication from one metadata
// service. Implementations return ErrNotFound when the service has no
// matching work, and only the identifiers the service actually knows;
// empty fields are ignored.
type Provider interface {
	// Lookup returns the identifiers the provider found for the
	// publication. The publication reflects everything already known,
	// including identifiers collected from earlier providers in the same
	// pass, so implementations can skip work they cannot improve on.
	Lookup(ctx context.Context, p *publication.Publication) (publication.Identifiers, error)

	// Name identifies the provider in logs and warnings.
	Name() string
}

// Result summarizes one enrichment pass over a run's new publications.
type Result struct {
	// Enriched counts publications whose identifier set grew.
	Enriched int

	// Merged counts publications folded into another one because
	// enrichment revealed a shared identifier.
	Merged int

	// Warnings are user-facing notes about lookups or merges that failed.
	Warnings []string
}

// Enricher runs the provider chain over a run's newly linked publications.
type Enricher struct {
	pubs      publication.Store
	providers []Provider

	enriched       metrics2.Counter
	merged         metrics2.Counter
	providerErrors metrics2.Counter
}

// New returns an Enricher consulting the given providers in order.
func New(pubs publication.Store, providers ...Provider) *Enricher {
	return &Enricher{
		pubs:           pubs,
		providers:      providers,
		enriched:       metrics2.GetCounter("enrich_publications_enriched"),
		merged:         metrics2.GetCounter("enrich_publications_merged"),
		providerErrors: metrics2.GetCounter("enrich_provider_errors"),
	}
}

// EnrichRun enriches every publication the run first linked that is still
// missing an identifier. It never fails: errors surface as Result warnings,
// and a cancelled context stops the pass early with whatever was done.
func (e *Enricher) EnrichRun(ctx context.Context, runID int64, publisher *events.Publisher) *Result {
	res := &Result{}
	pubs, err := e.pubs.ListNeedingEnrichment(ctx, runID)
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("Listing publications to enrich: %s", err))
		return res
	}
	for _, p := range pubs {
		if ctx.Err() != nil {
			return res
		}
		e.enrichOne(ctx, p, publisher, res)
	}
	return res
}

// covered reports that nothing more can be gained: the strong identifiers
// are both known.
func covered(p *publication.Publication) bool {
	return p.DOI != "" && p.ArxivID != ""
}

// enrichOne consults the providers for one publication, applies whatever
// they found and, on an identifier conflict, merges the publications that
// turned out to be the same work.
func (e *Enricher) enrichOne(ctx context.Context, p *publication.Publication, publisher *events.Publisher, res *Result) {
	// Providers see the working copy so identifiers collected early inform
	// the later lookups; found holds only the new fields for the update.
	work := *p
	var found publication.Identifiers
	var lookupErrs error
	for _, prov := range e.providers {
		if covered(&work) {
			break
		}
		ids, err := prov.Lookup(ctx, &work)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			e.providerErrors.Inc(1)
			lookupErrs = multierror.Append(lookupErrs, skerr.Wrapf(err, "%s", prov.Name()))
			continue
		}
		collect(&work, &found, ids)
	}
	if lookupErrs != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("Identifier lookup incomplete for %q: %s", p.CanonicalTitle, lookupErrs))
	}
	if found == (publication.Identifiers{}) {
		return
	}

	before := p.DisplayIdentifier()
	updated, err := e.pubs.UpdateIdentifiers(ctx, p.ID, found)
	if err != nil && scholarrerr.IsKind(err, scholarrerr.Conflict) {
		updated, err = e.resolveConflict(ctx, p, found, res)
	}
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("Applying identifiers to %q: %s", p.CanonicalTitle, err))
		return
	}
	e.enriched.Inc(1)
	res.Enriched++
	if after := updated.DisplayIdentifier(); after != before {
		publisher.IdentifierUpdated(events.IdentifierUpdated{
			PublicationID:     updated.ID,
			DisplayIdentifier: after,
		})
	}
}

// collect copies every identifier the provider knows that the working copy
// does not.
func collect(work *publication.Publication, found *publication.Identifiers, ids publication.Identifiers) {
	if work.DOI == "" && ids.DOI != "" {
		work.DOI = ids.DOI
		found.DOI = ids.DOI
	}
	if work.ArxivID == "" && ids.ArxivID != "" {
		work.ArxivID = ids.ArxivID
		found.ArxivID = ids.ArxivID
	}
	if work.Pmid == "" && ids.Pmid != "" {
		work.Pmid = ids.Pmid
		found.Pmid = ids.Pmid
	}
	if work.OpenalexID == "" && ids.OpenalexID != "" {
		work.OpenalexID = ids.OpenalexID
		found.OpenalexID = ids.OpenalexID
	}
}

// uniqueKinds are the identifier columns whose uniqueness can make an update
// conflict, in the order the sweep checks them.
var uniqueKinds = []struct {
	kind  publication.IdentifierKind
	value func(publication.Identifiers) string
}{
	{publication.KindDOI, func(i publication.Identifiers) string { return i.DOI }},
	{publication.KindArxivID, func(i publication.Identifiers) string { return i.ArxivID }},
	{publication.KindPmid, func(i publication.Identifiers) string { return i.Pmid }},
}

// resolveConflict handles an identifier-uniqueness conflict: some other
// publication already carries one of the identifiers we tried to attach,
// which means the rows describe the same work. Every conflicting pair is
// merged, the older row winning and ties going to the lower id, then the
// update is retried on the surviving row.
func (e *Enricher) resolveConflict(ctx context.Context, p *publication.Publication, found publication.Identifiers, res *Result) (*publication.Publication, error) {
	survivor := p
	for _, k := range uniqueKinds {
		value := k.value(found)
		if value == "" {
			continue
		}
		other, err := e.pubs.GetByIdentifier(ctx, k.kind, value)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		if other == nil || other.ID == survivor.ID {
			continue
		}
		winner, loser := pickWinner(survivor, other)
		sklog.Infof("Merging publication %d into %d: both resolve to %s %q.", loser.ID, winner.ID, k.kind, value)
		if err := e.pubs.Merge(ctx, winner.ID, loser.ID); err != nil {
			return nil, skerr.Wrap(err)
		}
		e.merged.Inc(1)
		res.Merged++
		survivor, err = e.pubs.Get(ctx, winner.ID)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
	}
	return e.pubs.UpdateIdentifiers(ctx, survivor.ID, found)
}

// pickWinner chooses which of two duplicate publications survives a merge:
// the older row, with the lower id breaking a creation-time tie.
func pickWinner(a, b *publication.Publication) (winner, loser *publication.Publication) {
	if a.CreatedAt.Before(b.CreatedAt) {
		return a, b
	}
	if b.CreatedAt.Before(a.CreatedAt) {
		return b, a
	}
	if a.ID < b.ID {
		return a, b
	}
	return b, a
}
