// Package openalex looks works up in the OpenAlex catalog, by DOI when the
// publication has one and by title search otherwise. OpenAlex is the first
// provider in the chain because one hit can contribute the DOI, the PMID and
// the OpenAlex id at once.
package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/scholarr/go/enrich"
	"github.com/scholarr/scholarr/scholarr/go/fingerprint"
	"github.com/scholarr/scholarr/scholarr/go/gateway"
	"github.com/scholarr/scholarr/scholarr/go/publication"
)

// pacing carries no inner retries; the gateway's QPS limiter does the pacing
// and a failed lookup downgrades to a run warning.
var pacing = gateway.Pacing{}

// maxResults caps how many search hits one title lookup inspects.
const maxResults = 25

// Client queries the OpenAlex works API.
type Client struct {
	gw      *gateway.Gateway
	baseURL string
}

// New returns a Client. The gateway should be built with NewWithLimiter so
// requests respect OpenAlex's politeness expectations.
func New(gw *gateway.Gateway, baseURL string) *Client {
	return &Client{
		gw:      gw,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Name implements enrich.Provider.
func (c *Client) Name() string {
	return "openalex"
}

// work is the subset of an OpenAlex work record used here. The identifier
// fields arrive as canonical URLs and are stripped down to bare values.
type work struct {
	ID              string `json:"id"`
	DOI             string `json:"doi"`
	Title           string `json:"title"`
	PublicationYear int    `json:"publication_year"`
	IDs             struct {
		Pmid string `json:"pmid"`
	} `json:"ids"`
}

// listResponse is the envelope of a works search.
type listResponse struct {
	Results []work `json:"results"`
}

// Lookup implements enrich.Provider.
func (c *Client) Lookup(ctx context.Context, p *publication.Publication) (publication.Identifiers, error) {
	if p.DOI != "" {
		return c.byDOI(ctx, p.DOI)
	}
	return c.byTitle(ctx, p)
}

// byDOI resolves one work through OpenAlex's DOI alias route.
func (c *Client) byDOI(ctx context.Context, doi string) (publication.Identifiers, error) {
	u := fmt.Sprintf("%s/works/doi:%s", c.baseURL, url.PathEscape(doi))
	res, err := c.gw.Do(ctx, u, pacing)
	if err != nil {
		return publication.Identifiers{}, skerr.Wrap(err)
	}
	// An unknown DOI is a definitive miss, not a transient failure.
	if res.StatusCode == http.StatusNotFound {
		return publication.Identifiers{}, enrich.ErrNotFound
	}
	if res.Class != gateway.Ok {
		return publication.Identifiers{}, skerr.Fmt("OpenAlex lookup for doi:%s failed with %s (status %d)", doi, res.Class, res.StatusCode)
	}
	var w work
	if err := json.Unmarshal(res.Body, &w); err != nil {
		return publication.Identifiers{}, skerr.Wrapf(err, "decoding OpenAlex work for doi:%s", doi)
	}
	return identifiersOf(w), nil
}

// byTitle searches works by title and accepts the first hit whose normalized
// title matches exactly and whose year agrees when both sides know one.
func (c *Client) byTitle(ctx context.Context, p *publication.Publication) (publication.Identifiers, error) {
	// The normalized title is already free of the commas and colons that
	// carry meaning in OpenAlex filter expressions.
	want := fingerprint.NormalizeTitle(p.CanonicalTitle)
	if want == "" {
		return publication.Identifiers{}, enrich.ErrNotFound
	}
	q := url.Values{}
	q.Set("filter", "title.search:"+want)
	q.Set("per-page", strconv.Itoa(maxResults))
	u := fmt.Sprintf("%s/works?%s", c.baseURL, q.Encode())
	res, err := c.gw.Do(ctx, u, pacing)
	if err != nil {
		return publication.Identifiers{}, skerr.Wrap(err)
	}
	if res.Class != gateway.Ok {
		return publication.Identifiers{}, skerr.Fmt("OpenAlex search for %q failed with %s (status %d)", p.CanonicalTitle, res.Class, res.StatusCode)
	}
	var list listResponse
	if err := json.Unmarshal(res.Body, &list); err != nil {
		return publication.Identifiers{}, skerr.Wrapf(err, "decoding OpenAlex search for %q", p.CanonicalTitle)
	}
	for _, w := range list.Results {
		if fingerprint.NormalizeTitle(w.Title) != want {
			continue
		}
		if p.Year > 0 && w.PublicationYear > 0 && w.PublicationYear != p.Year {
			continue
		}
		return identifiersOf(w), nil
	}
	return publication.Identifiers{}, enrich.ErrNotFound
}

// identifiersOf strips OpenAlex's URL-form identifiers down to the bare
// values stored on publications.
func identifiersOf(w work) publication.Identifiers {
	return publication.Identifiers{
		DOI:        fingerprint.NormalizeDOI(w.DOI),
		Pmid:       fingerprint.NormalizePMID(strings.TrimPrefix(w.IDs.Pmid, "https://pubmed.ncbi.nlm.nih.gov/")),
		OpenalexID: strings.TrimPrefix(w.ID, "https://openalex.org/"),
	}
}

var _ enrich.Provider = (*Client)(nil)
