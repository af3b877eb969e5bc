// Package crossref recovers DOIs from the Crossref works API using a
// bibliographic query scored by title similarity, year proximity and author
// overlap. Crossref only contributes DOIs; publications that already carry
// one are skipped.
package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/scholarr/go/enrich"
	"github.com/scholarr/scholarr/scholarr/go/fingerprint"
	"github.com/scholarr/scholarr/scholarr/go/gateway"
	"github.com/scholarr/scholarr/scholarr/go/publication"
)

// pacing carries no inner retries; the gateway's QPS limiter does the pacing
// and a failed lookup downgrades to a run warning.
var pacing = gateway.Pacing{}

// minTitleSimilarity is the Levenshtein ratio two normalized titles must
// reach before a hit is trusted. Bibliographic queries rank fuzzily, so an
// exact-match gate would lose legitimate hits over punctuation while
// anything much looser starts matching sequels and errata.
const minTitleSimilarity = 0.9

// maxRows caps how many search hits one query inspects.
const maxRows = 5

// Client queries the Crossref works API.
type Client struct {
	gw      *gateway.Gateway
	baseURL string
}

// New returns a Client. The gateway should be built with NewWithLimiter so
// requests respect Crossref's politeness expectations.
func New(gw *gateway.Gateway, baseURL string) *Client {
	return &Client{
		gw:      gw,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Name implements enrich.Provider.
func (c *Client) Name() string {
	return "crossref"
}

// item is one hit of a works query. Crossref delivers titles as arrays and
// dates as nested date-part tuples.
type item struct {
	DOI    string   `json:"DOI"`
	Title  []string `json:"title"`
	Issued struct {
		DateParts [][]int `json:"date-parts"`
	} `json:"issued"`
	Author []struct {
		Family string `json:"family"`
	} `json:"author"`
}

// worksResponse is the envelope of a works query.
type worksResponse struct {
	Message struct {
		Items []item `json:"items"`
	} `json:"message"`
}

// Lookup implements enrich.Provider.
func (c *Client) Lookup(ctx context.Context, p *publication.Publication) (publication.Identifiers, error) {
	if p.DOI != "" {
		return publication.Identifiers{}, enrich.ErrNotFound
	}
	want := fingerprint.NormalizeTitle(p.CanonicalTitle)
	if want == "" {
		return publication.Identifiers{}, enrich.ErrNotFound
	}
	q := url.Values{}
	q.Set("query.bibliographic", p.CanonicalTitle)
	q.Set("rows", strconv.Itoa(maxRows))
	u := fmt.Sprintf("%s/works?%s", c.baseURL, q.Encode())
	res, err := c.gw.Do(ctx, u, pacing)
	if err != nil {
		return publication.Identifiers{}, skerr.Wrap(err)
	}
	if res.Class != gateway.Ok {
		return publication.Identifiers{}, skerr.Fmt("Crossref query for %q failed with %s (status %d)", p.CanonicalTitle, res.Class, res.StatusCode)
	}
	var works worksResponse
	if err := json.Unmarshal(res.Body, &works); err != nil {
		return publication.Identifiers{}, skerr.Wrapf(err, "decoding Crossref response for %q", p.CanonicalTitle)
	}
	for _, it := range works.Message.Items {
		if !matches(p, want, it) {
			continue
		}
		if doi := fingerprint.NormalizeDOI(it.DOI); doi != "" {
			return publication.Identifiers{DOI: doi}, nil
		}
	}
	return publication.Identifiers{}, enrich.ErrNotFound
}

// matches scores one hit: title similarity at or above the threshold, the
// year within one (online-first dates regularly differ from the venue year
// by one), and at least one author family name in common when both sides
// carry authors.
func matches(p *publication.Publication, want string, it item) bool {
	if len(it.Title) == 0 {
		return false
	}
	got := fingerprint.NormalizeTitle(it.Title[0])
	if got == "" {
		return false
	}
	if levenshtein.RatioForStrings([]rune(want), []rune(got), levenshtein.DefaultOptions) < minTitleSimilarity {
		return false
	}
	if y := issuedYear(it); p.Year > 0 && y > 0 && (y < p.Year-1 || y > p.Year+1) {
		return false
	}
	if p.AuthorsText != "" && len(it.Author) > 0 && !authorOverlap(p.AuthorsText, it) {
		return false
	}
	return true
}

// issuedYear pulls the year out of Crossref's date-parts; 0 when absent.
func issuedYear(it item) int {
	if len(it.Issued.DateParts) == 0 || len(it.Issued.DateParts[0]) == 0 {
		return 0
	}
	return it.Issued.DateParts[0][0]
}

// authorOverlap reports whether any of the hit's author family names appears
// in the scraped author text.
func authorOverlap(authorsText string, it item) bool {
	have := strings.ToLower(authorsText)
	for _, a := range it.Author {
		family := strings.ToLower(strings.TrimSpace(a.Family))
		if family != "" && strings.Contains(have, family) {
			return true
		}
	}
	return false
}

var _ enrich.Provider = (*Client)(nil)
