// Package arxiv finds arXiv ids for publications through the arXiv Atom
// query API. It only contributes arXiv ids; publications that already carry
// one are skipped.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/scholarr/go/enrich"
	"github.com/scholarr/scholarr/scholarr/go/fingerprint"
	"github.com/scholarr/scholarr/scholarr/go/gateway"
	"github.com/scholarr/scholarr/scholarr/go/publication"
)

// pacing carries no inner retries; the gateway's QPS limiter does the pacing
// and a failed lookup downgrades to a run warning.
var pacing = gateway.Pacing{}

// maxResults caps how many search hits one query inspects.
const maxResults = 10

// Client queries the arXiv Atom API.
type Client struct {
	gw      *gateway.Gateway
	baseURL string
}

// New returns a Client. The gateway should be built with NewWithLimiter so
// requests respect arXiv's politeness expectations.
func New(gw *gateway.Gateway, baseURL string) *Client {
	return &Client{
		gw:      gw,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Name implements enrich.Provider.
func (c *Client) Name() string {
	return "arxiv"
}

// feed is the subset of the Atom response used here.
type feed struct {
	XMLName xml.Name `xml:"feed"`
	Entries []entry  `xml:"entry"`
}

type entry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Published string `xml:"published"`
}

// Lookup implements enrich.Provider.
func (c *Client) Lookup(ctx context.Context, p *publication.Publication) (publication.Identifiers, error) {
	if p.ArxivID != "" {
		return publication.Identifiers{}, enrich.ErrNotFound
	}
	want := fingerprint.NormalizeTitle(p.CanonicalTitle)
	if want == "" {
		return publication.Identifiers{}, enrich.ErrNotFound
	}
	expr := fmt.Sprintf("ti:%q", want)
	if family := firstAuthorFamily(p.AuthorsText); family != "" {
		expr += fmt.Sprintf(" AND au:%q", family)
	}
	q := url.Values{}
	q.Set("search_query", expr)
	q.Set("max_results", strconv.Itoa(maxResults))
	u := fmt.Sprintf("%s/api/query?%s", c.baseURL, q.Encode())
	res, err := c.gw.Do(ctx, u, pacing)
	if err != nil {
		return publication.Identifiers{}, skerr.Wrap(err)
	}
	if res.Class != gateway.Ok {
		return publication.Identifiers{}, skerr.Fmt("arXiv query for %q failed with %s (status %d)", p.CanonicalTitle, res.Class, res.StatusCode)
	}
	var f feed
	if err := xml.Unmarshal(res.Body, &f); err != nil {
		return publication.Identifiers{}, skerr.Wrapf(err, "decoding arXiv feed for %q", p.CanonicalTitle)
	}
	for _, e := range f.Entries {
		// Atom titles wrap across lines; normalization collapses that.
		if fingerprint.NormalizeTitle(e.Title) != want {
			continue
		}
		// Preprints regularly precede the venue year.
		if y := publishedYear(e.Published); p.Year > 0 && y > 0 && (y < p.Year-2 || y > p.Year+1) {
			continue
		}
		if id := fingerprint.NormalizeArxivID(e.ID); id != "" {
			return publication.Identifiers{ArxivID: id}, nil
		}
	}
	return publication.Identifiers{}, enrich.ErrNotFound
}

// firstAuthorFamily extracts the family name of the first author from the
// scraped "A Einstein, B Podolsky" author text.
func firstAuthorFamily(authorsText string) string {
	first, _, _ := strings.Cut(authorsText, ",")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// publishedYear parses the year out of an Atom timestamp; 0 when absent or
// malformed.
func publishedYear(published string) int {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(published))
	if err != nil {
		return 0
	}
	return t.Year()
}

var _ enrich.Provider = (*Client)(nil)
