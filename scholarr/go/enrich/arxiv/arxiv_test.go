package arxiv

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarr/scholarr/scholarr/go/enrich"
	"github.com/scholarr/scholarr/scholarr/go/gateway"
	"github.com/scholarr/scholarr/scholarr/go/publication"
)

// newClientForTest serves the given Atom body for every request and returns
// a client pointed at it plus the query values of the last request.
func newClientForTest(t *testing.T, body string) (*Client, *url.Values) {
	var lastQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastQuery = r.URL.Query()
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return New(gateway.NewWithLimiter(srv.Client(), 1000), srv.URL), &lastQuery
}

const attentionFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1705.99999v1</id>
    <title>Attention Is Not All You Need</title>
    <published>2017-05-01T00:00:00Z</published>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/1706.03762v7</id>
    <title>Attention Is All
 You Need</title>
    <published>2017-06-12T17:57:34Z</published>
  </entry>
</feed>`

func attention() *publication.Publication {
	return &publication.Publication{
		CanonicalTitle: "Attention Is All You Need",
		AuthorsText:    "A Vaswani, N Shazeer, N Parmar",
		Year:           2017,
	}
}

func TestLookup_PublicationHasArxivID_SkipsLookup(t *testing.T) {
	c, lastQuery := newClientForTest(t, attentionFeed)
	p := attention()
	p.ArxivID = "1706.03762"

	_, err := c.Lookup(context.Background(), p)
	require.ErrorIs(t, err, enrich.ErrNotFound)
	assert.Nil(t, *lastQuery, "no request should be made when the arXiv id is already known")
}

func TestLookup_MatchingEntry_ReturnsVersionlessID(t *testing.T) {
	c, lastQuery := newClientForTest(t, attentionFeed)

	ids, err := c.Lookup(context.Background(), attention())
	require.NoError(t, err)
	assert.Equal(t, publication.Identifiers{ArxivID: "1706.03762"}, ids)
	assert.Equal(t, `ti:"attention is all you need" AND au:"Vaswani"`, lastQuery.Get("search_query"))
	assert.Equal(t, "10", lastQuery.Get("max_results"))
}

func TestLookup_NoAuthors_QueriesTitleOnly(t *testing.T) {
	c, lastQuery := newClientForTest(t, attentionFeed)
	p := attention()
	p.AuthorsText = ""

	_, err := c.Lookup(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, `ti:"attention is all you need"`, lastQuery.Get("search_query"))
}

func TestLookup_NoTitleMatch_ReportsNotFound(t *testing.T) {
	c, _ := newClientForTest(t, attentionFeed)
	p := attention()
	p.CanonicalTitle = "Convolutions Are All You Need"

	_, err := c.Lookup(context.Background(), p)
	require.ErrorIs(t, err, enrich.ErrNotFound)
}

func TestLookup_PreprintPrecedingVenueYear_Accepted(t *testing.T) {
	c, _ := newClientForTest(t, attentionFeed)
	p := attention()
	p.Year = 2019

	ids, err := c.Lookup(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "1706.03762", ids.ArxivID)
}

func TestLookup_PublishedYearTooFarOff_ReportsNotFound(t *testing.T) {
	c, _ := newClientForTest(t, attentionFeed)
	p := attention()
	p.Year = 2023

	_, err := c.Lookup(context.Background(), p)
	require.ErrorIs(t, err, enrich.ErrNotFound)
}

func TestLookup_EmptyFeed_ReportsNotFound(t *testing.T) {
	c, _ := newClientForTest(t, `<?xml version="1.0" encoding="UTF-8"?><feed xmlns="http://www.w3.org/2005/Atom"></feed>`)

	_, err := c.Lookup(context.Background(), attention())
	require.ErrorIs(t, err, enrich.ErrNotFound)
}
