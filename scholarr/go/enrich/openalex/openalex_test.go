package openalex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarr/scholarr/scholarr/go/enrich"
	"github.com/scholarr/scholarr/scholarr/go/gateway"
	"github.com/scholarr/scholarr/scholarr/go/publication"
)

// newClientForTest serves the given status and body for every request and
// returns a client pointed at it.
func newClientForTest(t *testing.T, status int, body string) (*Client, *string) {
	var lastRequest string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastRequest = r.URL.String()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return New(gateway.NewWithLimiter(srv.Client(), 1000), srv.URL), &lastRequest
}

func TestLookup_PublicationHasDOI_UsesDOIRouteAndStripsURLForms(t *testing.T) {
	c, lastRequest := newClientForTest(t, http.StatusOK,
		`{"id": "https://openalex.org/W2741809807", "doi": "https://doi.org/10.7717/peerj.4375", "title": "Alpha Study", "publication_year": 2018, "ids": {"pmid": "https://pubmed.ncbi.nlm.nih.gov/28983424"}}`)

	ids, err := c.Lookup(context.Background(), &publication.Publication{CanonicalTitle: "Alpha Study", DOI: "10.7717/peerj.4375"})
	require.NoError(t, err)
	assert.Equal(t, publication.Identifiers{
		DOI:        "10.7717/peerj.4375",
		Pmid:       "28983424",
		OpenalexID: "W2741809807",
	}, ids)
	assert.Contains(t, *lastRequest, "/works/doi:10.7717%2Fpeerj.4375")
}

func TestLookup_UnknownDOI_ReportsNotFound(t *testing.T) {
	c, _ := newClientForTest(t, http.StatusNotFound, `{"error": "404", "message": "No result found"}`)

	_, err := c.Lookup(context.Background(), &publication.Publication{CanonicalTitle: "Alpha Study", DOI: "10.7717/void"})
	require.ErrorIs(t, err, enrich.ErrNotFound)
}

func TestLookup_TitleSearch_PicksNormalizedTitleAndYearMatch(t *testing.T) {
	c, lastRequest := newClientForTest(t, http.StatusOK, `{"results": [
		{"id": "https://openalex.org/W1", "title": "Deep Learning for Dogs", "publication_year": 2020},
		{"id": "https://openalex.org/W2", "doi": "https://doi.org/10.1000/cats", "title": "Deep   Learning, for CATS!", "publication_year": 2020}
	]}`)

	ids, err := c.Lookup(context.Background(), &publication.Publication{CanonicalTitle: "Deep Learning for Cats", Year: 2020})
	require.NoError(t, err)
	assert.Equal(t, publication.Identifiers{DOI: "10.1000/cats", OpenalexID: "W2"}, ids)
	assert.Contains(t, *lastRequest, "filter=title.search%3Adeep+learning+for+cats")
}

func TestLookup_TitleSearch_YearMismatch_ReportsNotFound(t *testing.T) {
	c, _ := newClientForTest(t, http.StatusOK, `{"results": [
		{"id": "https://openalex.org/W1", "doi": "https://doi.org/10.1000/cats", "title": "Deep Learning for Cats", "publication_year": 2018}
	]}`)

	_, err := c.Lookup(context.Background(), &publication.Publication{CanonicalTitle: "Deep Learning for Cats", Year: 2020})
	require.ErrorIs(t, err, enrich.ErrNotFound)
}

func TestLookup_TitleSearch_HitWithoutYear_Accepted(t *testing.T) {
	c, _ := newClientForTest(t, http.StatusOK, `{"results": [
		{"id": "https://openalex.org/W1", "doi": "https://doi.org/10.1000/cats", "title": "Deep Learning for Cats"}
	]}`)

	ids, err := c.Lookup(context.Background(), &publication.Publication{CanonicalTitle: "Deep Learning for Cats", Year: 2020})
	require.NoError(t, err)
	assert.Equal(t, "10.1000/cats", ids.DOI)
}

func TestLookup_ServerError_ReturnsTransientError(t *testing.T) {
	c, _ := newClientForTest(t, http.StatusInternalServerError, "")

	_, err := c.Lookup(context.Background(), &publication.Publication{CanonicalTitle: "Deep Learning for Cats"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, enrich.ErrNotFound)
}
