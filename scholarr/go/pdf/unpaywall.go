package pdf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/scholarr/go/gateway"
	"github.com/scholarr/scholarr/scholarr/go/publication"
)

// unpaywallPacing carries no inner retries; the queue's backoff is the retry
// mechanism, and pacing comes from the gateway's QPS limiter.
var unpaywallPacing = gateway.Pacing{}

// UnpaywallResolver asks the Unpaywall API for the best open-access location
// of a publication carrying a DOI.
type UnpaywallResolver struct {
	gw      *gateway.Gateway
	baseURL string
	email   string
}

// NewUnpaywallResolver returns an UnpaywallResolver. The email is the
// contact address Unpaywall requires on every request; with an empty email
// the resolver reports no open access for everything rather than send
// non-compliant requests.
func NewUnpaywallResolver(gw *gateway.Gateway, baseURL string, email string) *UnpaywallResolver {
	return &UnpaywallResolver{
		gw:      gw,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		email:   email,
	}
}

// Name implements the Resolver interface.
func (r *UnpaywallResolver) Name() string {
	return "unpaywall"
}

// unpaywallResponse is the subset of the v2 response the resolver reads.
type unpaywallResponse struct {
	IsOA           bool `json:"is_oa"`
	BestOALocation *struct {
		URLForPDF string `json:"url_for_pdf"`
		URL       string `json:"url"`
	} `json:"best_oa_location"`
}

// Resolve implements the Resolver interface.
func (r *UnpaywallResolver) Resolve(ctx context.Context, pub *publication.Publication) (string, error) {
	if pub.DOI == "" || r.email == "" {
		return "", ErrNoOpenAccess
	}
	u := fmt.Sprintf("%s/v2/%s?email=%s", r.baseURL, url.PathEscape(pub.DOI), url.QueryEscape(r.email))
	res, err := r.gw.Do(ctx, u, unpaywallPacing)
	if err != nil {
		return "", skerr.Wrap(err)
	}
	if res.StatusCode == http.StatusNotFound {
		// Unpaywall does not know the DOI at all.
		return "", ErrNoOpenAccess
	}
	if res.Class != gateway.Ok {
		return "", skerr.Fmt("unpaywall lookup for %s failed with %s (status %d)", pub.DOI, res.Class, res.StatusCode)
	}
	var parsed unpaywallResponse
	if err := json.Unmarshal(res.Body, &parsed); err != nil {
		return "", skerr.Wrapf(err, "decoding unpaywall response for %s", pub.DOI)
	}
	if !parsed.IsOA || parsed.BestOALocation == nil {
		return "", ErrNoOpenAccess
	}
	if parsed.BestOALocation.URLForPDF != "" {
		return parsed.BestOALocation.URLForPDF, nil
	}
	// Some locations only publish a landing page; accept it when it is
	// itself a PDF.
	if strings.HasSuffix(strings.ToLower(parsed.BestOALocation.URL), ".pdf") {
		return parsed.BestOALocation.URL, nil
	}
	return "", ErrNoOpenAccess
}

// Ensure UnpaywallResolver fulfills Resolver.
var _ Resolver = (*UnpaywallResolver)(nil)
