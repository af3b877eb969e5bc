package pdf

import (
	"context"
	"fmt"
	"strings"

	"github.com/scholarr/scholarr/scholarr/go/publication"
)

// ArxivResolver builds the canonical arXiv PDF URL for publications carrying
// an arXiv id. arXiv serves a PDF for every valid id, so no round trip is
// needed.
type ArxivResolver struct {
	baseURL string
}

// NewArxivResolver returns an ArxivResolver rooted at the given arXiv base
// URL.
func NewArxivResolver(baseURL string) *ArxivResolver {
	return &ArxivResolver{
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Name implements the Resolver interface.
func (r *ArxivResolver) Name() string {
	return "arxiv"
}

// Resolve implements the Resolver interface.
func (r *ArxivResolver) Resolve(_ context.Context, pub *publication.Publication) (string, error) {
	if pub.ArxivID == "" {
		return "", ErrNoOpenAccess
	}
	return fmt.Sprintf("%s/pdf/%s.pdf", r.baseURL, pub.ArxivID), nil
}

// Ensure ArxivResolver fulfills Resolver.
var _ Resolver = (*ArxivResolver)(nil)
