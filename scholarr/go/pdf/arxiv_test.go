package pdf

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarr/scholarr/scholarr/go/publication"
)

func TestArxivResolver_PublicationWithArxivID_BuildsPdfURL(t *testing.T) {
	r := NewArxivResolver("https://export.arxiv.org/")

	url, err := r.Resolve(context.Background(), &publication.Publication{ArxivID: "2403.01234"})
	require.NoError(t, err)
	assert.Equal(t, "https://export.arxiv.org/pdf/2403.01234.pdf", url)
}

func TestArxivResolver_NoArxivID_ReportsNoOpenAccess(t *testing.T) {
	r := NewArxivResolver("https://export.arxiv.org")

	_, err := r.Resolve(context.Background(), &publication.Publication{DOI: "10.1/x"})
	require.ErrorIs(t, err, ErrNoOpenAccess)
}
