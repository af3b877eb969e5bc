// Package scholarsource parses Google Scholar HTML into typed values. The
// parser is strict: a page either parses completely or the whole page is
// rejected with a LayoutError carrying a short code. Emitting half-parsed
// rows would poison the publication store, so there is no partial success.
package scholarsource

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/scholarr/scholarr/go/skerr"
)

// Layout error codes. The code is the only variability a LayoutError carries;
// operators group parse failures by it.
const (
	CodeMissingProfile = "missing_profile"
	CodeMissingTable   = "missing_table"
	CodeMissingRows    = "missing_rows"
	CodeMissingTitle   = "missing_title"
	CodeUnexpectedTok  = "unexpected_token"
	CodeTruncated      = "truncated"
)

// LayoutError reports that the page HTML did not have the structure the
// parser expects. It means Scholar changed their markup, not that the network
// or the remote host failed.
type LayoutError struct {
	Code string
}

func (e *LayoutError) Error() string {
	return "scholar page layout error: " + e.Code
}

// PublicationRow is one publication entry on a profile page.
type PublicationRow struct {
	// ClusterID is Scholar's opaque work id, stable across metadata variants
	// of the same work. May be empty when the row's citation link is absent.
	ClusterID     string
	Title         string
	Authors       string
	VenueText     string
	Year          int
	CitationCount int
	// PubURL is the Scholar citation-view URL for this row.
	PubURL string
	// PDFURL is a direct full-text link when the row carries one.
	PDFURL string
}

// ProfileMeta is the author metadata present on the first profile page.
type ProfileMeta struct {
	DisplayName string
	Affiliation string
	EmailDomain string
	Interests   []string
	ImageURL    string
}

// Pagination describes whether the profile has more pages after this one.
type Pagination struct {
	HasNext bool
	// NextCursor is the zero-based index of the next page; only meaningful
	// when HasNext is true.
	NextCursor int
}

// ParsedPage is the fully parsed form of one profile page.
type ParsedPage struct {
	// Profile is only set for page 0.
	Profile    *ProfileMeta
	Rows       []PublicationRow
	Pagination Pagination
}

// blockSentinels are byte sequences whose presence in a response body means
// the host answered with an anti-bot challenge instead of content.
var blockSentinels = [][]byte{
	[]byte("gs_captcha"),
	[]byte("g-recaptcha"),
	[]byte("please show you're not a robot"),
	[]byte("/sorry/index"),
	[]byte("unusual traffic from your computer network"),
}

// DetectBlock returns true when the body carries a captcha or anti-bot
// sentinel. Callers must check this before ParsePage: a challenge page is a
// blocked outcome, not a layout failure.
func DetectBlock(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, s := range blockSentinels {
		if bytes.Contains(lower, s) {
			return true
		}
	}
	return false
}

// ParsePage parses one profile page. pageIndex 0 additionally requires and
// extracts the profile metadata. The only error type returned is
// *LayoutError; callers may rely on that to classify the failure.
func ParsePage(body []byte, pageIndex int) (*ParsedPage, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		// html.Parse is extremely lenient; an actual error means the body was
		// cut off mid-token.
		return nil, &LayoutError{Code: CodeTruncated}
	}

	page := &ParsedPage{}
	if pageIndex == 0 {
		profile, err := parseProfile(doc)
		if err != nil {
			return nil, err
		}
		page.Profile = profile
	}

	table := findByID(doc, "gsc_a_t")
	if table == nil {
		return nil, &LayoutError{Code: CodeMissingTable}
	}
	tbody := findByID(table, "gsc_a_b")
	if tbody == nil {
		return nil, &LayoutError{Code: CodeTruncated}
	}

	trs := findAll(tbody, func(n *html.Node) bool {
		return n.DataAtom == atom.Tr && hasClass(n, "gsc_a_tr")
	})
	if len(trs) == 0 {
		// An author with zero publications renders a single marker cell. Its
		// absence means the layout changed under us.
		if findFirst(tbody, func(n *html.Node) bool { return hasClass(n, "gsc_a_e") }) == nil {
			return nil, &LayoutError{Code: CodeMissingRows}
		}
		page.Rows = []PublicationRow{}
	}
	for _, tr := range trs {
		row, err := parseRow(tr)
		if err != nil {
			return nil, err
		}
		page.Rows = append(page.Rows, *row)
	}

	page.Pagination = parsePagination(doc, pageIndex)
	return page, nil
}

// parseProfile extracts the author block from the first page.
func parseProfile(doc *html.Node) (*ProfileMeta, error) {
	name := findByID(doc, "gsc_prf_in")
	if name == nil {
		return nil, &LayoutError{Code: CodeMissingProfile}
	}
	p := &ProfileMeta{
		DisplayName: text(name),
	}
	if p.DisplayName == "" {
		return nil, &LayoutError{Code: CodeMissingProfile}
	}

	// The affiliation is the first gsc_prf_il div without an id; the email
	// line and the interests carry ids of their own.
	for _, div := range findAll(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Div && hasClass(n, "gsc_prf_il")
	}) {
		switch attr(div, "id") {
		case "":
			if p.Affiliation == "" {
				p.Affiliation = text(div)
			}
		case "gsc_prf_ivh":
			p.EmailDomain = parseEmailDomain(text(div))
		case "gsc_prf_int":
			for _, a := range findAll(div, func(n *html.Node) bool { return n.DataAtom == atom.A }) {
				if interest := text(a); interest != "" {
					p.Interests = append(p.Interests, interest)
				}
			}
		}
	}

	if img := findByID(doc, "gsc_prf_pup-img"); img != nil {
		p.ImageURL = attr(img, "src")
	}
	return p, nil
}

// parseEmailDomain pulls "cs.example.edu" out of "Verified email at
// cs.example.edu - Homepage".
func parseEmailDomain(s string) string {
	const marker = "verified email at "
	lower := strings.ToLower(s)
	i := strings.Index(lower, marker)
	if i < 0 {
		return ""
	}
	rest := s[i+len(marker):]
	if j := strings.IndexAny(rest, " \t-"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

// parseRow parses one gsc_a_tr publication row.
func parseRow(tr *html.Node) (*PublicationRow, error) {
	titleCell := findFirst(tr, func(n *html.Node) bool {
		return n.DataAtom == atom.Td && hasClass(n, "gsc_a_t")
	})
	if titleCell == nil {
		return nil, &LayoutError{Code: CodeUnexpectedTok}
	}
	titleAnchor := findFirst(titleCell, func(n *html.Node) bool {
		return n.DataAtom == atom.A && hasClass(n, "gsc_a_at")
	})
	if titleAnchor == nil {
		return nil, &LayoutError{Code: CodeMissingTitle}
	}
	row := &PublicationRow{
		Title:  text(titleAnchor),
		PubURL: attr(titleAnchor, "href"),
	}
	if row.Title == "" {
		return nil, &LayoutError{Code: CodeMissingTitle}
	}
	row.ClusterID = clusterIDFromHref(row.PubURL)

	grays := findAll(titleCell, func(n *html.Node) bool {
		return n.DataAtom == atom.Div && hasClass(n, "gs_gray")
	})
	if len(grays) > 0 {
		row.Authors = text(grays[0])
	}
	if len(grays) > 1 {
		row.VenueText = stripTrailingYear(text(grays[1]))
	}

	// Citation count cell. An uncited publication renders an empty anchor.
	if countAnchor := findFirst(tr, func(n *html.Node) bool {
		return n.DataAtom == atom.A && hasClass(n, "gsc_a_ac")
	}); countAnchor != nil {
		if countText := text(countAnchor); countText != "" {
			count, err := strconv.Atoi(countText)
			if err != nil {
				return nil, &LayoutError{Code: CodeUnexpectedTok}
			}
			row.CitationCount = count
		}
	}

	// Year cell; may legitimately be empty.
	if yearSpan := findFirst(tr, func(n *html.Node) bool {
		return n.DataAtom == atom.Span && hasClass(n, "gsc_a_h")
	}); yearSpan != nil {
		if yearText := text(yearSpan); yearText != "" {
			year, err := strconv.Atoi(yearText)
			if err != nil {
				return nil, &LayoutError{Code: CodeUnexpectedTok}
			}
			row.Year = year
		}
	}

	// Optional direct full-text link: any non-title anchor pointing at a PDF.
	for _, a := range findAll(tr, func(n *html.Node) bool { return n.DataAtom == atom.A }) {
		href := attr(a, "href")
		if a != titleAnchor && strings.HasSuffix(strings.ToLower(href), ".pdf") {
			row.PDFURL = href
			break
		}
	}
	return row, nil
}

// clusterIDFromHref extracts Scholar's work id from a citation-view href,
// which carries it as citation_for_view=USER:CLUSTER.
func clusterIDFromHref(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	v := u.Query().Get("citation_for_view")
	if i := strings.IndexByte(v, ':'); i >= 0 {
		return v[i+1:]
	}
	return ""
}

// stripTrailingYear removes the ", 2012" suffix Scholar appends to the venue
// line.
func stripTrailingYear(venue string) string {
	if i := strings.LastIndex(venue, ","); i >= 0 {
		if _, err := strconv.Atoi(strings.TrimSpace(venue[i+1:])); err == nil {
			return strings.TrimSpace(venue[:i])
		}
	}
	return strings.TrimSpace(venue)
}

// parsePagination reads the "Show more" button state.
func parsePagination(doc *html.Node, pageIndex int) Pagination {
	button := findByID(doc, "gsc_bpf_more")
	if button == nil {
		return Pagination{}
	}
	if _, disabled := lookupAttr(button, "disabled"); disabled {
		return Pagination{}
	}
	return Pagination{HasNext: true, NextCursor: pageIndex + 1}
}

// AuthorResult is one hit on an author name-search page.
type AuthorResult struct {
	ScholarID   string
	Name        string
	Affiliation string
	EmailDomain string
	CitedBy     int
}

// ParseAuthorSearch parses a name-search results page into author hits. An
// empty result list is a valid outcome (no matches); a missing results
// container is a layout failure.
func ParseAuthorSearch(body []byte) ([]AuthorResult, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &LayoutError{Code: CodeTruncated}
	}
	container := findByID(doc, "gsc_sa_ccl")
	if container == nil {
		return nil, &LayoutError{Code: CodeMissingTable}
	}
	results := []AuthorResult{}
	for _, card := range findAll(container, func(n *html.Node) bool {
		return hasClass(n, "gsc_1usr")
	}) {
		nameAnchor := findFirst(card, func(n *html.Node) bool {
			return n.DataAtom == atom.A && attr(n, "href") != ""
		})
		if nameAnchor == nil {
			return nil, &LayoutError{Code: CodeMissingTitle}
		}
		res := AuthorResult{
			Name:      text(nameAnchor),
			ScholarID: scholarIDFromHref(attr(nameAnchor, "href")),
		}
		if res.ScholarID == "" {
			return nil, &LayoutError{Code: CodeUnexpectedTok}
		}
		if aff := findFirst(card, func(n *html.Node) bool { return hasClass(n, "gs_ai_aff") }); aff != nil {
			res.Affiliation = text(aff)
		}
		if eml := findFirst(card, func(n *html.Node) bool { return hasClass(n, "gs_ai_eml") }); eml != nil {
			res.EmailDomain = parseEmailDomain(text(eml))
		}
		if cby := findFirst(card, func(n *html.Node) bool { return hasClass(n, "gs_ai_cby") }); cby != nil {
			res.CitedBy = parseCitedBy(text(cby))
		}
		results = append(results, res)
	}
	return results, nil
}

// scholarIDFromHref extracts the user= parameter of a profile link.
func scholarIDFromHref(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return u.Query().Get("user")
}

// parseCitedBy pulls the count out of "Cited by 12345".
func parseCitedBy(s string) int {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return 0
	}
	return n
}

// ProfileURL builds the paged profile URL for a scholar, newest publications
// first so the head row moves when anything new appears.
func ProfileURL(baseURL, scholarID string, pageIndex, pageSize int) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", skerr.Wrapf(err, "parsing base URL %q", baseURL)
	}
	u.Path = "/citations"
	q := url.Values{}
	q.Set("user", scholarID)
	q.Set("hl", "en")
	q.Set("sortby", "pubdate")
	q.Set("cstart", strconv.Itoa(pageIndex*pageSize))
	q.Set("pagesize", strconv.Itoa(pageSize))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// AuthorSearchURL builds the name-search URL for the side channel.
func AuthorSearchURL(baseURL, name string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", skerr.Wrapf(err, "parsing base URL %q", baseURL)
	}
	u.Path = "/citations"
	q := url.Values{}
	q.Set("view_op", "search_authors")
	q.Set("hl", "en")
	q.Set("mauthors", name)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
