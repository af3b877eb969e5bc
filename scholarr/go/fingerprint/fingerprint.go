// Package fingerprint computes the stable deduplication keys for
// publications: a normalized form of the title, a fingerprint over title and
// year, and canonical forms of the external identifiers (DOI, arXiv id,
// PMID). Every function in this package is pure and its output must never
// change across releases; fingerprints are persisted and compared against
// newly computed values after restarts.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransformer decomposes characters (NFKD) and removes the combining
// marks, so "Schrödinger" and "Schrodinger" normalize identically.
var foldTransformer = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeTitle lowercases the title, folds away diacritics, replaces every
// non-alphanumeric run with a single space and trims the ends. The result is
// a fixed point: NormalizeTitle(NormalizeTitle(s)) == NormalizeTitle(s).
func NormalizeTitle(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		// Transformation only fails on invalid UTF-8; fall back to the raw
		// bytes so the fingerprint is still deterministic.
		folded = s
	}
	folded = strings.ToLower(folded)
	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		} else {
			pendingSpace = true
		}
	}
	return b.String()
}

// Fingerprint returns the global publication dedup key for a title and year:
// the first 32 hex characters of sha256(normalized-title | "|" | year). A
// year of 0 or below means the year is unknown and hashes as the empty
// string.
func Fingerprint(title string, year int) string {
	y := ""
	if year > 0 {
		y = strconv.Itoa(year)
	}
	sum := sha256.Sum256([]byte(NormalizeTitle(title) + "|" + y))
	return hex.EncodeToString(sum[:])[:32]
}

// doiRe matches the registrant/suffix form every modern DOI takes.
var doiRe = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)

// NormalizeDOI lowercases a DOI and strips resolver URLs and "doi:" prefixes.
// Returns the empty string when s does not contain a recognizable DOI.
func NormalizeDOI(s string) string {
	d := strings.ToLower(strings.TrimSpace(s))
	for _, prefix := range []string{
		"https://doi.org/",
		"http://doi.org/",
		"https://dx.doi.org/",
		"http://dx.doi.org/",
		"doi.org/",
		"doi:",
	} {
		d = strings.TrimPrefix(d, prefix)
	}
	d = strings.TrimSpace(d)
	if !doiRe.MatchString(d) {
		return ""
	}
	return d
}

var (
	// New-style arXiv id, e.g. 2403.01234 or 0704.0001v2.
	arxivNewRe = regexp.MustCompile(`^(\d{4}\.\d{4,5})(v\d+)?$`)
	// Old-style arXiv id, e.g. math.GT/0309136 or hep-th/9901001v1.
	arxivOldRe = regexp.MustCompile(`^([a-z-]+(?:\.[a-zA-Z]{2})?/\d{7})(v\d+)?$`)
)

// NormalizeArxivID canonicalizes an arXiv identifier to its version-less
// form, accepting abs/ URLs, "arXiv:" prefixes, and both the old
// (category/YYMMnnn) and new (YYMM.NNNNN) syntaxes. Returns the empty string
// when s is not an arXiv id.
func NormalizeArxivID(s string) string {
	id := strings.TrimSpace(s)
	for _, prefix := range []string{
		"https://arxiv.org/abs/",
		"http://arxiv.org/abs/",
		"arxiv.org/abs/",
	} {
		if strings.HasPrefix(strings.ToLower(id), prefix) {
			id = id[len(prefix):]
			break
		}
	}
	if len(id) > 6 && strings.EqualFold(id[:6], "arxiv:") {
		id = id[6:]
	}
	id = strings.TrimSuffix(strings.TrimSpace(id), ".pdf")
	if m := arxivNewRe.FindStringSubmatch(id); m != nil {
		return m[1]
	}
	if m := arxivOldRe.FindStringSubmatch(strings.ToLower(id)); m != nil {
		return m[1]
	}
	return ""
}

var pmidRe = regexp.MustCompile(`^\d{1,8}$`)

// NormalizePMID strips a "pmid:" prefix and surrounding whitespace and
// validates that the remainder is all digits. Returns the empty string when s
// is not a PMID.
func NormalizePMID(s string) string {
	id := strings.TrimSpace(s)
	if len(id) > 5 && strings.EqualFold(id[:5], "pmid:") {
		id = strings.TrimSpace(id[5:])
	}
	if !pmidRe.MatchString(id) {
		return ""
	}
	return id
}
