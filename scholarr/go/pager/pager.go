// Package pager fetches and walks the paged publication list of one
// scholar profile. A walk hands every fully parsed page to its handler
// before the next page is fetched, so an interruption never loses pages
// that already arrived.
package pager

import (
	"context"
	"errors"
	"time"

	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sklog"
	"github.com/scholarr/scholarr/scholarr/go/config"
	"github.com/scholarr/scholarr/scholarr/go/fingerprint"
	"github.com/scholarr/scholarr/scholarr/go/gateway"
	"github.com/scholarr/scholarr/scholarr/go/scholarrerr"
	"github.com/scholarr/scholarr/scholarr/go/scholars"
	"github.com/scholarr/scholarr/scholarr/go/scholarsource"
)

// PageHandler persists one fully parsed page. It runs before the next page
// is fetched and reports whether every row on the page was already linked
// to the scholar with an unchanged citation count. The profile lists
// newest-first, so a stable page means every later page is stable too and
// the walk stops.
type PageHandler func(ctx context.Context, pageIndex int, page *scholarsource.ParsedPage) (stable bool, err error)

// Result is what a walk produced. It is meaningful even when Walk also
// returns an error: pages handled before an interruption stay handled.
type Result struct {
	// PagesFetched counts fetched and parsed pages, including a page 0
	// that only served the no-change check.
	PagesFetched int

	// Rows counts the rows handed to the handler.
	Rows int

	// Profile is the parsed author header, set whenever page 0 was
	// fetched.
	Profile *scholarsource.ProfileMeta

	// HeadFingerprint is the dedup fingerprint of the newest row on page
	// 0, or "" when page 0 was not fetched or carried no rows. Recorded on
	// the scholar after a complete walk so the next one can stop early.
	HeadFingerprint string

	// SkippedNoChange is true when page 0's head matched the fingerprint
	// from the previous complete walk and nothing was handled.
	SkippedNoChange bool

	// ResumeCursor is the zero-based index of the first page the walk did
	// not hand to the handler, or -1 when the walk completed. An
	// interrupted walk resumes from here.
	ResumeCursor int
}

// Pager fetches profile pages through the shared gateway.
type Pager struct {
	gw       *gateway.Gateway
	baseURL  string
	pageSize int
	maxPages int

	// pageDeadline bounds one fetch; pageDeadline * maxPages bounds a
	// whole walk.
	pageDeadline time.Duration
}

// New returns a Pager for the configured profile source.
func New(gw *gateway.Gateway, cfg *config.InstanceConfig) *Pager {
	return &Pager{
		gw:           gw,
		baseURL:      cfg.URL,
		pageSize:     cfg.PageSize,
		maxPages:     cfg.MaxPagesPerScholar,
		pageDeadline: time.Duration(cfg.PageDeadlineSeconds) * time.Second,
	}
}

// PacingFor converts a run's frozen settings snapshot into the gateway
// pacing its page fetches use. The snapshot already carries the effective
// delay, so the instance floor in the gateway is only a backstop.
func PacingFor(rc config.RunConfig) gateway.Pacing {
	return gateway.Pacing{
		MinGap:         rc.RequestDelay,
		Jitter:         rc.RequestJitter,
		NetworkRetries: rc.NetworkErrorRetries,
		RetryBackoff:   rc.RetryBackoff,
	}
}

// FetchPage fetches and parses a single profile page. Failures come back
// kinded: Blocked for captcha and block pages, Network for transport and
// server failures or a missed deadline, Layout when the page structure is
// unrecognizable. Cancellation passes through unclassified.
func (p *Pager) FetchPage(ctx context.Context, scholarID string, pageIndex int, pacing gateway.Pacing) (*scholarsource.ParsedPage, error) {
	ctx, cancel := context.WithTimeout(ctx, p.pageDeadline)
	defer cancel()

	u, err := scholarsource.ProfileURL(p.baseURL, scholarID, pageIndex, p.pageSize)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	res, err := p.gw.Do(ctx, u, pacing)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, scholarrerr.Wrap(scholarrerr.Network, err, "Profile %s page %d exceeded the fetch deadline.", scholarID, pageIndex)
		}
		return nil, skerr.Wrap(err)
	}
	switch res.Class {
	case gateway.BlockedOrCaptcha:
		return nil, scholarrerr.New(scholarrerr.Blocked, "Profile %s page %d answered with a captcha or block page.", scholarID, pageIndex)
	case gateway.NetworkError:
		if res.StatusCode != 0 {
			return nil, scholarrerr.New(scholarrerr.Network, "Profile %s page %d failed with status %d.", scholarID, pageIndex, res.StatusCode)
		}
		return nil, scholarrerr.New(scholarrerr.Network, "Profile %s page %d failed on the network after retries.", scholarID, pageIndex)
	}
	if scholarsource.DetectBlock(res.Body) {
		return nil, scholarrerr.New(scholarrerr.Blocked, "Profile %s page %d answered with a captcha or block page.", scholarID, pageIndex)
	}
	page, err := scholarsource.ParsePage(res.Body, pageIndex)
	if err != nil {
		return nil, scholarrerr.Wrap(scholarrerr.Layout, err, "Parsing profile %s page %d.", scholarID, pageIndex)
	}
	return page, nil
}

// Walk fetches the scholar's pages in order, handing each parsed page to
// handle before fetching the next. It stops after the last page, at the
// depth cap, or at a stable page. When startCursor is 0 and page 0's head
// fingerprint matches the one recorded by the previous complete walk, the
// walk ends as SkippedNoChange without handling anything, unless forced. A
// startCursor above 0 resumes an interrupted walk and skips that check.
//
// The whole walk runs under a soft deadline of the page deadline times the
// depth cap; exceeding it surfaces as a Network failure like any other
// timed-out fetch. The returned Result is valid alongside a non-nil error
// and carries the cursor a continuation resumes from.
func (p *Pager) Walk(ctx context.Context, scholar *scholars.ScholarProfile, pacing gateway.Pacing, forced bool, startCursor int, handle PageHandler) (*Result, error) {
	res := &Result{ResumeCursor: -1}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(p.maxPages)*p.pageDeadline)
	defer cancel()

	pageIndex := startCursor
	for pageIndex < p.maxPages {
		page, err := p.FetchPage(ctx, scholar.ScholarID, pageIndex, pacing)
		if err != nil {
			res.ResumeCursor = pageIndex
			return res, err
		}
		res.PagesFetched++

		if pageIndex == 0 {
			res.Profile = page.Profile
			res.HeadFingerprint = headFingerprint(page)
			if !forced && scholar.LastFingerprintHead != "" && res.HeadFingerprint == scholar.LastFingerprintHead {
				sklog.Infof("Scholar %s head fingerprint unchanged, skipping the walk.", scholar.ScholarID)
				res.SkippedNoChange = true
				return res, nil
			}
		}

		res.Rows += len(page.Rows)
		stable, err := handle(ctx, pageIndex, page)
		if err != nil {
			res.ResumeCursor = pageIndex
			return res, skerr.Wrap(err)
		}
		if stable && len(page.Rows) > 0 {
			sklog.Infof("Scholar %s page %d is fully stable, stopping the walk.", scholar.ScholarID, pageIndex)
			break
		}
		if !page.Pagination.HasNext {
			break
		}
		pageIndex = page.Pagination.NextCursor
	}
	return res, nil
}

// headFingerprint is the dedup fingerprint of the newest row on a page.
func headFingerprint(page *scholarsource.ParsedPage) string {
	if len(page.Rows) == 0 {
		return ""
	}
	return fingerprint.Fingerprint(page.Rows[0].Title, page.Rows[0].Year)
}
