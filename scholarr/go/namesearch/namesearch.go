// Package namesearch is the author name-search side channel: free-text
// lookups against the profile source, paced through the shared gateway,
// cached in a bounded LRU, and guarded by a circuit breaker so repeated
// blocked responses pause the channel instead of digging the hole deeper.
//
// The breaker is process-local and orthogonal to the run-level scrape
// cooldown: a paused name search never blocks runs, and an active run
// cooldown never blocks name search.
package namesearch

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/scholarr/scholarr/go/metrics2"
	"github.com/scholarr/scholarr/go/now"
	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sklog"
	"github.com/scholarr/scholarr/scholarr/go/config"
	"github.com/scholarr/scholarr/scholarr/go/gateway"
	"github.com/scholarr/scholarr/scholarr/go/scholarrerr"
	"github.com/scholarr/scholarr/scholarr/go/scholarsource"
)

const (
	// cacheSize bounds the result cache; one entry per normalized query.
	cacheSize = 256

	// positiveTTL is how long a successful result list is served from the
	// cache. Author search results drift slowly.
	positiveTTL = time.Hour

	// negativeTTL is how long a blocked outcome is served from the cache,
	// so identical retries do not count against the breaker again.
	negativeTTL = 5 * time.Minute

	requestsMetricName = "namesearch_requests"
)

// cacheEntry is one cached outcome, positive or negative.
type cacheEntry struct {
	results []scholarsource.AuthorResult
	blocked bool
	expires time.Time
}

// Searcher performs author name searches. Safe for concurrent use.
type Searcher struct {
	gw      *gateway.Gateway
	baseURL string
	pacing  gateway.Pacing

	threshold int
	cooldown  time.Duration

	mtx sync.Mutex
	// consecutiveBlocked counts blocked responses since the last success.
	// At threshold the breaker opens; it is not reset by the pause expiring,
	// so a blocked trial right after re-opens immediately.
	consecutiveBlocked int
	pausedUntil        time.Time

	cache *lru.Cache
}

// New returns a Searcher. The gateway should be the same instance the run
// pipeline uses so both channels share one per-host pacing budget, and must
// carry the block-page detector.
func New(gw *gateway.Gateway, cfg *config.InstanceConfig) (*Searcher, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	return &Searcher{
		gw:      gw,
		baseURL: cfg.URL,
		pacing: gateway.Pacing{
			MinGap: time.Duration(cfg.NameSearchMinIntervalSeconds) * time.Second,
			Jitter: time.Duration(cfg.NameSearchIntervalJitterSeconds) * time.Second,
		},
		threshold: cfg.NameSearchCooldownBlockThreshold,
		cooldown:  time.Duration(cfg.NameSearchCooldownSeconds) * time.Second,
		cache:     cache,
	}, nil
}

// Search returns the author hits for a free-text name. Outcomes other than
// success carry a domain error: Validation for an unusable query, Cooldown
// while the breaker is open, Blocked for an anti-bot response, Network for
// transport failure, Layout when the results page does not parse.
func (s *Searcher) Search(ctx context.Context, name string) ([]scholarsource.AuthorResult, error) {
	key := normalizeQuery(name)
	if key == "" {
		return nil, scholarrerr.New(scholarrerr.Validation, "A search name is required.")
	}
	if e, ok := s.cached(ctx, key); ok {
		s.count("cache_hit")
		if e.blocked {
			return nil, blockedErr()
		}
		return e.results, nil
	}
	if until, open := s.breakerOpen(ctx); open {
		s.count("breaker_open")
		return nil, scholarrerr.New(scholarrerr.Cooldown, "Name search is paused until %s after repeated blocked responses.", until.UTC().Format(time.RFC3339)).WithCode("name_search_cooldown")
	}

	u, err := scholarsource.AuthorSearchURL(s.baseURL, name)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	res, err := s.gw.Do(ctx, u, s.pacing)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	switch res.Class {
	case gateway.BlockedOrCaptcha:
		s.recordBlocked(ctx)
		s.store(ctx, key, &cacheEntry{blocked: true}, negativeTTL)
		s.count("blocked")
		return nil, blockedErr()
	case gateway.NetworkError:
		s.count("network_error")
		return nil, scholarrerr.New(scholarrerr.Network, "Name search failed with a network error (status %d).", res.StatusCode)
	}

	results, err := scholarsource.ParseAuthorSearch(res.Body)
	if err != nil {
		s.count("parse_failure")
		return nil, scholarrerr.Wrap(scholarrerr.Layout, err, "Parsing the name-search results page.")
	}
	s.recordSuccess()
	s.store(ctx, key, &cacheEntry{results: results}, positiveTTL)
	s.count("ok")
	return results, nil
}

func blockedErr() error {
	return scholarrerr.New(scholarrerr.Blocked, "Name search was blocked by the source. Wait before retrying.")
}

// normalizeQuery collapses case and whitespace so trivially equal queries
// share a cache slot.
func normalizeQuery(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// cached returns the live cache entry for the key, if any.
func (s *Searcher) cached(ctx context.Context, key string) (*cacheEntry, bool) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	e := v.(*cacheEntry)
	if now.Now(ctx).After(e.expires) {
		s.cache.Remove(key)
		return nil, false
	}
	return e, true
}

func (s *Searcher) store(ctx context.Context, key string, e *cacheEntry, ttl time.Duration) {
	e.expires = now.Now(ctx).Add(ttl)
	_ = s.cache.Add(key, e)
}

// breakerOpen reports whether the breaker pause is still running.
func (s *Searcher) breakerOpen(ctx context.Context) (time.Time, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.pausedUntil.After(now.Now(ctx)) {
		return s.pausedUntil, true
	}
	return time.Time{}, false
}

// recordBlocked counts one blocked response and opens the breaker at the
// threshold.
func (s *Searcher) recordBlocked(ctx context.Context) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.consecutiveBlocked++
	if s.consecutiveBlocked >= s.threshold {
		s.pausedUntil = now.Now(ctx).Add(s.cooldown)
		sklog.Warningf("Name search paused until %s after %d consecutive blocked responses.", s.pausedUntil.UTC().Format(time.RFC3339), s.consecutiveBlocked)
	}
}

// recordSuccess closes the breaker.
func (s *Searcher) recordSuccess() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.consecutiveBlocked = 0
	s.pausedUntil = time.Time{}
}

// count bumps the per-outcome request counter.
func (s *Searcher) count(outcome string) {
	metrics2.GetCounter(requestsMetricName, map[string]string{
		"outcome": outcome,
	}).Inc(1)
}
