// Package gateway is the single outbound HTTP primitive for hosts that must
// be approached carefully. It enforces a minimum monotonic gap between
// requests to the same host (shared across every caller in the process, so
// concurrent runs cannot combine to exceed the budget), adds uniform jitter,
// classifies responses, and retries only what is safe to retry. A
// blocked_or_captcha response is never retried here; it surfaces so the
// safety controller can cool the user down.
package gateway

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/scholarr/scholarr/go/metrics2"
	"github.com/scholarr/scholarr/go/now"
	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sklog"
	"github.com/scholarr/scholarr/go/util"
)

const (
	// maxBodyBytes bounds how much of a response body is read.
	maxBodyBytes = 4 << 20

	// maxRetryAfter caps how long a Retry-After header can make us sleep.
	maxRetryAfter = 2 * time.Minute

	requestsMetricName = "gateway_requests"
)

// Class is the gateway's classification of one completed request.
type Class int

const (
	// Ok is a 2xx response with no anti-bot sentinel in the body.
	Ok Class = iota

	// BlockedOrCaptcha is an anti-bot signal: HTTP 429/403/503 or a body
	// challenge sentinel. Never retried in-process.
	BlockedOrCaptcha

	// NetworkError is a transport failure or transient server error that
	// persisted through the configured retries.
	NetworkError
)

// String returns the class name used in metrics and outcome reasons.
func (c Class) String() string {
	switch c {
	case Ok:
		return "ok"
	case BlockedOrCaptcha:
		return "blocked_or_captcha"
	case NetworkError:
		return "network_error"
	}
	return "unknown"
}

// Pacing is the per-request pacing and retry envelope, snapshotted from the
// run config.
type Pacing struct {
	// MinGap is the minimum gap since the previous request to the same host.
	// The gateway raises it to its floor if it is lower.
	MinGap time.Duration

	// Jitter is the upper bound of the uniform random addition to MinGap.
	Jitter time.Duration

	// NetworkRetries is how many times a transient failure is refetched.
	NetworkRetries int

	// RetryBackoff is the base of the transient-retry backoff,
	// RetryBackoff * 2^attempt.
	RetryBackoff time.Duration
}

// Result is the outcome of one Do call.
type Result struct {
	Class      Class
	StatusCode int

	// Body is only set for Ok results.
	Body []byte

	// RealizedDelay is the total time spent in pacing and retry sleeps, so
	// callers can account for the wall-clock budget a request consumed.
	RealizedDelay time.Duration
}

// Gateway paces and classifies outbound requests. Safe for concurrent use.
type Gateway struct {
	client *http.Client

	// floor is the hard lower bound on any caller-supplied MinGap.
	floor time.Duration

	// detectBlock, if non-nil, is run over 2xx bodies to catch challenge
	// pages served with a success status.
	detectBlock func([]byte) bool

	// limiter, if non-nil, replaces gap pacing entirely; used for metadata
	// providers where a polite QPS is the contract rather than a gap.
	limiter *rate.Limiter

	// sleepFn exists so tests can advance a time-traveling clock instead of
	// sleeping for real.
	sleepFn func(context.Context, time.Duration) error

	mtx sync.Mutex
	// nextSend is the earliest allowed send time per host. Slots are
	// reserved before sleeping so concurrent callers queue up rather than
	// racing through the same gap.
	nextSend map[string]time.Time
}

// New returns a Gateway with per-host gap pacing. The client should not
// retry on its own; the gateway owns retry policy.
func New(client *http.Client, floor time.Duration, detectBlock func([]byte) bool) *Gateway {
	return &Gateway{
		client:      client,
		floor:       floor,
		detectBlock: detectBlock,
		sleepFn:     SleepCtx,
		nextSend:    map[string]time.Time{},
	}
}

// NewWithLimiter returns a Gateway paced by a token bucket at the given QPS
// instead of per-host gaps, for metadata providers with published rate
// expectations.
func NewWithLimiter(client *http.Client, qps float64) *Gateway {
	return &Gateway{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(qps), 1),
		sleepFn: SleepCtx,
	}
}

// SetSleepForTesting replaces the sleep function. Tests pass one that
// advances a now.TimeTravelCtx.
func (g *Gateway) SetSleepForTesting(fn func(context.Context, time.Duration) error) {
	g.sleepFn = fn
}

// SleepCtx sleeps for d or until the context is done, whichever comes first.
func SleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// pace blocks until this request is allowed to go out and returns how long it
// waited.
func (g *Gateway) pace(ctx context.Context, host string, p Pacing) (time.Duration, error) {
	if g.limiter != nil {
		start := now.Now(ctx)
		if err := g.limiter.Wait(ctx); err != nil {
			return 0, skerr.Wrap(err)
		}
		return now.Now(ctx).Sub(start), nil
	}

	gap := p.MinGap
	if gap < g.floor {
		gap = g.floor
	}
	if p.Jitter > 0 {
		gap += time.Duration(rand.Float64() * float64(p.Jitter))
	}

	g.mtx.Lock()
	current := now.Now(ctx)
	sendAt := current
	if next, ok := g.nextSend[host]; ok && next.After(current) {
		sendAt = next
	}
	g.nextSend[host] = sendAt.Add(gap)
	g.mtx.Unlock()

	wait := sendAt.Sub(current)
	if err := g.sleepFn(ctx, wait); err != nil {
		return 0, skerr.Wrap(err)
	}
	return wait, nil
}

// Do fetches one URL under the pacing envelope and classifies the response.
// The returned error is non-nil only for context cancellation or malformed
// input; every remote failure mode is expressed through Result.Class.
func (g *Gateway) Do(ctx context.Context, rawURL string, p Pacing) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, skerr.Wrapf(err, "parsing request URL %q", rawURL)
	}
	host := u.Host

	res := &Result{}
	networkAttempts := 0
	rateLimitRetried := false

	// retryTransient sleeps out the retry backoff and reports whether
	// another attempt may be made. When the budget is spent the result
	// becomes NetworkError. The error is non-nil only for cancellation.
	retryTransient := func(reason string) (bool, error) {
		if networkAttempts >= p.NetworkRetries {
			res.Class = NetworkError
			g.count(host, NetworkError)
			return false, nil
		}
		backoff := p.RetryBackoff * (1 << networkAttempts)
		networkAttempts++
		sklog.Warningf("Transient failure fetching %s (%s), retrying in %s.", host, reason, backoff)
		res.RealizedDelay += backoff
		if err := g.sleepFn(ctx, backoff); err != nil {
			return false, skerr.Wrap(err)
		}
		return true, nil
	}

	for {
		// Cancellation is checked before every blocking wait so a cancelled
		// run never starts another request.
		if err := ctx.Err(); err != nil {
			return nil, skerr.Wrap(err)
		}
		waited, err := g.pace(ctx, host, p)
		if err != nil {
			return nil, err
		}
		res.RealizedDelay += waited

		resp, err := g.doRequest(ctx, rawURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, skerr.Wrap(ctx.Err())
			}
			again, rerr := retryTransient(err.Error())
			if rerr != nil || !again {
				return res, rerr
			}
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		util.Close(resp.Body)
		res.StatusCode = resp.StatusCode
		if readErr != nil {
			again, rerr := retryTransient(readErr.Error())
			if rerr != nil || !again {
				return res, rerr
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests && !rateLimitRetried && retryAfter(resp) > 0:
			// Rate limited with an explicit Retry-After: honor it (capped)
			// and retry exactly once.
			rateLimitRetried = true
			wait := util.MinDuration(retryAfter(resp), maxRetryAfter)
			sklog.Warningf("Rate limited by %s, sleeping %s before the single retry.", host, wait)
			res.RealizedDelay += wait
			if err := g.sleepFn(ctx, wait); err != nil {
				return nil, skerr.Wrap(err)
			}
			continue
		case resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode == http.StatusForbidden,
			resp.StatusCode == http.StatusServiceUnavailable:
			res.Class = BlockedOrCaptcha
			g.count(host, res.Class)
			return res, nil
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if g.detectBlock != nil && g.detectBlock(body) {
				res.Class = BlockedOrCaptcha
				g.count(host, res.Class)
				return res, nil
			}
			res.Class = Ok
			res.Body = body
			g.count(host, res.Class)
			return res, nil
		default:
			// 5xx and unexpected 4xx are transient from the walk's point of
			// view: report network_error once the retry budget is spent.
			again, rerr := retryTransient("status " + strconv.Itoa(resp.StatusCode))
			if rerr != nil || !again {
				return res, rerr
			}
			continue
		}
	}
}

// doRequest issues the GET with a browser-plausible accept header.
func (g *Gateway) doRequest(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	return g.client.Do(req)
}

// count bumps the per-host, per-class request counter.
func (g *Gateway) count(host string, c Class) {
	metrics2.GetCounter(requestsMetricName, map[string]string{
		"host":  host,
		"class": c.String(),
	}).Inc(1)
}

// retryAfter parses a Retry-After header given in seconds; 0 when absent or
// unparseable.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
