package gateway

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scholarr/scholarr/go/now"
)

// newTimeTravelGateway returns a gateway whose sleeps advance a fake clock
// instead of blocking, plus the clock itself and a pointer to the total
// slept duration.
func newTimeTravelGateway(t *testing.T, floor time.Duration, detectBlock func([]byte) bool) (*Gateway, *now.TimeTravelCtx, *time.Duration) {
	ctx := now.TimeTravelingContext(time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC))
	g := New(http.DefaultClient, floor, detectBlock)
	slept := new(time.Duration)
	g.SetSleepForTesting(func(_ context.Context, d time.Duration) error {
		if d > 0 {
			*slept += d
			ctx.Advance(d)
		}
		return nil
	})
	return g, ctx, slept
}

func TestDo_SuccessfulFetch_ReturnsOkWithBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := w.Write([]byte("profile page"))
		require.NoError(t, err)
	}))
	defer ts.Close()

	g, ctx, _ := newTimeTravelGateway(t, 0, nil)
	res, err := g.Do(ctx, ts.URL, Pacing{})
	require.NoError(t, err)
	require.Equal(t, Ok, res.Class)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, []byte("profile page"), res.Body)
}

func TestDo_ConsecutiveRequestsToSameHost_WaitOutTheMinimumGap(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	g, ctx, slept := newTimeTravelGateway(t, 0, nil)
	p := Pacing{MinGap: 10 * time.Second}

	first, err := g.Do(ctx, ts.URL, p)
	require.NoError(t, err)
	require.Equal(t, Ok, first.Class)
	require.Equal(t, time.Duration(0), first.RealizedDelay)

	second, err := g.Do(ctx, ts.URL, p)
	require.NoError(t, err)
	require.Equal(t, Ok, second.Class)
	require.Equal(t, 10*time.Second, second.RealizedDelay)
	require.Equal(t, 10*time.Second, *slept)
}

func TestDo_CallerGapBelowFloor_FloorWins(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	g, ctx, _ := newTimeTravelGateway(t, 30*time.Second, nil)

	_, err := g.Do(ctx, ts.URL, Pacing{MinGap: time.Second})
	require.NoError(t, err)
	second, err := g.Do(ctx, ts.URL, Pacing{MinGap: time.Second})
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, second.RealizedDelay)
}

func TestDo_JitterAddsToTheGapOnly(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	g, ctx, _ := newTimeTravelGateway(t, 0, nil)
	p := Pacing{MinGap: 10 * time.Second, Jitter: 5 * time.Second}

	_, err := g.Do(ctx, ts.URL, p)
	require.NoError(t, err)
	second, err := g.Do(ctx, ts.URL, p)
	require.NoError(t, err)
	require.GreaterOrEqual(t, second.RealizedDelay, 10*time.Second)
	require.Less(t, second.RealizedDelay, 15*time.Second)
}

func TestDo_BlockingStatusCodes_ClassifiedWithoutRetry(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusForbidden, http.StatusServiceUnavailable} {
		var hits int64
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt64(&hits, 1)
			w.WriteHeader(status)
		}))

		g, ctx, _ := newTimeTravelGateway(t, 0, nil)
		res, err := g.Do(ctx, ts.URL, Pacing{NetworkRetries: 3, RetryBackoff: time.Second})
		require.NoError(t, err)
		require.Equal(t, BlockedOrCaptcha, res.Class)
		require.Equal(t, status, res.StatusCode)
		require.Equal(t, int64(1), atomic.LoadInt64(&hits), "status %d must not be retried", status)
		ts.Close()
	}
}

func TestDo_ChallengePageWithSuccessStatus_ClassifiedAsBlocked(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := w.Write([]byte(`<div id="gs_captcha_c">prove you are human</div>`))
		require.NoError(t, err)
	}))
	defer ts.Close()

	detect := func(body []byte) bool { return bytes.Contains(body, []byte("gs_captcha")) }
	g, ctx, _ := newTimeTravelGateway(t, 0, detect)
	res, err := g.Do(ctx, ts.URL, Pacing{})
	require.NoError(t, err)
	require.Equal(t, BlockedOrCaptcha, res.Class)
	require.Nil(t, res.Body)
}

func TestDo_RateLimitedWithRetryAfter_RetriesExactlyOnce(t *testing.T) {
	var hits int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, err := w.Write([]byte("recovered"))
		require.NoError(t, err)
	}))
	defer ts.Close()

	g, ctx, slept := newTimeTravelGateway(t, 0, nil)
	res, err := g.Do(ctx, ts.URL, Pacing{})
	require.NoError(t, err)
	require.Equal(t, Ok, res.Class)
	require.Equal(t, []byte("recovered"), res.Body)
	require.Equal(t, int64(2), atomic.LoadInt64(&hits))
	require.Equal(t, 7*time.Second, *slept)
}

func TestDo_RateLimitedTwice_SecondResponseIsBlocked(t *testing.T) {
	var hits int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	g, ctx, _ := newTimeTravelGateway(t, 0, nil)
	res, err := g.Do(ctx, ts.URL, Pacing{})
	require.NoError(t, err)
	require.Equal(t, BlockedOrCaptcha, res.Class)
	require.Equal(t, int64(2), atomic.LoadInt64(&hits))
}

func TestDo_TransientServerErrors_RetriedWithExponentialBackoff(t *testing.T) {
	var hits int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	g, ctx, slept := newTimeTravelGateway(t, 0, nil)
	res, err := g.Do(ctx, ts.URL, Pacing{NetworkRetries: 2, RetryBackoff: time.Second})
	require.NoError(t, err)
	require.Equal(t, Ok, res.Class)
	require.Equal(t, int64(3), atomic.LoadInt64(&hits))
	// 1s after the first failure, 2s after the second.
	require.Equal(t, 3*time.Second, *slept)
}

func TestDo_RetryBudgetExhausted_ReportsNetworkError(t *testing.T) {
	var hits int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	g, ctx, _ := newTimeTravelGateway(t, 0, nil)
	res, err := g.Do(ctx, ts.URL, Pacing{NetworkRetries: 1, RetryBackoff: time.Second})
	require.NoError(t, err)
	require.Equal(t, NetworkError, res.Class)
	require.Equal(t, http.StatusBadGateway, res.StatusCode)
	require.Equal(t, int64(2), atomic.LoadInt64(&hits))
}

func TestDo_UnreachableHost_ReportsNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	g, ctx, _ := newTimeTravelGateway(t, 0, nil)
	res, err := g.Do(ctx, url, Pacing{})
	require.NoError(t, err)
	require.Equal(t, NetworkError, res.Class)
}

func TestDo_CancelledContext_ReturnsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	g := New(http.DefaultClient, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Do(ctx, ts.URL, Pacing{})
	require.Error(t, err)
}

func TestNewWithLimiter_FetchStillClassifies(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := w.Write([]byte(`{"ok":true}`))
		require.NoError(t, err)
	}))
	defer ts.Close()

	g := NewWithLimiter(http.DefaultClient, 100)
	res, err := g.Do(context.Background(), ts.URL, Pacing{})
	require.NoError(t, err)
	require.Equal(t, Ok, res.Class)
	require.Equal(t, []byte(`{"ok":true}`), res.Body)
}
