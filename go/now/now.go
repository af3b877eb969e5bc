// Package now provides a function to return the current time that is
// also easily overridden for testing.
package now

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type contextKeyType string

// ContextKey is used by tests to make the time deterministic. A test can
// store either a fixed time.Time or a NowProvider under this key:
//
//	ctx = context.WithValue(ctx, now.ContextKey, time.Unix(0, 12).UTC())
//
// The stored NowProvider is evaluated on every Now call with that context.
const ContextKey contextKeyType = "overwriteNow"

// NowProvider is a function whose return value is used as the current time.
// It must be threadsafe if the context is shared across goroutines. Tests
// that need the time to move should use TimeTravelingContext instead of
// providing their own.
type NowProvider func() time.Time

// Now returns the current time, or the time planted in the context.
func Now(ctx context.Context) time.Time {
	if ts := ctx.Value(ContextKey); ts != nil {
		switch v := ts.(type) {
		case NowProvider:
			return v()
		case time.Time:
			return v
		default:
			panic(fmt.Sprintf("Unknown value for ContextKey: %v", v))
		}
	}
	return time.Now()
}

// TimeTravelCtx is a context.Context whose apparent time can be moved by the
// test holding it:
//
//	ctx := now.TimeTravelingContext(tsOne)
//	first := doThing(ctx)
//	ctx.SetTime(tsOne.Add(2 * time.Minute))
//	second := doThing(ctx)
type TimeTravelCtx struct {
	context.Context

	mutex sync.RWMutex
	ts    time.Time
}

// TimeTravelingContext returns a *TimeTravelCtx over the background context,
// starting at the given time.
func TimeTravelingContext(start time.Time) *TimeTravelCtx {
	t := &TimeTravelCtx{
		ts: start,
	}
	t.Context = context.WithValue(context.Background(), ContextKey, NowProvider(t.now))
	return t
}

// now is a threadsafe NowProvider.
func (t *TimeTravelCtx) now() time.Time {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.ts
}

// SetTime updates the time returned by the embedded context's NowProvider.
// Threadsafe.
func (t *TimeTravelCtx) SetTime(newTime time.Time) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.ts = newTime
}

// Advance moves the apparent time forward by d and returns the new value.
// Threadsafe.
func (t *TimeTravelCtx) Advance(d time.Duration) time.Time {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.ts = t.ts.Add(d)
	return t.ts
}

// WithContext replaces the embedded context with one derived from the passed
// in context, keeping the traveling clock. Threadsafe, but tests should
// strive to use it from a single goroutine.
func (t *TimeTravelCtx) WithContext(ctx context.Context) *TimeTravelCtx {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.Context = context.WithValue(ctx, ContextKey, NowProvider(t.now))
	return t
}
