package now

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNow_ConstValue_Success(t *testing.T) {
	var mockTime = time.Unix(12, 11).UTC()
	backgroundCtx := context.Background()
	ctx := context.WithValue(backgroundCtx, ContextKey, mockTime)

	require.NotEqual(t, mockTime, Now(backgroundCtx))
	require.Equal(t, mockTime, Now(ctx))
}

func TestNow_NowProvider_EvaluatedEveryCall(t *testing.T) {
	var ticks int64
	provider := func() time.Time {
		ticks++
		return time.Unix(ticks, 0).UTC()
	}
	ctx := context.WithValue(context.Background(), ContextKey, NowProvider(provider))

	require.Equal(t, time.Unix(1, 0).UTC(), Now(ctx))
	require.Equal(t, time.Unix(2, 0).UTC(), Now(ctx))
}

func TestNow_UnknownValueType_Panics(t *testing.T) {
	ctx := context.WithValue(context.Background(), ContextKey, "not a time")
	require.Panics(t, func() {
		Now(ctx)
	})
}

func TestTimeTravelingContext_SetTimeMovesClock(t *testing.T) {
	start := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	ctx := TimeTravelingContext(start)
	require.Equal(t, start, Now(ctx))

	later := start.Add(2 * time.Minute)
	ctx.SetTime(later)
	require.Equal(t, later, Now(ctx))
}

func TestTimeTravelingContext_AdvanceAccumulates(t *testing.T) {
	start := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	ctx := TimeTravelingContext(start)
	ctx.Advance(time.Minute)
	ctx.Advance(30 * time.Second)
	require.Equal(t, start.Add(90*time.Second), Now(ctx))
}

func TestTimeTravelingContext_WithContext_KeepsClock(t *testing.T) {
	start := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	ctx := TimeTravelingContext(start)

	type testKey string
	derived := ctx.WithContext(context.WithValue(context.Background(), testKey("k"), "v"))
	require.Equal(t, start, Now(derived))
	require.Equal(t, "v", derived.Value(testKey("k")))
}
