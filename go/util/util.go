package util

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/scholarr/scholarr/go/sklog"
)

// ErrInvalidChunkSize is returned by ChunkIter for chunk sizes below 1.
var ErrInvalidChunkSize = errors.New("chunk size may not be less than 1")

// In returns true if |s| is *in* |a| slice.
func In(s string, a []string) bool {
	for _, x := range a {
		if x == s {
			return true
		}
	}
	return false
}

// MaxInt returns the largest integer of the arguments provided.
func MaxInt(intList ...int) int {
	ret := intList[0]
	for _, i := range intList[1:] {
		if i > ret {
			ret = i
		}
	}
	return ret
}

// MinInt returns the smaller of a and b.
func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// MinDuration returns the smaller of a and b.
func MinDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// Truncate returns the given string, shortened to at most length characters
// with "..." appended when it had to cut.
func Truncate(s string, length int) string {
	if len(s) > length {
		ellipses := "..."
		if length <= len(ellipses) {
			return s[:length]
		}
		return s[:length-len(ellipses)] + ellipses
	}
	return s
}

// Close wraps an io.Closer and logs an error if one is returned.
func Close(c io.Closer) {
	if err := c.Close(); err != nil {
		sklog.ErrorfWithDepth(1, "Failed to Close(): %v", err)
	}
}

// LogErr logs err if it's not nil. This is intended to be used for calls
// where generally a returned error can be ignored.
func LogErr(err error) {
	if err != nil {
		sklog.ErrorfWithDepth(1, "Unhandled error: %s", err)
	}
}

// WithReadFile opens the given file for reading and runs the given function.
func WithReadFile(file string, fn func(f io.Reader) error) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer Close(f)
	return fn(f)
}

// Repeat calls the provided function 'fn' immediately and then in intervals
// defined by 'interval'. If anything is sent on the provided stop channel,
// the iteration stops.
func Repeat(interval time.Duration, stopCh <-chan bool, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	fn()
MainLoop:
	for {
		select {
		case <-stopCh:
			break MainLoop
		case <-ticker.C:
			fn()
		}
	}
}

// RepeatCtx calls the provided function 'fn' immediately and then in
// intervals defined by 'interval'. If the given context is canceled, the
// iteration stops.
func RepeatCtx(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	done := ctx.Done()
	fn(ctx)
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// ChunkIter iterates over a slice in chunks of smaller slices.
func ChunkIter(length, chunkSize int, fn func(startIdx, endIdx int) error) error {
	if chunkSize < 1 {
		return ErrInvalidChunkSize
	}
	chunkStart := 0
	chunkEnd := MinInt(length, chunkSize)
	for {
		if err := fn(chunkStart, chunkEnd); err != nil {
			return err
		}
		if chunkEnd == length {
			return nil
		}
		chunkStart = chunkEnd
		chunkEnd = MinInt(length, chunkEnd+chunkSize)
	}
}
