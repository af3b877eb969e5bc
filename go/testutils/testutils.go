// Convenience utilities for testing.
package testutils

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path"
	"runtime"
	"testing"

	"github.com/stretchr/testify/mock"
	assert "github.com/stretchr/testify/require"

	"github.com/scholarr/scholarr/go/sktest"
)

// SkipIfShort causes the test to be skipped when running with -short.
func SkipIfShort(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping test with -short")
	}
}

// TestDataDir returns the path to the caller's testdata directory, which
// is assumed to be "<path to caller dir>/testdata".
func TestDataDir(t sktest.TestingT) string {
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Could not find test data dir: runtime.Caller() failed.")
	}
	for skip := 0; ; skip++ {
		_, file, _, ok := runtime.Caller(skip)
		if !ok {
			t.Fatal("Could not find test data dir: runtime.Caller() failed.")
		}
		if file != thisFile {
			return path.Join(path.Dir(file), "testdata")
		}
	}
}

// TestDataFilename returns the path of a file in the caller's testdata
// directory.
func TestDataFilename(t sktest.TestingT, filename string) string {
	return path.Join(TestDataDir(t), filename)
}

func readFile(t sktest.TestingT, filename string) io.Reader {
	f, err := os.Open(path.Join(TestDataDir(t), filename))
	if err != nil {
		t.Fatalf("Could not read %s: %v", filename, err)
	}
	return f
}

// ReadFile reads a file from the caller's testdata directory.
func ReadFile(t sktest.TestingT, filename string) string {
	b, err := io.ReadAll(readFile(t, filename))
	if err != nil {
		t.Fatalf("Could not read %s: %v", filename, err)
	}
	return string(b)
}

// ReadJSONFile reads a JSON file from the caller's testdata directory into the
// given interface.
func ReadJSONFile(t sktest.TestingT, filename string, dest interface{}) {
	err := json.NewDecoder(readFile(t, filename)).Decode(dest)
	if err != nil {
		t.Fatalf("Could not decode %s: %v", filename, err)
	}
}

// WriteFile writes the given contents to the given file path, reporting any
// error.
func WriteFile(t sktest.TestingT, filename, contents string) {
	if err := os.WriteFile(filename, []byte(contents), 0644); err != nil {
		t.Fatalf("Could not write %s: %v", filename, err)
	}
}

// CloseInTest takes an io.Closer and Closes it, reporting any error.
func CloseInTest(t sktest.TestingT, c io.Closer) {
	if err := c.Close(); err != nil {
		t.Errorf("Failed to Close(): %v", err)
	}
}

// AssertCloses takes an io.Closer and asserts that it closes.
func AssertCloses(t sktest.TestingT, c io.Closer) {
	assert.NoError(t, c.Close())
}

// Remove attempts to remove the given file and asserts that no error is returned.
func Remove(t sktest.TestingT, fp string) {
	assert.NoError(t, os.Remove(fp))
}

// RemoveAll attempts to remove the given directory and asserts that no error is returned.
func RemoveAll(t sktest.TestingT, fp string) {
	assert.NoError(t, os.RemoveAll(fp))
}

// AnyContext can be used in place of mock.Anything when an argument is a
// context.Context, e.g.
//
//	m.On("SomethingWithContext", testutils.AnyContext).Return(...)
var AnyContext = mock.MatchedBy(func(c context.Context) bool {
	// If the passed in parameter does not implement the context.Context
	// interface, the wrapping MatchedBy will panic, so we can simply return
	// true.
	return true
})
