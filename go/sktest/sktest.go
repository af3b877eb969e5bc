// Package sktest contains the TestingT interface, which is a subset of
// testing.TB that test helpers can depend on without binding themselves to
// the concrete *testing.T type.
package sktest

// TestingT is an interface which is compatible with testing.T and testing.B,
// used so that test helpers do not need to know the difference.
type TestingT interface {
	Cleanup(func())
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fail()
	FailNow()
	Failed() bool
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Helper()
	Log(args ...interface{})
	Logf(format string, args ...interface{})
	Name() string
	Skip(args ...interface{})
	SkipNow()
	Skipf(format string, args ...interface{})
	Skipped() bool
}
