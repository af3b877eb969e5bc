// Package sklogimpl defines the interface for the logging implementation used
// by sklog. Applications pick an implementation by calling SetLogger, which
// sklog does in its init with a sane default.
package sklogimpl

import (
	"sync/atomic"
)

// Severity of a log line.
type Severity int

const (
	Debug Severity = iota
	Info
	Warning
	Error
	Fatal
)

// String returns the lowercase name of the severity.
func (s Severity) String() string {
	switch s {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

// Logger is implemented by logging backends. Log emits a single log line.
// depth is the number of stack frames between the Log call and the callsite
// to report. format may be empty, in which case args are formatted as
// fmt.Sprint does. A Fatal severity line must terminate the process after
// flushing.
type Logger interface {
	Log(depth int, severity Severity, format string, args ...interface{})
	Flush()
}

var logger atomic.Value

// SetLogger changes the package to use the given Logger. Must be called
// before any logging happens, typically from an init.
func SetLogger(l Logger) {
	logger.Store(&l)
}

// Log forwards to the configured Logger. depth counts the frames between the
// original caller and this call.
func Log(depth int, severity Severity, format string, args ...interface{}) {
	(*logger.Load().(*Logger)).Log(depth+1, severity, format, args...)
}

// Flush flushes any buffered log lines.
func Flush() {
	(*logger.Load().(*Logger)).Flush()
}
