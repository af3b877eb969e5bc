// Package sklog defines the logging functions (e.g. Info, Errorf, etc.) used
// across the codebase. The backing implementation is pluggable via
// sklogimpl.SetLogger.
package sklog

import (
	"os"

	"github.com/scholarr/scholarr/go/sklog/sklogimpl"
	"github.com/scholarr/scholarr/go/sklog/stdlogging"
)

// SetLogger must run in an init function so early log calls don't hit a nil
// implementation.
func init() {
	sklogimpl.SetLogger(stdlogging.New(os.Stderr))
}

// Debug, Info, Warning, Error, and Fatal use fmt.Sprint to format the
// arguments, the f variants use fmt.Sprintf. The WithDepth variants report
// the stacktrace starting the given number of frames above the caller.
// Fatal* flushes and exits the program after logging.

func Debug(msg ...interface{}) {
	sklogimpl.Log(1, sklogimpl.Debug, "", msg...)
}

func Debugf(format string, v ...interface{}) {
	sklogimpl.Log(1, sklogimpl.Debug, format, v...)
}

func Info(msg ...interface{}) {
	sklogimpl.Log(1, sklogimpl.Info, "", msg...)
}

func Infof(format string, v ...interface{}) {
	sklogimpl.Log(1, sklogimpl.Info, format, v...)
}

func InfofWithDepth(depth int, format string, v ...interface{}) {
	sklogimpl.Log(1+depth, sklogimpl.Info, format, v...)
}

func Warning(msg ...interface{}) {
	sklogimpl.Log(1, sklogimpl.Warning, "", msg...)
}

func Warningf(format string, v ...interface{}) {
	sklogimpl.Log(1, sklogimpl.Warning, format, v...)
}

func Error(msg ...interface{}) {
	sklogimpl.Log(1, sklogimpl.Error, "", msg...)
}

func Errorf(format string, v ...interface{}) {
	sklogimpl.Log(1, sklogimpl.Error, format, v...)
}

func ErrorfWithDepth(depth int, format string, v ...interface{}) {
	sklogimpl.Log(1+depth, sklogimpl.Error, format, v...)
}

func Fatal(msg ...interface{}) {
	sklogimpl.Log(1, sklogimpl.Fatal, "", msg...)
}

func Fatalf(format string, v ...interface{}) {
	sklogimpl.Log(1, sklogimpl.Fatal, format, v...)
}

func Flush() {
	sklogimpl.Flush()
}
