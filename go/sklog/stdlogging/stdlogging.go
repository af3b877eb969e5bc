// Package stdlogging implements sklogimpl.Logger and logs to either stderr or
// stdout via github.com/jcgregorio/logger.
package stdlogging

import (
	logger "github.com/jcgregorio/logger"

	"github.com/scholarr/scholarr/go/sklog/sklogimpl"
)

type stdlog struct {
	logger *logger.Logger
}

// New returns a sklogimpl.Logger that writes to a SyncWriter, such as
// os.Stdout or os.Stderr.
func New(dst logger.SyncWriter) sklogimpl.Logger {
	// DepthDelta covers the sklog -> sklogimpl -> stdlog hops so reported
	// callsites point at the original caller.
	l := logger.NewFromOptions(&logger.Options{
		SyncWriter:   dst,
		DepthDelta:   3,
		IncludeDebug: true,
	})
	return &stdlog{
		logger: l,
	}
}

// Log implements sklogimpl.Logger.
func (s stdlog) Log(_ int, severity sklogimpl.Severity, format string, args ...interface{}) {
	switch severity {
	case sklogimpl.Debug:
		if format == "" {
			s.logger.Debug(args...)
		} else {
			s.logger.Debugf(format, args...)
		}
	case sklogimpl.Info:
		if format == "" {
			s.logger.Info(args...)
		} else {
			s.logger.Infof(format, args...)
		}
	case sklogimpl.Warning:
		if format == "" {
			s.logger.Warning(args...)
		} else {
			s.logger.Warningf(format, args...)
		}
	case sklogimpl.Error:
		if format == "" {
			s.logger.Error(args...)
		} else {
			s.logger.Errorf(format, args...)
		}
	case sklogimpl.Fatal:
		if format == "" {
			s.logger.Fatal(args...)
		} else {
			s.logger.Fatalf(format, args...)
		}
	default:
		s.logger.Errorf(format, args...)
	}
}

// Flush implements sklogimpl.Logger.
func (s stdlog) Flush() {
	// The underlying logger writes synchronously.
}
