package metrics2

import (
	"time"
)

const (
	measurementTimer = "timer"
)

// timer implements the Timer interface. The elapsed time is reported in
// nanoseconds to a Float64SummaryMetric when Stop is called.
type timer struct {
	begin time.Time
	m     Float64SummaryMetric
}

// newTimer creates and starts a new Timer using the given Client.
func newTimer(c Client, name string, tagsList ...map[string]string) Timer {
	// Add the name to the tags.
	tags := map[string]string{"name": name}
	for _, t := range tagsList {
		for k, v := range t {
			tags[k] = v
		}
	}
	t := &timer{
		m: c.GetFloat64SummaryMetric(measurementTimer+"_ns", tags),
	}
	t.Start()
	return t
}

// Start implements the Timer interface.
func (t *timer) Start() {
	t.begin = time.Now()
}

// Stop implements the Timer interface.
func (t *timer) Stop() time.Duration {
	elapsed := time.Since(t.begin)
	t.m.Observe(float64(elapsed.Nanoseconds()))
	return elapsed
}

// FuncTimer is a convenience wrapper around NewTimer for timing a whole
// function:
//
//	func f() {
//	    defer metrics2.FuncTimer().Stop()
//	    ...
//	}
func FuncTimer() Timer {
	return NewTimer("func_timer")
}

var _ Timer = (*timer)(nil)
