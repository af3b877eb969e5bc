// Package metrics2 provides counters, gauges, livenesses, and timers backed
// by Prometheus. Metrics are identified by a measurement name plus a set of
// tags which become Prometheus labels.
package metrics2

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scholarr/scholarr/go/sklog"
)

// Int64Metric is a gauge with an int64 value.
type Int64Metric interface {
	// Delete removes the metric from its client's registry.
	Delete() error

	// Get returns the current value of the metric.
	Get() int64

	// Update sets the current value of the metric.
	Update(v int64)
}

// Float64Metric is a gauge with a float64 value.
type Float64Metric interface {
	// Delete removes the metric from its client's registry.
	Delete() error

	// Get returns the current value of the metric.
	Get() float64

	// Update sets the current value of the metric.
	Update(v float64)
}

// Float64SummaryMetric is a metric that records a summary (count, sum,
// quantiles) of observed float64 values.
type Float64SummaryMetric interface {
	// Observe adds a single observation.
	Observe(v float64)
}

// Counter is a metric that counts things, i.e. an Int64Metric with
// increment/decrement semantics.
type Counter interface {
	// Dec decrements the counter by the given quantity.
	Dec(i int64)

	// Delete removes the counter from its client's registry.
	Delete() error

	// Get returns the current value of the counter.
	Get() int64

	// Inc increments the counter by the given quantity.
	Inc(i int64)

	// Reset sets the counter to zero.
	Reset()
}

// Liveness keeps a time-since-last-successful-update metric, in seconds. It
// is used to keep track of periodic processes to make sure they are running
// successfully; every liveness metric should have a corresponding alert that
// fires when the value gets too large.
type Liveness interface {
	// Close stops the metric's update goroutine.
	Close()

	// Get returns the current value of the liveness, in seconds.
	Get() int64

	// ManualReset sets the last-successful-update time to a specific value.
	ManualReset(lastSuccessfulUpdate time.Time)

	// Reset should be called when some work has been successfully completed.
	Reset()
}

// Timer measures elapsed time. Unlike the other metric helpers, Timer does
// not continuously report data; a single data point is reported when Stop()
// is called.
type Timer interface {
	// Start (re)starts the timer.
	Start()

	// Stop stops the timer, reports the elapsed time, and returns it.
	Stop() time.Duration
}

// Client wraps all metric constructors.
type Client interface {
	// Flush pushes any locally buffered data; no-op for Prometheus.
	Flush() error

	// GetCounter returns a Counter with the given name and tags.
	GetCounter(name string, tagsList ...map[string]string) Counter

	// GetFloat64Metric returns a Float64Metric with the given name and tags.
	GetFloat64Metric(name string, tagsList ...map[string]string) Float64Metric

	// GetFloat64SummaryMetric returns a Float64SummaryMetric with the given
	// name and tags.
	GetFloat64SummaryMetric(name string, tagsList ...map[string]string) Float64SummaryMetric

	// GetInt64Metric returns an Int64Metric with the given name and tags.
	GetInt64Metric(name string, tagsList ...map[string]string) Int64Metric

	// NewLiveness creates a new Liveness with the given name and tags.
	NewLiveness(name string, tagsList ...map[string]string) Liveness

	// NewTimer creates and starts a new Timer with the given name and tags.
	NewTimer(name string, tagsList ...map[string]string) Timer
}

var defaultClient Client = newPromClient()

// GetDefaultClient returns the default Client.
func GetDefaultClient() Client {
	return defaultClient
}

// GetCounter returns a Counter using the default client.
func GetCounter(name string, tagsList ...map[string]string) Counter {
	return defaultClient.GetCounter(name, tagsList...)
}

// GetFloat64Metric returns a Float64Metric using the default client.
func GetFloat64Metric(name string, tagsList ...map[string]string) Float64Metric {
	return defaultClient.GetFloat64Metric(name, tagsList...)
}

// GetFloat64SummaryMetric returns a Float64SummaryMetric using the default
// client.
func GetFloat64SummaryMetric(name string, tagsList ...map[string]string) Float64SummaryMetric {
	return defaultClient.GetFloat64SummaryMetric(name, tagsList...)
}

// GetInt64Metric returns an Int64Metric using the default client.
func GetInt64Metric(name string, tagsList ...map[string]string) Int64Metric {
	return defaultClient.GetInt64Metric(name, tagsList...)
}

// NewLiveness creates a new Liveness using the default client.
func NewLiveness(name string, tagsList ...map[string]string) Liveness {
	return defaultClient.NewLiveness(name, tagsList...)
}

// NewTimer creates and starts a new Timer using the default client.
func NewTimer(name string, tagsList ...map[string]string) Timer {
	return defaultClient.NewTimer(name, tagsList...)
}

// Flush flushes the default client; no-op for Prometheus.
func Flush() {
	if err := defaultClient.Flush(); err != nil {
		sklog.Errorf("Failed to flush metrics: %s", err)
	}
}

// InitPrometheus registers the Prometheus metrics handler and serves it on
// the given port, e.g. ":20000". Goes hand in hand with the
// blackbox-exporter style scrape config pointing at /metrics.
func InitPrometheus(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		sklog.Fatal(http.ListenAndServe(port, mux))
	}()
}
