package metrics2

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scholarr/scholarr/go/sklog"
)

// invalidChar is used to force metric and tag names to conform to
// Prometheus's restrictions.
var invalidChar = regexp.MustCompile("([^a-zA-Z0-9_:])")

func clean(s string) string {
	return invalidChar.ReplaceAllLiteralString(s, "_")
}

// promInt64 implements the Int64Metric interface.
type promInt64 struct {
	// i tracks the value of the gauge, because the prometheus client lib
	// doesn't support reading Gauge values back.
	i     int64
	gauge prometheus.Gauge

	// deleteFn removes the metric from the GaugeVec and the client cache.
	deleteFn func()
}

func (m *promInt64) Get() int64 {
	return atomic.LoadInt64(&(m.i))
}

func (m *promInt64) Update(v int64) {
	atomic.StoreInt64(&(m.i), v)
	m.gauge.Set(float64(v))
}

func (m *promInt64) Delete() error {
	m.deleteFn()
	return nil
}

// promFloat64 implements the Float64Metric interface.
type promFloat64 struct {
	mutex sync.Mutex
	i     float64
	gauge prometheus.Gauge

	// deleteFn removes the metric from the GaugeVec and the client cache.
	deleteFn func()
}

func (m *promFloat64) Get() float64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.i
}

func (m *promFloat64) Update(v float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.i = v
	m.gauge.Set(v)
}

func (m *promFloat64) Delete() error {
	m.deleteFn()
	return nil
}

// promFloat64Summary implements the Float64SummaryMetric interface.
type promFloat64Summary struct {
	summary prometheus.Observer
}

func (m *promFloat64Summary) Observe(v float64) {
	m.summary.Observe(v)
}

// promCounter implements the Counter interface.
type promCounter struct {
	*promInt64
}

func (pc *promCounter) Inc(i int64) {
	pc.Update(pc.Get() + i)
}

func (pc *promCounter) Dec(i int64) {
	pc.Update(pc.Get() - i)
}

func (pc *promCounter) Reset() {
	pc.Update(0)
}

// promClient implements the Client interface.
type promClient struct {
	int64GaugeVecs map[string]*prometheus.GaugeVec
	int64Gauges    map[string]*promInt64
	int64Mutex     sync.Mutex

	float64GaugeVecs map[string]*prometheus.GaugeVec
	float64Gauges    map[string]*promFloat64
	float64Mutex     sync.Mutex

	float64SummaryVecs  map[string]*prometheus.SummaryVec
	float64Summaries    map[string]*promFloat64Summary
	float64SummaryMutex sync.Mutex
}

func newPromClient() *promClient {
	return &promClient{
		int64GaugeVecs:     map[string]*prometheus.GaugeVec{},
		int64Gauges:        map[string]*promInt64{},
		float64GaugeVecs:   map[string]*prometheus.GaugeVec{},
		float64Gauges:      map[string]*promFloat64{},
		float64SummaryVecs: map[string]*prometheus.SummaryVec{},
		float64Summaries:   map[string]*promFloat64Summary{},
	}
}

// commonGet does the common work for each of the Get* funcs. It returns:
//
//	measurement - a clean measurement name.
//	cleanTags   - a clean set of tags.
//	keys        - the keys of cleanTags, sorted.
//	metricKey   - a name uniquely identifying the metric.
//	vecKey      - a name uniquely identifying the collection of metrics.
func (p *promClient) commonGet(measurement string, tagsList ...map[string]string) (string, map[string]string, []string, string, string) {
	measurement = clean(measurement)

	// Merge all tags and make the label keys safe.
	cleanTags := map[string]string{}
	keys := []string{}
	for _, tags := range tagsList {
		for k, v := range tags {
			key := clean(k)
			if _, ok := cleanTags[key]; !ok {
				keys = append(keys, key)
			}
			cleanTags[key] = v
		}
	}
	sort.Strings(keys)

	metricKeySrc := []string{measurement}
	for _, key := range keys {
		metricKeySrc = append(metricKeySrc, key, cleanTags[key])
	}
	metricKey := strings.Join(metricKeySrc, "-")
	vecKey := fmt.Sprintf("%s %v", measurement, keys)

	return measurement, cleanTags, keys, metricKey, vecKey
}

func (p *promClient) GetInt64Metric(name string, tagsList ...map[string]string) Int64Metric {
	measurement, cleanTags, keys, metricKey, vecKey := p.commonGet(name, tagsList...)

	p.int64Mutex.Lock()
	defer p.int64Mutex.Unlock()
	if ret, ok := p.int64Gauges[metricKey]; ok {
		return ret
	}

	gaugeVec, ok := p.int64GaugeVecs[vecKey]
	if !ok {
		gaugeVec = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: measurement,
				Help: measurement,
			},
			keys,
		)
		if err := prometheus.Register(gaugeVec); err != nil {
			sklog.Fatalf("Failed to register %q: %s", measurement, err)
		}
		p.int64GaugeVecs[vecKey] = gaugeVec
	}
	gauge, err := gaugeVec.GetMetricWith(prometheus.Labels(cleanTags))
	if err != nil {
		sklog.Fatalf("Failed to get gauge: %s", err)
	}
	ret := &promInt64{
		gauge: gauge,
		deleteFn: func() {
			p.int64Mutex.Lock()
			defer p.int64Mutex.Unlock()
			gaugeVec.Delete(prometheus.Labels(cleanTags))
			delete(p.int64Gauges, metricKey)
		},
	}
	p.int64Gauges[metricKey] = ret
	return ret
}

func (p *promClient) GetCounter(name string, tagsList ...map[string]string) Counter {
	i64 := p.GetInt64Metric(name, tagsList...)
	return &promCounter{
		promInt64: i64.(*promInt64),
	}
}

func (p *promClient) GetFloat64Metric(name string, tagsList ...map[string]string) Float64Metric {
	measurement, cleanTags, keys, metricKey, vecKey := p.commonGet(name, tagsList...)

	p.float64Mutex.Lock()
	defer p.float64Mutex.Unlock()
	if ret, ok := p.float64Gauges[metricKey]; ok {
		return ret
	}

	gaugeVec, ok := p.float64GaugeVecs[vecKey]
	if !ok {
		gaugeVec = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: measurement,
				Help: measurement,
			},
			keys,
		)
		if err := prometheus.Register(gaugeVec); err != nil {
			sklog.Fatalf("Failed to register %q: %s", measurement, err)
		}
		p.float64GaugeVecs[vecKey] = gaugeVec
	}
	gauge, err := gaugeVec.GetMetricWith(prometheus.Labels(cleanTags))
	if err != nil {
		sklog.Fatalf("Failed to get gauge: %s", err)
	}
	ret := &promFloat64{
		gauge: gauge,
		deleteFn: func() {
			p.float64Mutex.Lock()
			defer p.float64Mutex.Unlock()
			gaugeVec.Delete(prometheus.Labels(cleanTags))
			delete(p.float64Gauges, metricKey)
		},
	}
	p.float64Gauges[metricKey] = ret
	return ret
}

func (p *promClient) GetFloat64SummaryMetric(name string, tagsList ...map[string]string) Float64SummaryMetric {
	measurement, cleanTags, keys, summaryKey, vecKey := p.commonGet(name, tagsList...)

	p.float64SummaryMutex.Lock()
	defer p.float64SummaryMutex.Unlock()
	if ret, ok := p.float64Summaries[summaryKey]; ok {
		return ret
	}

	summaryVec, ok := p.float64SummaryVecs[vecKey]
	if !ok {
		summaryVec = prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name:       measurement,
				Help:       measurement,
				Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
			},
			keys,
		)
		if err := prometheus.Register(summaryVec); err != nil {
			sklog.Fatalf("Failed to register %q %v: %s", measurement, cleanTags, err)
		}
		p.float64SummaryVecs[vecKey] = summaryVec
	}
	summary, err := summaryVec.GetMetricWith(prometheus.Labels(cleanTags))
	if err != nil {
		sklog.Fatalf("Failed to get summary: %s", err)
	}
	ret := &promFloat64Summary{
		summary: summary,
	}
	p.float64Summaries[summaryKey] = ret
	return ret
}

func (p *promClient) Flush() error {
	// Prometheus is pull-based; nothing to push.
	return nil
}

func (p *promClient) NewLiveness(name string, tagsList ...map[string]string) Liveness {
	return newLiveness(p, name, tagsList...)
}

func (p *promClient) NewTimer(name string, tagsList ...map[string]string) Timer {
	return newTimer(p, name, tagsList...)
}

// Validate that the concrete structs faithfully implement their respective interfaces.
var _ Int64Metric = (*promInt64)(nil)
var _ Float64Metric = (*promFloat64)(nil)
var _ Float64SummaryMetric = (*promFloat64Summary)(nil)
var _ Counter = (*promCounter)(nil)
var _ Client = (*promClient)(nil)
