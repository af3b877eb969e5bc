package metrics2

import (
	"sync"
	"time"
)

const (
	measurementLiveness = "liveness"
	livenessUpdateFreq  = time.Second
)

// liveness implements the Liveness interface.
type liveness struct {
	lastSuccessfulUpdate time.Time
	m                    Int64Metric
	mtx                  sync.Mutex
	stopCh               chan struct{}
	stopOnce             sync.Once
}

// newLiveness creates a new Liveness using the given Client. The reported
// value is refreshed once per second in the background until Close is called.
func newLiveness(c Client, name string, tagsList ...map[string]string) Liveness {
	// Add the name to the tags.
	tags := map[string]string{"name": name}
	for _, t := range tagsList {
		for k, v := range t {
			tags[k] = v
		}
	}
	l := &liveness{
		lastSuccessfulUpdate: time.Now(),
		m:                    c.GetInt64Metric(measurementLiveness+"_s", tags),
		stopCh:               make(chan struct{}),
	}
	go func() {
		ticker := time.NewTicker(livenessUpdateFreq)
		defer ticker.Stop()
		for {
			select {
			case <-l.stopCh:
				return
			case <-ticker.C:
				l.update()
			}
		}
	}()
	return l
}

// Close implements the Liveness interface.
func (l *liveness) Close() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// Get implements the Liveness interface.
func (l *liveness) Get() int64 {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	return l.m.Get()
}

// ManualReset implements the Liveness interface.
func (l *liveness) ManualReset(lastSuccessfulUpdate time.Time) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.lastSuccessfulUpdate = lastSuccessfulUpdate
	l.updateLocked()
}

// Reset implements the Liveness interface.
func (l *liveness) Reset() {
	l.ManualReset(time.Now())
}

func (l *liveness) update() {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.updateLocked()
}

func (l *liveness) updateLocked() {
	l.m.Update(int64(time.Since(l.lastSuccessfulUpdate).Seconds()))
}

var _ Liveness = (*liveness)(nil)
