// Package eventbus provides an in-process publish/subscribe bus with
// per-subscriber bounded queues.
//
// Each subscriber owns a queue of fixed capacity drained by a single
// goroutine, so a slow subscriber never blocks publishers or other
// subscribers, and each subscriber observes events in publish order. When a
// subscriber's queue is full the oldest queued event is dropped to make room
// for the new one.
package eventbus

import (
	"sync"

	"github.com/scholarr/scholarr/go/metrics2"
)

// DefaultSubscriberQueueSize is the per-subscriber queue capacity used by
// New.
const DefaultSubscriberQueueSize = 256

// CallbackFn defines the signature of all callback functions used for
// callbacks by the EventBus interface.
type CallbackFn func(data interface{})

// EventBus defines an interface for a generic event bus that allows to send
// arbitrary data on multiple topics.
type EventBus interface {
	// Publish sends the given data to all subscribers of the given topic.
	// Publish never blocks on slow subscribers; if a subscriber's queue is
	// full its oldest pending event is dropped.
	Publish(topic string, data interface{})

	// SubscribeAsync registers a callback function for the given topic. The
	// callback is invoked sequentially, in publish order, on a dedicated
	// goroutine. The returned function unsubscribes and releases the
	// subscriber's queue; it is safe to call more than once.
	SubscribeAsync(topic string, callback CallbackFn) (unsubscribe func())

	// Wait blocks until every event already queued for the given topic's
	// subscribers has been delivered or dropped.
	Wait(topic string)
}

// subscriber holds one callback and its bounded event queue.
type subscriber struct {
	callback CallbackFn

	// mtx guards queue, pending and closed so that a drop-oldest plus
	// enqueue is atomic with respect to concurrent publishers and
	// unsubscription. cond is signaled whenever pending reaches zero.
	mtx     sync.Mutex
	cond    *sync.Cond
	queue   chan interface{}
	pending int
	closed  bool
	done    chan struct{}
}

func newSubscriber(callback CallbackFn, queueSize int) *subscriber {
	s := &subscriber{
		callback: callback,
		queue:    make(chan interface{}, queueSize),
		done:     make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mtx)
	go s.loop()
	return s
}

// loop drains the queue, invoking the callback for each event in order.
func (s *subscriber) loop() {
	for data := range s.queue {
		s.callback(data)
		s.mtx.Lock()
		s.pending--
		if s.pending == 0 {
			s.cond.Broadcast()
		}
		s.mtx.Unlock()
	}
	close(s.done)
}

// enqueue adds data to the queue, dropping the oldest queued event if the
// queue is full. Returns true if an event was dropped.
func (s *subscriber) enqueue(data interface{}) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		return false
	}
	dropped := false
	select {
	case s.queue <- data:
	default:
		// Full. Drop the oldest queued event to make room; the drain
		// goroutine may have raced us and freed a slot, in which case there
		// is nothing to drop.
		select {
		case <-s.queue:
			s.pending--
			dropped = true
		default:
		}
		s.queue <- data
	}
	s.pending++
	return dropped
}

// wait blocks until all currently queued events have been delivered.
func (s *subscriber) wait() {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	for s.pending > 0 && !s.closed {
		s.cond.Wait()
	}
}

// stop closes the queue and waits until buffered events have drained.
func (s *subscriber) stop() {
	s.mtx.Lock()
	s.closed = true
	close(s.queue)
	s.cond.Broadcast()
	s.mtx.Unlock()
	<-s.done
}

// MemEventBus implements the EventBus interface for an in-process event bus.
type MemEventBus struct {
	queueSize int

	// Map of subscribers keyed by topic.
	mtx      sync.RWMutex
	handlers map[string][]*subscriber

	droppedCounter metrics2.Counter
}

// New returns a new in-process event bus with the default per-subscriber
// queue size.
func New() *MemEventBus {
	return NewWithQueueSize(DefaultSubscriberQueueSize)
}

// NewWithQueueSize returns a new in-process event bus whose subscribers each
// buffer at most queueSize undelivered events.
func NewWithQueueSize(queueSize int) *MemEventBus {
	if queueSize < 1 {
		queueSize = 1
	}
	return &MemEventBus{
		queueSize:      queueSize,
		handlers:       map[string][]*subscriber{},
		droppedCounter: metrics2.GetCounter("eventbus_dropped_events"),
	}
}

// Publish implements the EventBus interface.
func (e *MemEventBus) Publish(topic string, data interface{}) {
	e.mtx.RLock()
	subs := e.handlers[topic]
	e.mtx.RUnlock()
	for _, s := range subs {
		if s.enqueue(data) {
			e.droppedCounter.Inc(1)
		}
	}
}

// SubscribeAsync implements the EventBus interface.
func (e *MemEventBus) SubscribeAsync(topic string, callback CallbackFn) func() {
	s := newSubscriber(callback, e.queueSize)
	e.mtx.Lock()
	e.handlers[topic] = append(e.handlers[topic], s)
	e.mtx.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mtx.Lock()
			subs := e.handlers[topic]
			for i, cur := range subs {
				if cur == s {
					e.handlers[topic] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(e.handlers[topic]) == 0 {
				delete(e.handlers, topic)
			}
			e.mtx.Unlock()
			s.stop()
		})
	}
}

// Wait implements the EventBus interface.
func (e *MemEventBus) Wait(topic string) {
	e.mtx.RLock()
	subs := e.handlers[topic]
	e.mtx.RUnlock()
	for _, s := range subs {
		s.wait()
	}
}

var _ EventBus = (*MemEventBus)(nil)
