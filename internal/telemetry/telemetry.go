package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/nerrad567/lightningd-harness/internal/lightningd"
)

// defaultQueueSize bounds the events buffered per exporter.
const defaultQueueSize = 64

// Logger is the subset of logging.Logger the exporters use.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Fanout delivers each event to every observer in order.
type Fanout []lightningd.Observer

// OnEvent implements lightningd.Observer.
func (f Fanout) OnEvent(e lightningd.Event) {
	for _, o := range f {
		if o != nil {
			o.OnEvent(e)
		}
	}
}

// queue runs deliver for each event on one goroutine.
type queue struct {
	events  chan lightningd.Event
	deliver func(lightningd.Event)
	dropped atomic.Uint64

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

func newQueue(size int, deliver func(lightningd.Event)) *queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	q := &queue{
		events:  make(chan lightningd.Event, size),
		deliver: deliver,
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *queue) run() {
	defer close(q.done)
	for e := range q.events {
		q.deliver(e)
	}
}

// push enqueues e without blocking, reporting false if it was dropped.
func (q *queue) push(e lightningd.Event) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.dropped.Add(1)
		return false
	}
	select {
	case q.events <- e:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// close stops accepting events and waits for the queued ones to be delivered.
func (q *queue) close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.events)
		q.mu.Unlock()
	})
	<-q.done
}
