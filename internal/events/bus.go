// Package events carries offline cache lifecycle events to interested
// subscribers (metrics, MQTT, error reporting).
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event kinds published by the offline cache.
const (
	KindInstallStarted        = "install.started"
	KindInstallCompleted      = "install.completed"
	KindInstallFailed         = "install.failed"
	KindActivateCompleted     = "activate.completed"
	KindNamespaceDeleted      = "namespace.deleted"
	KindNamespaceDeleteFailed = "namespace.delete_failed"
	KindClientsClaimed        = "clients.claimed"
	KindWorkerRedundant       = "worker.redundant"
)

// Kinds returns every event kind in lifecycle order.
func Kinds() []string {
	return []string{
		KindInstallStarted,
		KindInstallCompleted,
		KindInstallFailed,
		KindActivateCompleted,
		KindNamespaceDeleted,
		KindNamespaceDeleteFailed,
		KindClientsClaimed,
		KindWorkerRedundant,
	}
}

// Property keys used in Event.Properties.
const (
	PropertyError     = "error"
	PropertyEntries   = "entries"
	PropertyNamespace = "namespace"
	PropertyClients   = "clients"
	PropertyDuration  = "duration_ms"
	PropertyDeleted   = "deleted"
)

// Event is a single lifecycle transition of a cache worker.
type Event struct {
	Kind       string         `json:"kind"`
	Version    string         `json:"version"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Handler processes events.
type Handler func(event *Event)

// Publisher is the publishing side of a Bus.
type Publisher interface {
	Publish(event *Event)
}

// bufferSize is the capacity of the async event channel. Events are dropped
// when it is full so publishers on the fetch path never block.
const bufferSize = 256

// Bus is an async pub/sub for lifecycle events. Publish is non-blocking:
// events go to a buffered channel drained by a single worker goroutine.
type Bus struct {
	handlers []Handler
	mu       sync.RWMutex
	eventCh  chan *Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64
}

// NewBus creates a bus and starts its worker.
func NewBus() *Bus {
	b := &Bus{
		eventCh: make(chan *Event, bufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go b.processLoop()
	return b
}

// Subscribe registers a handler for all events.
func (b *Bus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues an event. Events published after Stop, or while the
// buffer is full, are discarded.
func (b *Bus) Publish(event *Event) {
	if event == nil {
		return
	}
	select {
	case <-b.stopCh:
		return
	default:
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Stop shuts the worker down after draining queued events and waits for it
// to exit. Safe to call multiple times.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
}

func (b *Bus) processLoop() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.dispatch(event)
		case <-b.stopCh:
			for {
				select {
				case event := <-b.eventCh:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(event *Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		safeCall(handler, event)
	}
}

// safeCall invokes a handler with panic recovery so a failing subscriber
// cannot kill the bus goroutine.
func safeCall(handler Handler, event *Event) {
	defer func() {
		recover() //nolint:errcheck // swallowed to keep the bus alive
	}()
	handler(event)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(*Event) {}
