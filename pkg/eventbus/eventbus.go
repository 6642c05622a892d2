package eventbus

import (
	"reflect"
	"sync"
)

// Handler is a function that handles an event
type Handler func(event interface{})

// DefaultQueueSize bounds an ordered subscriber's backlog when no size is given.
const DefaultQueueSize = 1024

type subscriber struct {
	handler Handler
	queue   chan interface{}
}

// EventBus provides in-process pub/sub keyed by the event's concrete type.
// It carries graph events (instructions, discoveries, sweeps) to I/O sinks.
type EventBus struct {
	handlers map[reflect.Type][]subscriber
	mu       sync.RWMutex
}

// New creates a new EventBus
func New() *EventBus {
	return &EventBus{
		handlers: make(map[reflect.Type][]subscriber),
	}
}

// Subscribe registers a handler for a specific event type.
// Pass a zero value of the type, e.g. Subscribe(model.ArbDiscovered{}, h).
func (e *EventBus) Subscribe(eventType interface{}, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := reflect.TypeOf(eventType)
	e.handlers[t] = append(e.handlers[t], subscriber{handler: handler})
}

// SubscribeOrdered registers a handler that receives events of eventType one at a
// time, in publish order, on a dedicated goroutine. Publish blocks once size events
// are queued for the handler.
func (e *EventBus) SubscribeOrdered(eventType interface{}, handler Handler, size int) {
	if size <= 0 {
		size = DefaultQueueSize
	}
	queue := make(chan interface{}, size)
	go func() {
		for event := range queue {
			handler(event)
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()

	t := reflect.TypeOf(eventType)
	e.handlers[t] = append(e.handlers[t], subscriber{handler: handler, queue: queue})
}

// Publish delivers the event to every subscriber. Plain subscribers each run on their
// own goroutine; ordered subscribers have the event appended to their queue.
func (e *EventBus) Publish(event interface{}) {
	for _, sub := range e.lookup(event) {
		if sub.queue != nil {
			sub.queue <- event
			continue
		}
		go sub.handler(event)
	}
}

// PublishSync delivers the event to every subscriber on the calling goroutine,
// bypassing ordered queues.
func (e *EventBus) PublishSync(event interface{}) {
	for _, sub := range e.lookup(event) {
		sub.handler(event)
	}
}

// lookup copies the handler slice so handlers run without the lock held.
func (e *EventBus) lookup(event interface{}) []subscriber {
	if event == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	handlers := e.handlers[reflect.TypeOf(event)]
	out := make([]subscriber, len(handlers))
	copy(out, handlers)
	return out
}

// HasSubscribers returns true if there are subscribers for the event type
func (e *EventBus) HasSubscribers(eventType interface{}) bool {
	return e.SubscriberCount(eventType) > 0
}

// SubscriberCount returns the number of subscribers for an event type
func (e *EventBus) SubscriberCount(eventType interface{}) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.handlers[reflect.TypeOf(eventType)])
}
