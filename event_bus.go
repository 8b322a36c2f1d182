package mcs

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/go-logr/logr"
)

// EventHandler consumes one event delivered by the bus.
type EventHandler func(Event)

// EventBus is the process wide publish/subscribe component connecting media
// sessions (and the controller) to the router. Topics are the closed set of
// EventKind values. Handlers for one kind run synchronously in subscription
// order, so a publisher that emits events in order is observed in order.
type EventBus struct {
	mu          sync.RWMutex
	logger      logr.Logger
	subscribers map[EventKind][]EventHandler
}

func NewEventBus() *EventBus {
	return &EventBus{
		logger:      NewLogger("EventBus"),
		subscribers: make(map[EventKind][]EventHandler),
	}
}

// Subscribe adds a handler to the end of the subscriber list for kind.
// Subscriptions are never revoked.
func (b *EventBus) Subscribe(kind EventKind, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[kind] = append(b.subscribers[kind], handler)
}

// Publish delivers ev to every subscriber of ev.Kind. A panicking handler is
// recovered and logged so one bad subscriber cannot take down the producer.
// Returns true if the event had subscribers.
func (b *EventBus) Publish(ev Event) bool {
	b.mu.RLock()
	handlers := b.subscribers[ev.Kind]
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.deliver(handler, ev)
	}
	return len(handlers) > 0
}

func (b *EventBus) deliver(handler EventHandler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(fmt.Errorf("%v", r), "subscriber panic",
				"kind", ev.Kind, "stack", string(debug.Stack()))
		}
	}()

	handler(ev)
}
