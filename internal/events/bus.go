package events

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// Handler reacts to a published event.
type Handler func(Event) error

// Subscription identifies a registered handler.
type Subscription struct {
	id        uint64
	eventType Type
}

// EventType returns the type the subscription listens to.
func (s Subscription) EventType() Type { return s.eventType }

// Bus delivers events to subscribers.
type Bus interface {
	Subscribe(eventType Type, h Handler) Subscription
	Unsubscribe(s Subscription)
	Publish(e Event) []error
}

type subscriber struct {
	id      uint64
	handler Handler
}

// SimpleBus invokes handlers synchronously, in subscription order, on the
// publishing goroutine. Handler errors and panics are collected and logged;
// they never reach the publisher as a panic.
type SimpleBus struct {
	mu       sync.RWMutex
	handlers map[Type][]subscriber
	nextID   uint64
	logger   *log.Logger
}

// Compile-time interface assertion.
var _ Bus = (*SimpleBus)(nil)

// NewSimpleBus creates an empty bus. A nil logger uses the default logger.
func NewSimpleBus(logger *log.Logger) *SimpleBus {
	if logger == nil {
		logger = log.Default().WithPrefix("events")
	}
	return &SimpleBus{
		handlers: make(map[Type][]subscriber),
		logger:   logger,
	}
}

// Subscribe registers h for eventType, or for every event when eventType is Wildcard.
func (b *SimpleBus) Subscribe(eventType Type, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[eventType] = append(b.handlers[eventType], subscriber{id: b.nextID, handler: h})
	return Subscription{id: b.nextID, eventType: eventType}
}

// Unsubscribe removes the handler. Unknown subscriptions are ignored.
func (b *SimpleBus) Unsubscribe(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[s.eventType]
	for i, sub := range subs {
		if sub.id == s.id {
			b.handlers[s.eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers e to every matching handler and returns their failures.
func (b *SimpleBus) Publish(e Event) []error {
	subs := b.matching(e.Type())

	var errs []error
	for _, sub := range subs {
		if err := b.invoke(sub.handler, e); err != nil {
			b.logger.Error("event handler failed", "event_type", e.Type(), "event_id", e.ID(), "err", err)
			errs = append(errs, err)
		}
	}
	return errs
}

// matching returns handlers for t merged with wildcard handlers, ordered by
// subscription.
func (b *SimpleBus) matching(t Type) []subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	exact := b.handlers[t]
	var wild []subscriber
	if t != Wildcard {
		wild = b.handlers[Wildcard]
	}

	out := make([]subscriber, 0, len(exact)+len(wild))
	i, j := 0, 0
	for i < len(exact) && j < len(wild) {
		if exact[i].id < wild[j].id {
			out = append(out, exact[i])
			i++
		} else {
			out = append(out, wild[j])
			j++
		}
	}
	out = append(out, exact[i:]...)
	return append(out, wild[j:]...)
}

func (b *SimpleBus) invoke(h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
		}
	}()
	return h(e)
}
