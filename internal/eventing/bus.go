package eventing

import (
	"context"
	"errors"
	"reflect"
	"sync"
)

// EventHandler handles a published event.
type EventHandler func(ctx context.Context, event any) error

// EventBus delivers events to subscribed handlers.
type EventBus interface {
	Publish(ctx context.Context, event any) error
	Subscribe(eventType string, handler EventHandler)
}

var (
	ErrNilEvent         = errors.New("eventing: nil event")
	ErrInvalidEventType = errors.New("eventing: invalid event type")
)

// InMemoryBus fans an event out to every handler of its type, in
// subscription order.
type InMemoryBus struct {
	mu     sync.RWMutex
	routes map[string][]EventHandler
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{routes: map[string][]EventHandler{}}
}

// Publish runs all handlers even when one fails and returns their errors
// joined, so the dispatcher can classify each failure.
func (b *InMemoryBus) Publish(ctx context.Context, event any) error {
	if event == nil {
		return ErrNilEvent
	}
	eventType := EventType(event)
	if eventType == "" {
		return ErrInvalidEventType
	}
	b.mu.RLock()
	handlers := b.routes[eventType]
	b.mu.RUnlock()

	var errs []error
	for _, handle := range handlers {
		if err := handle(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe adds handler for eventType. Subscriptions are never removed.
func (b *InMemoryBus) Subscribe(eventType string, handler EventHandler) {
	if eventType == "" || handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	// copy on write so Publish can range over a snapshot without the lock
	next := make([]EventHandler, len(b.routes[eventType]), len(b.routes[eventType])+1)
	copy(next, b.routes[eventType])
	b.routes[eventType] = append(next, handler)
}

// EventType names event by its package-qualified Go type, pointers dereferenced.
func EventType(event any) string {
	if event == nil {
		return ""
	}
	return typeName(reflect.TypeOf(event))
}

// EventTypeOf is EventType for a type parameter.
func EventTypeOf[T any]() string {
	return typeName(reflect.TypeOf((*T)(nil)).Elem())
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}
