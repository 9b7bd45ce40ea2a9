package events

import (
	"sync"
	"time"

	"eyeclinic/internal/model"
)

// Event types published by the persistence layer.
const (
	TypeAppointmentsChanged = "appointments"
	TypeConfigChanged       = "clinic_config"
)

// Event represents a change to one collection.
type Event struct {
	ID        int64
	Type      string
	Dates     []model.Date // days whose appointments changed
	Version   int64        // clinic config version after the change
	CreatedAt time.Time
}

// Touches reports whether the event concerns date.
func (e Event) Touches(date model.Date) bool {
	for _, d := range e.Dates {
		if d == date {
			return true
		}
	}
	return false
}

// EventHandler reacts to an event. Handlers run on the publisher's goroutine
// and must not block.
type EventHandler func(event Event)

type subscription struct {
	id      int64
	handler EventHandler
}

// EventBus provides in-process pub/sub for change notifications.
type EventBus struct {
	subscribers map[string][]subscription
	nextID      int64
	lastEvent   int64
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]subscription)}
}

// Subscribe registers a handler for a given event type and returns a func
// that removes it.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[eventType]
		for i, s := range subs {
			if s.id == id {
				b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event Event) {
	b.mu.Lock()
	b.lastEvent++
	event.ID = b.lastEvent
	subs := append([]subscription(nil), b.subscribers[event.Type]...)
	b.mu.Unlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, s := range subs {
		s.handler(event)
	}
}

// Signal subscribes to eventType and returns a channel that receives a value
// whenever an accepted event is published. Signals coalesce: a slow reader
// sees at most one pending signal, never a stale backlog.
func (b *EventBus) Signal(eventType string, accept func(Event) bool) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	unsubscribe := b.Subscribe(eventType, func(e Event) {
		if accept != nil && !accept(e) {
			return
		}
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	return ch, unsubscribe
}
