// Package events is the process-local event bus that connects connectivity
// signals, the sync bridge and UI surfaces.
package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Event names published within the process.
const (
	// SyncComplete fires after every completed drain. Subscribers re-read
	// the queue; the payload is informational only.
	SyncComplete = "offline-sync-complete"

	// QueueChanged fires when the local queue was modified, possibly by
	// another process sharing the same store.
	QueueChanged = "offline-queue-changed"

	// ConnectionOnline fires on every transition from unreachable to reachable.
	ConnectionOnline = "connection-online"

	// ConnectionOffline fires on every transition from reachable to unreachable.
	ConnectionOffline = "connection-offline"

	// NoticeRaised carries a notify.Notice for surfaces that mirror toasts.
	NoticeRaised = "notice"
)

// Event is a named occurrence with an optional payload.
type Event struct {
	Name    string
	Payload any
}

// Handler reacts to an event. Handlers run synchronously on the
// publishing goroutine and should hand long work off elsewhere.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus dispatches events to subscribers by name. The zero value is not
// usable; create one with NewBus.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscription
	logger zerolog.Logger
}

// NewBus returns an empty bus. Handler panics are recovered and logged to logger.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subs:   make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers handler for events named name and returns the
// function that removes it. Calling the returned function more than once
// is harmless.
func (b *Bus) Subscribe(name string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(name, id) })
	}
}

func (b *Bus) remove(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[name]
	for i, s := range subs {
		if s.id == id {
			kept := make([]subscription, 0, len(subs)-1)
			kept = append(kept, subs[:i]...)
			kept = append(kept, subs[i+1:]...)
			if len(kept) == 0 {
				delete(b.subs, name)
			} else {
				b.subs[name] = kept
			}
			return
		}
	}
}

// Publish delivers ev to every current subscriber of ev.Name.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := b.subs[ev.Name]
	b.mu.RUnlock()

	for _, s := range subs {
		b.dispatch(s.handler, ev)
	}
}

// Emit is shorthand for Publish(Event{Name: name, Payload: payload}).
func (b *Bus) Emit(name string, payload any) {
	b.Publish(Event{Name: name, Payload: payload})
}

// Subscribers returns the number of handlers registered for name.
func (b *Bus) Subscribers(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

func (b *Bus) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Str("event", ev.Name).Interface("panic", r).Msg("event handler panicked")
		}
	}()
	h(ev)
}
