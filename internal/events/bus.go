package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus is an in-process publish-subscribe hub. The game session
// publishes lifecycle events on it; metrics, the results ledger, the
// spectator feed and the MQTT publisher subscribe.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]*handlerEntry
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[EventType][]*handlerEntry)}
}

// Subscribe registers a handler for an event type and returns a function
// that removes exactly this registration. The name only labels log lines.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) (cancel func()) {
	entry := &handlerEntry{name: name, handler: handler}

	eb.mu.Lock()
	eb.handlers[eventType] = append(eb.handlers[eventType], entry)
	eb.mu.Unlock()

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")

	var once sync.Once
	return func() {
		once.Do(func() { eb.remove(eventType, entry) })
	}
}

func (eb *EventBus) remove(eventType EventType, entry *handlerEntry) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h == entry {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			log.Debug().
				Str("event", string(eventType)).
				Str("handler", entry.name).
				Msg("unsubscribed from event")
			return
		}
	}
}

// Emit publishes an event to all subscribed handlers asynchronously.
// Each handler runs in its own goroutine to prevent blocking.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}

	handlers := eb.handlers[event.Type]
	if len(handlers) == 0 {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlers)).
		Msg("emitting event")

	for _, h := range handlers {
		eb.wg.Add(1)
		go func() {
			defer eb.wg.Done()
			eb.invoke(ctx, h, event)
		}()
	}
}

// EmitSync runs every handler for the event in subscription order on the
// calling goroutine, so consecutive EmitSync calls are observed in order.
// All handlers run even when one fails; the first error is returned.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return nil
	}
	handlers := append([]*handlerEntry(nil), eb.handlers[event.Type]...)
	eb.mu.RUnlock()

	var firstErr error
	for _, h := range handlers {
		if err := eb.invoke(ctx, h, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (eb *EventBus) invoke(ctx context.Context, h *handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
			err = fmt.Errorf("handler %s panicked: %v", h.name, r)
		}
	}()

	if err = h.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
	}
	return err
}

// Stop makes the bus drop further events and waits for in-flight
// asynchronous handlers to return.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	eb.stopped = true
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}
