package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Event is an engine event fanned out to relay sinks.
type Event struct {
	ID        string
	Type      string // e.g. "message.received", "session.status"
	TenantID  string
	Payload   any
	Timestamp time.Time
}

// EventHandler consumes an event. A returned error is reported to the
// emitter but does not stop other handlers.
type EventHandler func(ctx context.Context, e Event) error

// EventBus is a topic-based publish/subscribe bus with "*" wildcard
// subscriptions. Handlers run synchronously in registration order.
type EventBus struct {
	handlers map[string][]namedHandler
	seq      int
	mu       sync.RWMutex
	logger   *slog.Logger
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[string][]namedHandler),
		logger:   logger,
	}
}

// On registers a handler for eventType ("*" for all) and returns its id.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.seq++
	id := eventType + "-" + strconv.Itoa(eb.seq)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by id.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// HandlerCount returns the number of handlers an event of eventType reaches.
func (eb *EventBus) HandlerCount(eventType string) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType]) + len(eb.handlers["*"])
}

// Emit delivers e to every matching handler and joins their errors.
// A panicking handler is recovered and reported as an error.
func (eb *EventBus) Emit(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	eb.mu.RLock()
	var handlers []namedHandler
	handlers = append(handlers, eb.handlers[e.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := eb.call(ctx, h, e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (eb *EventBus) call(ctx context.Context, h namedHandler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "event", e.Type, "handler", h.ID, "panic", r)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handler(ctx, e)
}
