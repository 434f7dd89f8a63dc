package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/garyjia/wfm-approvals/internal/domain/event"
)

// ErrClosed is returned when dispatching on a closed dispatcher
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher routes committed-change events to in-process subscribers
type Dispatcher interface {
	// Subscribe registers a named handler for one event type
	Subscribe(eventType event.Type, name string, handler Handler)

	// SubscribeAll registers a named handler for every event type
	SubscribeAll(name string, handler Handler)

	// Unsubscribe removes a handler by name
	Unsubscribe(eventType event.Type, name string)

	// Dispatch runs every matching handler in registration order and returns
	// the joined handler errors
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync runs the matching handlers on a background goroutine
	DispatchAsync(ctx context.Context, evt *event.Event)

	// ListHandlers returns registered handlers for an event type
	ListHandlers(eventType event.Type) []HandlerInfo

	// Close waits for async handlers; later dispatches are refused
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// eventDispatcher is the concrete implementation of Dispatcher
type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerInfo
	logger   Logger

	// lifecycle guards closed and every wg.Add, so Close never waits while
	// a dispatch is still being admitted
	lifecycle sync.Mutex
	closed    bool
	wg        sync.WaitGroup
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers: make(map[event.Type][]HandlerInfo),
		logger:   nopLogger{},
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *eventDispatcher) Subscribe(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers[eventType] = append(d.handlers[eventType], HandlerInfo{
		Name:      name,
		EventType: eventType,
		Handler:   handler,
	})
	d.logger.Info("Handler registered", "event_type", eventType, "handler_name", name)
}

func (d *eventDispatcher) SubscribeAll(name string, handler Handler) {
	d.Subscribe(AllEvents, name, handler)
}

func (d *eventDispatcher) Unsubscribe(eventType event.Type, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	handlers := d.handlers[eventType]
	filtered := make([]HandlerInfo, 0, len(handlers))
	for _, h := range handlers {
		if h.Name != name {
			filtered = append(filtered, h)
		}
	}
	d.handlers[eventType] = filtered
	d.logger.Info("Handler unregistered", "event_type", eventType, "handler_name", name)
}

// matching returns the handlers for evt: type-specific first, then wildcard
func (d *eventDispatcher) matching(evt *event.Event) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	specific := d.handlers[evt.Type]
	all := d.handlers[AllEvents]
	out := make([]HandlerInfo, 0, len(specific)+len(all))
	out = append(out, specific...)
	return append(out, all...)
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.lifecycle.Lock()
	closed := d.closed
	d.lifecycle.Unlock()
	if closed {
		return ErrClosed
	}
	return d.run(ctx, evt, d.matching(evt))
}

func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	d.lifecycle.Lock()
	if d.closed {
		d.lifecycle.Unlock()
		d.logger.Error("Cannot dispatch async event, dispatcher is closed",
			"event_type", evt.Type,
			"event_id", evt.ID,
		)
		return
	}

	handlers := d.matching(evt)
	if len(handlers) == 0 {
		d.lifecycle.Unlock()
		return
	}
	d.wg.Add(1)
	d.lifecycle.Unlock()

	go func() {
		defer d.wg.Done()
		_ = d.run(ctx, evt, handlers)
	}()
}

// run executes handlers in order; one failing handler does not stop the rest
func (d *eventDispatcher) run(ctx context.Context, evt *event.Event, handlers []HandlerInfo) error {
	d.logger.Debug("Dispatching event",
		"event_type", evt.Type,
		"event_id", evt.ID,
		"instance_id", evt.InstanceID,
		"handler_count", len(handlers),
	)

	var errs []error
	for _, info := range handlers {
		if err := d.safeExecute(ctx, evt, info); err != nil {
			d.logger.Error("Handler error",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"handler_name", info.Name,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("handler %s: %w", info.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (d *eventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	handlers := d.handlers[eventType]
	result := make([]HandlerInfo, len(handlers))
	for i, h := range handlers {
		result[i] = HandlerInfo{Name: h.Name, EventType: h.EventType}
	}
	return result
}

func (d *eventDispatcher) Close() error {
	d.lifecycle.Lock()
	if d.closed {
		d.lifecycle.Unlock()
		return fmt.Errorf("dispatcher already closed")
	}
	d.closed = true
	d.lifecycle.Unlock()

	d.logger.Info("Closing dispatcher, waiting for async handlers")
	d.wg.Wait()
	return nil
}

// safeExecute runs a handler with panic recovery
func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return info.Handler(ctx, evt)
}
