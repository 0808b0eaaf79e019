package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/workorder-service/internal/worker"
)

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

// Observer is told about handler failures and dropped events.
type Observer interface {
	HandlerFailed(eventType string)
	EventDropped(eventType string)
}

type nopObserver struct{}

func (nopObserver) HandlerFailed(string) {}
func (nopObserver) EventDropped(string)  {}

type registry struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventHandler
}

func (r *registry) Subscribe(eventType EventType, handler EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[eventType] = append(r.listeners[eventType], handler)
}

func (r *registry) handlers(eventType EventType) []EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EventHandler{}, r.listeners[eventType]...)
}

// inMemoryDispatcher is a simple synchronous dispatcher.
type inMemoryDispatcher struct {
	registry
	logger   *zap.Logger
	observer Observer
}

// NewInMemoryDispatcher creates a dispatcher that runs handlers inline. A nil
// observer is allowed.
func NewInMemoryDispatcher(logger *zap.Logger, observer Observer) Dispatcher {
	if observer == nil {
		observer = nopObserver{}
	}
	return &inMemoryDispatcher{
		registry: registry{listeners: make(map[EventType][]EventHandler)},
		logger:   logger,
		observer: observer,
	}
}

// Publish synchronously invokes handlers for the given event. Handler errors
// are logged; every handler runs regardless.
func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	for _, handler := range d.handlers(event.Type) {
		invoke(ctx, handler, event, d.logger, d.observer)
	}
	return nil
}

func invoke(ctx context.Context, handler EventHandler, event Event, logger *zap.Logger, observer Observer) {
	if err := handler(ctx, event); err != nil {
		observer.HandlerFailed(string(event.Type))
		logger.Warn("event handler failed",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID),
			zap.String("work_order_id", event.WorkOrderID()),
			zap.Error(err))
	}
}

// asyncDispatcher hands each handler invocation to a worker pool, so a slow
// collaborator never holds up the caller.
type asyncDispatcher struct {
	registry
	pool     *worker.Pool
	logger   *zap.Logger
	observer Observer
}

// NewAsyncDispatcher creates a dispatcher on top of a started pool.
func NewAsyncDispatcher(pool *worker.Pool, logger *zap.Logger, observer Observer) Dispatcher {
	if observer == nil {
		observer = nopObserver{}
	}
	return &asyncDispatcher{
		registry: registry{listeners: make(map[EventType][]EventHandler)},
		pool:     pool,
		logger:   logger,
		observer: observer,
	}
}

// Publish enqueues one job per handler. A full queue drops the job with a warning.
func (d *asyncDispatcher) Publish(_ context.Context, event Event) error {
	for i, handler := range d.handlers(event.Type) {
		handler := handler
		name := fmt.Sprintf("%s#%d", event.Type, i)
		err := d.pool.Submit(name, func(ctx context.Context) error {
			invoke(ctx, handler, event, d.logger, d.observer)
			return nil
		})
		if err != nil {
			d.observer.EventDropped(string(event.Type))
			d.logger.Warn("event dropped",
				zap.String("event_type", string(event.Type)),
				zap.String("event_id", event.ID),
				zap.String("work_order_id", event.WorkOrderID()),
				zap.Error(err))
		}
	}
	return nil
}
