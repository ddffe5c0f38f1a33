// Package messaging delivers schedule events to in-process subscribers and,
// optionally, to a Redis channel for consumers outside the bridge.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
)

var (
	// ErrEventBusClosed is returned when operations are attempted on a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic is returned when a handler panics.
	ErrHandlerPanic = errors.New("handler panicked")
)

// HandlerObserver is told about every handler execution.
type HandlerObserver interface {
	ObserveEvent(eventType string, duration time.Duration, success bool)
}

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBus fans events out to subscribed handlers.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	handlers    map[shared.EventType][]shared.EventHandler
	allHandlers []shared.EventHandler
	asyncMode   bool
	workerPool  chan struct{}
	logger      *slog.Logger
	observer    HandlerObserver
	closed      bool
	closeCh     chan struct{}
	wg          sync.WaitGroup
}

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on a bounded worker pool instead of the
	// publisher's goroutine.
	AsyncMode bool

	// WorkerPoolSize is the number of concurrent workers for async processing
	WorkerPoolSize int

	Logger   *slog.Logger
	Observer HandlerObserver
}

// DefaultInMemoryEventBusConfig returns sensible defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 4,
	}
}

// NewInMemoryEventBus creates a new in-memory event bus.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 4
	}

	return &InMemoryEventBus{
		handlers:   make(map[shared.EventType][]shared.EventHandler),
		asyncMode:  config.AsyncMode,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		logger:     config.Logger.With("component", "eventbus"),
		observer:   config.Observer,
		closeCh:    make(chan struct{}),
	}
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)

// Subscribe registers a handler for a specific event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}

	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("subscribed handler", "event_type", eventType)
	return nil
}

// SubscribeAll registers a handler for all events.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}

	b.allHandlers = append(b.allHandlers, handler)
	return nil
}

// Publish sends an event to all subscribed handlers. Handler errors are
// logged, never returned.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	handlers := make([]shared.EventHandler, 0, len(b.handlers[event.EventType()])+len(b.allHandlers))
	handlers = append(handlers, b.handlers[event.EventType()]...)
	handlers = append(handlers, b.allHandlers...)
	if b.asyncMode {
		b.wg.Add(len(handlers))
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("no handlers for event", "event_type", event.EventType())
		return nil
	}

	for _, handler := range handlers {
		if b.asyncMode {
			go b.executeAsync(event, handler)
			continue
		}
		if err := b.execute(event, handler); err != nil {
			b.logger.Error("handler error", "event_type", event.EventType(), "error", err)
		}
	}
	return nil
}

func (b *InMemoryEventBus) executeAsync(event shared.Event, handler shared.EventHandler) {
	defer b.wg.Done()

	select {
	case b.workerPool <- struct{}{}:
		defer func() { <-b.workerPool }()
	case <-b.closeCh:
		return
	}

	if err := b.execute(event, handler); err != nil {
		b.logger.Error("async handler error", "event_type", event.EventType(), "error", err)
	}
}

func (b *InMemoryEventBus) execute(event shared.Event, handler shared.EventHandler) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
		if b.observer != nil {
			b.observer.ObserveEvent(string(event.EventType()), time.Since(start), err == nil)
		}
	}()
	return handler(event)
}

// Close stops accepting events and waits for running handlers.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeCh)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("event bus closed")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS FORWARDER
// ══════════════════════════════════════════════════════════════════════════════

// DefaultChannel is the Redis channel events are forwarded to.
const DefaultChannel = "stopfinder:events"

// Envelope is the JSON message written to the Redis channel.
type Envelope struct {
	InstanceID    string           `json:"instance_id"`
	EventType     shared.EventType `json:"event_type"`
	AggregateID   string           `json:"aggregate_id"`
	CorrelationID string           `json:"correlation_id,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
	Payload       map[string]any   `json:"payload"`
}

// RedisForwarder publishes every event it handles to a Redis channel.
// Subscribe it with SubscribeAll.
type RedisForwarder struct {
	client     redis.UniversalClient
	channel    string
	instanceID string
	timeout    time.Duration
}

// NewRedisForwarder creates a forwarder. An empty channel uses DefaultChannel.
func NewRedisForwarder(client redis.UniversalClient, channel string) *RedisForwarder {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisForwarder{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		timeout:    3 * time.Second,
	}
}

// Handle is a shared.EventHandler.
func (f *RedisForwarder) Handle(event shared.Event) error {
	envelope := Envelope{
		InstanceID:  f.instanceID,
		EventType:   event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Payload:     event.Payload(),
	}
	if c, ok := event.(interface{ Correlation() string }); ok {
		envelope.CorrelationID = c.Correlation()
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	if err := f.client.Publish(ctx, f.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", f.channel, err)
	}
	return nil
}
