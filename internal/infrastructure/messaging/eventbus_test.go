package messaging

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
)

type observed struct {
	mu      sync.Mutex
	results map[string][]bool
}

func (o *observed) ObserveEvent(eventType string, _ time.Duration, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = make(map[string][]bool)
	}
	o.results[eventType] = append(o.results[eventType], success)
}

func TestInMemoryEventBus_SyncDelivery(t *testing.T) {
	obs := &observed{}
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{Observer: obs})

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventRefreshFailed, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return errors.New("handler broke")
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewSchedulePublishedEvent("run-1", 2, 5, 0)))
	require.NoError(t, bus.Publish(shared.NewRefreshFailedEvent("run-2", shared.KindAuth, "rejected", 1)))

	assert.Equal(t, []shared.EventType{shared.EventRefreshFailed}, typed)
	assert.Equal(t, []shared.EventType{shared.EventSchedulePublished, shared.EventRefreshFailed}, all)
	assert.Equal(t, []bool{false, true}, obs.results[string(shared.EventRefreshFailed)])
}

func TestInMemoryEventBus_AsyncAndClose(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 2})

	var handled atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		handled.Add(1)
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		panic("subscriber bug")
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewSchedulePublishedEvent("run", 1, 1, 0)))
	}
	require.Eventually(t, func() bool { return handled.Load() == 5 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(shared.NewSchedulePublishedEvent("run", 1, 1, 0)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventRefreshFailed, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_RejectsNil(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{})
	assert.Error(t, bus.Publish(nil))
	assert.Error(t, bus.Subscribe(shared.EventRefreshFailed, nil))
	assert.Error(t, bus.SubscribeAll(nil))
}

func TestRedisForwarder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sub := client.Subscribe(t.Context(), "test:events")
	defer sub.Close()
	_, err := sub.Receive(t.Context())
	require.NoError(t, err)

	forwarder := NewRedisForwarder(client, "test:events")
	at := time.Date(2024, 3, 11, 7, 15, 0, 0, time.UTC)
	event := shared.NewNextTripChangedEvent("101", "pickup", at, "Elm & 5th", "42", "AM Route")
	event.BaseEvent = event.BaseEvent.WithCorrelationID("run-9")
	require.NoError(t, forwarder.Handle(event))

	select {
	case msg := <-sub.Channel():
		var envelope Envelope
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &envelope))
		assert.Equal(t, shared.EventNextTripChanged, envelope.EventType)
		assert.Equal(t, "101", envelope.AggregateID)
		assert.Equal(t, "run-9", envelope.CorrelationID)
		assert.Equal(t, "42", envelope.Payload["bus_number"])
		assert.NotEmpty(t, envelope.InstanceID)
	case <-time.After(2 * time.Second):
		t.Fatal("no message forwarded")
	}
}
