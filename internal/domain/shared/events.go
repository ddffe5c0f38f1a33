package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Event types emitted by the refresh pipeline.
const (
	// Coordinator events
	EventSchedulePublished EventType = "schedule.published"
	EventRefreshFailed     EventType = "refresh.failed"

	// Per-student events
	EventNextTripChanged EventType = "student.next_trip_changed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// Correlation returns the correlation ID, usually the refresh run id.
func (e BaseEvent) Correlation() string {
	return e.CorrelationID
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Coordinator Events
// ═══════════════════════════════════════════════════════════════════════════

// SchedulePublishedEvent is emitted after a successful refresh cycle.
// The aggregate is the refresh run.
type SchedulePublishedEvent struct {
	BaseEvent
	Students int `json:"students"`
	Trips    int `json:"trips"`
	Rejected int `json:"rejected"`
}

// Payload implements Event interface.
func (e SchedulePublishedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"students": e.Students,
		"trips":    e.Trips,
		"rejected": e.Rejected,
	}
}

// NewSchedulePublishedEvent creates a new SchedulePublishedEvent.
func NewSchedulePublishedEvent(runID string, students, trips, rejected int) SchedulePublishedEvent {
	return SchedulePublishedEvent{
		BaseEvent: NewBaseEvent(EventSchedulePublished, runID).WithCorrelationID(runID),
		Students:  students,
		Trips:     trips,
		Rejected:  rejected,
	}
}

// RefreshFailedEvent is emitted when a refresh cycle ends in the Failed phase.
type RefreshFailedEvent struct {
	BaseEvent
	Kind                ErrorKind `json:"kind"`
	Message             string    `json:"message"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Payload implements Event interface.
func (e RefreshFailedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"kind":                 string(e.Kind),
		"message":              e.Message,
		"consecutive_failures": e.ConsecutiveFailures,
	}
}

// NewRefreshFailedEvent creates a new RefreshFailedEvent.
func NewRefreshFailedEvent(runID string, kind ErrorKind, message string, failures int) RefreshFailedEvent {
	return RefreshFailedEvent{
		BaseEvent:           NewBaseEvent(EventRefreshFailed, runID).WithCorrelationID(runID),
		Kind:                kind,
		Message:             message,
		ConsecutiveFailures: failures,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Student Events
// ═══════════════════════════════════════════════════════════════════════════

// NextTripChangedEvent is emitted when a student's next pickup or drop-off
// differs from the previously published one. A zero ScheduledAt means the
// field became absent.
type NextTripChangedEvent struct {
	BaseEvent
	TripType    string    `json:"trip_type"`
	ScheduledAt time.Time `json:"scheduled_at"`
	StopName    string    `json:"stop_name"`
	BusNumber   string    `json:"bus_number"`
	TripName    string    `json:"trip_name"`
}

// Payload implements Event interface.
func (e NextTripChangedEvent) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"trip_type":  e.TripType,
		"stop_name":  e.StopName,
		"bus_number": e.BusNumber,
		"trip_name":  e.TripName,
	}
	if !e.ScheduledAt.IsZero() {
		p["scheduled_at"] = e.ScheduledAt.Format(time.RFC3339)
	}
	return p
}

// NewNextTripChangedEvent creates a new NextTripChangedEvent.
func NewNextTripChangedEvent(studentID, tripType string, scheduledAt time.Time, stop, bus, name string) NextTripChangedEvent {
	return NextTripChangedEvent{
		BaseEvent:   NewBaseEvent(EventNextTripChanged, studentID),
		TripType:    tripType,
		ScheduledAt: scheduledAt,
		StopName:    stop,
		BusNumber:   bus,
		TripName:    name,
	}
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
