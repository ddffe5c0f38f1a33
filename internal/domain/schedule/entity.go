// Package schedule contains the school-bus schedule model: students, trip
// records and the per-student view of the next pickup and drop-off.
// There are no external dependencies here.
package schedule

import (
	"strings"
	"time"

	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// TripType tells whether a trip record is a pickup or a drop-off.
type TripType string

const (
	TripPickup  TripType = "pickup"
	TripDropoff TripType = "dropoff"
)

// IsValid reports whether the trip type is one of the known values.
func (t TripType) IsValid() bool {
	return t == TripPickup || t == TripDropoff
}

// String returns the trip type as text.
func (t TripType) String() string {
	return string(t)
}

// DefaultWindow is the forward window a fetch covers.
const DefaultWindow = 7 * 24 * time.Hour

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// Student is a rider associated with the account.
type Student struct {
	ID          string `json:"student_id"`
	DisplayName string `json:"display_name"`
	SchoolName  string `json:"school_name,omitempty"`
	Grade       string `json:"grade,omitempty"`
}

// NewStudent builds a student, deriving the display name from first and last
// name and falling back to the id when both are blank.
func NewStudent(id, firstName, lastName, school, grade string) Student {
	name := strings.TrimSpace(strings.TrimSpace(firstName) + " " + strings.TrimSpace(lastName))
	if name == "" {
		name = id
	}
	return Student{
		ID:          id,
		DisplayName: name,
		SchoolName:  strings.TrimSpace(school),
		Grade:       strings.TrimSpace(grade),
	}
}

// Trip is a single scheduled pickup or drop-off.
type Trip struct {
	StudentID   string    `json:"student_id"`
	Type        TripType  `json:"trip_type"`
	ScheduledAt time.Time `json:"scheduled_at"`
	StopName    string    `json:"stop_name,omitempty"`
	BusNumber   string    `json:"bus_number,omitempty"`
	TripName    string    `json:"trip_name,omitempty"`
	VehicleID   string    `json:"vehicle_id,omitempty"`

	// StartAt and FinishAt bound the whole bus run when the upstream reports them.
	StartAt  *time.Time `json:"start_at,omitempty"`
	FinishAt *time.Time `json:"finish_at,omitempty"`
}

// IsUpcoming reports whether the trip is at or after now.
func (t Trip) IsUpcoming(now time.Time) bool {
	return !t.ScheduledAt.Before(now)
}

// StudentView is the resolved next pickup and drop-off for one student.
// Nil fields mean no qualifying future trip.
type StudentView struct {
	Student     Student `json:"student"`
	NextPickup  *Trip   `json:"next_pickup,omitempty"`
	NextDropoff *Trip   `json:"next_dropoff,omitempty"`
}

// NextTrip returns the earlier of the next pickup and next drop-off.
// On equal times the pickup wins.
func (v StudentView) NextTrip() *Trip {
	switch {
	case v.NextPickup == nil:
		return v.NextDropoff
	case v.NextDropoff == nil:
		return v.NextPickup
	case v.NextDropoff.ScheduledAt.Before(v.NextPickup.ScheduledAt):
		return v.NextDropoff
	default:
		return v.NextPickup
	}
}

// BusNumber returns the bus of the next trip of either type, or "" when none.
func (v StudentView) BusNumber() string {
	if t := v.NextTrip(); t != nil {
		return t.BusNumber
	}
	return ""
}

// Next returns the next trip of the given type.
func (v StudentView) Next(tripType TripType) *Trip {
	switch tripType {
	case TripPickup:
		return v.NextPickup
	case TripDropoff:
		return v.NextDropoff
	default:
		return nil
	}
}

// FetchResult is one normalized schedule pull.
type FetchResult struct {
	// Students in first-seen order, one entry per id.
	Students []Student

	// Trips in response order.
	Trips []Trip

	// Rejected lists records dropped during normalization.
	Rejected []*shared.ParseError

	WindowStart time.Time
	WindowEnd   time.Time
}
