package stopfinder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION DTOs
// ══════════════════════════════════════════════════════════════════════════════

// TokenRequestDTO is the login payload sent to /tokens.
// Field casing follows the mobile app.
type TokenRequestDTO struct {
	// GrantType is always "password"
	GrantType string `json:"grantType"`

	// Username is the account email
	Username string `json:"Username"`

	// Password is the account password
	Password string `json:"Password"`

	// DeviceID is a random 16 hex character id generated per login
	DeviceID string `json:"deviceId"`

	// RFAPIVersion is the API revision the app speaks
	RFAPIVersion string `json:"rfApiVersion"`
}

// TokenResponseDTO is the successful login response.
type TokenResponseDTO struct {
	// Token is sent back in the Token header of every later request
	Token string `json:"token"`

	// ExpiresIn is the token lifetime in seconds, when the server reports it
	ExpiresIn *int64 `json:"expiresIn,omitempty"`
}

// APIVersionDTO is one entry of /systems/apiversions.
type APIVersionDTO struct {
	// ClientID is sent as X-Client-Keys on schedule requests
	ClientID string `json:"clientId"`

	// Version is the server API version, informational only
	Version string `json:"version,omitempty"`
}

// APIErrorDTO is the error body some endpoints return.
type APIErrorDTO struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE DTOs
// Nested records stay raw so one malformed entry can be rejected on its own.
// ══════════════════════════════════════════════════════════════════════════════

// ScheduleDayDTO is one day of the /students response.
type ScheduleDayDTO struct {
	// Date is the schedule day; only the leading YYYY-MM-DD is used
	Date *string `json:"date"`

	// StudentSchedules holds one entry per rider on the account
	StudentSchedules []json.RawMessage `json:"studentSchedules"`
}

// StudentScheduleDTO is a rider and the trips scheduled for them that day.
type StudentScheduleDTO struct {
	// RiderID identifies the rider; required
	RiderID FlexString `json:"riderId"`

	// FirstName of the rider
	FirstName FlexString `json:"firstName"`

	// LastName of the rider
	LastName FlexString `json:"lastName"`

	// Grade is sent as a number by some districts and as text by others
	Grade FlexString `json:"grade"`

	// School is the school name
	School FlexString `json:"school"`

	// Trips for the day
	Trips []json.RawMessage `json:"trips"`
}

// TripDTO is a single bus run for a rider.
type TripDTO struct {
	// Name is the route or run name
	Name FlexString `json:"name"`

	// BusNumber is the assigned bus
	BusNumber FlexString `json:"busNumber"`

	// ToSchool is true for morning pickups and false for afternoon drop-offs; required
	ToSchool *bool `json:"toSchool"`

	// PickUpTime is required when ToSchool is true
	PickUpTime *string `json:"pickUpTime"`

	// PickUpStopName is where the rider boards
	PickUpStopName FlexString `json:"pickUpStopName"`

	// DropOffTime is required when ToSchool is false
	DropOffTime *string `json:"dropOffTime"`

	// DropOffStopName is where the rider leaves the bus
	DropOffStopName FlexString `json:"dropOffStopName"`

	// VehicleID identifies the vehicle for tracking
	VehicleID FlexString `json:"vehicleId"`

	// StartTime is when the run begins
	StartTime *string `json:"startTime"`

	// FinishTime is when the run ends
	FinishTime *string `json:"finishTime"`

	// AdjustMinutes shifts every time on the trip
	AdjustMinutes *int `json:"adjustMinutes"`
}

// ══════════════════════════════════════════════════════════════════════════════
// FLEXIBLE SCALARS
// ══════════════════════════════════════════════════════════════════════════════

// FlexString accepts a JSON string, number or boolean and keeps its text.
// Null and absent values leave Set false.
type FlexString struct {
	Value string
	Set   bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = FlexString{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString{Value: s, Set: true}
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*f = FlexString{Value: strconv.FormatBool(b), Set: true}
	case '{', '[':
		return fmt.Errorf("expected scalar, got %s", kindOf(data[0]))
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*f = FlexString{Value: n.String(), Set: true}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (f FlexString) MarshalJSON() ([]byte, error) {
	if !f.Set {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// String returns the text value.
func (f FlexString) String() string {
	return f.Value
}

func kindOf(b byte) string {
	if b == '{' {
		return "object"
	}
	return "array"
}
