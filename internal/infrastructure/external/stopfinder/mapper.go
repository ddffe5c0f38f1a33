package stopfinder

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/busroute-hub/stopfinder-bridge/internal/domain/schedule"
	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
	"github.com/busroute-hub/stopfinder-bridge/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAPPER - schedule payload to domain records
// ══════════════════════════════════════════════════════════════════════════════

// Mapper turns the raw /students payload into students and trip records.
// Upstream field names stop here; nothing past this type sees them.
type Mapper struct {
	loc *time.Location
}

// NewMapper creates a Mapper that reads offset-less times in loc.
func NewMapper(loc *time.Location) *Mapper {
	if loc == nil {
		loc = time.Local
	}
	return &Mapper{loc: loc}
}

// Normalize decodes a schedule response. A body that is not a JSON array is
// an unrecovered ParseError. Every nested record that fails its required
// fields is dropped and reported in FetchResult.Rejected.
func (m *Mapper) Normalize(body []byte) (*schedule.FetchResult, error) {
	var days []json.RawMessage
	if err := json.Unmarshal(body, &days); err != nil {
		return nil, shared.NewParseError("response", "", "expected a list of schedule days: "+err.Error())
	}

	result := &schedule.FetchResult{}
	seen := make(map[string]struct{})

	for i, rawDay := range days {
		record := fmt.Sprintf("day[%d]", i)

		var day ScheduleDayDTO
		if err := json.Unmarshal(rawDay, &day); err != nil {
			result.Rejected = append(result.Rejected, decodeError(record, err))
			continue
		}

		date, perr := m.dayDate(record, day.Date)
		if perr != nil {
			result.Rejected = append(result.Rejected, perr)
			continue
		}

		for j, rawStudent := range day.StudentSchedules {
			studentRecord := fmt.Sprintf("%s.student[%d]", record, j)

			var dto StudentScheduleDTO
			if err := json.Unmarshal(rawStudent, &dto); err != nil {
				result.Rejected = append(result.Rejected, decodeError(studentRecord, err))
				continue
			}

			riderID := strings.TrimSpace(dto.RiderID.Value)
			if riderID == "" {
				result.Rejected = append(result.Rejected, shared.NewParseError(studentRecord, "riderId", "missing"))
				continue
			}

			if _, ok := seen[riderID]; !ok {
				seen[riderID] = struct{}{}
				result.Students = append(result.Students, m.StudentFromDTO(riderID, &dto))
			}

			for k, rawTrip := range dto.Trips {
				tripRecord := fmt.Sprintf("%s.trip[%d]", studentRecord, k)

				var tripDTO TripDTO
				if err := json.Unmarshal(rawTrip, &tripDTO); err != nil {
					result.Rejected = append(result.Rejected, decodeError(tripRecord, err))
					continue
				}

				trip, perr := m.TripFromDTO(tripRecord, riderID, date, &tripDTO)
				if perr != nil {
					result.Rejected = append(result.Rejected, perr)
					continue
				}
				result.Trips = append(result.Trips, *trip)
			}
		}
	}

	return result, nil
}

// StudentFromDTO converts a rider entry to a domain student.
func (m *Mapper) StudentFromDTO(riderID string, dto *StudentScheduleDTO) schedule.Student {
	return schedule.NewStudent(
		riderID,
		dto.FirstName.Value,
		dto.LastName.Value,
		dto.School.Value,
		dto.Grade.Value,
	)
}

// TripFromDTO converts a trip entry to a trip record. The direction decides
// which time and stop are required: toSchool trips are pickups at the
// pick-up stop, the rest are drop-offs at the drop-off stop.
func (m *Mapper) TripFromDTO(record, riderID, date string, dto *TripDTO) (*schedule.Trip, *shared.ParseError) {
	if dto.ToSchool == nil {
		return nil, shared.NewParseError(record, "toSchool", "missing")
	}

	adjust := 0
	if dto.AdjustMinutes != nil {
		adjust = *dto.AdjustMinutes
	}

	trip := &schedule.Trip{
		StudentID: riderID,
		BusNumber: strings.TrimSpace(dto.BusNumber.Value),
		TripName:  strings.TrimSpace(dto.Name.Value),
		VehicleID: strings.TrimSpace(dto.VehicleID.Value),
	}

	var (
		field string
		raw   *string
	)
	if *dto.ToSchool {
		trip.Type = schedule.TripPickup
		trip.StopName = strings.TrimSpace(dto.PickUpStopName.Value)
		field, raw = "pickUpTime", dto.PickUpTime
	} else {
		trip.Type = schedule.TripDropoff
		trip.StopName = strings.TrimSpace(dto.DropOffStopName.Value)
		field, raw = "dropOffTime", dto.DropOffTime
	}

	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, shared.NewParseError(record, field, "missing")
	}
	scheduledAt, err := m.tripTime(*raw, date, adjust)
	if err != nil {
		return nil, shared.NewParseError(record, field, err.Error())
	}
	trip.ScheduledAt = scheduledAt

	// Run bounds are informational; a bad value leaves them unset.
	if dto.StartTime != nil {
		if t, err := m.tripTime(*dto.StartTime, date, adjust); err == nil {
			trip.StartAt = &t
		}
	}
	if dto.FinishTime != nil {
		if t, err := m.tripTime(*dto.FinishTime, date, adjust); err == nil {
			trip.FinishAt = &t
		}
	}

	return trip, nil
}

// tripTime parses a trip timestamp. The upstream stamps a static date on
// trip times, so the date part is replaced by the schedule day before
// parsing, then adjustMinutes is applied.
func (m *Mapper) tripTime(raw, date string, adjustMinutes int) (time.Time, error) {
	t, err := timeutil.ParseLocal(timeutil.ReplaceDate(strings.TrimSpace(raw), date), m.loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.Add(time.Duration(adjustMinutes) * time.Minute), nil
}

// dayDate validates the day's date and returns its YYYY-MM-DD prefix.
func (m *Mapper) dayDate(record string, raw *string) (string, *shared.ParseError) {
	if raw == nil {
		return "", shared.NewParseError(record, "date", "missing")
	}
	value := strings.TrimSpace(*raw)
	if len(value) < 10 {
		return "", shared.NewParseError(record, "date", fmt.Sprintf("too short: %q", value))
	}
	if _, err := time.Parse(timeutil.FormatDate, value[:10]); err != nil {
		return "", shared.NewParseError(record, "date", fmt.Sprintf("not a date: %q", value))
	}
	return value[:10], nil
}

// decodeError reports a record whose JSON did not fit its DTO, naming the
// offending field when the decoder knows it.
func decodeError(record string, err error) *shared.ParseError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return shared.NewParseError(record, typeErr.Field, fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value))
	}
	return shared.NewParseError(record, "", err.Error())
}
