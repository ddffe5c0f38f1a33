package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}

func TestResolve_MorningScenario(t *testing.T) {
	now := at(t, "2024-03-11T07:00:00-05:00")
	student := NewStudent("r1", "Ada", "Lovelace", "Elm Elementary", "3")
	trips := []Trip{
		{StudentID: "r1", Type: TripPickup, ScheduledAt: at(t, "2024-03-11T07:15:00-05:00"), StopName: "Elm & Main", BusNumber: "Bus 12", TripName: "AM Route 3"},
		{StudentID: "r1", Type: TripPickup, ScheduledAt: at(t, "2024-03-11T06:30:00-05:00"), StopName: "Oak & 2nd", BusNumber: "Bus 12", TripName: "AM Early"},
		{StudentID: "r1", Type: TripDropoff, ScheduledAt: at(t, "2024-03-11T15:45:00-05:00"), StopName: "Elm & Main", BusNumber: "Bus 12", TripName: "PM Route 3"},
	}

	views := Resolve([]Student{student}, trips, now)

	require.Contains(t, views, "r1")
	view := views["r1"]
	require.NotNil(t, view.NextPickup)
	require.NotNil(t, view.NextDropoff)
	assert.Equal(t, "AM Route 3", view.NextPickup.TripName)
	assert.True(t, view.NextPickup.ScheduledAt.Equal(at(t, "2024-03-11T07:15:00-05:00")))
	assert.Equal(t, "PM Route 3", view.NextDropoff.TripName)
	assert.Equal(t, "Elm & Main", view.NextDropoff.StopName)
	assert.Equal(t, "Bus 12", view.BusNumber())
	assert.Equal(t, "Elm Elementary", view.Student.SchoolName)
}

func TestResolve_NoTripsYieldsAbsentFields(t *testing.T) {
	now := at(t, "2024-03-16T09:00:00Z")
	views := Resolve([]Student{NewStudent("r1", "", "", "", "")}, nil, now)

	require.Contains(t, views, "r1")
	assert.Nil(t, views["r1"].NextPickup)
	assert.Nil(t, views["r1"].NextDropoff)
	assert.Nil(t, views["r1"].NextTrip())
	assert.Equal(t, "", views["r1"].BusNumber())
	assert.Equal(t, "r1", views["r1"].Student.DisplayName)
}

func TestResolve_PastTripsNeverSelected(t *testing.T) {
	now := at(t, "2024-03-11T16:00:00Z")
	trips := []Trip{
		{StudentID: "r1", Type: TripPickup, ScheduledAt: now.Add(-8 * time.Hour)},
		{StudentID: "r1", Type: TripDropoff, ScheduledAt: now.Add(-time.Minute)},
	}

	views := Resolve([]Student{{ID: "r1"}}, trips, now)

	assert.Nil(t, views["r1"].NextPickup)
	assert.Nil(t, views["r1"].NextDropoff)
}

func TestResolve_TripAtNowIsSelected(t *testing.T) {
	now := at(t, "2024-03-11T07:15:00Z")
	trips := []Trip{{StudentID: "r1", Type: TripPickup, ScheduledAt: now, TripName: "exact"}}

	views := Resolve([]Student{{ID: "r1"}}, trips, now)

	require.NotNil(t, views["r1"].NextPickup)
	assert.Equal(t, "exact", views["r1"].NextPickup.TripName)
}

func TestResolve_TiesKeepFirstSeen(t *testing.T) {
	now := at(t, "2024-03-11T06:00:00Z")
	same := now.Add(time.Hour)
	trips := []Trip{
		{StudentID: "r1", Type: TripPickup, ScheduledAt: now.Add(2 * time.Hour), TripName: "later"},
		{StudentID: "r1", Type: TripPickup, ScheduledAt: same, TripName: "first"},
		{StudentID: "r1", Type: TripPickup, ScheduledAt: same, TripName: "second"},
	}

	views := Resolve([]Student{{ID: "r1"}}, trips, now)

	require.NotNil(t, views["r1"].NextPickup)
	assert.Equal(t, "first", views["r1"].NextPickup.TripName)
}

func TestResolve_BeyondWindowOnlyWhenNothingCloser(t *testing.T) {
	now := at(t, "2024-03-11T06:00:00Z")
	far := Trip{StudentID: "r1", Type: TripPickup, ScheduledAt: now.Add(9 * 24 * time.Hour), TripName: "far"}
	near := Trip{StudentID: "r1", Type: TripPickup, ScheduledAt: now.Add(24 * time.Hour), TripName: "near"}

	views := Resolve([]Student{{ID: "r1"}}, []Trip{far, near}, now)
	assert.Equal(t, "near", views["r1"].NextPickup.TripName)

	views = Resolve([]Student{{ID: "r1"}}, []Trip{far}, now)
	assert.Equal(t, "far", views["r1"].NextPickup.TripName)
}

func TestResolve_IsPureAndDeterministic(t *testing.T) {
	now := at(t, "2024-03-11T06:00:00Z")
	students := []Student{{ID: "r1"}, {ID: "r2"}}
	trips := []Trip{
		{StudentID: "r2", Type: TripDropoff, ScheduledAt: now.Add(9 * time.Hour), TripName: "pm"},
		{StudentID: "r1", Type: TripPickup, ScheduledAt: now.Add(time.Hour), TripName: "am"},
		{StudentID: "ghost", Type: TripPickup, ScheduledAt: now.Add(time.Hour)},
	}
	tripsBefore := append([]Trip(nil), trips...)
	studentsBefore := append([]Student(nil), students...)

	first := Resolve(students, trips, now)
	second := Resolve(students, trips, now)

	assert.Equal(t, first, second)
	assert.Equal(t, tripsBefore, trips)
	assert.Equal(t, studentsBefore, students)
	assert.Len(t, first, 2)
	assert.NotContains(t, first, "ghost")

	first["r1"].NextPickup.TripName = "mutated"
	assert.Equal(t, "am", trips[1].TripName)
}

func TestResolve_PartialScheduleStillResolves(t *testing.T) {
	now := at(t, "2024-03-11T06:00:00Z")
	trips := []Trip{
		{StudentID: "r1", Type: TripPickup, ScheduledAt: now.Add(3 * time.Hour), TripName: "b"},
		{StudentID: "r1", Type: "", ScheduledAt: now.Add(time.Hour), TripName: "broken"},
		{StudentID: "r1", Type: TripPickup, ScheduledAt: now.Add(2 * time.Hour), TripName: "a"},
	}

	views := Resolve([]Student{{ID: "r1"}}, trips, now)

	require.NotNil(t, views["r1"].NextPickup)
	assert.Equal(t, "a", views["r1"].NextPickup.TripName)
}

func TestStudentView_NextTripPrefersEarlier(t *testing.T) {
	now := at(t, "2024-03-11T06:00:00Z")
	pickup := &Trip{Type: TripPickup, ScheduledAt: now.Add(24 * time.Hour), BusNumber: "7"}
	dropoff := &Trip{Type: TripDropoff, ScheduledAt: now.Add(8 * time.Hour), BusNumber: "12"}

	view := StudentView{NextPickup: pickup, NextDropoff: dropoff}

	assert.Same(t, dropoff, view.NextTrip())
	assert.Equal(t, "12", view.BusNumber())
}

func TestNewStudent_DisplayName(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", NewStudent("1", " Ada ", "Lovelace", "", "").DisplayName)
	assert.Equal(t, "Ada", NewStudent("1", "Ada", "", "", "").DisplayName)
	assert.Equal(t, "1", NewStudent("1", " ", "", "", "").DisplayName)
}

func TestWindow(t *testing.T) {
	now := at(t, "2024-03-11T06:00:00Z")
	start, end := Window(now, 0)
	assert.Equal(t, now, start)
	assert.Equal(t, now.Add(7*24*time.Hour), end)
}
