package stopfinder

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busroute-hub/stopfinder-bridge/internal/domain/schedule"
	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
)

const twoTripDay = `[
  {
    "date": "2024-03-11T00:00:00",
    "studentSchedules": [
      {
        "riderId": 101,
        "firstName": "Ava",
        "lastName": "Lee",
        "school": "Maple Elementary",
        "grade": 3,
        "trips": [
          {"name": "AM 12", "busNumber": 12, "toSchool": true,
           "pickUpTime": "1899-12-30T07:15:00", "pickUpStopName": "Oak & 5th",
           "startTime": "1899-12-30T06:50:00", "finishTime": "garbage"},
          {"name": "PM 12", "busNumber": "12", "toSchool": false,
           "dropOffTime": "1899-12-30T15:45:00", "dropOffStopName": "Oak & 5th",
           "adjustMinutes": 5}
        ]
      }
    ]
  }
]`

func fetchWith(t *testing.T, body string, status int) (*schedule.FetchResult, error) {
	t.Helper()

	upstream := newFakeUpstream()
	upstream.schedule = func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok-1", r.Header.Get("Token"))
		assert.Equal(t, "ck-1", r.Header.Get("X-Client-Keys"))
		assert.Equal(t, "2024-03-11", r.URL.Query().Get("dateStart"))
		assert.Equal(t, "2024-03-18", r.URL.Query().Get("dateEnd"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
	server := httptest.NewServer(upstream.handler(t))
	t.Cleanup(server.Close)

	client := newTestClient(t, server.URL)
	session, err := NewSessionManager(client).EnsureSession(context.Background())
	require.NoError(t, err)

	now := time.Date(2024, 3, 11, 6, 0, 0, 0, client.Location())
	return NewScheduleFetcher(client).FetchSchedule(context.Background(), session, now)
}

func TestFetchSchedule_NormalizesTrips(t *testing.T) {
	t.Parallel()

	result, err := fetchWith(t, twoTripDay, http.StatusOK)
	require.NoError(t, err)

	est := time.FixedZone("EST", -5*60*60)

	require.Len(t, result.Students, 1)
	assert.Equal(t, "101", result.Students[0].ID)
	assert.Equal(t, "Ava Lee", result.Students[0].DisplayName)
	assert.Equal(t, "3", result.Students[0].Grade)

	require.Len(t, result.Trips, 2)
	assert.Empty(t, result.Rejected)

	pickup := result.Trips[0]
	assert.Equal(t, schedule.TripPickup, pickup.Type)
	assert.True(t, pickup.ScheduledAt.Equal(time.Date(2024, 3, 11, 7, 15, 0, 0, est)), pickup.ScheduledAt)
	assert.Equal(t, "Oak & 5th", pickup.StopName)
	assert.Equal(t, "12", pickup.BusNumber)
	assert.Equal(t, "AM 12", pickup.TripName)
	require.NotNil(t, pickup.StartAt)
	assert.True(t, pickup.StartAt.Equal(time.Date(2024, 3, 11, 6, 50, 0, 0, est)))
	assert.Nil(t, pickup.FinishAt)

	dropoff := result.Trips[1]
	assert.Equal(t, schedule.TripDropoff, dropoff.Type)
	assert.True(t, dropoff.ScheduledAt.Equal(time.Date(2024, 3, 11, 15, 50, 0, 0, est)), dropoff.ScheduledAt)

	assert.False(t, result.WindowStart.IsZero())
	assert.Equal(t, 7*24*time.Hour, result.WindowEnd.Sub(result.WindowStart))
}

func TestFetchSchedule_DropsMalformedRecord(t *testing.T) {
	t.Parallel()

	body := `[
	  {"date": "2024-03-11", "studentSchedules": [
	    {"riderId": "101", "trips": [
	      {"toSchool": true, "pickUpTime": "2024-03-11T07:15:00"},
	      {"toSchool": true, "pickUpStopName": "Elm"},
	      {"toSchool": false, "dropOffTime": "2024-03-11T15:45:00"}
	    ]}
	  ]}
	]`

	result, err := fetchWith(t, body, http.StatusOK)
	require.NoError(t, err)

	assert.Len(t, result.Trips, 2)
	require.Len(t, result.Rejected, 1)
	assert.Equal(t, "day[0].student[0].trip[1]", result.Rejected[0].Record)
	assert.Equal(t, "pickUpTime", result.Rejected[0].Field)
}

func TestFetchSchedule_NonListBodyIsParseError(t *testing.T) {
	t.Parallel()

	_, err := fetchWith(t, `{"days": []}`, http.StatusOK)
	require.Error(t, err)
	assert.True(t, shared.IsParse(err))

	var perr *shared.ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "response", perr.Record)
}

func TestFetchSchedule_StatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusUnauthorized, shared.IsAuth},
		{http.StatusForbidden, shared.IsAuth},
		{http.StatusNotFound, shared.IsConnectivity},
		{http.StatusBadGateway, shared.IsConnectivity},
		{http.StatusTooManyRequests, shared.IsConnectivity},
	}

	for _, tt := range tests {
		_, err := fetchWith(t, `{"message":"nope"}`, tt.status)
		require.Error(t, err, "status %d", tt.status)
		assert.True(t, tt.check(err), "status %d: %v", tt.status, err)
	}
}

func TestFetchSchedule_EmptyScheduleIsValid(t *testing.T) {
	t.Parallel()

	result, err := fetchWith(t, `[]`, http.StatusOK)
	require.NoError(t, err)
	assert.Empty(t, result.Students)
	assert.Empty(t, result.Trips)
}

func TestFetchSchedule_NilSessionIsAuthError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, "http://127.0.0.1:1")
	_, err := NewScheduleFetcher(client).FetchSchedule(context.Background(), nil, time.Now())

	assert.True(t, shared.IsAuth(err))
}
