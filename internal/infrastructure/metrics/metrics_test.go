package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busroute-hub/stopfinder-bridge/internal/application/coordinator"
	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
	"github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/scheduler"
)

func TestRecordCycle(t *testing.T) {
	m := New("test")

	m.RecordCycle(coordinator.PhasePublished, shared.KindNone, 1, 300*time.Millisecond)
	m.RecordCycle(coordinator.PhaseFailed, shared.KindAuth, 2, time.Second)
	m.RecordCycle(coordinator.PhaseFailed, shared.KindAuth, 2, time.Second)
	m.RecordDropped()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshCycles.WithLabelValues("published", "none")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RefreshCycles.WithLabelValues("failed", "auth")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshDropped))
}

func TestRecordPublished(t *testing.T) {
	m := New("test")
	at := time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)

	m.RecordPublished(2, 9, 1, at)

	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(m.LastSuccess))
	assert.Equal(t, 9.0, testutil.ToFloat64(m.PublishedCounts.WithLabelValues("trips")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishedCounts.WithLabelValues("rejected")))
}

func TestObservers(t *testing.T) {
	m := New("test")

	m.ObserveRequest("login", 401, 20*time.Millisecond)
	m.ObserveRequest("schedule", 0, time.Second)
	m.ObserveJob(scheduler.JobResult{JobName: "refresh_schedule", Success: false, Error: errors.New("x"), Manual: true})
	m.ObserveEvent("refresh.failed", time.Millisecond, true)
	m.ObserveHTTP("GET", "/api/v1/state", 200)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("login", "401")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("schedule", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobRuns.WithLabelValues("refresh_schedule", "failure", "manual")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsHandled.WithLabelValues("refresh.failed", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/v1/state", "200")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New("1.2.3")
	m.RecordDropped()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "stopfinder_refresh_dropped_total 1")
	assert.Contains(t, string(body), `stopfinder_last_success_timestamp_seconds{version="1.2.3"}`)
	assert.Contains(t, string(body), "go_goroutines")
}
