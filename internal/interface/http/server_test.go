package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busroute-hub/stopfinder-bridge/internal/application/coordinator"
	"github.com/busroute-hub/stopfinder-bridge/internal/domain/schedule"
	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
	"github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/external/stopfinder"
	"github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/scheduler"
	"github.com/busroute-hub/stopfinder-bridge/internal/interface/http/handlers"
)

type stateStub struct {
	state atomic.Pointer[coordinator.State]
}

func (s *stateStub) State() *coordinator.State { return s.state.Load() }

type refresherStub struct {
	calls atomic.Int32
	err   error
	done  chan struct{}
}

func (r *refresherStub) Refresh(ctx context.Context) error {
	r.calls.Add(1)
	if r.done != nil {
		defer close(r.done)
	}
	return r.err
}

type runsStub struct {
	runs  []*schedule.RefreshRun
	limit int
	err   error
}

func (r *runsStub) RecordRun(context.Context, *schedule.RefreshRun) error { return nil }

func (r *runsStub) RecentRuns(_ context.Context, _ string, limit int) ([]*schedule.RefreshRun, error) {
	r.limit = limit
	return r.runs, r.err
}

type upstreamStub stopfinder.ClientStatus

func (u upstreamStub) Status() stopfinder.ClientStatus { return stopfinder.ClientStatus(u) }

type jobsStub []scheduler.JobInfo

func (j jobsStub) ListJobs() []scheduler.JobInfo { return j }

func publishedState() *coordinator.State {
	pickup := schedule.Trip{
		StudentID:   "101",
		Type:        schedule.TripPickup,
		ScheduledAt: time.Date(2024, 3, 11, 7, 15, 0, 0, time.UTC),
		StopName:    "Elm & 5th",
		BusNumber:   "42",
	}
	ava := schedule.NewStudent("101", "Ava", "Lee", "Oak Elementary", "3")
	ben := schedule.NewStudent("202", "Ben", "Lee", "Oak Elementary", "5")
	return &coordinator.State{
		Phase: coordinator.PhasePublished,
		Views: map[string]schedule.StudentView{
			"101": {Student: ava, NextPickup: &pickup},
			"202": {Student: ben},
		},
		Students:      []schedule.Student{ava, ben},
		LastSuccessAt: time.Date(2024, 3, 11, 7, 0, 0, 0, time.UTC),
		LastAttemptAt: time.Date(2024, 3, 11, 7, 0, 0, 0, time.UTC),
		RunID:         "run-1",
	}
}

func newTestServer(t *testing.T, deps Dependencies, mutate ...func(*Config)) (*Server, *stateStub) {
	t.Helper()
	stub := &stateStub{}
	stub.state.Store(publishedState())
	if deps.State == nil {
		deps.State = stub
	}
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	for _, m := range mutate {
		m(&cfg)
	}
	return NewServer(cfg, deps), stub
}

func do(t *testing.T, s *Server, method, target string, header ...string) (*httptest.ResponseRecorder, JSONResponse) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body JSONResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestGetState(t *testing.T) {
	s, _ := newTestServer(t, Dependencies{})

	rec, body := do(t, s, http.MethodGet, "/api/v1/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	var dto StateDTO
	raw, _ := json.Marshal(body.Data)
	require.NoError(t, json.Unmarshal(raw, &dto))
	assert.Equal(t, "published", dto.Phase)
	assert.Equal(t, "none", dto.LastError)
	assert.False(t, dto.Stale)
	require.Len(t, dto.Students, 2)
	assert.Equal(t, "Ava Lee", dto.Students[0].DisplayName)
	assert.Equal(t, "42", dto.Students[0].BusNumber)
	require.NotNil(t, dto.Students[0].NextPickup)
	assert.Equal(t, "pickup", dto.Students[0].NextPickup.Type)
	assert.Nil(t, dto.Students[1].NextPickup)
	assert.Nil(t, dto.Students[1].NextDropoff)
}

func TestGetState_UpstreamStatus(t *testing.T) {
	upstream := upstreamStub{CircuitState: "open", ConsecutiveFailures: 3}
	s, _ := newTestServer(t, Dependencies{Upstream: upstream})

	rec, body := do(t, s, http.MethodGet, "/api/v1/state")
	require.Equal(t, http.StatusOK, rec.Code)

	var dto StateDTO
	raw, _ := json.Marshal(body.Data)
	require.NoError(t, json.Unmarshal(raw, &dto))
	require.NotNil(t, dto.Upstream)
	assert.Equal(t, "open", dto.Upstream.CircuitState)
	assert.Equal(t, uint32(3), dto.Upstream.ConsecutiveFailures)

	bare, _ := newTestServer(t, Dependencies{})
	_, body = do(t, bare, http.MethodGet, "/api/v1/state")
	assert.NotContains(t, body.Data.(map[string]any), "upstream")
}

func TestGetState_StaleAfterFailure(t *testing.T) {
	s, stub := newTestServer(t, Dependencies{})
	failed := *publishedState()
	failed.Phase = coordinator.PhaseFailed
	failed.LastError = shared.KindConnectivity
	failed.ConsecutiveFailures = 2
	stub.state.Store(&failed)

	_, body := do(t, s, http.MethodGet, "/api/v1/state")
	data := body.Data.(map[string]any)
	assert.Equal(t, "failed", data["phase"])
	assert.Equal(t, true, data["stale"])
	assert.Equal(t, "connectivity", data["last_error"])
	assert.Len(t, data["students"], 2)
}

func TestGetStudent(t *testing.T) {
	s, _ := newTestServer(t, Dependencies{})

	rec, body := do(t, s, http.MethodGet, "/api/v1/students/101")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "101", body.Data.(map[string]any)["student_id"])

	rec, body = do(t, s, http.MethodGet, "/api/v1/students/999")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "student_not_found", body.Error.Code)

	rec, body = do(t, s, http.MethodGet, "/api/v1/students")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, body.Meta.TotalCount)
}

func TestRefresh_Async(t *testing.T) {
	refresher := &refresherStub{done: make(chan struct{})}
	s, _ := newTestServer(t, Dependencies{Refresher: refresher})

	rec, _ := do(t, s, http.MethodPost, "/api/v1/refresh")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-refresher.done:
	case <-time.After(time.Second):
		t.Fatal("refresh not started")
	}
	assert.Equal(t, int32(1), refresher.calls.Load())
}

func TestRefresh_RejectedOnceShutdownBegins(t *testing.T) {
	refresher := &refresherStub{}
	s, _ := newTestServer(t, Dependencies{Refresher: refresher})

	require.NoError(t, s.Shutdown(context.Background()))

	rec, body := do(t, s, http.MethodPost, "/api/v1/refresh")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "shutting_down", body.Error.Code)
	assert.Zero(t, refresher.calls.Load())
}

type blockingRefresher struct {
	started  chan struct{}
	release  chan struct{}
	finished atomic.Bool
}

func (b *blockingRefresher) Refresh(ctx context.Context) error {
	close(b.started)
	<-b.release
	b.finished.Store(true)
	return nil
}

func TestShutdown_WaitsForBackgroundRefresh(t *testing.T) {
	refresher := &blockingRefresher{started: make(chan struct{}), release: make(chan struct{})}
	s, _ := newTestServer(t, Dependencies{Refresher: refresher})

	rec, _ := do(t, s, http.MethodPost, "/api/v1/refresh")
	require.Equal(t, http.StatusAccepted, rec.Code)
	<-refresher.started

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(refresher.release)
	}()
	require.NoError(t, s.Shutdown(context.Background()))
	assert.True(t, refresher.finished.Load())
}

func TestRefresh_Wait(t *testing.T) {
	t.Run("success returns state", func(t *testing.T) {
		s, _ := newTestServer(t, Dependencies{Refresher: &refresherStub{}})
		rec, body := do(t, s, http.MethodPost, "/api/v1/refresh?wait=true")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "published", body.Data.(map[string]any)["phase"])
	})

	t.Run("in flight conflicts", func(t *testing.T) {
		s, _ := newTestServer(t, Dependencies{Refresher: &refresherStub{err: shared.ErrRefreshInFlight}})
		rec, body := do(t, s, http.MethodPost, "/api/v1/refresh?wait=1")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "refresh_in_flight", body.Error.Code)
	})

	t.Run("auth failure is a bad gateway", func(t *testing.T) {
		err := shared.NewDomainError("stopfinder", "Login", shared.ErrAuth, "rejected")
		s, _ := newTestServer(t, Dependencies{Refresher: &refresherStub{err: err}})
		rec, body := do(t, s, http.MethodPost, "/api/v1/refresh?wait=true")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "upstream_auth", body.Error.Code)
	})
}

func TestRefresh_RefusedWhileRefreshing(t *testing.T) {
	refresher := &refresherStub{}
	s, stub := newTestServer(t, Dependencies{Refresher: refresher})
	refreshing := *publishedState()
	refreshing.Phase = coordinator.PhaseRefreshing
	stub.state.Store(&refreshing)

	rec, _ := do(t, s, http.MethodPost, "/api/v1/refresh")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Zero(t, refresher.calls.Load())
}

func TestRefresh_APIKey(t *testing.T) {
	refresher := &refresherStub{}
	s, _ := newTestServer(t, Dependencies{Refresher: refresher}, func(c *Config) {
		c.APIKeys = []string{"sekrit"}
	})

	rec, _ := do(t, s, http.MethodPost, "/api/v1/refresh?wait=true")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/refresh?wait=true", "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/refresh?wait=true", "Authorization", "Bearer sekrit")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), refresher.calls.Load())

	rec, _ = do(t, s, http.MethodGet, "/api/v1/state")
	assert.Equal(t, http.StatusOK, rec.Code, "reads stay open")
}

func TestRefresh_NotConfigured(t *testing.T) {
	s, _ := newTestServer(t, Dependencies{})
	rec, _ := do(t, s, http.MethodPost, "/api/v1/refresh")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestListRuns(t *testing.T) {
	runs := &runsStub{runs: []*schedule.RefreshRun{{ID: "r1", Outcome: schedule.RunPublished, Attempts: 1}}}
	s, _ := newTestServer(t, Dependencies{Runs: runs, AccountID: "a@b.org"})

	rec, body := do(t, s, http.MethodGet, "/api/v1/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, runs.limit)
	assert.Equal(t, 1, body.Meta.TotalCount)

	runs.err = errors.New("db down")
	rec, _ = do(t, s, http.MethodGet, "/api/v1/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 20, runs.limit)
}

func TestListJobs(t *testing.T) {
	s, _ := newTestServer(t, Dependencies{Jobs: jobsStub{{Name: "refresh_schedule", Schedule: "@every 5m0s"}}})
	rec, body := do(t, s, http.MethodGet, "/api/v1/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, body.Meta.TotalCount)

	bare, _ := newTestServer(t, Dependencies{})
	rec, _ = do(t, bare, http.MethodGet, "/api/v1/jobs")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	var hasData atomic.Bool
	checker.AddReadinessCheck("schedule", func(context.Context) error {
		if !hasData.Load() {
			return errors.New("no schedule yet")
		}
		return nil
	})
	s, _ := newTestServer(t, Dependencies{HealthChecker: checker})

	rec, _ := do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code, "readiness failures keep liveness green")

	rec, _ = do(t, s, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	hasData.Store(true)
	rec, _ = do(t, s, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	checker.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	rec, body := do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, body.Success)
}

func TestMetricsRouteAndObserver(t *testing.T) {
	var observed []string
	obs := observerFunc(func(method, route string, status int) {
		observed = append(observed, method+" "+route)
	})
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("stopfinder_refresh_dropped_total 0\n"))
	})
	s, _ := newTestServer(t, Dependencies{MetricsHandler: metrics, Observer: obs})

	rec, _ := do(t, s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stopfinder_refresh_dropped_total")

	do(t, s, http.MethodGet, "/api/v1/students/101")
	assert.Contains(t, observed, "GET GET /api/v1/students/{id}")
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, Dependencies{}, func(c *Config) { c.RateLimitPerMinute = 6 })

	rec, _ := do(t, s, http.MethodGet, "/live", "X-Forwarded-For", "10.0.0.1")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, s, http.MethodGet, "/live", "X-Forwarded-For", "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/live", "X-Forwarded-For", "10.0.0.2")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t, Dependencies{}, func(c *Config) { c.AllowedOrigins = []string{"https://home.example.org"} })

	rec, _ := do(t, s, http.MethodOptions, "/api/v1/state", "Origin", "https://home.example.org")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://home.example.org", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = do(t, s, http.MethodGet, "/api/v1/state", "Origin", "https://evil.example.com")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

type observerFunc func(method, route string, status int)

func (f observerFunc) ObserveHTTP(method, route string, status int) { f(method, route, status) }
