package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/busroute-hub/stopfinder-bridge/internal/application/coordinator"
	"github.com/busroute-hub/stopfinder-bridge/internal/domain/schedule"
	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
	"github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/external/stopfinder"
)

// ══════════════════════════════════════════════════════════════════════════════
// DTOs
// ══════════════════════════════════════════════════════════════════════════════

// TripDTO is one pickup or drop-off.
type TripDTO struct {
	Type        string     `json:"trip_type"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	StopName    string     `json:"stop_name,omitempty"`
	BusNumber   string     `json:"bus_number,omitempty"`
	TripName    string     `json:"trip_name,omitempty"`
	StartAt     *time.Time `json:"start_at,omitempty"`
	FinishAt    *time.Time `json:"finish_at,omitempty"`
}

// StudentDTO is one student's resolved view.
type StudentDTO struct {
	StudentID   string   `json:"student_id"`
	DisplayName string   `json:"display_name"`
	SchoolName  string   `json:"school_name,omitempty"`
	Grade       string   `json:"grade,omitempty"`
	BusNumber   string   `json:"bus_number,omitempty"`
	NextPickup  *TripDTO `json:"next_pickup"`
	NextDropoff *TripDTO `json:"next_dropoff"`
}

// StateDTO is the public form of the coordinator state.
type StateDTO struct {
	Phase                string       `json:"phase"`
	Stale                bool         `json:"stale"`
	Restored             bool         `json:"restored"`
	LastSuccessAt        *time.Time   `json:"last_success_at"`
	LastAttemptAt        *time.Time   `json:"last_attempt_at"`
	LastError            string       `json:"last_error"`
	LastErrorMessage     string       `json:"last_error_message,omitempty"`
	ConsecutiveFailures  int          `json:"consecutive_failures"`
	ConnectivityFailures int          `json:"connectivity_failures"`
	Rejected             int          `json:"rejected_records"`
	RunID                string       `json:"run_id,omitempty"`
	Students             []StudentDTO `json:"students"`

	Upstream *stopfinder.ClientStatus `json:"upstream,omitempty"`
}

func toTripDTO(t *schedule.Trip) *TripDTO {
	if t == nil {
		return nil
	}
	return &TripDTO{
		Type:        t.Type.String(),
		ScheduledAt: t.ScheduledAt,
		StopName:    t.StopName,
		BusNumber:   t.BusNumber,
		TripName:    t.TripName,
		StartAt:     t.StartAt,
		FinishAt:    t.FinishAt,
	}
}

func toStudentDTO(v schedule.StudentView) StudentDTO {
	return StudentDTO{
		StudentID:   v.Student.ID,
		DisplayName: v.Student.DisplayName,
		SchoolName:  v.Student.SchoolName,
		Grade:       v.Student.Grade,
		BusNumber:   v.BusNumber(),
		NextPickup:  toTripDTO(v.NextPickup),
		NextDropoff: toTripDTO(v.NextDropoff),
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toStateDTO(st *coordinator.State) StateDTO {
	views := st.OrderedViews()
	students := make([]StudentDTO, 0, len(views))
	for _, v := range views {
		students = append(students, toStudentDTO(v))
	}
	return StateDTO{
		Phase:                st.Phase.String(),
		Stale:                st.Stale(),
		Restored:             st.Restored,
		LastSuccessAt:        optionalTime(st.LastSuccessAt),
		LastAttemptAt:        optionalTime(st.LastAttemptAt),
		LastError:            st.LastError.String(),
		LastErrorMessage:     st.LastErrorMessage,
		ConsecutiveFailures:  st.ConsecutiveFailures,
		ConnectivityFailures: st.ConnectivityFailures,
		Rejected:             st.Rejected,
		RunID:                st.RunID,
		Students:             students,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "stopfinder-bridge",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"state":    "/api/v1/state",
			"students": "/api/v1/students",
			"refresh":  "POST /api/v1/refresh",
			"runs":     "/api/v1/runs",
			"jobs":     "/api/v1/jobs",
			"health":   "/health",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"status": "healthy",
			"uptime": s.Uptime().Round(time.Second).String(),
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady reports ready once a schedule is available, live or restored.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		if status := s.deps.HealthChecker.Check(r.Context()); !status.Ready {
			writeJSONWithMeta(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			}, nil)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetState handles GET /api/v1/state
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	dto := toStateDTO(s.deps.State.State())
	if s.deps.Upstream != nil {
		upstream := s.deps.Upstream.Status()
		dto.Upstream = &upstream
	}
	writeJSONWithMeta(w, r, http.StatusOK, dto, &ResponseMeta{TotalCount: len(dto.Students)})
}

// handleListStudents handles GET /api/v1/students
func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	views := s.deps.State.State().OrderedViews()
	out := make([]StudentDTO, 0, len(views))
	for _, v := range views {
		out = append(out, toStudentDTO(v))
	}
	writeJSONWithMeta(w, r, http.StatusOK, out, &ResponseMeta{TotalCount: len(out)})
}

// handleGetStudent handles GET /api/v1/students/{id}
func (s *Server) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view, ok := s.deps.State.State().View(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "student_not_found", "No student with id "+id)
		return
	}
	writeJSON(w, r, http.StatusOK, toStudentDTO(view))
}

// handleRefresh handles POST /api/v1/refresh. By default the cycle runs in
// the background and the call returns 202; ?wait=true blocks until the cycle
// ends and returns the resulting state.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.Refresher == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_configured", "Refresh is not available")
		return
	}

	if s.deps.State.State().Phase == coordinator.PhaseRefreshing {
		writeJSONError(w, http.StatusConflict, "refresh_in_flight", "A refresh is already running")
		return
	}

	if !getQueryParamBool(r, "wait") {
		if !s.trackRefresh() {
			writeJSONError(w, http.StatusServiceUnavailable, "shutting_down", "The server is shutting down")
			return
		}
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.config.RefreshTimeout)
			defer cancel()
			if err := s.deps.Refresher.Refresh(ctx); err != nil && !errors.Is(err, shared.ErrRefreshInFlight) {
				s.logger.WarnContext(ctx, "manual refresh failed", "error", err, "kind", shared.KindOf(err).String())
			}
		}()
		writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RefreshTimeout)
	defer cancel()

	err := s.deps.Refresher.Refresh(ctx)
	switch {
	case errors.Is(err, shared.ErrRefreshInFlight):
		writeJSONError(w, http.StatusConflict, "refresh_in_flight", "A refresh is already running")
	case err != nil:
		code, status := refreshErrorCode(err)
		writeJSONError(w, status, code, err.Error())
	default:
		writeJSON(w, r, http.StatusOK, toStateDTO(s.deps.State.State()))
	}
}

// trackRefresh registers a background refresh with the shutdown wait group,
// unless Shutdown has already started waiting on it.
func (s *Server) trackRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.wg.Add(1)
	return true
}

func refreshErrorCode(err error) (string, int) {
	switch shared.KindOf(err) {
	case shared.KindAuth:
		return "upstream_auth", http.StatusBadGateway
	case shared.KindConnectivity:
		return "upstream_unreachable", http.StatusBadGateway
	case shared.KindParse:
		return "upstream_payload", http.StatusBadGateway
	default:
		return "refresh_failed", http.StatusInternalServerError
	}
}

// handleListRuns handles GET /api/v1/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_configured", "Run history is not configured")
		return
	}

	runs, err := s.deps.Runs.RecentRuns(r.Context(), s.deps.AccountID, getQueryParamInt(r, "limit", 20))
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to list runs", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "Failed to load run history")
		return
	}
	if runs == nil {
		runs = []*schedule.RefreshRun{}
	}
	writeJSONWithMeta(w, r, http.StatusOK, runs, &ResponseMeta{TotalCount: len(runs)})
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSONError(w, http.StatusNotImplemented, "not_configured", "Scheduler is not running")
		return
	}
	jobs := s.deps.Jobs.ListJobs()
	writeJSONWithMeta(w, r, http.StatusOK, jobs, &ResponseMeta{TotalCount: len(jobs)})
}
