package coordinator

import (
	"time"

	"github.com/busroute-hub/stopfinder-bridge/internal/domain/schedule"
	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
)

// Phase is the coordinator's position in the refresh state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRefreshing Phase = "refreshing"
	PhasePublished  Phase = "published"
	PhaseFailed     Phase = "failed"
)

// String returns the phase name.
func (p Phase) String() string {
	return string(p)
}

// State is an immutable snapshot of the coordinator. A new State replaces
// the previous one on every transition; callers must not modify the Views
// map or the slices.
type State struct {
	Phase Phase

	// Views holds the resolved next trips keyed by student id.
	Views map[string]schedule.StudentView

	// Students keeps the fetch order for listing.
	Students []schedule.Student

	// Trips are the records the views were resolved from.
	Trips []schedule.Trip

	LastSuccessAt time.Time
	LastAttemptAt time.Time

	// LastError is KindNone after a successful publish.
	LastError        shared.ErrorKind
	LastErrorMessage string

	// ConsecutiveFailures counts failed cycles of any kind since the last publish.
	ConsecutiveFailures int

	// ConnectivityFailures counts back-to-back connectivity failures; it
	// drives the refresh backoff.
	ConnectivityFailures int

	// Rejected is the number of records dropped by the last published fetch.
	Rejected int

	// Restored is true while the views come from the snapshot store rather
	// than a live fetch.
	Restored bool

	// RunID identifies the cycle that produced this state.
	RunID string
}

func initialState() *State {
	return &State{
		Phase: PhaseIdle,
		Views: map[string]schedule.StudentView{},
	}
}

// with returns a shallow copy in the given phase.
func (s *State) with(phase Phase) *State {
	next := *s
	next.Phase = phase
	return &next
}

// View returns the resolved view for one student.
func (s *State) View(studentID string) (schedule.StudentView, bool) {
	v, ok := s.Views[studentID]
	return v, ok
}

// OrderedViews returns the views in fetch order.
func (s *State) OrderedViews() []schedule.StudentView {
	out := make([]schedule.StudentView, 0, len(s.Views))
	for _, st := range s.Students {
		if v, ok := s.Views[st.ID]; ok {
			out = append(out, v)
		}
	}
	return out
}

// HasData reports whether any schedule has ever been published or restored.
func (s *State) HasData() bool {
	return !s.LastSuccessAt.IsZero()
}

// Stale reports whether the views predate the last attempt, i.e. the most
// recent cycle failed and older data is being served.
func (s *State) Stale() bool {
	return s.Phase == PhaseFailed && s.HasData()
}
