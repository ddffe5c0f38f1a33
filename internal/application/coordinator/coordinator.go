// Package coordinator runs the refresh cycle: ensure a session, fetch the
// schedule, resolve next trips and publish the result as an immutable state
// that readers load without locking.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/busroute-hub/stopfinder-bridge/internal/domain/schedule"
	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
	"github.com/busroute-hub/stopfinder-bridge/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// Session is an authenticated upstream session. Its credentials stay with
// the session manager; the coordinator only hands it to the fetcher.
type Session interface {
	AuthenticatedAt() time.Time
}

// SessionManager owns authentication against the upstream.
type SessionManager interface {
	// EnsureSession returns a usable session, logging in when needed.
	EnsureSession(ctx context.Context) (Session, error)

	// Invalidate forces the next EnsureSession to log in again.
	Invalidate()
}

// ScheduleFetcher pulls and normalizes the schedule.
type ScheduleFetcher interface {
	FetchSchedule(ctx context.Context, session Session, now time.Time) (*schedule.FetchResult, error)
}

// Metrics receives cycle outcomes.
type Metrics interface {
	RecordCycle(phase Phase, kind shared.ErrorKind, attempts int, duration time.Duration)
	RecordPublished(students, trips, rejected int, at time.Time)
	RecordDropped()
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the coordinator.
type Config struct {
	// AccountID keys snapshots and run history
	AccountID string

	// Backoff stretches the refresh interval after consecutive
	// connectivity failures; a zero Initial disables it
	Backoff retry.Backoff

	// SideEffectTimeout bounds snapshot, run history and event writes
	SideEffectTimeout time.Duration

	// Logger for structured logging
	Logger *slog.Logger

	// Now overrides the clock (tests)
	Now func() time.Time
}

// Option attaches an optional side output.
type Option func(*Coordinator)

// WithSnapshotRepository stores every published schedule for warm restarts.
func WithSnapshotRepository(repo schedule.SnapshotRepository) Option {
	return func(c *Coordinator) { c.snapshots = repo }
}

// WithRunRepository records every finished cycle.
func WithRunRepository(repo schedule.RunRepository) Option {
	return func(c *Coordinator) { c.runs = repo }
}

// WithEventPublisher emits domain events for publishes, failures and
// next-trip changes.
func WithEventPublisher(publisher shared.EventPublisher) Option {
	return func(c *Coordinator) { c.events = publisher }
}

// WithMetrics reports cycle outcomes.
func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// ══════════════════════════════════════════════════════════════════════════════
// COORDINATOR
// ══════════════════════════════════════════════════════════════════════════════

// Coordinator is the single writer of State. At most one cycle runs at a
// time; triggers that arrive while one is running are dropped.
type Coordinator struct {
	sessions SessionManager
	fetcher  ScheduleFetcher

	snapshots schedule.SnapshotRepository
	runs      schedule.RunRepository
	events    shared.EventPublisher
	metrics   Metrics

	config Config
	logger *slog.Logger
	now    func() time.Time

	inflight *semaphore.Weighted
	state    atomic.Pointer[State]
}

// New creates a coordinator in the Idle phase.
func New(sessions SessionManager, fetcher ScheduleFetcher, config Config, opts ...Option) *Coordinator {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.SideEffectTimeout <= 0 {
		config.SideEffectTimeout = 5 * time.Second
	}

	c := &Coordinator{
		sessions: sessions,
		fetcher:  fetcher,
		config:   config,
		logger:   config.Logger.With("component", "coordinator"),
		now:      config.Now,
		inflight: semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(initialState())
	return c
}

// State returns the current snapshot. It never blocks.
func (c *Coordinator) State() *State {
	return c.state.Load()
}

// Refresh runs one cycle and returns its error, which is also recorded in
// State. When a cycle is already running it returns ErrRefreshInFlight
// immediately and changes nothing.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if !c.inflight.TryAcquire(1) {
		c.logger.Debug("refresh already in flight, trigger dropped")
		if c.metrics != nil {
			c.metrics.RecordDropped()
		}
		return shared.ErrRefreshInFlight
	}
	defer c.inflight.Release(1)

	return c.cycle(ctx)
}

// NextDelay returns how long to wait before the next scheduled cycle:
// interval, or the backoff delay for the current connectivity failure
// streak when that is longer.
func (c *Coordinator) NextDelay(interval time.Duration) time.Duration {
	if d := c.BackoffDelay(); d > interval {
		return d
	}
	return interval
}

// BackoffDelay is the minimum wait implied by the current connectivity
// failure streak; zero when there is none or backoff is disabled.
func (c *Coordinator) BackoffDelay() time.Duration {
	return c.config.Backoff.Delay(c.state.Load().ConnectivityFailures)
}

// Restore publishes the stored snapshot, re-resolved at the current time,
// unless a live fetch has already succeeded.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.snapshots == nil {
		return shared.ErrNotConfigured
	}
	if !c.inflight.TryAcquire(1) {
		return shared.ErrRefreshInFlight
	}
	defer c.inflight.Release(1)

	current := c.state.Load()
	if current.HasData() {
		return nil
	}

	snap, err := c.snapshots.LoadSnapshot(ctx, c.config.AccountID)
	if err != nil {
		return err
	}

	views := schedule.Resolve(snap.Students, snap.Trips, c.now())
	c.state.Store(&State{
		Phase:         PhasePublished,
		Views:         views,
		Students:      snap.Students,
		Trips:         snap.Trips,
		LastSuccessAt: snap.FetchedAt,
		LastAttemptAt: current.LastAttemptAt,
		Restored:      true,
	})

	c.logger.Info("schedule restored from snapshot",
		"students", len(snap.Students),
		"trips", len(snap.Trips),
		"fetched_at", snap.FetchedAt,
	)
	return nil
}

// cycle runs ensure_session, fetch and resolve. An auth rejection
// invalidates the session and retries once; nothing else is retried.
func (c *Coordinator) cycle(ctx context.Context) (err error) {
	run := &schedule.RefreshRun{
		ID:        uuid.NewString(),
		AccountID: c.config.AccountID,
		StartedAt: c.now(),
	}
	prev := c.state.Load()

	refreshing := prev.with(PhaseRefreshing)
	refreshing.LastAttemptAt = run.StartedAt
	c.state.Store(refreshing)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh cycle panicked: %v", r)
			c.logger.Error("refresh cycle panicked", "panic", r, "stack", string(debug.Stack()))
		}
		if err != nil {
			c.fail(ctx, prev, run, err)
		}
	}()

	var result *schedule.FetchResult
	err = retry.Do(ctx, func(ctx context.Context) error {
		run.Attempts++

		session, err := c.sessions.EnsureSession(ctx)
		if err != nil {
			return err
		}
		result, err = c.fetcher.FetchSchedule(ctx, session, c.now())
		return err
	},
		retry.WithMaxAttempts(2),
		retry.WithInitialDelay(0),
		retry.WithRetryIf(shared.IsAuth),
		retry.WithOnRetry(func(attempt int, err error, _ time.Duration) {
			c.logger.Info("session rejected, re-authenticating", "attempt", attempt, "error", err)
			c.sessions.Invalidate()
		}),
	)
	if err != nil {
		return classifyContextErr(err)
	}
	if result == nil {
		result = &schedule.FetchResult{}
	}

	c.publish(ctx, prev, run, result)
	return nil
}

// classifyContextErr reports a cycle whose context ended before the upstream
// answered as a connectivity failure, so it backs off like any other outage.
func classifyContextErr(err error) error {
	if shared.KindOf(err) != shared.KindUnknown {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return shared.WrapError("coordinator", "Refresh", shared.ErrConnectivity, "cycle context ended", err)
	}
	return err
}

func (c *Coordinator) publish(ctx context.Context, prev *State, run *schedule.RefreshRun, result *schedule.FetchResult) {
	now := c.now()
	views := schedule.Resolve(result.Students, result.Trips, now)

	c.state.Store(&State{
		Phase:         PhasePublished,
		Views:         views,
		Students:      result.Students,
		Trips:         result.Trips,
		LastSuccessAt: now,
		LastAttemptAt: run.StartedAt,
		Rejected:      len(result.Rejected),
		RunID:         run.ID,
	})

	run.FinishedAt = now
	run.Outcome = schedule.RunPublished
	run.Students = len(result.Students)
	run.Trips = len(result.Trips)
	run.Rejected = len(result.Rejected)

	c.logger.Info("schedule published",
		"run_id", run.ID,
		"students", run.Students,
		"trips", run.Trips,
		"rejected", run.Rejected,
		"attempts", run.Attempts,
		"duration", run.Duration(),
	)

	if c.metrics != nil {
		c.metrics.RecordCycle(PhasePublished, shared.KindNone, run.Attempts, run.Duration())
		c.metrics.RecordPublished(run.Students, run.Trips, run.Rejected, now)
	}

	sideCtx, cancel := c.sideContext(ctx)
	defer cancel()

	if c.snapshots != nil {
		snap := &schedule.Snapshot{
			AccountID: c.config.AccountID,
			Students:  result.Students,
			Trips:     result.Trips,
			FetchedAt: now,
		}
		if err := c.snapshots.SaveSnapshot(sideCtx, snap); err != nil {
			c.logger.Warn("failed to save snapshot", "error", err)
		}
	}
	c.recordRun(sideCtx, run)

	c.emit(shared.NewSchedulePublishedEvent(run.ID, run.Students, run.Trips, run.Rejected))
	for _, event := range nextTripChanges(prev.Views, views, result.Students) {
		event.BaseEvent = event.BaseEvent.WithCorrelationID(run.ID)
		c.emit(event)
	}
}

// fail records err and keeps the previous views.
func (c *Coordinator) fail(ctx context.Context, prev *State, run *schedule.RefreshRun, err error) {
	kind := shared.KindOf(err)

	next := prev.with(PhaseFailed)
	next.LastAttemptAt = run.StartedAt
	next.LastError = kind
	next.LastErrorMessage = err.Error()
	next.ConsecutiveFailures = prev.ConsecutiveFailures + 1
	next.ConnectivityFailures = 0
	if kind == shared.KindConnectivity {
		next.ConnectivityFailures = prev.ConnectivityFailures + 1
	}
	next.RunID = run.ID
	c.state.Store(next)

	run.FinishedAt = c.now()
	run.Outcome = schedule.RunFailed
	run.ErrorKind = kind.String()
	run.ErrorMessage = err.Error()

	c.logger.Warn("refresh failed",
		"run_id", run.ID,
		"kind", kind.String(),
		"error", err,
		"attempts", run.Attempts,
		"consecutive_failures", next.ConsecutiveFailures,
		"serving_stale", next.HasData(),
	)

	if c.metrics != nil {
		c.metrics.RecordCycle(PhaseFailed, kind, run.Attempts, run.Duration())
	}

	sideCtx, cancel := c.sideContext(ctx)
	defer cancel()

	c.recordRun(sideCtx, run)
	c.emit(shared.NewRefreshFailedEvent(run.ID, kind, err.Error(), next.ConsecutiveFailures))
}

func (c *Coordinator) recordRun(ctx context.Context, run *schedule.RefreshRun) {
	if c.runs == nil {
		return
	}
	if err := c.runs.RecordRun(ctx, run); err != nil {
		c.logger.Warn("failed to record refresh run", "run_id", run.ID, "error", err)
	}
}

func (c *Coordinator) emit(event shared.Event) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(event); err != nil {
		c.logger.Warn("failed to publish event", "type", event.EventType(), "error", err)
	}
}

// sideContext detaches side outputs from the trigger's cancellation.
func (c *Coordinator) sideContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.config.SideEffectTimeout)
}

// nextTripChanges compares the earliest upcoming trip per student between
// two publishes, in student order.
func nextTripChanges(prev, next map[string]schedule.StudentView, students []schedule.Student) []shared.NextTripChangedEvent {
	var events []shared.NextTripChangedEvent
	for _, st := range students {
		view, ok := next[st.ID]
		if !ok {
			continue
		}
		var before *schedule.Trip
		if old, ok := prev[st.ID]; ok {
			before = old.NextTrip()
		}
		after := view.NextTrip()
		if sameTrip(before, after) {
			continue
		}
		if after == nil {
			events = append(events, shared.NewNextTripChangedEvent(st.ID, "", time.Time{}, "", "", ""))
			continue
		}
		events = append(events, shared.NewNextTripChangedEvent(
			st.ID, after.Type.String(), after.ScheduledAt, after.StopName, after.BusNumber, after.TripName,
		))
	}
	return events
}

func sameTrip(a, b *schedule.Trip) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Type == b.Type &&
		a.ScheduledAt.Equal(b.ScheduledAt) &&
		a.StopName == b.StopName &&
		a.BusNumber == b.BusNumber
}
