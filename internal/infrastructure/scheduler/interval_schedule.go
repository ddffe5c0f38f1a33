package scheduler

import (
	"fmt"
	"time"
)

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{
		Interval: interval,
	}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval.String())
}

// BackoffSchedule wraps a schedule and pushes the next run out to at least
// Delay() after t. Delay is read at every Next call, so it can follow a
// failure streak.
type BackoffSchedule struct {
	Base  Schedule
	Delay func() time.Duration
}

// NewBackoffSchedule creates a BackoffSchedule.
func NewBackoffSchedule(base Schedule, delay func() time.Duration) *BackoffSchedule {
	return &BackoffSchedule{Base: base, Delay: delay}
}

// Next returns the later of the base schedule and t+Delay().
func (s *BackoffSchedule) Next(t time.Time) time.Time {
	next := s.Base.Next(t)
	if s.Delay == nil {
		return next
	}
	if backoff := t.Add(s.Delay()); backoff.After(next) {
		return backoff
	}
	return next
}

// String returns the string representation of the schedule.
func (s *BackoffSchedule) String() string {
	return s.Base.String() + " with backoff"
}
