// Package service adapts infrastructure clients to the ports the application
// layer depends on.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/busroute-hub/stopfinder-bridge/internal/application/coordinator"
	"github.com/busroute-hub/stopfinder-bridge/internal/domain/schedule"
	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
	"github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/external/stopfinder"
)

// StopfinderSessions adapts stopfinder.SessionManager to coordinator.SessionManager.
type StopfinderSessions struct {
	manager *stopfinder.SessionManager
}

func NewStopfinderSessions(manager *stopfinder.SessionManager) *StopfinderSessions {
	return &StopfinderSessions{manager: manager}
}

func (a *StopfinderSessions) EnsureSession(ctx context.Context) (coordinator.Session, error) {
	session, err := a.manager.EnsureSession(ctx)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (a *StopfinderSessions) Invalidate() {
	a.manager.Invalidate()
}

var (
	_ coordinator.SessionManager  = (*StopfinderSessions)(nil)
	_ coordinator.ScheduleFetcher = (*StopfinderFetcher)(nil)
)

// StopfinderFetcher adapts stopfinder.ScheduleFetcher to coordinator.ScheduleFetcher.
type StopfinderFetcher struct {
	fetcher *stopfinder.ScheduleFetcher
}

func NewStopfinderFetcher(fetcher *stopfinder.ScheduleFetcher) *StopfinderFetcher {
	return &StopfinderFetcher{fetcher: fetcher}
}

// FetchSchedule accepts only sessions issued by stopfinder.SessionManager.
func (a *StopfinderFetcher) FetchSchedule(ctx context.Context, session coordinator.Session, now time.Time) (*schedule.FetchResult, error) {
	s, ok := session.(*stopfinder.Session)
	if !ok || s == nil {
		return nil, shared.NewDomainError("stopfinder", "FetchSchedule", shared.ErrAuth,
			fmt.Sprintf("unsupported session type %T", session))
	}
	return a.fetcher.FetchSchedule(ctx, s, now)
}
