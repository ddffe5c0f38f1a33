package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
	"github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/external/stopfinder"
)

type foreignSession struct{}

func (foreignSession) AuthenticatedAt() time.Time { return time.Time{} }

func TestStopfinderFetcher_RejectsForeignSession(t *testing.T) {
	adapter := NewStopfinderFetcher(nil)

	_, err := adapter.FetchSchedule(context.Background(), foreignSession{}, time.Now())
	assert.True(t, shared.IsAuth(err))

	var nilSession *stopfinder.Session
	_, err = adapter.FetchSchedule(context.Background(), nilSession, time.Now())
	assert.True(t, shared.IsAuth(err))
}
