package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busroute-hub/stopfinder-bridge/config"
	"github.com/busroute-hub/stopfinder-bridge/internal/domain/schedule"
	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
	"github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/scheduler"
	"github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/scheduler/jobs"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "check", "schedule", "migrate", "version"})
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestRenderViews(t *testing.T) {
	loc := time.UTC
	pickup := schedule.Trip{
		StudentID:   "s1",
		Type:        schedule.TripPickup,
		ScheduledAt: time.Date(2024, 3, 11, 7, 15, 0, 0, loc),
		StopName:    "Elm & 5th",
		BusNumber:   "12",
	}
	views := []schedule.StudentView{
		{Student: schedule.Student{ID: "s1", DisplayName: "Ada Lovelace", SchoolName: "Lincoln"}, NextPickup: &pickup},
		{Student: schedule.Student{ID: "s2", DisplayName: "Alan Turing"}},
	}

	var buf bytes.Buffer
	now := time.Date(2024, 3, 11, 6, 45, 0, 0, loc)
	require.NoError(t, renderViews(&buf, views, loc, now))

	out := buf.String()
	assert.Contains(t, out, "Mon Mar 11 07:15 @ Elm & 5th (in 30 min)")
	assert.Contains(t, out, "Ada Lovelace")
	assert.Contains(t, out, "Alan Turing")
	assert.Contains(t, out, "12")
}

type blockingJob struct {
	started chan struct{}
	release chan struct{}
}

func (j *blockingJob) Name() string        { return jobs.RefreshScheduleJobName }
func (j *blockingJob) Description() string { return "blocks until released" }

func (j *blockingJob) Run(ctx context.Context) error {
	close(j.started)
	<-j.release
	return nil
}

func TestScheduledRefresher_MapsRunningJob(t *testing.T) {
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{})
	job := &blockingJob{started: make(chan struct{}), release: make(chan struct{})}
	require.NoError(t, sched.Register(job, scheduler.NewIntervalSchedule(time.Hour)))

	refresher := &scheduledRefresher{scheduler: sched}

	done := make(chan error, 1)
	go func() { done <- refresher.Refresh(context.Background()) }()
	<-job.started

	assert.ErrorIs(t, refresher.Refresh(context.Background()), shared.ErrRefreshInFlight)

	close(job.release)
	require.NoError(t, <-done)
}

func TestStoreConfigs(t *testing.T) {
	rc := redisConfig(config.RedisConfig{URL: "redis://localhost:6380/2", PoolSize: 3})
	assert.Equal(t, "redis://localhost:6380/2", rc.URL)
	assert.Equal(t, 3, rc.PoolSize)
	assert.Equal(t, "localhost", rc.Host)

	pc := databaseConfig(config.DatabaseConfig{URL: "postgres://u:p@db:5432/bus", MaxConns: 8})
	assert.Equal(t, int32(8), pc.MaxConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
}
