package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
	"github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/scheduler"
	"github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/busroute-hub/stopfinder-bridge/internal/interface/http"
	"github.com/busroute-hub/stopfinder-bridge/internal/interface/http/handlers"
)

// pruneInterval is how often expired refresh runs are deleted.
const pruneInterval = 6 * time.Hour

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the refresh loop and the status API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	log := setupLogger(cfg)
	log.Info("starting stopfinder bridge",
		"env", string(cfg.App.Environment),
		"timezone", cfg.App.Location.String(),
		"interval", cfg.Refresh.Interval.String(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. OBJECT GRAPH
	// ─────────────────────────────────────────────────────────────────────────
	a, err := wireApp(ctx, cfg, log, wireOptions{stores: true, migrate: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Refresh.RestoreOnStart {
		a.restore(ctx)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{Logger: log})
	if a.metrics != nil {
		sched.OnJobComplete(a.metrics.ObserveJob)
	}

	refreshJob := jobs.NewRefreshScheduleJob(a.coord, log, cfg.Refresh.JobTimeout)
	refreshSchedule := scheduler.NewBackoffSchedule(
		scheduler.NewIntervalSchedule(cfg.Refresh.Interval),
		a.coord.BackoffDelay,
	)
	register := sched.Register
	if cfg.Refresh.RunOnStart {
		register = sched.RegisterImmediate
	}
	if err := register(refreshJob, refreshSchedule); err != nil {
		return fmt.Errorf("register refresh job: %w", err)
	}

	if a.runs != nil && cfg.Database.RunRetention > 0 {
		pruneJob := jobs.NewPruneRunsJob(a.runs, cfg.Database.RunRetention, log)
		if err := sched.Register(pruneJob, scheduler.NewIntervalSchedule(pruneInterval)); err != nil {
			return fmt.Errorf("register prune job: %w", err)
		}
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. STATUS API
	// ─────────────────────────────────────────────────────────────────────────
	var server *httpapi.Server
	if cfg.HTTP.Enabled {
		server = newStatusServer(a, sched)
	}

	g, gctx := errgroup.WithContext(ctx)
	if server != nil {
		g.Go(server.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		var errs []error
		if server != nil {
			if err := server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("http shutdown: %w", err))
			}
		}
		if err := sched.Stop(); err != nil && !errors.Is(err, scheduler.ErrSchedulerNotRunning) {
			errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		log.Error("shutdown completed with errors", "error", err)
		return err
	}
	log.Info("stopfinder bridge stopped")
	return nil
}

func newStatusServer(a *app, sched *scheduler.Scheduler) *httpapi.Server {
	cfg := a.cfg

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	if a.cache != nil {
		health.AddCheck("redis", handlers.NewPingCheck(a.cache))
	}
	if a.db != nil {
		health.AddCheck("postgres", handlers.NewPingCheck(a.db))
	}
	health.AddReadinessCheck("schedule", func(context.Context) error {
		if !a.coord.State().HasData() {
			return errors.New("no schedule published yet")
		}
		return nil
	})

	deps := httpapi.Dependencies{
		State:         a.coord,
		Refresher:     &scheduledRefresher{scheduler: sched},
		Jobs:          sched,
		Upstream:      a.client,
		AccountID:     a.client.Credentials().AccountID(),
		HealthChecker: health,
		Logger:        a.log,
	}
	if a.runs != nil {
		deps.Runs = a.runs
	}
	if a.metrics != nil {
		deps.MetricsHandler = a.metrics.Handler()
		deps.Observer = a.metrics
	}

	srvCfg := httpapi.DefaultConfig()
	srvCfg.Port = cfg.HTTP.Port
	if cfg.HTTP.ReadTimeout > 0 {
		srvCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	}
	if cfg.HTTP.WriteTimeout > 0 {
		srvCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	}
	srvCfg.AllowedOrigins = cfg.HTTP.CORSOrigins
	srvCfg.RateLimitPerMinute = cfg.HTTP.RateLimit
	srvCfg.APIKeys = cfg.HTTP.APIKeys
	srvCfg.RefreshTimeout = cfg.Refresh.JobTimeout
	srvCfg.Version = cfg.App.Version

	return httpapi.NewServer(srvCfg, deps)
}

// scheduledRefresher routes API refreshes through the scheduler so the
// regular cadence restarts from the manual cycle.
type scheduledRefresher struct {
	scheduler *scheduler.Scheduler
}

func (r *scheduledRefresher) Refresh(ctx context.Context) error {
	_, err := r.scheduler.RunNow(ctx, jobs.RefreshScheduleJobName)
	if errors.Is(err, scheduler.ErrJobRunning) {
		return shared.ErrRefreshInFlight
	}
	return err
}
