package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/busroute-hub/stopfinder-bridge/config"
	"github.com/busroute-hub/stopfinder-bridge/internal/application/coordinator"
	"github.com/busroute-hub/stopfinder-bridge/internal/domain/shared"
	"github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/external/stopfinder"
	"github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/messaging"
	"github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/metrics"
	"github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/persistence/postgres"
	redisstore "github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/persistence/redis"
	"github.com/busroute-hub/stopfinder-bridge/internal/infrastructure/service"
	"github.com/busroute-hub/stopfinder-bridge/pkg/logger"
	"github.com/busroute-hub/stopfinder-bridge/pkg/retry"
)

// sideEffectTimeout bounds snapshot, run history and event writes after a cycle.
const sideEffectTimeout = 5 * time.Second

// wireOptions selects the optional parts of the graph.
type wireOptions struct {
	// stores connects Redis and PostgreSQL when configured
	stores bool
	// migrate applies pending migrations after connecting to PostgreSQL
	migrate bool
}

// app is the wired object graph shared by the subcommands.
type app struct {
	cfg *config.Config
	log *slog.Logger

	metrics  *metrics.Metrics
	client   *stopfinder.Client
	sessions *stopfinder.SessionManager
	coord    *coordinator.Coordinator
	bus      *messaging.InMemoryEventBus

	cache *redisstore.Cache
	db    *postgres.Connection
	runs  *postgres.RunRepository

	closers []func()
}

func setupLogger(cfg *config.Config) *slog.Logger {
	log := logger.New(logger.Options{
		Level:   cfg.Observability.LogLevel,
		Format:  logger.Format(cfg.Observability.LogFormat),
		Service: cfg.App.Name,
		Version: cfg.App.Version,
	})
	slog.SetDefault(log)
	return log
}

func wireApp(ctx context.Context, cfg *config.Config, log *slog.Logger, opts wireOptions) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.Observability.MetricsEnabled {
		a.metrics = metrics.New(cfg.App.Version)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 1. UPSTREAM CLIENT
	// ─────────────────────────────────────────────────────────────────────────
	creds := stopfinder.Credentials{
		BaseURL:  cfg.Stopfinder.BaseURL,
		Email:    cfg.Stopfinder.Email,
		Password: cfg.Stopfinder.Password,
	}
	clientCfg := stopfinder.DefaultClientConfig(creds)
	clientCfg.Timeout = cfg.Stopfinder.RequestTimeout
	clientCfg.Location = cfg.App.Location
	clientCfg.Window = cfg.Stopfinder.Window()
	clientCfg.SessionMaxAge = cfg.Stopfinder.SessionMaxAge
	clientCfg.RateLimiterConfig.RequestsPerSecond = cfg.Stopfinder.RateLimit
	clientCfg.RateLimiterConfig.BurstSize = cfg.Stopfinder.RateLimitBurst
	clientCfg.BreakerThreshold = cfg.Stopfinder.CircuitBreakerThreshold
	clientCfg.BreakerCooldown = cfg.Stopfinder.CircuitBreakerCooldown
	clientCfg.Logger = log
	if a.metrics != nil {
		clientCfg.Observer = a.metrics
	}

	a.client, err = stopfinder.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create stopfinder client: %w", err)
	}
	a.sessions = stopfinder.NewSessionManager(a.client)
	fetcher := stopfinder.NewScheduleFetcher(a.client)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. EVENTS
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	if a.metrics != nil {
		busCfg.Observer = a.metrics
	}
	a.bus = messaging.NewInMemoryEventBus(busCfg)
	if err := a.bus.SubscribeAll(logEvent(log)); err != nil {
		return nil, fmt.Errorf("subscribe event log: %w", err)
	}

	coordOpts := []coordinator.Option{coordinator.WithEventPublisher(a.bus)}
	if a.metrics != nil {
		coordOpts = append(coordOpts, coordinator.WithMetrics(a.metrics))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. STORES
	// ─────────────────────────────────────────────────────────────────────────
	if opts.stores && cfg.Redis.Enabled {
		log.Info("connecting to redis...")
		a.cache, err = redisstore.NewCache(redisConfig(cfg.Redis))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = a.cache.Close() })

		coordOpts = append(coordOpts, coordinator.WithSnapshotRepository(
			redisstore.NewSnapshotStore(a.cache, cfg.Redis.SnapshotTTL),
		))

		forwarder := messaging.NewRedisForwarder(a.cache.Client(), messaging.DefaultChannel)
		if err := a.bus.SubscribeAll(forwarder.Handle); err != nil {
			return nil, fmt.Errorf("subscribe redis forwarder: %w", err)
		}
		log.Info("redis connection established", "snapshot_ttl", cfg.Redis.SnapshotTTL.String())
	}

	if opts.stores && cfg.Database.Enabled() {
		log.Info("connecting to database...")
		a.db, err = postgres.NewConnection(ctx, databaseConfig(cfg.Database))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, a.db.Close)

		if opts.migrate {
			applied, err := postgres.NewMigrator(a.db).Migrate(ctx)
			if err != nil {
				return nil, err
			}
			log.Info("database migrations checked", "applied", applied)
		}

		a.runs = postgres.NewRunRepository(a.db)
		coordOpts = append(coordOpts, coordinator.WithRunRepository(a.runs))
		log.Info("database connection established")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. COORDINATOR
	// ─────────────────────────────────────────────────────────────────────────
	a.coord = coordinator.New(
		service.NewStopfinderSessions(a.sessions),
		service.NewStopfinderFetcher(fetcher),
		coordinator.Config{
			AccountID: creds.AccountID(),
			Backoff: retry.Backoff{
				Initial:    cfg.Refresh.BackoffInitial,
				Max:        cfg.Refresh.BackoffMax,
				Multiplier: cfg.Refresh.BackoffMultiplier,
				Jitter:     cfg.Refresh.BackoffJitter,
			},
			SideEffectTimeout: sideEffectTimeout,
			Logger:            log,
		},
		coordOpts...,
	)

	return a, nil
}

// restore warm-starts the coordinator from the snapshot store. A missing
// store or snapshot is not an error.
func (a *app) restore(ctx context.Context) {
	err := a.coord.Restore(ctx)
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrNotConfigured):
		a.log.Debug("snapshot store not configured, skipping restore")
	case errors.Is(err, shared.ErrNotFound):
		a.log.Info("no snapshot to restore")
	default:
		a.log.Warn("snapshot restore failed", "error", err)
	}
}

// Close releases the event bus and the store connections in reverse order.
func (a *app) Close() {
	if a.bus != nil {
		_ = a.bus.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func logEvent(log *slog.Logger) shared.EventHandler {
	return func(event shared.Event) error {
		log.Debug("domain event",
			"type", string(event.EventType()),
			"aggregate", event.AggregateID(),
			"occurred_at", event.OccurredAt(),
		)
		return nil
	}
}

func redisConfig(cfg config.RedisConfig) redisstore.Config {
	rc := redisstore.DefaultConfig()
	rc.URL = cfg.URL
	if cfg.Host != "" {
		rc.Host = cfg.Host
	}
	if cfg.Port > 0 {
		rc.Port = cfg.Port
	}
	rc.Password = cfg.Password
	rc.DB = cfg.DB
	if cfg.PoolSize > 0 {
		rc.PoolSize = cfg.PoolSize
	}
	return rc
}

func databaseConfig(cfg config.DatabaseConfig) postgres.Config {
	pc := postgres.DefaultConfig()
	pc.URL = cfg.URL
	if cfg.MaxConns > 0 {
		pc.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		pc.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}
	return pc
}
