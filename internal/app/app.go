// Package app wires configuration, storage handles and the sync service for the entry points.
package app

import (
	"context"
	"fmt"

	"github.com/mls-sync/internal/api"
	"github.com/mls-sync/internal/config"
	"github.com/mls-sync/internal/logging"
	"github.com/mls-sync/internal/retry"
	"github.com/mls-sync/internal/service"
	"github.com/mls-sync/internal/storage"
)

// App owns the process-scoped handles; nothing here is global
type App struct {
	Config     *config.Config
	Logger     *logging.Logger
	Postgres   *storage.PostgresDB
	Redis      *storage.RedisCache
	ClickHouse *storage.ClickHouseDB // nil when the audit sink is disabled
	Sync       *service.SyncService
}

// InitLogger configures the global logger from cfg and returns it
func InitLogger(cfg *config.Config) *logging.Logger {
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	return logging.GetGlobalLogger()
}

// New connects to every backing store and builds the sync service.
// Handles opened before a failure are closed again.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg, Logger: InitLogger(cfg)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("no MLS sources configured: set MLS_SOURCES_FILE or MLS_SOURCE")
	}

	a.Logger.Info("[App] Connecting to databases")

	// stores may still be starting next to us
	err = retry.WithRetry(ctx, func(ctx context.Context, attempt int) error {
		var connErr error
		a.Postgres, connErr = storage.NewPostgresDB(&cfg.Database.Postgres)
		return connErr
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	err = retry.WithRetry(ctx, func(ctx context.Context, attempt int) error {
		var connErr error
		a.Redis, connErr = storage.NewRedisCache(&cfg.Database.Redis)
		return connErr
	})
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	deps := service.Dependencies{
		Listings:  storage.NewListingRepository(a.Postgres, cfg.Sync.BatchSize),
		Agents:    storage.NewAgentRepository(a.Postgres, cfg.Sync.BatchSize),
		Snapshots: storage.NewSnapshotRepository(a.Postgres, cfg.Sync.BatchSize),
		History:   storage.NewSyncHistoryRepository(a.Postgres),
		Lock:      storage.NewRunLock(a.Redis, cfg.Sync.LockTTL),
	}

	if cfg.Database.ClickHouse.Enabled {
		a.ClickHouse, err = storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			return nil, err
		}
		deps.Events = storage.NewStatusEventSink(a.ClickHouse)
	} else {
		a.Logger.Info("[App] ClickHouse disabled, status events will not be audited")
	}

	sources, err := service.SourcesFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.Sync = service.NewSyncService(cfg.Sync, deps, sources...)

	a.Logger.WithField("sources", a.Sync.Sources()).Info("[App] Sync service ready")
	return a, nil
}

// HealthChecks returns a probe per connected store
func (a *App) HealthChecks() []api.HealthCheck {
	checks := []api.HealthCheck{
		{Name: "postgres", Check: a.Postgres.Ping},
		{Name: "redis", Check: a.Redis.Ping},
	}
	if a.ClickHouse != nil {
		checks = append(checks, api.HealthCheck{Name: "clickhouse", Check: a.ClickHouse.Ping})
	}
	return checks
}

// Close releases every handle that was opened
func (a *App) Close() {
	if a.ClickHouse != nil {
		if err := a.ClickHouse.Close(); err != nil {
			a.Logger.WithError(err).Warn("[App] Failed to close ClickHouse")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.WithError(err).Warn("[App] Failed to close Redis")
		}
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
}
