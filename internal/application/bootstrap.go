// Package application wires configuration, persistence, the reload lock, and
// metrics into a core.Service. Both the HTTP server and the loader CLI start
// from here so they see the same dataset the same way.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/viability/internal/config"
	"github.com/JonMunkholm/viability/internal/core"
	"github.com/JonMunkholm/viability/internal/database"
	"github.com/JonMunkholm/viability/internal/metrics"
	"github.com/JonMunkholm/viability/internal/redislock"
)

// Pinger is implemented by persisters that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App holds the wired service and the resources it owns.
type App struct {
	Config  *config.Config
	Service *core.Service
	Metrics *metrics.Metrics

	persister core.Persister
	redis     *redis.Client
}

// Options tune Bootstrap.
type Options struct {
	// Registerer receives the service metrics. Nil disables metrics.
	Registerer prometheus.Registerer
}

// Bootstrap opens persistence and the optional Redis lock, then builds the
// service. The dataset is not restored; call Restore.
func Bootstrap(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	app := &App{Config: cfg}

	persister, err := database.Open(ctx, database.Config{
		Driver:          cfg.Database.Driver,
		URL:             cfg.Database.URL,
		Path:            cfg.Database.Path,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Database.Driver, err)
	}
	app.persister = persister
	slog.Info("database ready", "driver", cfg.Database.Driver)

	client, err := redislock.Connect(ctx, redislock.Config{
		URL:         cfg.Redis.URL,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	app.redis = client

	var lock core.ReloadLock
	if client != nil {
		lock = redislock.New(client, cfg.Redis.LockKey, cfg.Redis.LockTTL)
		slog.Info("shared reload lock enabled", "key", cfg.Redis.LockKey, "ttl", cfg.Redis.LockTTL)
	}

	if opts.Registerer != nil {
		app.Metrics = metrics.New(opts.Registerer)
	}

	app.Service = core.NewService(core.ServiceConfig{
		Persister:    persister,
		BatchSize:    cfg.Reload.BatchSize,
		Lock:         lock,
		Metrics:      app.Metrics,
		HistoryLimit: cfg.Reload.HistoryLimit,
	})
	return app, nil
}

// Restore loads the persisted dataset and, when it is empty, the autoload
// workbook. Autoload failures are logged, never returned.
func (a *App) Restore(ctx context.Context) error {
	n, err := a.Service.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore dataset: %w", err)
	}
	slog.Info("dataset restored", "records", n)

	if res, ran := a.Service.Autoload(ctx, a.Config.Reload.AutoloadPath); ran {
		if res.Success {
			slog.Info("autoload complete", "records", res.RecordsInserted, "source", res.Source)
		} else {
			slog.Error("autoload failed", "failure", res.Failure, "error", res.Err)
		}
	}
	return nil
}

// WatchDataset keeps the served dataset in step with the database until ctx is
// done, picking up reloads made by the loader CLI or another server. It
// returns at once for the memory driver or when RELOAD_REFRESH_INTERVAL is 0.
func (a *App) WatchDataset(ctx context.Context) {
	if a.persister == nil || a.Config.Reload.RefreshInterval <= 0 {
		return
	}
	slog.Info("watching database for dataset changes", "interval", a.Config.Reload.RefreshInterval)
	a.Service.WatchDataset(ctx, a.Config.Reload.RefreshInterval)
}

// Pinger returns the persister's health check, or nil for the memory driver.
func (a *App) Pinger() Pinger {
	p, _ := a.persister.(Pinger)
	return p
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.persister != nil {
		errs = append(errs, a.persister.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
