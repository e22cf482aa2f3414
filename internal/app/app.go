// Package app assembles the engine and its backends from configuration.
// Both binaries start from Open.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/JonMunkholm/ledgermigrate/internal/bundlestore"
	"github.com/JonMunkholm/ledgermigrate/internal/config"
	"github.com/JonMunkholm/ledgermigrate/internal/core"
	"github.com/JonMunkholm/ledgermigrate/internal/events"
	"github.com/JonMunkholm/ledgermigrate/internal/record"
	"github.com/JonMunkholm/ledgermigrate/internal/schema"
	"github.com/JonMunkholm/ledgermigrate/internal/store/memory"
	"github.com/JonMunkholm/ledgermigrate/internal/store/postgres"
)

// App holds the wired engine and everything that must be closed with it.
type App struct {
	Service   *core.Service
	Store     record.Store
	Publisher events.Publisher
	Bundles   bundlestore.Store

	closers []func()
}

// Options override pieces of the configured wiring.
type Options struct {
	// Publisher replaces the configured event backend.
	Publisher events.Publisher
}

// Open connects the store, event publisher and bundle store named by cfg
// and builds the engine over them. On error everything opened so far is
// closed.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	a := &App{}
	if err := a.open(ctx, cfg, logger, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) error {
	profiles, err := schema.Load(cfg.Schema.ProfilePath)
	if err != nil {
		return err
	}

	if a.Store, err = openStore(ctx, cfg, logger, a); err != nil {
		return err
	}

	a.Publisher = opts.Publisher
	if a.Publisher == nil {
		a.Publisher, err = events.New(events.Config{
			Backend:      cfg.Events.Backend,
			KafkaBrokers: cfg.Events.KafkaBrokers,
			TopicPrefix:  cfg.Events.TopicPrefix,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
	}
	pub := a.Publisher
	a.closers = append(a.closers, func() {
		if err := pub.Close(); err != nil {
			logger.Warn("event publisher close failed", "error", err)
		}
	})

	if a.Bundles, err = openBundles(ctx, cfg); err != nil {
		return err
	}

	a.Service = core.NewService(a.Store, a.Publisher, core.Options{
		Logger:               logger,
		Profiles:             profiles,
		MaxConcurrentCommits: cfg.Import.MaxConcurrentCommits,
		CommitWait:           cfg.Import.CommitWait,
		MaxContentSize:       cfg.Import.MaxContentSize,
	})
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger, a *App) (record.Store, error) {
	switch strings.ToLower(cfg.Store.Backend) {
	case "", "memory":
		logger.Info("using in-memory record store")
		return memory.New(), nil
	case "postgres":
		pg, err := postgres.Connect(ctx, postgres.PoolConfig{
			URL:             cfg.Database.URL,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.closers = append(a.closers, pg.Close)

		if u, err := url.Parse(cfg.Database.URL); err == nil {
			logger.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
		} else {
			logger.Info("connected to database")
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func openBundles(ctx context.Context, cfg *config.Config) (bundlestore.Store, error) {
	switch strings.ToLower(cfg.Backup.Backend) {
	case "", "dir":
		return bundlestore.NewDirStore(cfg.Backup.Dir)
	case "minio":
		return bundlestore.NewMinioStore(ctx, bundlestore.MinioConfig{
			Endpoint:  cfg.Backup.MinioEndpoint,
			AccessKey: cfg.Backup.MinioAccessKey,
			SecretKey: cfg.Backup.MinioSecretKey,
			Bucket:    cfg.Backup.MinioBucket,
			Prefix:    cfg.Backup.MinioPrefix,
			UseSSL:    cfg.Backup.MinioUseSSL,
		})
	default:
		return nil, errors.New("unknown backup backend " + cfg.Backup.Backend)
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// MaintenanceConfig converts the configured sweep settings.
func MaintenanceConfig(cfg *config.Config) core.MaintenanceConfig {
	return core.MaintenanceConfig{
		StaleAfter:       cfg.Maintenance.StaleAfter,
		HistoryRetention: cfg.Maintenance.HistoryRetention,
		CheckInterval:    cfg.Maintenance.CheckInterval,
	}
}
