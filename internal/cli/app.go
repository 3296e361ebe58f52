package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/hookhost/internal/config"
	"github.com/harun/hookhost/internal/logger"
	"github.com/harun/hookhost/internal/metrics"
	"github.com/harun/hookhost/internal/observability"
	"github.com/harun/hookhost/internal/tracing"
	"github.com/harun/hookhost/pkg/host"
	"github.com/harun/hookhost/pkg/objectstore"
	"github.com/harun/hookhost/pkg/store/sqlite"
	"github.com/rs/zerolog"
)

// app is one host instance opened for the duration of a command
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	registry *host.Registry
	closers  []func() error
}

// openApp loads the config and builds the registry over the configured
// stores. When restore is set the plugin table is reloaded from the database
// and active plugins run their entry code again.
func openApp(ctx context.Context, restore bool) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &app{cfg: cfg}
	if err := a.open(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if restore {
		if err := a.registry.Restore(ctx); err != nil {
			// Plugins whose code fails stay registered; report and continue
			a.logger.Warn().Err(err).Msg("Some active plugins failed to load")
		}
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	cfg := a.cfg

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.ResolvePath(cfg.Logging.File),
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return err
	}
	a.log = log
	a.logger = log.GetZerolog()
	a.closers = append(a.closers, log.Close)

	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.ResolvePath(cfg.Logging.AuditFile)); err != nil {
			return err
		}
		a.closers = append(a.closers, observability.GetAuditLogger().Close)
	}

	if cfg.Tracing.Enabled {
		err := tracing.Init(ctx, tracing.Options{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: version,
			SampleRatio:    cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		a.closers = append(a.closers, func() error {
			return tracing.Shutdown(context.Background())
		})
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewMetrics()
	}

	db, err := sqlite.Open(cfg.ResolvePath(cfg.Storage.DBPath), log.Component("sqlite"))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, db.Close)

	var errorDB *sqlite.DB
	if cfg.Storage.ErrorDBPath != "" {
		errorDB, err = sqlite.Open(cfg.ResolvePath(cfg.Storage.ErrorDBPath), log.Component("sqlite"))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, errorDB.Close)
	}

	var pluginDB *sqlite.DB
	if cfg.Storage.PluginDBPath != "" {
		pluginDB, err = sqlite.Open(cfg.ResolvePath(cfg.Storage.PluginDBPath), log.Component("sqlite"))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pluginDB.Close)
	}

	code, err := objectstore.NewDiskBucket(cfg.ResolvePath(cfg.Storage.CodeDir), a.logger)
	if err != nil {
		return err
	}

	hostCfg := host.Config{
		DB:                db,
		Code:              code,
		CallbackTimeout:   cfg.CallbackTimeout(),
		MaxDepth:          cfg.Hooks.MaxDepth,
		ActivationTimeout: cfg.ActivationTimeout(),
		Metrics:           a.metrics,
		Logger:            a.logger,
	}
	if errorDB != nil {
		hostCfg.ErrorDB = errorDB
	}
	if pluginDB != nil {
		hostCfg.PluginDB = pluginDB
	}
	if cfg.Storage.ObjectDir != "" {
		objects, err := objectstore.NewDiskBucket(cfg.ResolvePath(cfg.Storage.ObjectDir), a.logger)
		if err != nil {
			return err
		}
		hostCfg.Storage = objects
	}

	registry, err := host.New(hostCfg)
	if err != nil {
		return err
	}
	a.registry = registry
	a.closers = append(a.closers, func() error {
		registry.Close()
		return nil
	})

	return registry.Migrate(ctx)
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
