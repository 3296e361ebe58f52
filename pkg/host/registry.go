// Package host assembles the plugin host: the plugin table, the hook catalog
// and dispatcher, the plugin code runtime and the sandboxed resources handed
// to plugin callbacks.
package host

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harun/hookhost/internal/logger"
	"github.com/harun/hookhost/internal/metrics"
	"github.com/harun/hookhost/pkg/hooks"
	"github.com/harun/hookhost/pkg/luaplugin"
	"github.com/harun/hookhost/pkg/objectstore"
	"github.com/harun/hookhost/pkg/plugin"
	"github.com/harun/hookhost/pkg/sandbox"
	"github.com/harun/hookhost/pkg/store"
	"github.com/rs/zerolog"
)

// Config holds the real resources a Registry is built over
type Config struct {
	// DB holds the plugin table
	DB store.Database

	// PluginDB is the database plugins reach through their sandboxed proxy.
	// Defaults to DB. The host's own tables are refused by name either way.
	PluginDB store.Database

	// ErrorDB receives contained callback failures. Defaults to DB.
	ErrorDB store.Database

	// Code holds plugin manifests and entry code
	Code objectstore.Bucket

	// Storage is the bucket plugins reach through their sandboxed proxy.
	// Defaults to Code.
	Storage objectstore.Bucket

	CallbackTimeout   time.Duration
	MaxDepth          int
	ActivationTimeout time.Duration

	// Metrics is optional
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// Registry is one plugin host instance
type Registry struct {
	plugins    *plugin.PluginRegistry
	catalog    *hooks.Catalog
	dispatcher *hooks.Dispatcher
	runtime    *luaplugin.Runtime
	manifests  *plugin.ManifestLoader

	db        store.Database
	errorDB   store.Database
	pluginDB  store.Database
	store     *store.PluginStore
	errorLog  *store.ErrorLog
	code      objectstore.Bucket
	storage   objectstore.Bucket
	redactor  *logger.Redactor
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	lifecycle sync.Mutex
}

// New creates a registry and declares the built-in hooks
func New(cfg Config) (*Registry, error) {
	if cfg.DB == nil {
		return nil, errors.New("host: database is required")
	}
	if cfg.Code == nil {
		return nil, errors.New("host: code bucket is required")
	}
	if cfg.ErrorDB == nil {
		cfg.ErrorDB = cfg.DB
	}
	if cfg.PluginDB == nil {
		cfg.PluginDB = cfg.DB
	}
	if cfg.Storage == nil {
		cfg.Storage = cfg.Code
	}

	r := &Registry{
		plugins:   plugin.NewPluginRegistry(),
		catalog:   hooks.NewCatalog(),
		manifests: plugin.NewManifestLoader(cfg.Logger),
		db:        cfg.DB,
		errorDB:   cfg.ErrorDB,
		pluginDB:  cfg.PluginDB,
		store:     store.NewPluginStore(cfg.DB),
		errorLog:  store.NewErrorLog(cfg.ErrorDB),
		code:      cfg.Code,
		storage:   cfg.Storage,
		redactor:  logger.NewRedactor(),
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.With().Str("component", "host").Logger(),
	}

	if err := declareBuiltins(r.catalog); err != nil {
		return nil, err
	}

	r.dispatcher = hooks.NewDispatcher(hooks.Config{
		Catalog:         r.catalog,
		Gate:            r.plugins,
		Resources:       r.resources,
		Sink:            hooks.ErrorSinkFunc(r.recordFailure),
		CallbackTimeout: cfg.CallbackTimeout,
		MaxDepth:        cfg.MaxDepth,
		Logger:          cfg.Logger,
	})
	r.runtime = luaplugin.NewRuntime(luaplugin.Config{
		Hooks:       r.catalog,
		Resources:   r.resources,
		LoadTimeout: cfg.ActivationTimeout,
		Logger:      cfg.Logger,
	})

	return r, nil
}

// Migrate creates the plugin table and the error log if they do not exist
func (r *Registry) Migrate(ctx context.Context) error {
	if err := store.Migrate(ctx, r.db); err != nil {
		return err
	}
	if r.errorDB != r.db {
		return store.Migrate(ctx, r.errorDB)
	}
	return nil
}

// Close unloads all plugin code
func (r *Registry) Close() {
	r.runtime.Close()
}

// resources builds fresh proxies for one callback invocation
func (r *Registry) resources(pluginID string) *sandbox.Resources {
	return sandbox.NewResources(pluginID, sandbox.Backends{
		DB:             r.pluginDB,
		Bucket:         r.storage,
		Gate:           r.plugins,
		Hooks:          r.dispatcher,
		Logger:         r.logger,
		ReservedTables: store.ReservedTables,
	})
}

// ExecuteHook dispatches name. Callback failures are written to the error
// log and never returned.
func (r *Registry) ExecuteHook(ctx context.Context, name string, initial any, args ...any) any {
	return r.dispatcher.ExecuteHook(ctx, name, initial, args...)
}

// Declare adds a hook to the catalog
func (r *Registry) Declare(def hooks.Definition) error {
	return r.catalog.Declare(def)
}

// RegisterCallback attaches a Go callback owned by pluginID
func (r *Registry) RegisterCallback(name, pluginID string, cb hooks.Callback) {
	r.catalog.RegisterCallback(name, pluginID, cb)
}

// Hooks describes every hook in the catalog, sorted by name
func (r *Registry) Hooks() []hooks.Info {
	names := r.catalog.Names()
	infos := make([]hooks.Info, 0, len(names))
	for _, name := range names {
		if info, ok := r.catalog.Lookup(name); ok {
			infos = append(infos, info)
		}
	}
	return infos
}

// HasPermission is the capability gate shared by the dispatcher and proxies
func (r *Registry) HasPermission(pluginID string, permission plugin.Permission) bool {
	return r.plugins.HasPermission(pluginID, permission)
}

// Plugins returns every registered plugin
func (r *Registry) Plugins() []*plugin.Plugin {
	return r.plugins.GetAll()
}

// Plugin returns a registered plugin
func (r *Registry) Plugin(pluginID string) (*plugin.Plugin, bool) {
	return r.plugins.Get(pluginID)
}

// Code returns the bucket manifests and entry code are read from
func (r *Registry) Code() objectstore.Bucket {
	return r.code
}

// Errors returns the most recent contained failures of a plugin
func (r *Registry) Errors(ctx context.Context, pluginID string, limit int) ([]store.ErrorEntry, error) {
	return r.errorLog.ListByPlugin(ctx, pluginID, limit)
}

func (r *Registry) recordFailure(ctx context.Context, failure hooks.Failure) {
	message := "unknown error"
	if failure.Err != nil {
		message = failure.Err.Error()
	}

	entry := store.ErrorEntry{
		PluginID:   failure.PluginID,
		HookName:   failure.HookName,
		DispatchID: failure.DispatchID,
		Message:    r.redactor.Redact(message),
		StackTrace: r.redactor.Redact(failure.StackTrace),
	}

	if r.metrics != nil {
		r.metrics.CallbackFailuresTotal.WithLabelValues(failure.PluginID, failureKind(failure)).Inc()
	}

	if err := r.errorLog.Append(ctx, entry); err != nil {
		if r.metrics != nil {
			r.metrics.ErrorLogWriteFailures.Inc()
		}
		r.logger.Error().
			Err(err).
			Str("plugin_id", failure.PluginID).
			Str("hook", failure.HookName).
			Msg("Failed to write plugin error log")
	}
}

func failureKind(failure hooks.Failure) string {
	switch {
	case failure.Panicked:
		return "panic"
	case failure.TimedOut:
		return "timeout"
	default:
		return "error"
	}
}
