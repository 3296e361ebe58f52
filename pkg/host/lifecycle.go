package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/hookhost/internal/observability"
	"github.com/harun/hookhost/pkg/plugin"
	"github.com/harun/hookhost/pkg/store"
)

// Register reads {pluginPath}/plugin.json from the code bucket, records the
// plugin as inactive and fires onInstall. Registering the same name twice
// fails with the database's unique-key error.
func (r *Registry) Register(ctx context.Context, pluginPath string) (*plugin.Plugin, error) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	p, err := r.register(ctx, pluginPath)
	r.recordLifecycle(ctx, "register", pluginIDOf(p), err)
	if r.metrics != nil {
		r.metrics.RegistrationsTotal.WithLabelValues(statusLabel(err)).Inc()
	}
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("plugin_id", p.ID).
		Str("version", p.Version).
		Strs("permissions", permissionNames(p.Permissions)).
		Msg("Plugin registered")

	r.ExecuteHook(ctx, HookInstall, p.ID)
	return p.Clone(), nil
}

func (r *Registry) register(ctx context.Context, pluginPath string) (*plugin.Plugin, error) {
	key := plugin.ManifestPath(pluginPath)
	obj, err := r.code.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", key, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: %s not found", plugin.ErrManifestInvalid, key)
	}

	manifest, err := r.manifests.LoadManifest(obj.Body)
	if err != nil {
		return nil, err
	}

	p := &plugin.Plugin{
		PluginManifest: *manifest,
		ID:             plugin.DerivePluginID(manifest.Name),
		Status:         plugin.StatusInactive,
	}
	if err := r.store.Insert(ctx, p); err != nil {
		return nil, err
	}
	r.plugins.Put(p)
	r.refreshCounts()
	return p, nil
}

// Activate records the plugin as active, runs its entry code and fires
// onActivate. Unknown ids are ignored. When the entry code fails the error
// wraps ErrActivationFailed and the plugin stays recorded as active.
func (r *Registry) Activate(ctx context.Context, pluginID string) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	p, ok := r.plugins.Get(pluginID)
	if !ok {
		r.logger.Debug().Str("plugin_id", pluginID).Msg("Ignoring activation of unknown plugin")
		return nil
	}

	if err := r.setStatus(ctx, pluginID, plugin.StatusActive); err != nil {
		r.recordLifecycle(ctx, "activate", pluginID, err)
		return err
	}

	if err := r.load(ctx, p); err != nil {
		r.recordActivationFailure(ctx, pluginID, err)
		return fmt.Errorf("%w: %s: %w", ErrActivationFailed, pluginID, err)
	}

	r.recordLifecycle(ctx, "activate", pluginID, nil)
	if r.metrics != nil {
		r.metrics.ActivationsTotal.WithLabelValues(pluginID, "success").Inc()
	}
	r.logger.Info().Str("plugin_id", pluginID).Msg("Plugin activated")

	r.ExecuteHook(ctx, HookActivate, pluginID)
	return nil
}

// Deactivate records the plugin as inactive, fires onDeactivate and unloads
// its code. Its callbacks stay in the catalog but no longer run. Unknown ids
// are ignored.
func (r *Registry) Deactivate(ctx context.Context, pluginID string) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if _, ok := r.plugins.Get(pluginID); !ok {
		r.logger.Debug().Str("plugin_id", pluginID).Msg("Ignoring deactivation of unknown plugin")
		return nil
	}

	if err := r.setStatus(ctx, pluginID, plugin.StatusInactive); err != nil {
		r.recordLifecycle(ctx, "deactivate", pluginID, err)
		return err
	}

	// The plugin's own onDeactivate callback still sees this dispatch
	r.ExecuteHook(ctx, HookDeactivate, pluginID)
	r.runtime.Unload(pluginID)

	r.recordLifecycle(ctx, "deactivate", pluginID, nil)
	r.logger.Info().Str("plugin_id", pluginID).Msg("Plugin deactivated")
	return nil
}

// Uninstall fires onUninstall, unloads the plugin's code and deletes its
// record. Its error log entries are kept. Unknown ids are ignored.
func (r *Registry) Uninstall(ctx context.Context, pluginID string) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if _, ok := r.plugins.Get(pluginID); !ok {
		r.logger.Debug().Str("plugin_id", pluginID).Msg("Ignoring uninstall of unknown plugin")
		return nil
	}

	// Fired while the plugin still holds its record so an active plugin
	// sees its own removal
	r.ExecuteHook(ctx, HookUninstall, pluginID)
	r.runtime.Unload(pluginID)

	if err := r.store.Delete(ctx, pluginID); err != nil {
		r.recordLifecycle(ctx, "uninstall", pluginID, err)
		return err
	}
	r.plugins.Remove(pluginID)
	r.refreshCounts()

	r.recordLifecycle(ctx, "uninstall", pluginID, nil)
	r.logger.Info().Str("plugin_id", pluginID).Msg("Plugin uninstalled")
	return nil
}

// Restore rebuilds the plugin table from the database and reloads the code of
// plugins recorded as active, without firing onActivate. Plugins whose code
// fails to load are reported in the joined error and stay active.
func (r *Registry) Restore(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	plugins, err := r.restoreTable(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, p := range plugins {
		if p.Status != plugin.StatusActive {
			continue
		}
		if err := r.load(ctx, p); err != nil {
			r.recordActivationFailure(ctx, p.ID, err)
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrActivationFailed, p.ID, err))
		}
	}

	r.logger.Info().Int("plugins", len(plugins)).Msg("Plugin table restored")
	return errors.Join(errs...)
}

// RestoreTable rebuilds the plugin table from the database without running
// any plugin code
func (r *Registry) RestoreTable(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	_, err := r.restoreTable(ctx)
	return err
}

func (r *Registry) restoreTable(ctx context.Context) ([]*plugin.Plugin, error) {
	plugins, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range plugins {
		r.plugins.Put(p)
	}
	r.refreshCounts()
	return plugins, nil
}

func (r *Registry) setStatus(ctx context.Context, pluginID string, status plugin.Status) error {
	if err := r.store.UpdateStatus(ctx, pluginID, status); err != nil {
		return err
	}
	if err := r.plugins.UpdateStatus(pluginID, status); err != nil {
		return err
	}
	r.refreshCounts()
	return nil
}

// load runs {id}/{main} from the code bucket in a fresh interpreter
func (r *Registry) load(ctx context.Context, p *plugin.Plugin) error {
	key := plugin.EntryPath(p.ID, p.Main)
	obj, err := r.code.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	if obj == nil {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, key)
	}
	return r.runtime.Load(ctx, p.ID, key, obj.Body)
}

func (r *Registry) recordActivationFailure(ctx context.Context, pluginID string, err error) {
	r.logger.Error().Err(err).Str("plugin_id", pluginID).Msg("Plugin activation failed")
	r.recordLifecycle(ctx, "activate", pluginID, err)
	if r.metrics != nil {
		r.metrics.ActivationsTotal.WithLabelValues(pluginID, "error").Inc()
	}

	entry := store.ErrorEntry{
		PluginID: pluginID,
		HookName: "activate",
		Message:  r.redactor.Redact(err.Error()),
	}
	var tracer interface{ StackTrace() string }
	if errors.As(err, &tracer) {
		entry.StackTrace = r.redactor.Redact(tracer.StackTrace())
	}
	if appendErr := r.errorLog.Append(context.WithoutCancel(ctx), entry); appendErr != nil {
		r.logger.Error().Err(appendErr).Str("plugin_id", pluginID).Msg("Failed to write plugin error log")
	}
}

func (r *Registry) recordLifecycle(ctx context.Context, action, pluginID string, err error) {
	observability.RecordLifecycle(action, err == nil)

	metadata := map[string]interface{}{}
	if err != nil {
		metadata["error"] = r.redactor.Redact(err.Error())
	}
	observability.RecordLifecycleAudit(ctx, action, pluginID, statusLabel(err), metadata)
}

func (r *Registry) refreshCounts() {
	if r.metrics == nil {
		return
	}
	counts := make(map[string]int)
	for _, p := range r.plugins.GetAll() {
		counts[string(p.Status)]++
	}
	r.metrics.SetPluginCounts(counts)
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func pluginIDOf(p *plugin.Plugin) string {
	if p == nil {
		return ""
	}
	return p.ID
}

func permissionNames(perms *plugin.Permissions) []string {
	granted := perms.Granted()
	names := make([]string, len(granted))
	for i, perm := range granted {
		names[i] = string(perm)
	}
	return names
}
