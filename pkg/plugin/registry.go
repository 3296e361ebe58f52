package plugin

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// PluginRegistry is the in-memory plugin table and the capability gate.
// Every permission decision in the host goes through HasPermission.
type PluginRegistry struct {
	plugins map[string]*Plugin
	mu      sync.RWMutex
}

// NewPluginRegistry creates a new plugin registry
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{
		plugins: make(map[string]*Plugin),
	}
}

// Put inserts or replaces a plugin record
func (r *PluginRegistry) Put(plugin *Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[plugin.ID] = plugin.Clone()
}

// Get returns a copy of the plugin record
func (r *PluginRegistry) Get(pluginID string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plugin, exists := r.plugins[pluginID]
	if !exists {
		return nil, false
	}
	return plugin.Clone(), true
}

// GetAll returns copies of all plugins ordered by id
func (r *PluginRegistry) GetAll() []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugins := make([]*Plugin, 0, len(r.plugins))
	for _, plugin := range r.plugins {
		plugins = append(plugins, plugin.Clone())
	}
	sort.Slice(plugins, func(i, j int) bool { return plugins[i].ID < plugins[j].ID })

	return plugins
}

// GetByStatus returns all plugins with the given status
func (r *PluginRegistry) GetByStatus(status Status) []*Plugin {
	var plugins []*Plugin
	for _, plugin := range r.GetAll() {
		if plugin.Status == status {
			plugins = append(plugins, plugin)
		}
	}
	return plugins
}

// UpdateStatus changes a plugin's status. Status is the only mutable field.
func (r *PluginRegistry) UpdateStatus(pluginID string, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	plugin, exists := r.plugins[pluginID]
	if !exists {
		return fmt.Errorf("plugin %s not found", pluginID)
	}

	plugin.Status = status
	plugin.UpdatedAt = time.Now()
	return nil
}

// Remove removes a plugin from the registry
func (r *PluginRegistry) Remove(pluginID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plugins, pluginID)
}

// HasPermission reports whether pluginID holds permission.
// A request for PermissionNone always succeeds; unknown plugins hold nothing.
func (r *PluginRegistry) HasPermission(pluginID string, permission Permission) bool {
	if permission == PermissionNone {
		return true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	plugin, exists := r.plugins[pluginID]
	if !exists {
		return false
	}
	return plugin.Permissions.Allows(permission)
}

// RequirePermission returns a *PermissionError if pluginID lacks permission
func (r *PluginRegistry) RequirePermission(pluginID string, permission Permission) error {
	if !r.HasPermission(pluginID, permission) {
		return &PermissionError{PluginID: pluginID, Permission: permission}
	}
	return nil
}
