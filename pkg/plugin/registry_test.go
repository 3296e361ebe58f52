package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPlugin(id string, status Status) *Plugin {
	return &Plugin{
		PluginManifest: PluginManifest{
			Name:        id,
			Version:     "1.0.0",
			Main:        "main.lua",
			Permissions: &Permissions{},
		},
		ID:     id,
		Status: status,
	}
}

func TestPluginRegistry(t *testing.T) {
	t.Run("put and get", func(t *testing.T) {
		registry := NewPluginRegistry()
		registry.Put(newTestPlugin("alpha", StatusInactive))

		plugin, exists := registry.Get("alpha")
		require.True(t, exists)
		assert.Equal(t, "alpha", plugin.ID)
		assert.Equal(t, StatusInactive, plugin.Status)

		_, exists = registry.Get("missing")
		assert.False(t, exists)
	})

	t.Run("returned records are copies", func(t *testing.T) {
		registry := NewPluginRegistry()
		registry.Put(newTestPlugin("alpha", StatusInactive))

		plugin, _ := registry.Get("alpha")
		plugin.Status = StatusActive
		plugin.Permissions.DatabaseWrite = true

		stored, _ := registry.Get("alpha")
		assert.Equal(t, StatusInactive, stored.Status)
		assert.False(t, registry.HasPermission("alpha", PermissionDatabaseWrite))
	})

	t.Run("update status", func(t *testing.T) {
		registry := NewPluginRegistry()
		registry.Put(newTestPlugin("alpha", StatusInactive))

		require.NoError(t, registry.UpdateStatus("alpha", StatusActive))
		plugin, _ := registry.Get("alpha")
		assert.Equal(t, StatusActive, plugin.Status)
		assert.False(t, plugin.UpdatedAt.IsZero())

		err := registry.UpdateStatus("missing", StatusActive)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("get all is sorted and filters by status", func(t *testing.T) {
		registry := NewPluginRegistry()
		registry.Put(newTestPlugin("charlie", StatusActive))
		registry.Put(newTestPlugin("alpha", StatusInactive))
		registry.Put(newTestPlugin("bravo", StatusActive))

		all := registry.GetAll()
		require.Len(t, all, 3)
		assert.Equal(t, "alpha", all[0].ID)
		assert.Equal(t, "bravo", all[1].ID)
		assert.Equal(t, "charlie", all[2].ID)

		active := registry.GetByStatus(StatusActive)
		assert.Len(t, active, 2)
	})

	t.Run("remove", func(t *testing.T) {
		registry := NewPluginRegistry()
		registry.Put(newTestPlugin("alpha", StatusInactive))
		registry.Remove("alpha")

		_, exists := registry.Get("alpha")
		assert.False(t, exists)
	})
}
