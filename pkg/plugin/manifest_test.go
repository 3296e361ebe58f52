package plugin

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestLoader_LoadManifest(t *testing.T) {
	loader := NewManifestLoader(zerolog.Nop())

	t.Run("loads valid manifest", func(t *testing.T) {
		manifest := `{
			"name": "Sample Plugin",
			"version": "1.0.0",
			"author": "Dev Co.",
			"main": "main.lua",
			"permissions": {
				"d1Read": true,
				"d1Write": false,
				"r2Read": true,
				"r2Write": false,
				"externalFetch": false
			}
		}`

		result, err := loader.LoadManifest([]byte(manifest))

		require.NoError(t, err)
		assert.Equal(t, "Sample Plugin", result.Name)
		assert.Equal(t, "1.0.0", result.Version)
		assert.Equal(t, "Dev Co.", result.Author)
		assert.Equal(t, "main.lua", result.Main)
		require.NotNil(t, result.Permissions)
		assert.True(t, result.Permissions.DatabaseRead)
		assert.True(t, result.Permissions.StorageRead)
		assert.False(t, result.Permissions.DatabaseWrite)
	})

	t.Run("omitted flags default to false", func(t *testing.T) {
		manifest := `{
			"name": "Quiet",
			"version": "0.1.0",
			"main": "main.lua",
			"permissions": {}
		}`

		result, err := loader.LoadManifest([]byte(manifest))

		require.NoError(t, err)
		assert.Empty(t, result.Permissions.Granted())
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		manifest := `{
			"name": "Test Plugin",
			"version": "1.0.0"
			"main": "main"
		}`

		_, err := loader.LoadManifest([]byte(manifest))

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrManifestInvalid))
		assert.Contains(t, err.Error(), "failed to parse manifest JSON")
	})

	t.Run("rejects manifest without permissions block", func(t *testing.T) {
		manifest := `{
			"name": "No Perms",
			"version": "1.0.0",
			"main": "main.lua"
		}`

		_, err := loader.LoadManifest([]byte(manifest))

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrManifestInvalid))
	})

	t.Run("rejects manifest missing required fields", func(t *testing.T) {
		testCases := []struct {
			name     string
			manifest string
		}{
			{
				name:     "missing name",
				manifest: `{"version": "1.0.0", "main": "main.lua", "permissions": {}}`,
			},
			{
				name:     "missing version",
				manifest: `{"name": "x", "main": "main.lua", "permissions": {}}`,
			},
			{
				name:     "missing main",
				manifest: `{"name": "x", "version": "1.0.0", "permissions": {}}`,
			},
			{
				name:     "null permissions",
				manifest: `{"name": "x", "version": "1.0.0", "main": "main.lua", "permissions": null}`,
			},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				_, err := loader.LoadManifest([]byte(tc.manifest))
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrManifestInvalid))
			})
		}
	})

	t.Run("rejects unknown permission flag", func(t *testing.T) {
		manifest := `{
			"name": "Greedy",
			"version": "1.0.0",
			"main": "main.lua",
			"permissions": {"processSpawn": true}
		}`

		_, err := loader.LoadManifest([]byte(manifest))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrManifestInvalid))
	})

	t.Run("rejects invalid version", func(t *testing.T) {
		manifest := `{
			"name": "Bad Version",
			"version": "not-a-version",
			"main": "main.lua",
			"permissions": {}
		}`

		_, err := loader.LoadManifest([]byte(manifest))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid version format")
	})

	t.Run("rejects main escaping the plugin prefix", func(t *testing.T) {
		manifest := `{
			"name": "Escape",
			"version": "1.0.0",
			"main": "../other/main.lua",
			"permissions": {}
		}`

		_, err := loader.LoadManifest([]byte(manifest))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrManifestInvalid))
	})
}

func TestDerivePluginID(t *testing.T) {
	testCases := []struct {
		name     string
		expected string
	}{
		{name: "Sample Plugin", expected: "sample-plugin"},
		{name: "  Spaced   Out\tName ", expected: "spaced-out-name"},
		{name: "already-an-id", expected: "already-an-id"},
		{name: "UPPER", expected: "upper"},
		{name: "   ", expected: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, DerivePluginID(tc.name))
		})
	}
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "uploads/sample/plugin.json", ManifestPath("uploads/sample/"))
	assert.Equal(t, "sample-plugin/main.lua", EntryPath("sample-plugin", "main.lua"))
	assert.Equal(t, "sample-plugin/lib/main.lua", EntryPath("sample-plugin", "/lib/main.lua"))
}
