package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testManifest = `{
	"name": "Content Modifier",
	"version": "1.0.0",
	"author": "tests",
	"main": "main.lua",
	"permissions": {"d1Read": true, "d1Write": false, "r2Read": false, "r2Write": false, "externalFetch": false}
}`

const testCode = `
host.add_hook("onAgentRequestStart", function(value)
	return value .. " - modified"
end)
`

// setupWorkspace writes a config rooted at a temp dir and a local plugin
// directory, and returns the config path and the plugin directory
func setupWorkspace(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()

	configPath := filepath.Join(dir, "hookhost.json")
	config := `{
		"data_dir": "` + filepath.ToSlash(dir) + `",
		"logging": {"level": "error", "pretty": false},
		"storage": {"db_path": "host.db", "code_dir": "code"}
	}`
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0644))

	pluginDir := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(pluginDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "plugin.json"), []byte(testManifest), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(pluginDir, "main.lua"), []byte(testCode), 0644))

	return configPath, pluginDir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		registerFrom = ""
		errorsLimit = 20
		logLevel = ""
	})

	cmd := GetRootCmd()
	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetArgs(args)
	err := cmd.Execute()

	registerFrom = ""
	return output.String(), err
}

func TestCommands_PluginLifecycle(t *testing.T) {
	configPath, pluginDir := setupWorkspace(t)

	out, err := run(t, "--config", configPath, "register", "content-modifier", "--from", pluginDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Registered content-modifier (Content Modifier 1.0.0)")

	out, err = run(t, "--config", configPath, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "content-modifier")
	assert.Contains(t, out, "inactive")
	assert.Contains(t, out, "d1Read")

	out, err = run(t, "--config", configPath, "exec", "onAgentRequestStart", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	out, err = run(t, "--config", configPath, "activate", "content-modifier")
	require.NoError(t, err)
	assert.Contains(t, out, "Activated content-modifier")

	out, err = run(t, "--config", configPath, "exec", "onAgentRequestStart", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello - modified\n", out)

	out, err = run(t, "--config", configPath, "hooks")
	require.NoError(t, err)
	assert.Contains(t, out, "onAgentRequestStart")
	assert.Contains(t, out, "filter")
	assert.Contains(t, out, "resolved")

	out, err = run(t, "--config", configPath, "deactivate", "content-modifier")
	require.NoError(t, err)
	assert.Contains(t, out, "Deactivated content-modifier")

	out, err = run(t, "--config", configPath, "exec", "onAgentRequestStart", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	out, err = run(t, "--config", configPath, "errors", "content-modifier")
	require.NoError(t, err)
	assert.Contains(t, out, "No errors recorded for content-modifier")
}

func TestCommands_RegisterTwiceFails(t *testing.T) {
	configPath, pluginDir := setupWorkspace(t)

	_, err := run(t, "--config", configPath, "register", "content-modifier", "--from", pluginDir)
	require.NoError(t, err)

	_, err = run(t, "--config", configPath, "register", "content-modifier")
	assert.Error(t, err)
}

func TestCommands_Uninstall(t *testing.T) {
	configPath, pluginDir := setupWorkspace(t)

	_, err := run(t, "--config", configPath, "register", "content-modifier", "--from", pluginDir)
	require.NoError(t, err)
	_, err = run(t, "--config", configPath, "activate", "content-modifier")
	require.NoError(t, err)

	out, err := run(t, "--config", configPath, "uninstall", "content-modifier")
	require.NoError(t, err)
	assert.Contains(t, out, "Uninstalled content-modifier")

	out, err = run(t, "--config", configPath, "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "content-modifier")

	out, err = run(t, "--config", configPath, "exec", "onAgentRequestStart", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)

	_, err = run(t, "--config", configPath, "uninstall", "content-modifier")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")

	// The code store still holds the files, so the plugin can come back
	_, err = run(t, "--config", configPath, "register", "content-modifier")
	assert.NoError(t, err)
}

func TestCommands_ActivateUnknownPlugin(t *testing.T) {
	configPath, _ := setupWorkspace(t)

	_, err := run(t, "--config", configPath, "activate", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestCommands_InvalidLogLevel(t *testing.T) {
	configPath, _ := setupWorkspace(t)

	_, err := run(t, "--config", configPath, "--log-level", "loud", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}
