package plugin

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// ManifestFile is the manifest object name inside a plugin path
const ManifestFile = "plugin.json"

// ManifestLoader parses and validates plugin manifests
type ManifestLoader struct {
	logger       zerolog.Logger
	schemaLoader gojsonschema.JSONLoader
}

// NewManifestLoader creates a new manifest loader
func NewManifestLoader(logger zerolog.Logger) *ManifestLoader {
	schemaLoader := gojsonschema.NewStringLoader(ManifestSchema)
	return &ManifestLoader{
		logger:       logger.With().Str("component", "manifest-loader").Logger(),
		schemaLoader: schemaLoader,
	}
}

// ManifestPath returns the object key of the manifest for a plugin path
func ManifestPath(pluginPath string) string {
	return path.Join(strings.TrimSuffix(pluginPath, "/"), ManifestFile)
}

// LoadManifest parses and validates manifest JSON.
// Every failure wraps ErrManifestInvalid.
func (m *ManifestLoader) LoadManifest(data []byte) (*PluginManifest, error) {
	// Parse JSON
	var manifest PluginManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("%w: failed to parse manifest JSON: %v", ErrManifestInvalid, err)
	}

	// Validate against JSON schema
	if err := m.validateSchema(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}

	// Additional validation
	if err := m.validateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}

	m.logger.Debug().
		Str("name", manifest.Name).
		Str("version", manifest.Version).
		Msg("Loaded manifest")

	return &manifest, nil
}

// validateSchema validates the manifest against the JSON schema
func (m *ManifestLoader) validateSchema(data []byte) error {
	documentLoader := gojsonschema.NewBytesLoader(data)
	result, err := gojsonschema.Validate(m.schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var errMsg strings.Builder
		for i, err := range result.Errors() {
			if i > 0 {
				errMsg.WriteString("; ")
			}
			errMsg.WriteString(err.String())
		}
		return fmt.Errorf("schema validation errors: %s", errMsg.String())
	}

	return nil
}

// validateManifest performs validation the JSON schema cannot express
func (m *ManifestLoader) validateManifest(manifest *PluginManifest) error {
	if manifest.Permissions == nil {
		return fmt.Errorf("plugin %s is missing permissions in its manifest", manifest.Name)
	}

	if DerivePluginID(manifest.Name) == "" {
		return fmt.Errorf("plugin name %q yields an empty plugin id", manifest.Name)
	}

	if _, err := semver.NewVersion(manifest.Version); err != nil {
		return fmt.Errorf("invalid version format: %s: %w", manifest.Version, err)
	}

	if path.IsAbs(manifest.Main) || strings.Contains(manifest.Main, "..") {
		return fmt.Errorf("main entry point must be a relative path inside the plugin: %s", manifest.Main)
	}

	return nil
}

// DerivePluginID lowercases name and collapses whitespace runs into a single '-'
func DerivePluginID(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

// EntryPath returns the object key of a plugin's entry code
func EntryPath(pluginID, main string) string {
	return pluginID + "/" + strings.TrimPrefix(main, "/")
}
