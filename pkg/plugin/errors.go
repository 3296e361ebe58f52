package plugin

import (
	"errors"
	"fmt"
)

var (
	// ErrManifestInvalid is returned when a manifest is missing, malformed or lacks permissions
	ErrManifestInvalid = errors.New("invalid plugin manifest")

	// ErrPermissionDenied is returned when a capability check fails
	ErrPermissionDenied = errors.New("permission denied")
)

// PermissionError names the plugin and the permission it is missing
type PermissionError struct {
	PluginID   string
	Permission Permission
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("plugin '%s' does not have the required '%s' permission", e.PluginID, e.Permission)
}

// Unwrap lets errors.Is match ErrPermissionDenied
func (e *PermissionError) Unwrap() error {
	return ErrPermissionDenied
}
