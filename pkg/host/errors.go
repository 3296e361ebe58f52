package host

import "errors"

var (
	// ErrActivationFailed is returned when a plugin's entry code cannot be
	// loaded or raises while running. The plugin stays recorded as active.
	ErrActivationFailed = errors.New("plugin activation failed")

	// ErrEntryNotFound is returned when the entry code object is missing
	ErrEntryNotFound = errors.New("plugin entry code not found")
)
