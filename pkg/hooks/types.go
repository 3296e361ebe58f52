// Package hooks holds the hook catalog and the dispatcher that runs plugin
// callbacks against it.
package hooks

import (
	"context"
	"errors"

	"github.com/harun/hookhost/pkg/plugin"
	"github.com/harun/hookhost/pkg/sandbox"
)

// ErrDuplicateHook is returned when declaring a hook name that already exists
var ErrDuplicateHook = errors.New("hook already declared")

// Type decides how a hook threads its value through callbacks
type Type string

const (
	// Filter passes each callback's result to the next one
	Filter Type = "filter"
	// Action passes the initial value to every callback and ignores results
	Action Type = "action"
)

// PermissionResolver derives the required permission from the dispatched value
type PermissionResolver func(value any) plugin.Permission

// Definition describes a hook. When Resolve is set it takes precedence
// over Permission.
type Definition struct {
	Name        string
	Type        Type
	Permission  plugin.Permission
	Resolve     PermissionResolver
	Description string
}

// RequiredPermission returns the permission callbacks need for value
func (d Definition) RequiredPermission(value any) plugin.Permission {
	if d.Resolve != nil {
		return d.Resolve(value)
	}
	return d.Permission
}

// Callback is a plugin function registered against a hook. Returning a nil
// value leaves a Filter's value unchanged.
type Callback func(ctx context.Context, value any, res *sandbox.Resources, args ...any) (any, error)

// Registration is a callback and the plugin that owns it
type Registration struct {
	PluginID string
	Callback Callback
}

// Info summarizes a hook for listings
type Info struct {
	Definition
	Callbacks int
}
