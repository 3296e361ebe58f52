package plugin

import (
	"time"
)

// Status represents the lifecycle status of a plugin
type Status string

const (
	StatusPending  Status = "pending"
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"
)

// Permission names one capability flag of a plugin manifest
type Permission string

const (
	// PermissionNone is requested by operations that need no capability
	PermissionNone Permission = ""

	PermissionDatabaseRead  Permission = "d1Read"
	PermissionDatabaseWrite Permission = "d1Write"
	PermissionStorageRead   Permission = "r2Read"
	PermissionStorageWrite  Permission = "r2Write"
	PermissionExternalFetch Permission = "externalFetch"
)

// ValidPermissions is a set of all valid permissions
var ValidPermissions = map[Permission]bool{
	PermissionDatabaseRead:  true,
	PermissionDatabaseWrite: true,
	PermissionStorageRead:   true,
	PermissionStorageWrite:  true,
	PermissionExternalFetch: true,
}

// PluginManifest represents the plugin.json file structure
type PluginManifest struct {
	Name        string       `json:"name"`
	Version     string       `json:"version"`
	Author      string       `json:"author"`
	Main        string       `json:"main"`
	Permissions *Permissions `json:"permissions"`
}

// Plugin is the runtime record of a registered plugin
type Plugin struct {
	PluginManifest
	ID        string
	Status    Status
	UpdatedAt time.Time
}

// Clone returns a copy that shares no mutable state with p
func (p *Plugin) Clone() *Plugin {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Permissions != nil {
		perms := *p.Permissions
		clone.Permissions = &perms
	}
	return &clone
}
