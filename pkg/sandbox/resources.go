// Package sandbox provides permission-checked proxies between plugin code
// and the host's relational and object stores.
package sandbox

import (
	"github.com/harun/hookhost/pkg/objectstore"
	"github.com/harun/hookhost/pkg/store"
	"github.com/rs/zerolog"
)

// Backends are the real resources proxies delegate to
type Backends struct {
	DB     store.Database
	Bucket objectstore.Bucket
	Gate   Gate
	Hooks  HookExecutor
	Logger zerolog.Logger

	// ReservedTables are tables in DB plugins may not name
	ReservedTables []string
}

// Resources is the set of proxies handed to one callback invocation.
// DB or Storage is nil when the matching backend is not configured.
type Resources struct {
	PluginID string
	DB       *Database
	Storage  *Storage
}

// NewResources builds fresh proxies scoped to pluginID
func NewResources(pluginID string, b Backends) *Resources {
	res := &Resources{PluginID: pluginID}
	if b.DB != nil {
		res.DB = NewDatabase(pluginID, b.DB, b.Gate, b.Hooks, b.Logger, b.ReservedTables...)
	}
	if b.Bucket != nil {
		res.Storage = NewStorage(pluginID, b.Bucket, b.Gate, b.Hooks, b.Logger)
	}
	return res
}
