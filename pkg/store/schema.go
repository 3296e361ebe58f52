package store

import (
	"context"
	"fmt"
)

// ReservedTables are the tables Schema creates
var ReservedTables = []string{"PluginRegistry", "PluginErrorLog"}

// Schema creates the plugin table and the plugin error log
const Schema = `
CREATE TABLE IF NOT EXISTS PluginRegistry (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	version     TEXT NOT NULL,
	author      TEXT NOT NULL DEFAULT '',
	main        TEXT NOT NULL,
	status      TEXT NOT NULL,
	permissions TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS PluginErrorLog (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	plugin_id     TEXT NOT NULL,
	hook_name     TEXT NOT NULL DEFAULT '',
	dispatch_id   TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL,
	stack_trace   TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_plugin_error_log_plugin ON PluginErrorLog(plugin_id);
`

// Migrate creates the tables the host needs
func Migrate(ctx context.Context, db Database) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
