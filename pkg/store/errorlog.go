package store

import (
	"context"
	"fmt"
	"time"
)

// ErrorEntry is one contained plugin failure
type ErrorEntry struct {
	ID         int64
	PluginID   string
	HookName   string
	DispatchID string
	Message    string
	StackTrace string
	CreatedAt  time.Time
}

// ErrorLog appends contained plugin failures to the PluginErrorLog table.
// It is usually backed by a database separate from the plugin table.
type ErrorLog struct {
	db Database
}

// NewErrorLog creates an error log over db
func NewErrorLog(db Database) *ErrorLog {
	return &ErrorLog{db: db}
}

// Append records a failure
func (l *ErrorLog) Append(ctx context.Context, entry ErrorEntry) error {
	_, err := run(ctx, l.db,
		"INSERT INTO PluginErrorLog (plugin_id, hook_name, dispatch_id, error_message, stack_trace) VALUES (?, ?, ?, ?, ?)",
		entry.PluginID, entry.HookName, entry.DispatchID, entry.Message, entry.StackTrace,
	)
	if err != nil {
		return fmt.Errorf("failed to append plugin error: %w", err)
	}
	return nil
}

// ListByPlugin returns the most recent failures of a plugin, newest first
func (l *ErrorLog) ListByPlugin(ctx context.Context, pluginID string, limit int) ([]ErrorEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	stmt, err := l.db.Prepare("SELECT id, plugin_id, hook_name, dispatch_id, error_message, stack_trace, created_at FROM PluginErrorLog WHERE plugin_id = ? ORDER BY id DESC LIMIT ?")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare error listing: %w", err)
	}
	stmt, err = stmt.Bind(pluginID, limit)
	if err != nil {
		return nil, err
	}
	result, err := stmt.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list plugin errors: %w", err)
	}

	entries := make([]ErrorEntry, 0, len(result.Results))
	for _, row := range result.Results {
		entries = append(entries, ErrorEntry{
			ID:         asInt64(row["id"]),
			PluginID:   asString(row["plugin_id"]),
			HookName:   asString(row["hook_name"]),
			DispatchID: asString(row["dispatch_id"]),
			Message:    asString(row["error_message"]),
			StackTrace: asString(row["stack_trace"]),
			CreatedAt:  asTime(row["created_at"]),
		})
	}
	return entries, nil
}
