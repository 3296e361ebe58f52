package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/harun/hookhost/pkg/plugin"
)

// PluginStore persists plugin records in the PluginRegistry table
type PluginStore struct {
	db Database
}

// NewPluginStore creates a plugin store over db
func NewPluginStore(db Database) *PluginStore {
	return &PluginStore{db: db}
}

// Insert persists a new plugin record. A second insert for the same id fails
// with the database's unique-key error.
func (s *PluginStore) Insert(ctx context.Context, p *plugin.Plugin) error {
	permissions, err := json.Marshal(p.Permissions)
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	_, err = run(ctx, s.db,
		"INSERT INTO PluginRegistry (id, name, version, author, main, status, permissions) VALUES (?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.Name, p.Version, p.Author, p.Main, string(p.Status), string(permissions),
	)
	if err != nil {
		return fmt.Errorf("failed to insert plugin %s: %w", p.ID, err)
	}
	return nil
}

// UpdateStatus persists a status change
func (s *PluginStore) UpdateStatus(ctx context.Context, pluginID string, status plugin.Status) error {
	_, err := run(ctx, s.db,
		"UPDATE PluginRegistry SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		string(status), pluginID,
	)
	if err != nil {
		return fmt.Errorf("failed to update status of plugin %s: %w", pluginID, err)
	}
	return nil
}

// Delete removes a plugin record. Deleting an unknown id is not an error.
func (s *PluginStore) Delete(ctx context.Context, pluginID string) error {
	if _, err := run(ctx, s.db, "DELETE FROM PluginRegistry WHERE id = ?", pluginID); err != nil {
		return fmt.Errorf("failed to delete plugin %s: %w", pluginID, err)
	}
	return nil
}

// List returns every persisted plugin ordered by id
func (s *PluginStore) List(ctx context.Context) ([]*plugin.Plugin, error) {
	stmt, err := s.db.Prepare("SELECT id, name, version, author, main, status, permissions, updated_at FROM PluginRegistry ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare plugin listing: %w", err)
	}
	result, err := stmt.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list plugins: %w", err)
	}

	plugins := make([]*plugin.Plugin, 0, len(result.Results))
	for _, row := range result.Results {
		p, err := pluginFromRow(row)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

func pluginFromRow(row Row) (*plugin.Plugin, error) {
	id := asString(row["id"])

	var permissions plugin.Permissions
	if err := json.Unmarshal([]byte(asString(row["permissions"])), &permissions); err != nil {
		return nil, fmt.Errorf("failed to decode permissions of plugin %s: %w", id, err)
	}

	return &plugin.Plugin{
		PluginManifest: plugin.PluginManifest{
			Name:        asString(row["name"]),
			Version:     asString(row["version"]),
			Author:      asString(row["author"]),
			Main:        asString(row["main"]),
			Permissions: &permissions,
		},
		ID:        id,
		Status:    plugin.Status(asString(row["status"])),
		UpdatedAt: asTime(row["updated_at"]),
	}, nil
}

func run(ctx context.Context, db Database, query string, args ...any) (*Result, error) {
	stmt, err := db.Prepare(query)
	if err != nil {
		return nil, err
	}
	stmt, err = stmt.Bind(args...)
	if err != nil {
		return nil, err
	}
	return stmt.Run(ctx)
}

func asString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func asInt64(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(val), 10, 64)
		return n
	default:
		return 0
	}
}

func asTime(v any) time.Time {
	switch val := v.(type) {
	case time.Time:
		return val
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, val); err == nil {
				return t
			}
		}
	case []byte:
		return asTime(string(val))
	}
	return time.Time{}
}
