package sandbox

import "context"

// Hooks fired from inside proxy calls
const (
	HookBeforeDatabaseQuery = "beforeDatabaseQueryExecute"
	HookAfterDatabaseQuery  = "afterDatabaseQueryExecute"
	HookFileUploaded        = "onR2FileUploaded"
)

// HookExecutor fires a hook. The dispatcher implements it.
type HookExecutor interface {
	ExecuteHook(ctx context.Context, name string, initial any, args ...any) any
}

// QueryEvent is the value dispatched through the database query hooks.
// Filters on beforeDatabaseQueryExecute may return a new query string, a
// QueryEvent or a table with a "query" field to rewrite the query.
type QueryEvent struct {
	Query    string `json:"query"`
	PluginID string `json:"pluginId"`
	Result   any    `json:"result,omitempty"`
}

// UploadEvent is the value dispatched through onR2FileUploaded
type UploadEvent struct {
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ETag        string `json:"etag"`
	ContentType string `json:"contentType,omitempty"`
	PluginID    string `json:"pluginId"`
}

// QueryFromValue extracts the query carried by a query hook value
func QueryFromValue(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case QueryEvent:
		return v.Query, true
	case *QueryEvent:
		if v == nil {
			return "", false
		}
		return v.Query, true
	case map[string]any:
		q, ok := v["query"].(string)
		return q, ok
	}
	return "", false
}
