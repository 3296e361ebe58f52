package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/hookhost/internal/observability"
	"github.com/harun/hookhost/pkg/plugin"
	"github.com/harun/hookhost/pkg/store"
	"github.com/rs/zerolog"
)

// Gate decides capability checks. plugin.PluginRegistry implements it.
type Gate interface {
	HasPermission(pluginID string, permission plugin.Permission) bool
}

// Database is a store.Database scoped to one plugin. Every operation is
// checked against the plugin's permissions before reaching the real store.
type Database struct {
	pluginID string
	inner    store.Database
	gate     Gate
	hooks    HookExecutor
	reserved map[string]bool
	logger   zerolog.Logger
}

var _ store.Database = (*Database)(nil)

// NewDatabase wraps db for pluginID. hooks may be nil. Queries naming one of
// the reserved tables, in any case, are refused.
func NewDatabase(pluginID string, db store.Database, gate Gate, hooks HookExecutor, logger zerolog.Logger, reserved ...string) *Database {
	d := &Database{
		pluginID: pluginID,
		inner:    db,
		gate:     gate,
		hooks:    hooks,
		reserved: make(map[string]bool, len(reserved)),
		logger:   logger.With().Str("component", "sandbox.database").Str("plugin_id", pluginID).Logger(),
	}
	for _, table := range reserved {
		d.reserved[strings.ToLower(table)] = true
	}
	return d
}

// Prepare checks the query's permission and returns a statement that checks
// it again on every use
func (d *Database) Prepare(query string) (store.Statement, error) {
	a, err := d.analyze(query)
	if err != nil {
		return nil, err
	}
	if a.statements > 1 {
		return nil, fmt.Errorf("%w: found %d", ErrMultipleStatements, a.statements)
	}
	if err := d.require(context.Background(), a.permission); err != nil {
		return nil, err
	}

	inner, err := d.inner.Prepare(query)
	if err != nil {
		return nil, err
	}
	observability.RecordProxyOperation("database", "prepare")
	return &Statement{db: d, inner: inner, permission: a.permission}, nil
}

// Exec runs raw SQL. It always requires write; the query is passed through
// beforeDatabaseQueryExecute first and the rewritten query is checked again.
func (d *Database) Exec(ctx context.Context, query string) (*store.ExecResult, error) {
	if _, err := d.analyze(query); err != nil {
		return nil, err
	}
	if err := d.require(ctx, plugin.PermissionDatabaseWrite); err != nil {
		return nil, err
	}

	rewritten := query
	if d.hooks != nil {
		out := d.hooks.ExecuteHook(ctx, HookBeforeDatabaseQuery, QueryEvent{Query: query, PluginID: d.pluginID})
		if q, ok := QueryFromValue(out); ok && q != "" {
			rewritten = q
		}
	}

	if rewritten != query {
		d.logger.Debug().Str("query", query).Str("rewritten", rewritten).Msg("Query rewritten by hook")
		a, err := d.analyze(rewritten)
		if err != nil {
			return nil, err
		}
		if err := d.require(ctx, a.permission); err != nil {
			return nil, err
		}
	}

	result, err := d.inner.Exec(ctx, rewritten)
	if err != nil {
		return nil, err
	}
	observability.RecordProxyOperation("database", "exec")

	if d.hooks != nil {
		d.hooks.ExecuteHook(ctx, HookAfterDatabaseQuery, QueryEvent{Query: rewritten, PluginID: d.pluginID, Result: result})
	}
	return result, nil
}

// Batch requires write for the whole batch regardless of the statements in it
func (d *Database) Batch(ctx context.Context, statements []store.Statement) ([]*store.Result, error) {
	if err := d.require(ctx, plugin.PermissionDatabaseWrite); err != nil {
		return nil, err
	}

	inner := make([]store.Statement, len(statements))
	for i, s := range statements {
		stmt, ok := s.(*Statement)
		if !ok || stmt.db != d {
			return nil, fmt.Errorf("batch statement %d: %w", i, ErrForeignStatement)
		}
		inner[i] = stmt.inner
	}

	results, err := d.inner.Batch(ctx, inner)
	if err != nil {
		return nil, err
	}
	observability.RecordProxyOperation("database", "batch")
	return results, nil
}

// Dump requires read
func (d *Database) Dump(ctx context.Context) ([]byte, error) {
	if err := d.require(ctx, plugin.PermissionDatabaseRead); err != nil {
		return nil, err
	}
	observability.RecordProxyOperation("database", "dump")
	return d.inner.Dump(ctx)
}

// analyze classifies query and refuses it when it names a reserved table
func (d *Database) analyze(query string) (*analysis, error) {
	a, err := analyze(query)
	if err != nil {
		return nil, err
	}
	for _, t := range a.tokens {
		if t.kind != tokenWord && t.kind != tokenIdent && t.kind != tokenString {
			continue
		}
		if d.reserved[strings.ToLower(t.text)] {
			return nil, fmt.Errorf("%w: %s", ErrReservedTable, t.text)
		}
	}
	return a, nil
}

func (d *Database) require(ctx context.Context, permission plugin.Permission) error {
	return requirePermission(ctx, d.gate, d.pluginID, permission, "database")
}

// Statement is a prepared statement that re-checks its permission on every call
type Statement struct {
	db         *Database
	inner      store.Statement
	permission plugin.Permission
}

func (s *Statement) Query() string {
	return s.inner.Query()
}

func (s *Statement) Bind(args ...any) (store.Statement, error) {
	if err := s.db.require(context.Background(), s.permission); err != nil {
		return nil, err
	}
	bound, err := s.inner.Bind(args...)
	if err != nil {
		return nil, err
	}
	return &Statement{db: s.db, inner: bound, permission: s.permission}, nil
}

func (s *Statement) First(ctx context.Context) (store.Row, error) {
	if err := s.db.require(ctx, s.permission); err != nil {
		return nil, err
	}
	observability.RecordProxyOperation("database", "first")
	return s.inner.First(ctx)
}

func (s *Statement) All(ctx context.Context) (*store.Result, error) {
	if err := s.db.require(ctx, s.permission); err != nil {
		return nil, err
	}
	observability.RecordProxyOperation("database", "all")
	return s.inner.All(ctx)
}

// Run executes the statement; a successful write fires afterDatabaseQueryExecute
func (s *Statement) Run(ctx context.Context) (*store.Result, error) {
	if err := s.db.require(ctx, s.permission); err != nil {
		return nil, err
	}
	result, err := s.inner.Run(ctx)
	if err != nil {
		return nil, err
	}
	observability.RecordProxyOperation("database", "run")

	if s.permission == plugin.PermissionDatabaseWrite && s.db.hooks != nil {
		s.db.hooks.ExecuteHook(ctx, HookAfterDatabaseQuery, QueryEvent{Query: s.inner.Query(), PluginID: s.db.pluginID, Result: result})
	}
	return result, nil
}

func (s *Statement) Raw(ctx context.Context, withColumns bool) ([][]any, error) {
	if err := s.db.require(ctx, s.permission); err != nil {
		return nil, err
	}
	observability.RecordProxyOperation("database", "raw")
	return s.inner.Raw(ctx, withColumns)
}

func requirePermission(ctx context.Context, gate Gate, pluginID string, permission plugin.Permission, resource string) error {
	if gate.HasPermission(pluginID, permission) {
		return nil
	}
	observability.RecordPermissionDenied(string(permission), resource)
	observability.RecordSecurityAudit(ctx, "deny:"+string(permission), pluginID, "denied", map[string]interface{}{
		"resource": resource,
	})
	return &plugin.PermissionError{PluginID: pluginID, Permission: permission}
}
