package luaplugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harun/hookhost/pkg/hooks"
	"github.com/harun/hookhost/pkg/objectstore"
	"github.com/harun/hookhost/pkg/plugin"
	"github.com/harun/hookhost/pkg/sandbox"
	"github.com/harun/hookhost/pkg/store/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type grantGate map[string]*plugin.Permissions

func (g grantGate) HasPermission(pluginID string, permission plugin.Permission) bool {
	if permission == plugin.PermissionNone {
		return true
	}
	perms, ok := g[pluginID]
	return ok && perms.Allows(permission)
}

type failureLog struct {
	mu       sync.Mutex
	failures []hooks.Failure
}

func (l *failureLog) RecordFailure(ctx context.Context, f hooks.Failure) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, f)
}

func (l *failureLog) all() []hooks.Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]hooks.Failure(nil), l.failures...)
}

type harness struct {
	runtime    *Runtime
	dispatcher *hooks.Dispatcher
	db         *sqlite.DB
	bucket     *objectstore.FSBucket
	failures   *failureLog
}

func newHarness(t *testing.T, gate grantGate, loadTimeout time.Duration) *harness {
	t.Helper()

	db, err := sqlite.Open(sqlite.MemoryPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &harness{
		db:       db,
		bucket:   objectstore.NewMemoryBucket(zerolog.Nop()),
		failures: &failureLog{},
	}

	resources := func(pluginID string) *sandbox.Resources {
		return sandbox.NewResources(pluginID, sandbox.Backends{
			DB:     h.db,
			Bucket: h.bucket,
			Gate:   gate,
			Hooks:  h.dispatcher,
			Logger: zerolog.Nop(),
		})
	}

	h.dispatcher = hooks.NewDispatcher(hooks.Config{
		Catalog:         hooks.NewCatalog(),
		Gate:            gate,
		Resources:       resources,
		Sink:            h.failures,
		CallbackTimeout: 2 * time.Second,
		Logger:          zerolog.Nop(),
	})
	h.runtime = NewRuntime(Config{
		Hooks:       h.dispatcher.Catalog(),
		Resources:   resources,
		LoadTimeout: loadTimeout,
		Logger:      zerolog.Nop(),
	})
	t.Cleanup(h.runtime.Close)
	return h
}

func (h *harness) load(t *testing.T, pluginID, code string) error {
	t.Helper()
	return h.runtime.Load(context.Background(), pluginID, pluginID+"/main.lua", []byte(code))
}

func TestRuntime_FilterCallback(t *testing.T) {
	h := newHarness(t, grantGate{}, time.Second)
	require.NoError(t, h.load(t, "p", `
		host.add_hook("content", function(value)
			return value .. " - modified"
		end)
	`))

	got := h.dispatcher.ExecuteHook(context.Background(), "content", "hello")

	assert.Equal(t, "hello - modified", got)
	assert.True(t, h.runtime.Loaded("p"))
	assert.Empty(t, h.failures.all())
}

func TestRuntime_LogCarriesDispatchContext(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	dispatcher := hooks.NewDispatcher(hooks.Config{
		Catalog:         hooks.NewCatalog(),
		CallbackTimeout: time.Second,
		Logger:          zerolog.Nop(),
	})
	runtime := NewRuntime(Config{
		Hooks:       dispatcher.Catalog(),
		LoadTimeout: time.Second,
		Logger:      logger,
	})
	t.Cleanup(runtime.Close)

	require.NoError(t, runtime.Load(context.Background(), "p", "p/main.lua", []byte(`
		host.add_hook("greet", function(value)
			host.log("warn", "hello " .. value)
		end)
	`)))
	buf.Reset()

	dispatcher.ExecuteHook(context.Background(), "greet", "there")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "hello there", line["message"])
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "p", line["plugin_id"])
	assert.NotEmpty(t, line["dispatch_id"])
}

func TestRuntime_CallbackReceivesArgs(t *testing.T) {
	h := newHarness(t, grantGate{}, time.Second)
	require.NoError(t, h.load(t, "p", `
		host.add_hook("sum", function(value, a, b)
			return value + a + b
		end)
	`))

	got := h.dispatcher.ExecuteHook(context.Background(), "sum", 1, 2, 3)

	assert.Equal(t, int64(6), got)
}

func TestRuntime_RestrictedGlobals(t *testing.T) {
	h := newHarness(t, grantGate{}, time.Second)

	err := h.load(t, "p", `
		assert(io == nil, "io")
		assert(os == nil, "os")
		assert(require == nil, "require")
		assert(dofile == nil, "dofile")
		assert(loadstring == nil, "loadstring")
		assert(debug == nil, "debug")
		assert(print == nil, "print")
		assert(string.upper("a") == "A")
		assert(math.max(1, 2) == 2)
		assert(host.plugin_id == "p")
	`)

	assert.NoError(t, err)
}

func TestRuntime_UnloadMakesCallbacksInert(t *testing.T) {
	h := newHarness(t, grantGate{}, time.Second)
	require.NoError(t, h.load(t, "p", `
		host.add_hook("content", function(value) return "changed" end)
	`))

	h.runtime.Unload("p")

	assert.False(t, h.runtime.Loaded("p"))
	assert.Equal(t, "original", h.dispatcher.ExecuteHook(context.Background(), "content", "original"))
	assert.Empty(t, h.failures.all())
}

func TestRuntime_ReloadReplacesState(t *testing.T) {
	h := newHarness(t, grantGate{}, time.Second)
	require.NoError(t, h.load(t, "p", `host.add_hook("content", function(v) return v .. "-1" end)`))
	require.NoError(t, h.load(t, "p", `host.add_hook("content", function(v) return v .. "-2" end)`))

	// The first registration is inert, the second is live
	assert.Equal(t, "x-2", h.dispatcher.ExecuteHook(context.Background(), "content", "x"))
}

func TestRuntime_LoadScriptError(t *testing.T) {
	h := newHarness(t, grantGate{}, time.Second)

	err := h.load(t, "p", `error("boom")`)

	require.Error(t, err)
	var scriptErr *ScriptError
	require.True(t, errors.As(err, &scriptErr))
	assert.Equal(t, "p", scriptErr.PluginID)
	assert.Contains(t, scriptErr.Message, "boom")
	assert.NotEmpty(t, scriptErr.StackTrace())
	assert.False(t, h.runtime.Loaded("p"))
}

func TestRuntime_LoadSyntaxError(t *testing.T) {
	h := newHarness(t, grantGate{}, time.Second)

	err := h.load(t, "p", `host.add_hook("x", function(`)

	var scriptErr *ScriptError
	require.True(t, errors.As(err, &scriptErr))
	assert.False(t, h.runtime.Loaded("p"))
}

func TestRuntime_CallbackErrorIsContained(t *testing.T) {
	h := newHarness(t, grantGate{}, time.Second)
	require.NoError(t, h.load(t, "bad", `
		host.add_hook("content", function(value) error("callback failed") end)
	`))
	require.NoError(t, h.load(t, "good", `
		host.add_hook("content", function(value) return value .. "!" end)
	`))

	got := h.dispatcher.ExecuteHook(context.Background(), "content", "hi")

	assert.Equal(t, "hi!", got)
	failures := h.failures.all()
	require.Len(t, failures, 1)
	assert.Equal(t, "bad", failures[0].PluginID)
	assert.Contains(t, failures[0].Err.Error(), "callback failed")
	assert.NotEmpty(t, failures[0].StackTrace)
}

func TestRuntime_LoadTimeout(t *testing.T) {
	h := newHarness(t, grantGate{}, 50*time.Millisecond)

	start := time.Now()
	err := h.load(t, "p", `while true do end`)

	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, h.runtime.Loaded("p"))
}

func TestRuntime_DatabaseAccess(t *testing.T) {
	gate := grantGate{"p": &plugin.Permissions{DatabaseRead: true, DatabaseWrite: true}}
	h := newHarness(t, gate, time.Second)
	_, err := h.db.Exec(context.Background(), "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)

	require.NoError(t, h.load(t, "p", `
		local meta = host.db.run("INSERT INTO items (name) VALUES (?)", "alpha")
		assert(meta.changes == 1, "changes")
		host.db.run("INSERT INTO items (name) VALUES (?)", "beta")

		local rows = host.db.query("SELECT name FROM items ORDER BY id")
		assert(#rows == 2, "rows")
		assert(rows[1].name == "alpha")

		local row = host.db.first("SELECT name FROM items WHERE name = ?", "beta")
		assert(row.name == "beta")
		assert(host.db.first("SELECT name FROM items WHERE name = ?", "none") == nil)
	`))
}

func TestRuntime_PermissionDeniedRaises(t *testing.T) {
	gate := grantGate{"p": &plugin.Permissions{DatabaseRead: true}}
	h := newHarness(t, gate, time.Second)

	err := h.load(t, "p", `
		local ok, err = pcall(host.db.exec, "CREATE TABLE t (id INTEGER)")
		assert(not ok, "expected denial")
		assert(string.find(err, "d1Write", 1, true), err)
	`)
	assert.NoError(t, err)

	rows, err := h.db.Prepare("SELECT name FROM sqlite_master WHERE name = 't'")
	require.NoError(t, err)
	result, err := rows.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Results)
}

func TestRuntime_StorageAccess(t *testing.T) {
	gate := grantGate{"p": &plugin.Permissions{StorageRead: true, StorageWrite: true}}
	h := newHarness(t, gate, time.Second)

	require.NoError(t, h.load(t, "p", `
		local info = host.storage.put("notes/a.txt", "hello", "text/plain")
		assert(info.size == 5, "size")
		assert(info.content_type == "text/plain")

		local body, meta = host.storage.get("notes/a.txt")
		assert(body == "hello")
		assert(meta.etag == info.etag)

		local keys = host.storage.list("notes/")
		assert(#keys == 1 and keys[1] == "notes/a.txt")

		host.storage.delete("notes/a.txt")
		assert(host.storage.get("notes/a.txt") == nil)
		assert(host.storage.head("notes/a.txt") == nil)
	`))
}

func TestRuntime_NestedCallbackIntoSamePlugin(t *testing.T) {
	gate := grantGate{"p": &plugin.Permissions{DatabaseRead: true, DatabaseWrite: true}}
	h := newHarness(t, gate, time.Second)
	require.NoError(t, h.dispatcher.Catalog().Declare(hooks.Definition{
		Name: sandbox.HookAfterDatabaseQuery,
		Type: hooks.Action,
	}))
	_, err := h.db.Exec(context.Background(), "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	require.NoError(t, err)

	require.NoError(t, h.load(t, "p", `
		local seen = 0
		host.add_hook("afterDatabaseQueryExecute", function(event)
			seen = seen + 1
		end)
		host.add_hook("trigger", function(value)
			host.db.exec("INSERT INTO items (name) VALUES ('" .. value .. "')")
			local row = host.db.first("SELECT count(*) AS n FROM items")
			return value .. ":" .. row.n .. ":" .. seen
		end)
	`))

	got := h.dispatcher.ExecuteHook(context.Background(), "trigger", "a")

	assert.Equal(t, "a:1:1", got)
	assert.Empty(t, h.failures.all())
}

func TestRuntime_ConcurrentCallbacks(t *testing.T) {
	h := newHarness(t, grantGate{}, time.Second)
	require.NoError(t, h.load(t, "p", `
		local calls = 0
		host.add_hook("count", function(value)
			calls = calls + 1
			return value + 1
		end)
	`))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, int64(1), h.dispatcher.ExecuteHook(context.Background(), "count", 0))
		}()
	}
	wg.Wait()
}
