package luaplugin

import (
	"context"
	"strings"

	"github.com/harun/hookhost/internal/tracing"
	"github.com/harun/hookhost/pkg/objectstore"
	"github.com/harun/hookhost/pkg/sandbox"
	"github.com/harun/hookhost/pkg/store"
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// installAPI exposes the "host" table:
//
//	host.plugin_id
//	host.add_hook(name, fn)
//	host.log([level,] message)
//	host.db.query(sql, ...) / first / run / exec
//	host.storage.get(key) / head / list / put / delete
func (p *pluginState) installAPI() {
	L := p.L
	mod := L.NewTable()
	L.SetField(mod, "plugin_id", lua.LString(p.id))
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"add_hook": p.addHook,
		"log":      p.log,
	})

	L.SetField(mod, "db", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"query": p.dbQuery,
		"first": p.dbFirst,
		"run":   p.dbRun,
		"exec":  p.dbExec,
	}))

	L.SetField(mod, "storage", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"get":    p.storageGet,
		"head":   p.storageHead,
		"list":   p.storageList,
		"put":    p.storagePut,
		"delete": p.storageDelete,
	}))

	L.SetGlobal("host", mod)
}

func (p *pluginState) addHook(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	if p.runtime.hooks == nil {
		L.RaiseError("hook registration is not available")
		return 0
	}
	p.runtime.hooks.RegisterCallback(name, p.id, p.callback(fn))
	logger := p.contextLogger(L)
	logger.Debug().Str("hook", name).Msg("Plugin registered hook callback")
	return 0
}

func (p *pluginState) log(L *lua.LState) int {
	level := zerolog.InfoLevel
	message := L.CheckString(1)
	if L.GetTop() >= 2 {
		parsed, err := zerolog.ParseLevel(strings.ToLower(message))
		if err != nil || parsed == zerolog.NoLevel {
			L.ArgError(1, "unknown log level")
			return 0
		}
		level = parsed
		message = L.CheckString(2)
	}
	logger := p.contextLogger(L)
	logger.WithLevel(level).Str("source", "plugin").Msg(message)
	return 0
}

// contextLogger tags lines with the plugin and the dispatch its code is
// running in
func (p *pluginState) contextLogger(L *lua.LState) zerolog.Logger {
	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return tracing.LoggerFromContext(tracing.WithPluginID(ctx, p.id), p.logger)
}

func (p *pluginState) raise(L *lua.LState, err error) {
	L.RaiseError("%s", err.Error())
}

func (p *pluginState) database(L *lua.LState) *sandbox.Database {
	if p.res == nil || p.res.DB == nil {
		p.raise(L, sandbox.ErrNoBackend)
	}
	return p.res.DB
}

func (p *pluginState) storage(L *lua.LState) *sandbox.Storage {
	if p.res == nil || p.res.Storage == nil {
		p.raise(L, sandbox.ErrNoBackend)
	}
	return p.res.Storage
}

// prepare builds a statement from the sql at index 1 and binds the rest
func (p *pluginState) prepare(L *lua.LState) store.Statement {
	db := p.database(L)
	stmt, err := db.Prepare(L.CheckString(1))
	if err != nil {
		p.raise(L, err)
	}
	if L.GetTop() < 2 {
		return stmt
	}

	args := make([]any, 0, L.GetTop()-1)
	for i := 2; i <= L.GetTop(); i++ {
		args = append(args, toGoValue(L.Get(i)))
	}
	bound, err := stmt.Bind(args...)
	if err != nil {
		p.raise(L, err)
	}
	return bound
}

func (p *pluginState) dbQuery(L *lua.LState) int {
	defer p.settle(p.level)
	result, err := p.prepare(L).All(L.Context())
	if err != nil {
		p.raise(L, err)
	}
	rows := L.NewTable()
	for i, row := range result.Results {
		rows.RawSetInt(i+1, toLuaValue(L, map[string]any(row)))
	}
	L.Push(rows)
	return 1
}

func (p *pluginState) dbFirst(L *lua.LState) int {
	defer p.settle(p.level)
	row, err := p.prepare(L).First(L.Context())
	if err != nil {
		p.raise(L, err)
	}
	if row == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(toLuaValue(L, map[string]any(row)))
	return 1
}

func (p *pluginState) dbRun(L *lua.LState) int {
	defer p.settle(p.level)
	result, err := p.prepare(L).Run(L.Context())
	if err != nil {
		p.raise(L, err)
	}
	meta := L.NewTable()
	meta.RawSetString("changes", lua.LNumber(result.Meta.Changes))
	meta.RawSetString("last_row_id", lua.LNumber(result.Meta.LastRowID))
	meta.RawSetString("rows_read", lua.LNumber(result.Meta.RowsRead))
	L.Push(meta)
	return 1
}

func (p *pluginState) dbExec(L *lua.LState) int {
	defer p.settle(p.level)
	db := p.database(L)
	result, err := db.Exec(L.Context(), L.CheckString(1))
	if err != nil {
		p.raise(L, err)
	}
	L.Push(lua.LNumber(result.Count))
	return 1
}

func objectInfoTable(L *lua.LState, info *objectstore.ObjectInfo) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("key", lua.LString(info.Key))
	t.RawSetString("size", lua.LNumber(info.Size))
	t.RawSetString("etag", lua.LString(info.ETag))
	t.RawSetString("uploaded", lua.LString(info.Uploaded.UTC().Format("2006-01-02T15:04:05Z")))
	if info.ContentType != "" {
		t.RawSetString("content_type", lua.LString(info.ContentType))
	}
	if len(info.CustomMetadata) > 0 {
		t.RawSetString("metadata", toLuaValue(L, info.CustomMetadata))
	}
	return t
}

func (p *pluginState) storageGet(L *lua.LState) int {
	obj, err := p.storage(L).Get(L.Context(), L.CheckString(1))
	if err != nil {
		p.raise(L, err)
	}
	if obj == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(obj.Body))
	L.Push(objectInfoTable(L, &obj.ObjectInfo))
	return 2
}

func (p *pluginState) storageHead(L *lua.LState) int {
	info, err := p.storage(L).Head(L.Context(), L.CheckString(1))
	if err != nil {
		p.raise(L, err)
	}
	if info == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(objectInfoTable(L, info))
	return 1
}

func (p *pluginState) storageList(L *lua.LState) int {
	result, err := p.storage(L).List(L.Context(), &objectstore.ListOptions{
		Prefix: L.OptString(1, ""),
		Limit:  L.OptInt(2, 0),
	})
	if err != nil {
		p.raise(L, err)
	}
	keys := L.NewTable()
	for i, obj := range result.Objects {
		keys.RawSetInt(i+1, lua.LString(obj.Key))
	}
	L.Push(keys)
	return 1
}

func (p *pluginState) storagePut(L *lua.LState) int {
	defer p.settle(p.level)
	key := L.CheckString(1)
	body := L.CheckString(2)
	var opts *objectstore.PutOptions
	if ct := L.OptString(3, ""); ct != "" {
		opts = &objectstore.PutOptions{ContentType: ct}
	}

	info, err := p.storage(L).Put(L.Context(), key, []byte(body), opts)
	if err != nil {
		p.raise(L, err)
	}
	L.Push(objectInfoTable(L, info))
	return 1
}

func (p *pluginState) storageDelete(L *lua.LState) int {
	keys := make([]string, 0, L.GetTop())
	for i := 1; i <= L.GetTop(); i++ {
		keys = append(keys, L.CheckString(i))
	}
	if err := p.storage(L).Delete(L.Context(), keys...); err != nil {
		p.raise(L, err)
	}
	return 0
}
