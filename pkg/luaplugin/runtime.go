// Package luaplugin runs plugin entry code in restricted Lua interpreters.
//
// Each loaded plugin owns one interpreter. The only capabilities exposed to
// plugin code are hook registration, logging and the plugin's own sandboxed
// database and storage proxies, all under the global "host" table.
package luaplugin

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/hookhost/pkg/hooks"
	"github.com/harun/hookhost/pkg/sandbox"
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// DefaultLoadTimeout bounds the execution of a plugin's top-level code
const DefaultLoadTimeout = 10 * time.Second

// Registrar accepts callbacks created by plugin code
type Registrar interface {
	RegisterCallback(name, pluginID string, cb hooks.Callback)
}

// Config configures a Runtime
type Config struct {
	Hooks       Registrar
	Resources   func(pluginID string) *sandbox.Resources
	LoadTimeout time.Duration
	Logger      zerolog.Logger
}

// Runtime owns the Lua interpreters of loaded plugins
type Runtime struct {
	hooks       Registrar
	resources   func(pluginID string) *sandbox.Resources
	loadTimeout time.Duration
	logger      zerolog.Logger

	mu     sync.Mutex
	states map[string]*pluginState
}

// NewRuntime creates a runtime with no loaded plugins
func NewRuntime(cfg Config) *Runtime {
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultLoadTimeout
	}
	return &Runtime{
		hooks:       cfg.Hooks,
		resources:   cfg.Resources,
		loadTimeout: cfg.LoadTimeout,
		logger:      cfg.Logger.With().Str("component", "luaplugin").Logger(),
		states:      make(map[string]*pluginState),
	}
}

// Load runs code as pluginID's entry point in a fresh interpreter. Any
// previously loaded interpreter for the plugin is unloaded first. On error
// the new interpreter is discarded, but callbacks it registered before
// failing stay in the catalog as inert entries.
func (r *Runtime) Load(ctx context.Context, pluginID, chunkName string, code []byte) error {
	r.Unload(pluginID)

	p := &pluginState{
		id:      pluginID,
		runtime: r,
		L:       newSandboxedState(),
		logger:  r.logger,
	}
	p.reentry.cond = sync.NewCond(&p.reentry.mu)
	p.installAPI()

	ctx, cancel := context.WithTimeout(ctx, r.loadTimeout)
	defer cancel()

	if err := p.run(ctx, chunkName, string(code)); err != nil {
		p.close()
		return err
	}

	r.mu.Lock()
	r.states[pluginID] = p
	r.mu.Unlock()

	r.logger.Debug().Str("plugin_id", pluginID).Msg("Plugin code loaded")
	return nil
}

// Unload closes the plugin's interpreter. Callbacks it registered become no-ops.
func (r *Runtime) Unload(pluginID string) {
	r.mu.Lock()
	p, exists := r.states[pluginID]
	delete(r.states, pluginID)
	r.mu.Unlock()

	if exists {
		p.close()
		r.logger.Debug().Str("plugin_id", pluginID).Msg("Plugin code unloaded")
	}
}

// Loaded reports whether pluginID has a live interpreter
func (r *Runtime) Loaded(pluginID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.states[pluginID]
	return exists
}

// Close unloads every plugin
func (r *Runtime) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.states))
	for id := range r.states {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Unload(id)
	}
}

func (r *Runtime) resourcesFor(pluginID string) *sandbox.Resources {
	if r.resources == nil {
		return &sandbox.Resources{PluginID: pluginID}
	}
	return r.resources(pluginID)
}

// levelKey marks a context as running inside a given plugin's interpreter.
// The value is the nesting level of that call.
type levelKey struct {
	p *pluginState
}

// pluginState is one plugin's interpreter. LState is not goroutine-safe:
// top-level calls hold mu for their whole duration. A hook fired from inside
// a call (for example by a database write) may call back into the same
// interpreter; such nested calls run while the outer call is parked in Go
// code, and the outer call waits for them before resuming Lua.
type pluginState struct {
	id      string
	runtime *Runtime
	L       *lua.LState
	logger  zerolog.Logger

	mu     sync.Mutex
	closed atomic.Bool

	reentry struct {
		mu     sync.Mutex
		cond   *sync.Cond
		active map[int]int
	}

	// Set for the duration of each call, restored afterwards
	level int
	res   *sandbox.Resources
}

func (p *pluginState) close() {
	p.closed.Store(true)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.L.Close()
}

// enter acquires the interpreter for a call made with ctx and returns the
// call's nesting level
func (p *pluginState) enter(ctx context.Context) (int, bool) {
	parent, nested := ctx.Value(levelKey{p}).(int)
	if !nested {
		p.mu.Lock()
		if p.closed.Load() {
			p.mu.Unlock()
			return 0, false
		}
		return 1, true
	}

	level := parent + 1
	p.reentry.mu.Lock()
	defer p.reentry.mu.Unlock()
	// A caller that gave up on this call has already resumed the interpreter
	if ctx.Err() != nil || p.closed.Load() {
		return 0, false
	}
	if p.reentry.active == nil {
		p.reentry.active = make(map[int]int)
	}
	p.reentry.active[level]++
	return level, true
}

func (p *pluginState) leave(level int) {
	if level == 1 {
		p.mu.Unlock()
		return
	}
	p.reentry.mu.Lock()
	p.reentry.active[level]--
	if p.reentry.active[level] == 0 {
		delete(p.reentry.active, level)
	}
	p.reentry.cond.Broadcast()
	p.reentry.mu.Unlock()
}

// settle blocks until no call nested deeper than level is running. Bridge
// functions that may fire hooks defer it with the level they were called at.
func (p *pluginState) settle(level int) {
	p.reentry.mu.Lock()
	defer p.reentry.mu.Unlock()
	for p.hasNestedBelow(level) {
		p.reentry.cond.Wait()
	}
}

func (p *pluginState) hasNestedBelow(level int) bool {
	for l, n := range p.reentry.active {
		if l > level && n > 0 {
			return true
		}
	}
	return false
}

// bind points the interpreter at ctx and res for one call and returns a
// function restoring the previous binding
func (p *pluginState) bind(ctx context.Context, level int, res *sandbox.Resources) func() {
	prevCtx := p.L.Context()
	prevLevel := p.level
	prevRes := p.res

	p.L.SetContext(context.WithValue(ctx, levelKey{p}, level))
	p.level = level
	p.res = res

	return func() {
		if prevCtx != nil {
			p.L.SetContext(prevCtx)
		} else {
			p.L.RemoveContext()
		}
		p.level = prevLevel
		p.res = prevRes
	}
}

func (p *pluginState) run(ctx context.Context, chunkName, code string) error {
	level, ok := p.enter(ctx)
	if !ok {
		return ErrNotLoaded
	}
	defer p.leave(level)

	restore := p.bind(ctx, level, p.runtime.resourcesFor(p.id))
	defer restore()

	fn, err := p.L.Load(strings.NewReader(code), chunkName)
	if err != nil {
		return newScriptError(p.id, err)
	}
	p.L.Push(fn)
	if err := p.L.PCall(0, 0, nil); err != nil {
		return newScriptError(p.id, err)
	}
	return nil
}

// callback adapts a Lua function to a hook callback. Once the plugin is
// unloaded the callback does nothing and returns nil.
func (p *pluginState) callback(fn *lua.LFunction) hooks.Callback {
	return func(ctx context.Context, value any, res *sandbox.Resources, args ...any) (any, error) {
		if p.closed.Load() {
			return nil, nil
		}
		level, ok := p.enter(ctx)
		if !ok {
			return nil, nil
		}
		defer p.leave(level)

		restore := p.bind(ctx, level, res)
		defer restore()

		top := p.L.GetTop()
		defer p.L.SetTop(top)

		p.L.Push(fn)
		p.L.Push(toLuaValue(p.L, value))
		for _, arg := range args {
			p.L.Push(toLuaValue(p.L, arg))
		}
		if err := p.L.PCall(1+len(args), 1, nil); err != nil {
			return nil, newScriptError(p.id, err)
		}
		return toGoValue(p.L.Get(-1)), nil
	}
}
