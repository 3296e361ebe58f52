package hooks

import (
	"fmt"
	"sort"
	"sync"
)

type hookEntry struct {
	def           Definition
	registrations []Registration
}

// Catalog is the set of known hooks and their ordered callbacks
type Catalog struct {
	mu    sync.RWMutex
	hooks map[string]*hookEntry
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{hooks: make(map[string]*hookEntry)}
}

// Declare adds a hook with no callbacks
func (c *Catalog) Declare(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("hook name is required")
	}
	if def.Type == "" {
		def.Type = Filter
	}
	if def.Type != Filter && def.Type != Action {
		return fmt.Errorf("invalid hook type %q for %s", def.Type, def.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.hooks[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHook, def.Name)
	}
	c.hooks[def.Name] = &hookEntry{def: def}
	return nil
}

// RegisterCallback appends cb to the hook's callbacks. Unknown hooks are
// created as Filters with no required permission.
func (c *Catalog) RegisterCallback(name, pluginID string, cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.hooks[name]
	if !exists {
		entry = &hookEntry{def: Definition{Name: name, Type: Filter}}
		c.hooks[name] = entry
	}
	entry.registrations = append(entry.registrations, Registration{PluginID: pluginID, Callback: cb})
}

// Callbacks returns a copy of the hook's registrations in order
func (c *Catalog) Callbacks(name string) []Registration {
	_, regs, _ := c.snapshot(name)
	if regs == nil {
		return []Registration{}
	}
	return regs
}

// Lookup returns the hook's definition and callback count
func (c *Catalog) Lookup(name string) (Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.hooks[name]
	if !exists {
		return Info{}, false
	}
	return Info{Definition: entry.def, Callbacks: len(entry.registrations)}, true
}

// Names returns all hook names, sorted
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.hooks))
	for name := range c.hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset drops every callback. Hook definitions are kept.
func (c *Catalog) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.hooks {
		entry.registrations = nil
	}
}

func (c *Catalog) snapshot(name string) (Definition, []Registration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.hooks[name]
	if !exists {
		return Definition{}, nil, false
	}
	regs := make([]Registration, len(entry.registrations))
	copy(regs, entry.registrations)
	return entry.def, regs, true
}
