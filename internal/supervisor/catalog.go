package supervisor

import "sync"

// ProcessType describes how to launch one kind of tool.
type ProcessType struct {
	Name    string
	Command string
	Args    []string
	WorkDir string
	Env     []string

	// Autostart is how many instances a host launches at startup.
	Autostart int
}

// Launch returns the launch parameters for this type.
func (p ProcessType) Launch() LaunchSpec {
	return LaunchSpec{
		Command: p.Command,
		Args:    append([]string(nil), p.Args...),
		WorkDir: p.WorkDir,
		Env:     append([]string(nil), p.Env...),
	}
}

// Catalog is the set of known process types. It can be replaced at runtime
// when configuration is reloaded; running instances are unaffected.
type Catalog struct {
	mu    sync.RWMutex
	types map[string]ProcessType
	order []string
}

// NewCatalog creates a catalog. Later duplicates of a name replace earlier ones.
func NewCatalog(types []ProcessType) *Catalog {
	c := &Catalog{}
	c.Replace(types)
	return c
}

// Replace swaps the catalog contents.
func (c *Catalog) Replace(types []ProcessType) {
	m := make(map[string]ProcessType, len(types))
	order := make([]string, 0, len(types))
	for _, t := range types {
		if _, seen := m[t.Name]; !seen {
			order = append(order, t.Name)
		}
		m[t.Name] = t
	}

	c.mu.Lock()
	c.types = m
	c.order = order
	c.mu.Unlock()
}

// Lookup returns the named type.
func (c *Catalog) Lookup(name string) (ProcessType, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[name]
	return t, ok
}

// Names returns type names in declaration order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Types returns all types in declaration order.
func (c *Catalog) Types() []ProcessType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ProcessType, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.types[name])
	}
	return out
}

