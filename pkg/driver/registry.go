package driver

import (
	"fmt"
	"sort"
	"sync"

	"github.com/newtron-network/extport/pkg/util"
)

// Registry maps driver names to constructors. It is populated explicitly at
// start-up; lookups never fall back to a default driver.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds a constructor under name. Registering a name twice panics,
// as it can only be a wiring mistake.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.ctors[name]; dup {
		panic(fmt.Sprintf("driver: %q registered twice", name))
	}
	r.ctors[name] = ctor
}

// Resolve looks up name. ok is false for unknown names.
func (r *Registry) Resolve(name string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.ctors[name]
	return ctor, ok
}

// Names returns the registered driver names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New resolves name and constructs the driver. An unknown name is a
// configuration error.
func (r *Registry) New(name string, p Params, env Env) (Driver, error) {
	ctor, ok := r.Resolve(name)
	if !ok {
		return nil, util.NewConfigError("unknown driver %q (registered: %v)", name, r.Names())
	}
	return ctor(p, env)
}
