package breaker

import (
	"sort"
	"sync"
)

// Registry owns one CircuitBreaker per dependency name. Breakers are created
// on first use and kept for the registry's lifetime. A process builds one
// registry in its composition root and hands it to whatever needs breakers.
type Registry struct {
	mu        sync.Mutex
	defaults  Settings
	overrides map[string]Settings
	breakers  map[string]*CircuitBreaker
	opts      []Option
}

// NewRegistry creates a registry whose breakers use defaults unless
// overridden per name. opts are applied to every breaker it creates.
func NewRegistry(defaults Settings, opts ...Option) *Registry {
	return &Registry{
		defaults:  defaults.normalized(),
		overrides: make(map[string]Settings),
		breakers:  make(map[string]*CircuitBreaker),
		opts:      opts,
	}
}

// Configure sets the settings for a dependency. It only affects breakers
// that have not been created yet.
func (r *Registry) Configure(name string, s Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[name] = s.normalized()
}

// Get returns the breaker for name, creating it if needed.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	s, ok := r.overrides[name]
	if !ok {
		s = r.defaults
	}
	cb := New(name, s, r.opts...)
	r.breakers[name] = cb
	return cb
}

// Lookup returns the breaker for name without creating it.
func (r *Registry) Lookup(name string) (*CircuitBreaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Snapshots returns the state of every breaker created so far, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		list = append(list, cb)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, cb := range list {
		out = append(out, cb.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
