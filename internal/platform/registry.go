package platform

import (
	"sync"

	"puborch/internal/ports"
)

// Registry holds the platform adapters registered at startup. It is guarded
// by its own lock so lookups during dispatch never race with registration.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]ports.PlatformAdapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]ports.PlatformAdapter)}
}

func (r *Registry) Register(a ports.PlatformAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

func (r *Registry) Get(name string) (ports.PlatformAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	return names
}
