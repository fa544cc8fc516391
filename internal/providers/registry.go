package providers

import (
	"sync"
)

// Registry manages all available adapters
type Registry struct {
	adapters map[string]Adapter
	mu       sync.RWMutex
}

// NewRegistry creates a new adapter registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter to the registry
func (r *Registry) Register(id string, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[id] = adapter
}

// Get retrieves an adapter by ID, or nil if not registered
func (r *Registry) Get(id string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adapters[id]
}

// Has checks if an adapter is registered
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.adapters[id]
	return exists
}

// List returns all registered adapter IDs
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	return ids
}

// GetAll returns a copy of the adapter map
func (r *Registry) GetAll() map[string]Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapters := make(map[string]Adapter, len(r.adapters))
	for k, v := range r.adapters {
		adapters[k] = v
	}
	return adapters
}

// Unregister removes an adapter from the registry
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.adapters, id)
}
