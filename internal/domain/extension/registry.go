package extension

import (
	"fmt"
	"sync"

	"github.com/collab/admin/internal/domain/directory"
	"github.com/collab/admin/internal/domain/shared"
)

// Registry holds the extensions in registration order. That order is the
// invocation order of every chain.
type Registry struct {
	mu      sync.RWMutex
	handles []Handle
	index   map[string]int
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]int),
	}
}

// Register appends a handle to the chain
func (r *Registry) Register(h Handle) error {
	if h.Extension == nil {
		return fmt.Errorf("%w: extension cannot be nil", shared.ErrInvalidInput)
	}
	if h.Name == "" {
		return fmt.Errorf("%w: extension name cannot be empty", shared.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[h.Name]; exists {
		return fmt.Errorf("%w: extension '%s' already registered", shared.ErrAlreadyExists, h.Name)
	}

	r.index[h.Name] = len(r.handles)
	r.handles = append(r.handles, h)
	return nil
}

// Get returns a handle by name
func (r *Registry) Get(name string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, exists := r.index[name]
	if !exists {
		return Handle{}, false
	}
	return r.handles[i], true
}

// Handlers returns a snapshot of the handles supporting kind, in registration order
func (r *Registry) Handlers(kind directory.Kind) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handle, 0, len(r.handles))
	for _, h := range r.handles {
		if h.Extension.Supports(kind) {
			out = append(out, h)
		}
	}
	return out
}

// Names returns the registered names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.handles))
	for i, h := range r.handles {
		names[i] = h.Name
	}
	return names
}

// Unregister removes a handle (useful for testing)
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, exists := r.index[name]
	if !exists {
		return fmt.Errorf("%w: extension '%s' not found", shared.ErrNotFound, name)
	}

	r.handles = append(r.handles[:i:i], r.handles[i+1:]...)
	delete(r.index, name)
	for j := i; j < len(r.handles); j++ {
		r.index[r.handles[j].Name] = j
	}
	return nil
}

// Count returns the number of registered extensions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
