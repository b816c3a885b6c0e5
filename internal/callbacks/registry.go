// Package callbacks keeps ordered sets of registered callbacks. Registration
// returns an unregister func, so observers never hold a reference back into the
// producer after they let go.
package callbacks

import (
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry holds callbacks of type F in registration order. Safe for concurrent use.
type Registry[F any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries *orderedmap.OrderedMap[uint64, F]
}

// New creates an empty registry.
func New[F any]() *Registry[F] {
	return &Registry[F]{entries: orderedmap.New[uint64, F]()}
}

// Add registers fn and returns a func that removes it. The returned func is
// idempotent.
func (r *Registry[F]) Add(fn F) (unregister func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.entries.Set(id, fn)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.entries.Delete(id)
			r.mu.Unlock()
		})
	}
}

// Snapshot returns the registered callbacks, oldest first. Callers invoke the
// snapshot outside the registry lock so a callback may unregister itself.
func (r *Registry[F]) Snapshot() []F {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]F, 0, r.entries.Len())
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Len returns the number of registered callbacks.
func (r *Registry[F]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.Len()
}

// Clear removes every callback.
func (r *Registry[F]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = orderedmap.New[uint64, F]()
}
