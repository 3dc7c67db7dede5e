package dispatcher

import (
	"slices"
	"sync"
)

// Registry tracks the store ids a pool is working on. Each Pool owns one.
type Registry struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{ids: make(map[int64]struct{})}
}

// Add records id and reports false if it was already present.
func (r *Registry) Add(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; ok {
		return false
	}
	r.ids[id] = struct{}{}
	return true
}

// Remove forgets id.
func (r *Registry) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, id)
}

// Len returns the number of active ids.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

// Snapshot returns the active ids in ascending order.
func (r *Registry) Snapshot() []int64 {
	r.mu.Lock()
	out := make([]int64, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	r.mu.Unlock()
	slices.Sort(out)
	return out
}
