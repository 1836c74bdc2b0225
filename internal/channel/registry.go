// Package channel holds the pieces every platform adapter shares: the
// instance registry, outbound validation and publishing, media resolution,
// typing timers and stream tracking.
package channel

import (
	"sort"
	"sync"
)

// Registry maps instance ids to per-instance records. All mutation of the
// instance set goes through it.
type Registry[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T)}
}

func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[id]
	return v, ok
}

// GetOrCreate returns the record for id, creating it with create when
// absent. created reports which happened.
func (r *Registry[T]) GetOrCreate(id string, create func() T) (v T, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.items[id]; ok {
		return v, false
	}
	v = create()
	r.items[id] = v
	return v, true
}

func (r *Registry[T]) Delete(id string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.items[id]
	delete(r.items, id)
	return v, ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry[T]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Values returns a snapshot of the records.
func (r *Registry[T]) Values() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.items))
	for _, v := range r.items {
		out = append(out, v)
	}
	return out
}

func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
