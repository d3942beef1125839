package scene

import (
	"container/list"
	"sync"
)

// DefaultRegistryCapacity bounds the number of retained scenes.
const DefaultRegistryCapacity = 16

// Registry retains scenes that carry an id. Re-submitting an id replaces the
// stored scene; when full the least recently used scene is evicted.
type Registry struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[string]*list.Element
}

type registryEntry struct {
	scene *Scene
}

// NewRegistry returns a registry holding at most capacity scenes. A
// non-positive capacity selects DefaultRegistryCapacity.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultRegistryCapacity
	}
	return &Registry{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Put stores s under its id and marks it most recently used. It reports the
// id of an evicted scene, if any, and whether an existing scene was replaced.
// Scenes without id are not stored.
func (r *Registry) Put(s *Scene) (evicted string, replaced bool) {
	if s == nil || s.ID == "" {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if el, ok := r.items[s.ID]; ok {
		e := el.Value.(*registryEntry)
		e.scene = s
		r.order.MoveToFront(el)
		return "", true
	}

	r.items[s.ID] = r.order.PushFront(&registryEntry{scene: s})

	if r.order.Len() > r.capacity {
		last := r.order.Back()
		e := last.Value.(*registryEntry)
		r.order.Remove(last)
		delete(r.items, e.scene.ID)
		evicted = e.scene.ID
	}
	return evicted, false
}

// Len returns the number of retained scenes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}

// Clear drops every stored scene.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order.Init()
	r.items = make(map[string]*list.Element)
}
