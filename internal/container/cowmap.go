package container

import (
	"sync"
	"sync/atomic"
)

// cowMap is a copy-on-write map. Readers load an immutable snapshot without
// locking; writers copy, mutate and publish a new backing map. Mutation is
// orders of magnitude rarer than lookup in this container, so the O(n) write
// cost buys zero-cost reads on the routing path.
type cowMap[K comparable, V comparable] struct {
	mu sync.Mutex
	v  atomic.Value // map[K]V
}

func newCowMap[K comparable, V comparable]() *cowMap[K, V] {
	m := &cowMap[K, V]{}
	m.v.Store(map[K]V{})
	return m
}

// snapshot returns the current backing map. Callers must not mutate it.
func (m *cowMap[K, V]) snapshot() map[K]V {
	return m.v.Load().(map[K]V)
}

func (m *cowMap[K, V]) get(key K) (V, bool) {
	value, ok := m.snapshot()[key]
	return value, ok
}

func (m *cowMap[K, V]) put(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.snapshot()
	next := make(map[K]V, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[key] = value
	m.v.Store(next)
}

func (m *cowMap[K, V]) delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.snapshot()
	if _, ok := old[key]; !ok {
		return
	}
	next := make(map[K]V, len(old))
	for k, v := range old {
		if k != key {
			next[k] = v
		}
	}
	m.v.Store(next)
}

// compareAndDelete removes the key only if it still maps to the given value
func (m *cowMap[K, V]) compareAndDelete(key K, value V) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.snapshot()
	current, ok := old[key]
	if !ok || current != value {
		return false
	}
	next := make(map[K]V, len(old))
	for k, v := range old {
		if k != key {
			next[k] = v
		}
	}
	m.v.Store(next)
	return true
}

func (m *cowMap[K, V]) len() int {
	return len(m.snapshot())
}
