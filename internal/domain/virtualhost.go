package domain

import (
	"sort"
	"sync/atomic"
)

// HostEntry holds the set of contexts registered on one (alias, path) pair.
// Iteration order is registration order, which the elector relies on for
// deterministic tie-breaking.
type HostEntry struct {
	path     string
	contexts []*Context
}

// Path returns the context path this entry is registered under
func (e *HostEntry) Path() string {
	return e.path
}

// Contexts returns the candidate contexts in registration order
func (e *HostEntry) Contexts() []*Context {
	return e.contexts
}

// ContextForNode returns the context belonging to the given jvmRoute, or nil
func (e *HostEntry) ContextForNode(jvmRoute string) *Context {
	for _, c := range e.contexts {
		if c.Node().JVMRoute() == jvmRoute {
			return c
		}
	}
	return nil
}

// VirtualHost maps context paths to candidate contexts for one host alias.
// Mutations run under the container lock and publish a rebuilt matcher; the
// routing path reads the current matcher atomically and never blocks.
type VirtualHost struct {
	matcher atomic.Value // *hostPathMatcher
}

type hostPathMatcher struct {
	entries map[string]*HostEntry
	lengths []int // distinct registered path lengths, longest first
}

// NewVirtualHost creates an empty virtual host
func NewVirtualHost() *VirtualHost {
	v := &VirtualHost{}
	v.matcher.Store(&hostPathMatcher{entries: map[string]*HostEntry{}})
	return v
}

func (v *VirtualHost) load() *hostPathMatcher {
	return v.matcher.Load().(*hostPathMatcher)
}

// RegisterContext adds a context under the given path. Duplicate
// registrations of the same context are ignored.
func (v *VirtualHost) RegisterContext(path string, context *Context) {
	old := v.load()
	entries := make(map[string]*HostEntry, len(old.entries)+1)
	for k, e := range old.entries {
		entries[k] = e
	}
	var base []*Context
	if existing := entries[path]; existing != nil {
		for _, c := range existing.contexts {
			if c == context {
				return
			}
		}
		base = existing.contexts
	}
	entries[path] = &HostEntry{path: path, contexts: append(append([]*Context(nil), base...), context)}
	v.matcher.Store(rebuild(entries))
}

// RemoveContext withdraws a context from the given path. When the last
// context leaves an entry, the entry itself is removed.
func (v *VirtualHost) RemoveContext(path string, context *Context) {
	old := v.load()
	entry := old.entries[path]
	if entry == nil {
		return
	}
	remaining := make([]*Context, 0, len(entry.contexts))
	for _, c := range entry.contexts {
		if c != context {
			remaining = append(remaining, c)
		}
	}
	entries := make(map[string]*HostEntry, len(old.entries))
	for k, e := range old.entries {
		entries[k] = e
	}
	if len(remaining) == 0 {
		delete(entries, path)
	} else {
		entries[path] = &HostEntry{path: path, contexts: remaining}
	}
	v.matcher.Store(rebuild(entries))
}

// IsEmpty reports whether no contexts remain registered
func (v *VirtualHost) IsEmpty() bool {
	return len(v.load().entries) == 0
}

// Paths returns the registered context paths
func (v *VirtualHost) Paths() []string {
	m := v.load()
	paths := make([]string, 0, len(m.entries))
	for p := range m.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Match resolves the request path to the entry with the longest registered
// prefix. A prefix matches on segment boundaries: "/app" matches "/app" and
// "/app/shop" but not "/application".
func (v *VirtualHost) Match(path string) *HostEntry {
	m := v.load()
	if entry, ok := m.entries[path]; ok {
		return entry
	}
	for _, length := range m.lengths {
		if length >= len(path) {
			continue
		}
		prefix := path[:length]
		entry, ok := m.entries[prefix]
		if !ok {
			continue
		}
		if prefix == "/" || path[length] == '/' {
			return entry
		}
	}
	return nil
}

func rebuild(entries map[string]*HostEntry) *hostPathMatcher {
	seen := map[int]bool{}
	lengths := make([]int, 0, len(entries))
	for path := range entries {
		if !seen[len(path)] {
			seen[len(path)] = true
			lengths = append(lengths, len(path))
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(lengths)))
	return &hostPathMatcher{entries: entries, lengths: lengths}
}
