// Package store provides the in-memory artifact store that compiled units
// are written to and loaded from. Nothing in it touches the filesystem.
package store

import (
	"sort"
	"sync"

	"github.com/compilo-build/compilo/internal/resource"
)

// Store maps resource names to resources.
type Store struct {
	name    string
	entries map[string]resource.Resource
	mu      sync.RWMutex
}

// New creates an empty store. The name is only used in diagnostics.
func New(name string) *Store {
	return &Store{name: name, entries: make(map[string]resource.Resource)}
}

// Put stores r under name, replacing any previous entry.
func (s *Store) Put(name string, r resource.Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[name] = r
}

// Get returns the resource stored under name.
func (s *Store) Get(name string) (resource.Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.entries[name]
	return r, ok
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Names returns the stored names in sorted order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries returns the stored resources sorted by name.
func (s *Store) Entries() []resource.Resource {
	names := s.Names()

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]resource.Resource, 0, len(names))
	for _, name := range names {
		out = append(out, s.entries[name])
	}
	return out
}

// Lookup implements archive.Location.
func (s *Store) Lookup(name string) (resource.Resource, bool, error) {
	r, ok := s.Get(name)
	return r, ok, nil
}

// Outputs adapts the store to resource.Outputs, keying each resource by
// its own name.
func (s *Store) Outputs() resource.Outputs {
	return resource.OutputsFunc(func(r resource.Resource) error {
		s.Put(r.Name(), r)
		return nil
	})
}

func (s *Store) String() string { return "memory:" + s.name }
