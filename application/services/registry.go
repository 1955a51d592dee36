package services

import (
	"sort"
	"sync"

	"github.com/justineapere-tech/KabSulit-main-sub000/pkg/errors"
)

// Registry tracks mounted screens by name.
type Registry struct {
	mu      sync.RWMutex
	screens map[string]*Screen
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{screens: make(map[string]*Screen)}
}

// Register adds a screen. Names are unique.
func (r *Registry) Register(s *Screen) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.screens[s.Name()]; exists {
		return errors.NewValidationError("view " + s.Name() + " is already mounted")
	}
	r.screens[s.Name()] = s
	return nil
}

// Get returns a mounted screen.
func (r *Registry) Get(name string) (*Screen, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.screens[name]
	if !ok {
		return nil, errors.NewNotFoundError("view " + name)
	}
	return s, nil
}

// Remove forgets a screen without unmounting it.
func (r *Registry) Remove(name string) (*Screen, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.screens[name]
	delete(r.screens, name)
	return s, ok
}

// List returns the mounted screens sorted by name.
func (r *Registry) List() []*Screen {
	r.mu.RLock()
	out := make([]*Screen, 0, len(r.screens))
	for _, s := range r.screens {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Len returns the number of mounted screens.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.screens)
}
