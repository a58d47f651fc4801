package collection

import (
	"fmt"
	"sort"

	"github.com/starford/raido/internal/apperr"
)

// Registry resolves collection ids to stores. It is built once at startup
// from configuration and read-only afterwards.
type Registry struct {
	stores map[string]*Store
}

// NewRegistry builds a registry over the given stores.
func NewRegistry(stores ...*Store) *Registry {
	r := &Registry{stores: make(map[string]*Store, len(stores))}
	for _, s := range stores {
		r.stores[s.ID()] = s
	}
	return r
}

// Get returns the store for a collection id.
func (r *Registry) Get(id string) (*Store, error) {
	s, ok := r.stores[id]
	if !ok {
		return nil, fmt.Errorf("collection %q: %w", id, apperr.ErrNotFound)
	}
	return s, nil
}

// IDs returns all registered collection ids in stable order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.stores))
	for id := range r.stores {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
