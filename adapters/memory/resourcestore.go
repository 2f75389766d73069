// Package memory provides in-memory implementations for testing.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/xwp/wp-customize-rest-resources/domain/resource"
	"github.com/xwp/wp-customize-rest-resources/ports"
)

// ResourceStore is an in-memory implementation of ports.ResourceStore.
type ResourceStore struct {
	mu        sync.RWMutex
	resources map[string]map[int64]resource.Resource // by type, then id
}

// NewResourceStore creates a new in-memory resource store.
func NewResourceStore() *ResourceStore {
	return &ResourceStore{
		resources: make(map[string]map[int64]resource.Resource),
	}
}

// Get retrieves one resource.
func (s *ResourceStore) Get(ctx context.Context, typ string, id int64) (resource.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resources[typ][id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	return r.Clone(), nil
}

// List returns all resources of a type ordered by id.
func (s *ResourceStore) List(ctx context.Context, typ string) ([]resource.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := s.resources[typ]
	ids := make([]int64, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	result := make([]resource.Resource, 0, len(ids))
	for _, id := range ids {
		result = append(result, byID[id].Clone())
	}
	return result, nil
}

// Put creates or replaces a resource.
func (s *ResourceStore) Put(ctx context.Context, typ string, id int64, r resource.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resources[typ] == nil {
		s.resources[typ] = make(map[int64]resource.Resource)
	}
	s.resources[typ][id] = r.WithoutEmbedded()
	return nil
}

// Count returns the number of resources of a type.
func (s *ResourceStore) Count(ctx context.Context, typ string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.resources[typ]), nil
}

var _ ports.ResourceStore = (*ResourceStore)(nil)
