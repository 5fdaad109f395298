package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory DocumentStore for tests and local runs. It
// honors the same version compare-and-swap contract as PostgresStore.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*MetaData
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]*MetaData)}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) collection(name string) map[string]*MetaData {
	docs, ok := s.collections[name]
	if !ok {
		docs = make(map[string]*MetaData)
		s.collections[name] = docs
	}
	return docs
}

func (s *MemoryStore) FindByID(ctx context.Context, collection, id string) (*MetaData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.DeepCopy(), nil
}

func (s *MemoryStore) Save(ctx context.Context, collection string, doc *MetaData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.Version == 0 {
		doc.Version = 1
	}
	s.collection(collection)[doc.ID] = doc.DeepCopy()
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, collection string, doc *MetaData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.collections[collection][doc.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != doc.Version {
		return ErrOptimisticLock
	}
	doc.Version++
	s.collections[collection][doc.ID] = doc.DeepCopy()
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[collection][id]; !ok {
		return ErrNotFound
	}
	delete(s.collections[collection], id)
	return nil
}

func (s *MemoryStore) Find(ctx context.Context, collection string, query Query) ([]*MetaData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]*MetaData, 0)
	for _, doc := range s.collections[collection] {
		if matches(doc, query) {
			items = append(items, doc.DeepCopy())
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *MemoryStore) Count(ctx context.Context, collection string, query Query) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, doc := range s.collections[collection] {
		if matches(doc, query) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Exists(ctx context.Context, collection string, query Query) (bool, error) {
	count, err := s.Count(ctx, collection, query)
	return count > 0, err
}

func (s *MemoryStore) FindAllAndRemove(ctx context.Context, collection string, query Query) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, doc := range s.collections[collection] {
		if matches(doc, query) {
			delete(s.collections[collection], id)
			removed++
		}
	}
	return removed, nil
}
