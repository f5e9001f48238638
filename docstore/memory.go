package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps documents in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]Document)}
}

func (s *MemoryStore) Create(_ context.Context, collection string, doc Document) (string, error) {
	stored, err := cloneDocument(doc)
	if err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}
	if stored == nil {
		stored = Document{}
	}
	id := uuid.NewString()
	stored["id"] = id

	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[collection]
	if !ok {
		col = make(map[string]Document)
		s.collections[collection] = col
	}
	col[id] = stored
	return id, nil
}

func (s *MemoryStore) GetByID(_ context.Context, collection, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, nil
	}
	return cloneDocument(doc)
}

func (s *MemoryStore) QueryByField(ctx context.Context, collection, field string, value any) ([]Document, error) {
	return s.QueryByFields(ctx, collection, []Condition{{Field: field, Value: value}})
}

func (s *MemoryStore) QueryByFields(_ context.Context, collection string, conditions []Condition) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.collections[collection]))
	for id := range s.collections[collection] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Document
	for _, id := range ids {
		doc := s.collections[collection][id]
		ok, err := matches(doc, conditions)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		c, err := cloneDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, collection, id string, partial Document) error {
	patch, err := cloneDocument(partial)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.collections[collection][id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		doc[k] = v
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections[collection], id)
	return nil
}
