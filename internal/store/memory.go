package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory implementation of Store. Bodies are copied on
// the way in and out so callers never share buffers with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[Collection]map[string]Document
}

// NewMemoryStore returns a new empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[Collection]map[string]Document)}
}

// Get implements Store.Get.
func (s *MemoryStore) Get(_ context.Context, c Collection, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[c][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return copyDoc(d), nil
}

// Find implements Store.Find.
func (s *MemoryStore) Find(_ context.Context, c Collection, scope string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Document, 0, len(s.docs[c]))
	for _, d := range s.docs[c] {
		if scope == "" || d.Scope == scope {
			out = append(out, copyDoc(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Commit implements Store.Commit.
func (s *MemoryStore) Commit(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range b.Deletes {
		delete(s.docs[k.Collection], k.ID)
	}
	for _, d := range b.Puts {
		coll, ok := s.docs[d.Collection]
		if !ok {
			coll = make(map[string]Document)
			s.docs[d.Collection] = coll
		}
		coll[d.ID] = copyDoc(d)
	}
	return nil
}

// Close implements Store.Close.
func (s *MemoryStore) Close() error { return nil }

func copyDoc(d Document) Document {
	d.Body = bytes.Clone(d.Body)
	return d
}
