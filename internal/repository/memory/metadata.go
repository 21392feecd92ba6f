// Package memory holds knowledge product metadata in process memory.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/kailas-cloud/kpdex/internal/domain"
	domdoc "github.com/kailas-cloud/kpdex/internal/domain/document"
	"github.com/kailas-cloud/kpdex/internal/domain/search/predicate"
)

// Store is an in-memory metadata store, safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	docs map[string]domdoc.Document
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{docs: make(map[string]domdoc.Document)}
}

// Put creates or replaces a document.
func (s *Store) Put(_ context.Context, doc domdoc.Document) error {
	s.mu.Lock()
	s.docs[doc.ID()] = doc
	s.mu.Unlock()
	return nil
}

// PutMany creates or replaces documents.
func (s *Store) PutMany(_ context.Context, docs []domdoc.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range docs {
		s.docs[docs[i].ID()] = docs[i]
	}
	return nil
}

// Get returns a document by ID.
func (s *Store) Get(_ context.Context, id string) (domdoc.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return domdoc.Document{}, domain.NewOpError("metadata.get", id, domain.ErrNotFound)
	}
	return d, nil
}

// GetMany returns the documents that exist among ids.
func (s *Store) GetMany(_ context.Context, ids []string) (map[string]domdoc.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domdoc.Document, len(ids))
	for _, id := range ids {
		if d, ok := s.docs[id]; ok {
			out[id] = d
		}
	}
	return out, nil
}

// Match returns every document satisfying p, sorted by ID.
func (s *Store) Match(ctx context.Context, p predicate.Predicate) ([]domdoc.Document, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	slices.Sort(ids)

	out := make([]domdoc.Document, 0)
	for i, id := range ids {
		if i%1024 == 0 {
			if err := domain.FromContext(ctx); err != nil {
				return nil, err
			}
		}
		s.mu.RLock()
		d, ok := s.docs[id]
		s.mu.RUnlock()
		if ok && p.Match(&d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Delete removes a document. Deleting an absent document is a no-op.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.docs, id)
	s.mu.Unlock()
	return nil
}

// Count returns the number of stored documents.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}
