// Package memory implements docstore.Store in process. It is the default
// backend for tests and single-node development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
)

type collection struct {
	order []string
	docs  map[string]domain.Document
}

// Store keeps collections in insertion order. All documents are deep-copied
// on the way in and out.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// New creates an empty store.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{docs: make(map[string]domain.Document)}
		s.collections[name] = c
	}
	return c
}

func (s *Store) scan(name string, cond domain.Conditions) ([]domain.Document, error) {
	m, err := docstore.NewMatcher(cond)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	c, ok := s.collections[name]
	if !ok {
		return nil, nil
	}
	var out []domain.Document
	for _, id := range c.order {
		d := c.docs[id]
		if m.Match(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Find implements docstore.Store.
func (s *Store) Find(_ context.Context, collection string, q docstore.Query) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched, err := s.scan(collection, q.Conditions)
	if err != nil {
		return nil, err
	}
	matched = append([]domain.Document(nil), matched...)
	docstore.SortDocuments(matched, q.Sort)
	matched = docstore.Window(matched, q.Skip, q.Limit)

	out := make([]domain.Document, len(matched))
	for i, d := range matched {
		out[i] = docstore.Project(d.Clone(), q.Fields)
	}
	return out, nil
}

// FindOne implements docstore.Store.
func (s *Store) FindOne(ctx context.Context, collection string, q docstore.Query) (domain.Document, error) {
	q.Limit = 1
	docs, err := s.Find(ctx, collection, q)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%s: %w", collection, domain.ErrNotFound)
	}
	return docs[0], nil
}

// Count implements docstore.Store.
func (s *Store) Count(_ context.Context, collection string, cond domain.Conditions) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched, err := s.scan(collection, cond)
	return int64(len(matched)), err
}

// Distinct implements docstore.Store.
func (s *Store) Distinct(_ context.Context, collection, field string, cond domain.Conditions) ([]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched, err := s.scan(collection, cond)
	if err != nil {
		return nil, err
	}
	vals := docstore.DistinctValues(matched, field)
	for i, v := range vals {
		vals[i] = domain.CloneValue(v)
	}
	return vals, nil
}

// Aggregate implements docstore.Store.
func (s *Store) Aggregate(_ context.Context, collection string, pipeline []docstore.Stage) ([]domain.Document, error) {
	s.mu.RLock()
	var all []domain.Document
	if c, ok := s.collections[collection]; ok {
		all = make([]domain.Document, 0, len(c.order))
		for _, id := range c.order {
			all = append(all, c.docs[id].Clone())
		}
	}
	s.mu.RUnlock()

	out, err := docstore.EvalPipeline(all, pipeline)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", collection, err)
	}
	return out, nil
}

// Insert implements docstore.Store. The batch is all-or-nothing.
func (s *Store) Insert(_ context.Context, collection string, docs ...domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.coll(collection)
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		id := d.ID()
		if id == "" {
			return fmt.Errorf("%s: insert without _id: %w", collection, domain.ErrValidation)
		}
		if _, exists := c.docs[id]; exists || seen[id] {
			return fmt.Errorf("%s %s: %w", collection, id, domain.ErrAlreadyExists)
		}
		seen[id] = true
	}
	for _, d := range docs {
		id := d.ID()
		c.docs[id] = d.Clone()
		c.order = append(c.order, id)
	}
	return nil
}

// Update implements docstore.Store.
func (s *Store) Update(_ context.Context, collection string, cond domain.Conditions, upd docstore.Update, opts docstore.UpdateOptions) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched, err := s.scan(collection, cond)
	if err != nil {
		return 0, err
	}
	if !opts.Multi && len(matched) > 1 {
		matched = matched[:1]
	}
	c := s.coll(collection)
	for _, d := range matched {
		c.docs[d.ID()] = docstore.Apply(d, upd)
	}
	return int64(len(matched)), nil
}

// Remove implements docstore.Store.
func (s *Store) Remove(_ context.Context, collection string, cond domain.Conditions) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched, err := s.scan(collection, cond)
	if err != nil || len(matched) == 0 {
		return 0, err
	}
	c := s.coll(collection)
	drop := make(map[string]bool, len(matched))
	for _, d := range matched {
		drop[d.ID()] = true
		delete(c.docs, d.ID())
	}
	kept := c.order[:0]
	for _, id := range c.order {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	c.order = kept
	return int64(len(matched)), nil
}

// Ping implements the health check contract.
func (s *Store) Ping(context.Context) error { return nil }
