// Package registry holds the schemas and services of every app. Services
// find each other through it for populate, cascading removal and history
// reference resolution.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/internal/history"
	"github.com/heartmarshall/tenantkit/internal/service/crud"
)

// SharedApp is the fallback namespace for services used by every app.
const SharedApp = "shared"

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	schemas  map[string]*domain.Schema
	services map[string]*crud.Service
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		schemas:  make(map[string]*domain.Schema),
		services: make(map[string]*crud.Service),
	}
}

func key(app, collection string) string { return app + "." + collection }

// AddSchema registers s. Collection names are unique across apps.
func (r *Registry) AddSchema(s *domain.Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.schemas[s.Collection]; ok && existing != s {
		return fmt.Errorf("schema %s (app %s): %w", s.Collection, existing.App, domain.ErrAlreadyExists)
	}
	r.schemas[s.Collection] = s
	return nil
}

// AddService registers svc and its schema.
func (r *Registry) AddService(svc *crud.Service) error {
	s := svc.Schema()
	if err := r.AddSchema(s); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(s.App, s.Collection)
	if _, ok := r.services[k]; ok {
		return fmt.Errorf("service %s: %w", k, domain.ErrAlreadyExists)
	}
	r.services[k] = svc
	return nil
}

// Schema returns the schema of collection.
func (r *Registry) Schema(collection string) (*domain.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[collection]
	return s, ok
}

// Service returns the service of collection in app, falling back to the
// shared app.
func (r *Registry) Service(app, collection string) (*crud.Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if svc, ok := r.services[key(app, collection)]; ok {
		return svc, true
	}
	svc, ok := r.services[key(SharedApp, collection)]
	return svc, ok
}

// Finder implements history.Lookup.
func (r *Registry) Finder(app, collection string) (history.Finder, bool) {
	svc, ok := r.Service(app, collection)
	if !ok {
		return nil, false
	}
	return svc, true
}

// Services lists the registered services ordered by app and collection.
func (r *Registry) Services() []*crud.Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.services))
	for k := range r.services {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*crud.Service, len(keys))
	for i, k := range keys {
		out[i] = r.services[k]
	}
	return out
}
