package domain

import (
	"reflect"
	"sort"

	"github.com/goccy/go-json"
)

// Entity is a live, schema-typed record. It keeps a private deep copy of the
// values as loaded so saves can compute what changed.
type Entity struct {
	schema   *Schema
	doc      Document
	original Document
	isNew    bool
}

// NewEntity wraps a document that has not been persisted yet.
func NewEntity(s *Schema, doc Document) *Entity {
	if doc == nil {
		doc = Document{}
	}
	return &Entity{schema: s, doc: doc, original: Document{}, isNew: true}
}

// LoadEntity wraps a persisted document and snapshots its values.
func LoadEntity(s *Schema, doc Document) *Entity {
	if doc == nil {
		doc = Document{}
	}
	return &Entity{schema: s, doc: doc, original: doc.Clone()}
}

// Schema returns the entity schema.
func (e *Entity) Schema() *Schema { return e.schema }

// ID returns the entity id.
func (e *Entity) ID() string { return e.doc.ID() }

// IsNew reports whether the entity has never been saved.
func (e *Entity) IsNew() bool { return e.isNew }

// Get returns the current value of key.
func (e *Entity) Get(key string) any { return e.doc[key] }

// Set assigns key. A nil value removes the key.
func (e *Entity) Set(key string, v any) {
	if v == nil {
		delete(e.doc, key)
		return
	}
	e.doc[key] = v
}

// Original returns the value of key as loaded.
func (e *Entity) Original(key string) (any, bool) {
	v, ok := e.original[key]
	return v, ok
}

// Document returns the live document. Callers must not retain it across saves.
func (e *Entity) Document() Document { return e.doc }

// Modified lists the keys whose value differs from the snapshot, sorted.
// A new entity reports every key.
func (e *Entity) Modified() []string {
	var keys []string
	for k, v := range e.doc {
		if e.isNew {
			keys = append(keys, k)
			continue
		}
		if o, ok := e.original[k]; !ok || !reflect.DeepEqual(o, v) {
			keys = append(keys, k)
		}
	}
	if !e.isNew {
		for k := range e.original {
			if _, ok := e.doc[k]; !ok {
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// IsModified reports whether key changed since load.
func (e *Entity) IsModified(key string) bool {
	if e.isNew {
		_, ok := e.doc[key]
		return ok
	}
	o, had := e.original[key]
	v, has := e.doc[key]
	return had != has || !reflect.DeepEqual(o, v)
}

// MarkSaved resnapshots the entity after a successful write.
func (e *Entity) MarkSaved() {
	e.isNew = false
	e.original = e.doc.Clone()
}

// MarshalJSON encodes the current document.
func (e *Entity) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.doc)
}
