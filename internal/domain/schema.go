package domain

import "strings"

// FieldType is the declared type of a schema field.
type FieldType int

const (
	FieldMixed FieldType = iota
	FieldString
	FieldNumber
	FieldBool
	FieldDate
	FieldRef
	FieldObject
)

// Well-known field names.
const (
	FieldID           = "_id"
	FieldInactive     = "inactive"
	FieldOrganization = "organization"
	FieldAppName      = "app_name"
	FieldModifiedBy   = "modified_by"
	FieldUpdatedBy    = "updated_by"
	FieldDateCreated  = "date_created"
	FieldDateUpdated  = "date_updated"
	FieldHistory      = "history"
	FieldParentID     = "parentId"
)

// Field declares one property of a collection.
type Field struct {
	Name string
	Type FieldType
	// Ref names the referenced collection for FieldRef, either "collection"
	// (same app) or "app.collection".
	Ref      string
	Array    bool
	Enum     []string
	Text     bool
	Required bool
	Default  any
}

// RefTarget splits Ref into app and collection. app is empty when the
// reference stays inside the owning app.
func (f Field) RefTarget() (app, collection string) {
	if i := strings.IndexByte(f.Ref, '.'); i >= 0 {
		return f.Ref[:i], f.Ref[i+1:]
	}
	return "", f.Ref
}

// AllowsEnum reports whether v is an allowed enum value. Fields without an
// enum allow everything.
func (f Field) AllowsEnum(v string) bool {
	if len(f.Enum) == 0 {
		return true
	}
	for _, e := range f.Enum {
		if e == v {
			return true
		}
	}
	return false
}

// Schema describes a collection owned by an app.
type Schema struct {
	App        string
	Collection string
	Fields     []Field

	index map[string]int
}

// NewSchema creates a schema with exactly the given fields.
func NewSchema(app, collection string, fields ...Field) *Schema {
	s := &Schema{App: app, Collection: collection, Fields: fields, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		s.index[f.Name] = i
	}
	return s
}

// NewBaseSchema adds the audit bookkeeping fields to fields.
func NewBaseSchema(app, collection string, fields ...Field) *Schema {
	return NewSchema(app, collection, append(fields, BaseFields()...)...)
}

// NewTenantSchema adds the audit fields and the tenant partition fields.
func NewTenantSchema(app, collection string, fields ...Field) *Schema {
	all := append(fields, BaseFields()...)
	return NewSchema(app, collection, append(all, TenantFields()...)...)
}

// BaseFields are shared by every persisted entity.
func BaseFields() []Field {
	return []Field{
		{Name: FieldUpdatedBy, Type: FieldRef, Ref: "shared.users"},
		{Name: FieldDateCreated, Type: FieldDate},
		{Name: FieldDateUpdated, Type: FieldDate},
	}
}

// TenantFields partition an entity by organization.
func TenantFields() []Field {
	return []Field{
		{Name: FieldOrganization, Type: FieldRef, Ref: "shared.organizations"},
		{Name: FieldAppName, Type: FieldString},
		{Name: FieldModifiedBy, Type: FieldRef, Ref: "shared.users"},
	}
}

// Field looks up a declared field by name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// Has reports whether the field is declared.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Tenanted reports whether the collection is partitioned by organization.
func (s *Schema) Tenanted() bool { return s.Has(FieldOrganization) }

// SoftDeletes reports whether removal flips the inactive flag.
func (s *Schema) SoftDeletes() bool { return s.Has(FieldInactive) }

// Historized reports whether saves are recorded in the change history.
func (s *Schema) Historized() bool { return s.Has(FieldHistory) }

// NestedSet reports whether entities form a parent/child hierarchy.
func (s *Schema) NestedSet() bool { return s.Has(FieldParentID) }
