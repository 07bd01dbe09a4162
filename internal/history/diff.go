// Package history records field-level change sets on save and enriches
// them for display.
package history

import (
	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/pkg/ids"
)

// Collection stores change records.
const Collection = "histories"

// skipped fields are bookkeeping and never audited.
var skipped = map[string]bool{
	"last_updated":           true,
	domain.FieldDateUpdated:  true,
	domain.FieldDateCreated:  true,
	domain.FieldHistory:      true,
	domain.FieldModifiedBy:   true,
	domain.FieldUpdatedBy:    true,
	domain.FieldAppName:      true,
	domain.FieldOrganization: true,
}

// Schema describes the change record collection.
func Schema() *domain.Schema {
	return domain.NewSchema("shared", Collection,
		domain.Field{Name: domain.FieldID, Type: domain.FieldString},
		domain.Field{Name: domain.FieldOrganization, Type: domain.FieldRef, Ref: "shared.organizations"},
		domain.Field{Name: "user", Type: domain.FieldRef, Ref: "shared.users"},
		domain.Field{Name: "entity", Type: domain.FieldObject},
		domain.Field{Name: "changes", Type: domain.FieldObject, Array: true},
		domain.Field{Name: domain.FieldDateCreated, Type: domain.FieldDate},
	)
}

// Diff lists the audited changes of e since it was loaded, in schema field
// order. New entities diff against an empty snapshot.
func Diff(s *domain.Schema, e *domain.Entity) []domain.Change {
	modified := make(map[string]bool)
	for _, k := range e.Modified() {
		modified[k] = true
	}

	var out []domain.Change
	for _, f := range s.Fields {
		if !modified[f.Name] || skipped[f.Name] || f.Name == domain.FieldID {
			continue
		}
		from, _ := e.Original(f.Name)
		to := e.Get(f.Name)
		if f.Type == domain.FieldRef {
			from, to = ids.Flatten(from), ids.Flatten(to)
		} else {
			from, to = ids.StripIDs(from), ids.StripIDs(to)
		}
		if same(from, to) {
			continue
		}
		out = append(out, domain.Change{Key: f.Name, From: from, To: to})
	}
	return out
}

func same(a, b any) bool {
	if docstore.Equal(a, b) {
		return true
	}
	if isEmpty(a) && isEmpty(b) {
		return true
	}
	return idShaped(a) && idShaped(b) && ids.Equal(a, b, true)
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	if arr, ok := domain.AsSlice(v); ok {
		return len(arr) == 0
	}
	return false
}

func idShaped(v any) bool {
	if arr, ok := domain.AsSlice(v); ok {
		if len(arr) == 0 {
			return false
		}
		for _, x := range arr {
			if !ids.IsIDLike(x) {
				return false
			}
		}
		return true
	}
	return ids.IsIDLike(v)
}

func toDocument(rec *domain.ChangeRecord) domain.Document {
	changes := make([]any, len(rec.Changes))
	for i, c := range rec.Changes {
		m := map[string]any{"key": c.Key}
		if c.From != nil {
			m["from"] = c.From
		}
		if c.To != nil {
			m["to"] = c.To
		}
		changes[i] = m
	}
	return domain.Document{
		domain.FieldID:           rec.ID,
		domain.FieldOrganization: rec.Organization,
		"user":                   rec.User,
		"entity":                 map[string]any{"collection": rec.Entity.Collection, "id": rec.Entity.ID},
		"changes":                changes,
		domain.FieldDateCreated:  rec.Date,
	}
}

func fromDocument(d domain.Document) domain.ChangeRecord {
	rec := domain.ChangeRecord{ID: d.ID()}
	rec.Organization, _ = d[domain.FieldOrganization].(string)
	rec.User = ids.Of(d["user"])
	if ent, ok := domain.AsMap(d["entity"]); ok {
		rec.Entity.Collection, _ = ent["collection"].(string)
		rec.Entity.ID = ids.Of(ent["id"])
	}
	if t, ok := docstore.ToTime(d[domain.FieldDateCreated]); ok {
		rec.Date = t
	}
	changes, _ := domain.AsSlice(d["changes"])
	for _, raw := range changes {
		m, ok := domain.AsMap(raw)
		if !ok {
			continue
		}
		c := domain.Change{From: m["from"], To: m["to"]}
		c.Key, _ = m["key"].(string)
		rec.Changes = append(rec.Changes, c)
	}
	return rec
}
