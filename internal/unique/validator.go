// Package unique enforces uniqueness groups over candidate documents, both
// inside a batch and against persisted records.
package unique

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/goccy/go-json"

	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/internal/tenancy"
	"github.com/heartmarshall/tenantkit/pkg/ids"
)

// Global in a context list disables tenant scoping for the check.
const Global = "global"

// ParseGroups splits a declaration such as "name code&parent" into groups.
// Composite groups join their fields with "&".
func ParseGroups(decl string) [][]string {
	var out [][]string
	for _, g := range strings.Fields(decl) {
		var fields []string
		for _, f := range strings.Split(g, "&") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
		if len(fields) > 0 {
			out = append(out, fields)
		}
	}
	return out
}

// Input describes one check.
type Input struct {
	Schema *domain.Schema
	// ExcludeIDs are the records being updated, if any.
	ExcludeIDs []string
	Docs       []domain.Document
	Groups    [][]string
	// Context lists fields that narrow the check. Their values are taken
	// from the first document.
	Context []string
}

type candidate struct {
	index  int
	group  int
	values domain.Document
	key    string
}

// Validator checks uniqueness against a store.
type Validator struct {
	store docstore.Store
	log   *slog.Logger
}

// NewValidator creates a Validator reading from store.
func NewValidator(log *slog.Logger, store docstore.Store) *Validator {
	return &Validator{store: store, log: log.With("component", "unique")}
}

// Check returns a *domain.DuplicateError for the first violated group.
func (v *Validator) Check(ctx context.Context, in Input) error {
	if len(in.Groups) == 0 || len(in.Docs) == 0 {
		return nil
	}

	var all []candidate
	for gi, group := range in.Groups {
		seen := make(map[string]candidate)
		for di, d := range in.Docs {
			c, ok := extract(d, group)
			if !ok {
				continue
			}
			c.index, c.group = di, gi
			if first, dup := seen[c.key]; dup {
				return &domain.DuplicateError{
					Group:       group,
					Records:     []domain.Document{in.Docs[first.index], d},
					Conflicting: batchConflicts(in.Docs, group),
				}
			}
			seen[c.key] = c
			all = append(all, c)
		}
	}
	if len(all) == 0 {
		return nil
	}

	cond := v.condition(in, all)
	if cond == nil {
		return nil
	}
	readCtx := ctx
	if containsGlobal(in.Context) {
		readCtx = tenancy.Unscoped(ctx)
	}
	found, err := v.store.Find(readCtx, in.Schema.Collection, docstore.Query{Conditions: cond})
	if err != nil {
		return fmt.Errorf("unique check %s: %w", in.Schema.Collection, err)
	}
	if len(found) == 0 {
		return nil
	}

	var group []string
	conflicting := make(map[int]bool)
	for _, c := range all {
		for _, rec := range found {
			if matchesValues(rec, c.values) {
				if group == nil {
					group = in.Groups[c.group]
				}
				conflicting[c.index] = true
				break
			}
		}
	}
	if group == nil {
		group = in.Groups[0]
	}
	idx := make([]int, 0, len(conflicting))
	for i := range in.Docs {
		if conflicting[i] {
			idx = append(idx, i)
		}
	}
	v.log.DebugContext(ctx, "unique conflict",
		slog.String("collection", in.Schema.Collection),
		slog.String("group", strings.Join(group, "&")),
		slog.Int("records", len(found)),
	)
	return &domain.DuplicateError{Group: group, Records: found, Conflicting: idx}
}

func (v *Validator) condition(in Input, all []candidate) domain.Conditions {
	or := make([]any, 0, len(all))
	for _, c := range all {
		or = append(or, map[string]any(c.values.Clone()))
	}
	cond := domain.Conditions{"$or": or}
	switch len(in.ExcludeIDs) {
	case 0:
	case 1:
		cond[domain.FieldID] = map[string]any{"$ne": in.ExcludeIDs[0]}
	default:
		nin := make([]any, len(in.ExcludeIDs))
		for i, id := range in.ExcludeIDs {
			nin[i] = id
		}
		cond[domain.FieldID] = map[string]any{"$nin": nin}
	}
	first := in.Docs[0]
	for _, k := range in.Context {
		if k == Global {
			continue
		}
		if val, ok := first[k]; ok {
			cond[k] = ids.TryID(val)
		}
	}
	if in.Schema.SoftDeletes() {
		cond[domain.FieldInactive] = map[string]any{"$ne": true}
	}
	return cond
}

// extract returns the truthy group values of d, resolving references to
// their ids. Documents carrying none of the group fields are skipped.
func extract(d domain.Document, group []string) (candidate, bool) {
	values := domain.Document{}
	for _, f := range group {
		if val, ok := d[f]; ok && truthy(val) {
			values[f] = ids.TryID(val)
		}
	}
	if len(values) == 0 {
		return candidate{}, false
	}
	key, err := json.Marshal(values)
	if err != nil {
		return candidate{}, false
	}
	return candidate{values: values, key: string(key)}, true
}

// batchConflicts lists every later occurrence of a repeated tuple.
func batchConflicts(docs []domain.Document, group []string) []int {
	seen := make(map[string]bool)
	var out []int
	for i, d := range docs {
		c, ok := extract(d, group)
		if !ok {
			continue
		}
		if seen[c.key] {
			out = append(out, i)
			continue
		}
		seen[c.key] = true
	}
	return out
}

func matchesValues(rec domain.Document, values domain.Document) bool {
	for k, want := range values {
		got := ids.TryID(rec[k])
		if docstore.Equal(got, want) {
			continue
		}
		if !ids.IsValid(got) || !ids.IsValid(want) || !ids.Equal(got, want, true) {
			return false
		}
	}
	return true
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	}
	if f, ok := docstore.ToFloat(v); ok {
		return f != 0
	}
	return true
}

func containsGlobal(keys []string) bool {
	for _, k := range keys {
		if k == Global {
			return true
		}
	}
	return false
}
