package crud

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/internal/unique"
	"github.com/heartmarshall/tenantkit/pkg/ids"
)

// UpdateTarget selects what Update changes: one loaded entity, saved with
// change history, or every record matching a filter, written with a plain
// field assignment.
type UpdateTarget struct {
	entity *domain.Entity
	filter domain.Conditions
}

// ByEntity targets a loaded entity.
func ByEntity(e *domain.Entity) UpdateTarget { return UpdateTarget{entity: e} }

// ByFilter targets the records matching cond. A cond holding a single
// valid _id is narrowed to that id.
func ByFilter(cond domain.Conditions) UpdateTarget { return UpdateTarget{filter: cond} }

func (t UpdateTarget) id() string {
	if t.entity != nil {
		return t.entity.ID()
	}
	if id := ids.Of(t.filter[domain.FieldID]); ids.IsValid(id) {
		return id
	}
	return ""
}

// Update applies changes, restricted to the updatable fields, after a
// uniqueness check that excludes the target records.
func (s *Service) Update(ctx context.Context, target UpdateTarget, changes domain.Document) (*UpdateResult, error) {
	if target.entity == nil && len(target.filter) == 0 {
		return nil, &domain.PolicyError{Collection: s.schema.Collection, Reason: "update without conditions"}
	}
	in := s.strip(changes, s.cfg.UpdateFields)
	if err := s.validate(in, false); err != nil {
		return nil, err
	}

	id := target.id()
	exclude, err := s.targetIDs(ctx, target, id)
	if err != nil {
		return nil, err
	}
	if err := s.unique.Check(ctx, unique.Input{
		Schema:     s.schema,
		ExcludeIDs: exclude,
		Docs:       []domain.Document{s.uniqueCandidate(target, in)},
		Groups:     s.cfg.UniqueFields,
		Context:    s.cfg.UniqueContext,
	}); err != nil {
		return nil, err
	}

	if target.entity != nil {
		if err := s.saveChanges(ctx, target.entity, in); err != nil {
			return nil, err
		}
		return &UpdateResult{Entity: target.entity, Matched: 1}, nil
	}

	if len(in) == 0 {
		return &UpdateResult{}, nil
	}
	cond := target.filter.Clone()
	if id != "" {
		cond = domain.Conditions{domain.FieldID: id}
	}
	n, err := s.store.Update(ctx, s.schema.Collection, cond, docstore.Update{Set: in}, docstore.UpdateOptions{Multi: true})
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", s.schema.Collection, err)
	}
	s.invalidate(ctx)
	s.log.InfoContext(ctx, "records updated", slog.Int64("matched", n))
	return &UpdateResult{Matched: n}, nil
}

// targetIDs lists the records the uniqueness check must not count against
// the update. Filters other than a single id are resolved to the ids they
// match.
func (s *Service) targetIDs(ctx context.Context, target UpdateTarget, id string) ([]string, error) {
	if id != "" {
		return []string{id}, nil
	}
	if target.entity != nil || len(s.cfg.UniqueFields) == 0 {
		return nil, nil
	}
	matched, err := s.store.Distinct(ctx, s.schema.Collection, domain.FieldID, target.filter)
	if err != nil {
		return nil, fmt.Errorf("update %s: resolve targets: %w", s.schema.Collection, err)
	}
	out := make([]string, 0, len(matched))
	for _, m := range matched {
		if mid := ids.Of(m); mid != "" {
			out = append(out, mid)
		}
	}
	return out, nil
}

// uniqueCandidate is the changed values plus, for entity updates, the
// entity's values of the context fields the changes leave alone.
func (s *Service) uniqueCandidate(target UpdateTarget, in domain.Document) domain.Document {
	if target.entity == nil {
		return in
	}
	c := in.Clone()
	for _, k := range s.cfg.UniqueContext {
		if _, ok := c[k]; !ok {
			if v := target.entity.Get(k); v != nil {
				c[k] = v
			}
		}
	}
	return c
}

// saveChanges assigns the values that differ from e and saves it.
func (s *Service) saveChanges(ctx context.Context, e *domain.Entity, changes domain.Document) error {
	for k, v := range changes {
		cur := e.Get(k)
		if docstore.Equal(cur, v) || (ids.IsValid(cur) && ids.IsValid(v) && ids.Equal(cur, v, false)) {
			continue
		}
		e.Set(k, v)
	}
	if len(e.Modified()) == 0 {
		return nil
	}
	if err := s.model.Save(ctx, e); err != nil {
		return fmt.Errorf("update %s %s: %w", s.schema.Collection, e.ID(), err)
	}
	s.invalidate(ctx)
	s.log.InfoContext(ctx, "record updated", slog.String("id", e.ID()))
	return nil
}

// PushToSet adds the ids missing from the foreign-key collection key of e
// and saves it.
func (s *Service) PushToSet(ctx context.Context, e *domain.Entity, key string, add ...any) (*domain.Entity, error) {
	cur := setOf(e.Get(key))
	next := append([]any{}, cur...)
	for _, id := range ids.OfAll(add) {
		if id != "" && !ids.Contains(next, id) {
			next = append(next, id)
		}
	}
	if err := s.saveChanges(ctx, e, domain.Document{key: next}); err != nil {
		return nil, err
	}
	return e, nil
}

// PullFromSet removes the given ids from the foreign-key collection key of
// e and saves it.
func (s *Service) PullFromSet(ctx context.Context, e *domain.Entity, key string, remove ...any) (*domain.Entity, error) {
	next := setOf(e.Get(key))
	for _, id := range ids.OfAll(remove) {
		next = ids.Filter(next, id)
	}
	if err := s.saveChanges(ctx, e, domain.Document{key: next}); err != nil {
		return nil, err
	}
	return e, nil
}

func setOf(v any) []any {
	all := ids.OfAll(v)
	out := make([]any, 0, len(all))
	for _, id := range all {
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
