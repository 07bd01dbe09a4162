package crud

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
)

// Remove deletes the records matching cond after the dependency checks.
// Collections without an inactive flag are deleted outright. Flagged
// collections are soft deleted, in bulk when they have no unique fields,
// otherwise one entity at a time with their unique values suffixed so the
// originals can be reused. A dry run reads instead of writing.
func (s *Service) Remove(ctx context.Context, cond domain.Conditions, opts RemoveOptions) (*RemoveResult, error) {
	if len(cond) == 0 {
		return nil, &domain.PolicyError{Collection: s.schema.Collection, Reason: "remove without conditions"}
	}
	matches, err := s.store.Find(ctx, s.schema.Collection, docstore.Query{Conditions: cond.Clone()})
	if err != nil {
		return nil, fmt.Errorf("remove %s: %w", s.schema.Collection, err)
	}

	active := matches
	if s.schema.SoftDeletes() {
		active = make([]domain.Document, 0, len(matches))
		for _, d := range matches {
			if d[domain.FieldInactive] != true {
				active = append(active, d)
			}
		}
		if len(matches) > 0 && len(active) == 0 && len(s.cfg.UniqueFields) > 0 {
			return nil, fmt.Errorf("remove %s: %w", s.schema.Collection, domain.ErrItemNonRemoveable)
		}
	}
	res := &RemoveResult{}
	if len(active) == 0 {
		return res, nil
	}

	idList := make([]any, len(active))
	for i, d := range active {
		idList[i] = d.ID()
	}
	cascade, err := s.checkDependencies(ctx, idList, opts.Confirmed)
	if err != nil {
		return nil, err
	}
	if len(cascade) > 0 {
		res.Cascaded = make(map[string][]domain.Document, len(cascade))
		for _, c := range cascade {
			res.Cascaded[c.dep.Name] = c.records
		}
	}

	if opts.DryRun {
		res.Records = active
		return res, nil
	}

	for _, c := range cascade {
		if err := s.cascade(ctx, c, opts); err != nil {
			return nil, err
		}
	}

	byID := domain.Conditions{domain.FieldID: map[string]any{"$in": idList}}
	switch {
	case !s.schema.SoftDeletes():
		res.Removed, err = s.store.Remove(ctx, s.schema.Collection, byID)
	case len(s.cfg.UniqueFields) == 0:
		byID[domain.FieldInactive] = map[string]any{"$ne": true}
		res.Removed, err = s.store.Update(ctx, s.schema.Collection, byID,
			docstore.Update{Set: domain.Document{domain.FieldInactive: true}},
			docstore.UpdateOptions{Multi: true})
	default:
		res.Removed, err = s.retire(ctx, active)
	}
	s.invalidate(ctx)
	if err != nil {
		return nil, fmt.Errorf("remove %s: %w", s.schema.Collection, err)
	}

	s.log.InfoContext(ctx, "records removed", slog.Int64("count", res.Removed))
	return res, nil
}

// retire soft deletes each entity, freeing its unique values.
func (s *Service) retire(ctx context.Context, docs []domain.Document) (int64, error) {
	suffix := fmt.Sprintf("_deleted_%d", s.now().UnixMilli())
	fields := map[string]bool{}
	for _, g := range s.cfg.UniqueFields {
		for _, f := range g {
			fields[f] = true
		}
	}

	var n int64
	for _, d := range docs {
		e := s.model.Hydrate(d)
		e.Set(domain.FieldInactive, true)
		for f := range fields {
			if v, ok := e.Get(f).(string); ok && v != "" {
				e.Set(f, v+suffix)
			}
		}
		if err := s.model.Save(ctx, e); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

type dependents struct {
	dep     Dependency
	records []domain.Document
}

// checkDependencies fails on existing preventing dependents and, unless
// confirmed, on existing confirmable ones. It returns the cascading
// dependents.
func (s *Service) checkDependencies(ctx context.Context, idList []any, confirmed bool) ([]dependents, error) {
	var (
		prevent  = map[string][]domain.Document{}
		confirm  = map[string][]domain.Document{}
		cascades []dependents
	)
	for _, dep := range s.cfg.Dependencies {
		cond := domain.Conditions{dep.Field: map[string]any{"$in": idList}}
		if ts, ok := s.lookupSchema(dep.Collection); ok && ts.SoftDeletes() {
			cond[domain.FieldInactive] = map[string]any{"$ne": true}
		}
		found, err := s.store.Find(ctx, dep.Collection, docstore.Query{Conditions: cond})
		if err != nil {
			return nil, fmt.Errorf("check dependency %s: %w", dep.Name, err)
		}
		if len(found) == 0 {
			continue
		}
		switch dep.Kind {
		case Prevent:
			prevent[dep.Name] = found
		case Confirm:
			confirm[dep.Name] = found
		case Cascade:
			cascades = append(cascades, dependents{dep: dep, records: found})
		}
	}

	if len(prevent) > 0 {
		return nil, &domain.DependencyError{Dependencies: prevent}
	}
	if len(confirm) > 0 && !confirmed {
		return nil, &domain.DependencyError{Confirmable: true, Dependencies: confirm}
	}
	return cascades, nil
}

func (s *Service) lookupSchema(collection string) (*domain.Schema, bool) {
	if s.schemas == nil {
		return nil, false
	}
	return s.schemas.Schema(collection)
}

// cascade removes dependents through their own service when one is
// registered, so that its removal policy applies.
func (s *Service) cascade(ctx context.Context, c dependents, opts RemoveOptions) error {
	idList := make([]any, len(c.records))
	for i, d := range c.records {
		idList[i] = d.ID()
	}
	cond := domain.Conditions{domain.FieldID: map[string]any{"$in": idList}}

	app := c.dep.App
	if app == "" {
		app = s.schema.App
	}
	if s.services != nil {
		if svc, ok := s.services.Service(app, c.dep.Collection); ok {
			if _, err := svc.Remove(ctx, cond, RemoveOptions{Confirmed: opts.Confirmed}); err != nil {
				return fmt.Errorf("cascade %s: %w", c.dep.Name, err)
			}
			return nil
		}
	}
	if _, err := s.store.Remove(ctx, c.dep.Collection, cond); err != nil {
		return fmt.Errorf("cascade %s: %w", c.dep.Name, err)
	}
	return nil
}
