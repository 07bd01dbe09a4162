package crud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/internal/query"
	"github.com/heartmarshall/tenantkit/internal/unique"
	"github.com/heartmarshall/tenantkit/pkg/ids"
)

// Create validates doc, saves it as a new entity and returns the entity
// as re-read from the store.
func (s *Service) Create(ctx context.Context, doc domain.Document) (*domain.Entity, error) {
	in := s.strip(doc, s.createWhitelist())
	if err := s.validate(in, true); err != nil {
		return nil, err
	}
	if err := s.unique.Check(ctx, unique.Input{
		Schema:  s.schema,
		Docs:    []domain.Document{in},
		Groups:  s.cfg.UniqueFields,
		Context: s.cfg.UniqueContext,
	}); err != nil {
		return nil, err
	}

	e := s.model.New(in)
	if err := s.model.Save(ctx, e); err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	s.invalidate(ctx)

	s.log.InfoContext(ctx, "record created", slog.String("id", e.ID()))

	item, err := s.FindByID(ctx, e.ID(), query.Spec{Hydrate: true, WithInactive: true})
	if err != nil {
		return nil, fmt.Errorf("create: re-read %s: %w", e.ID(), err)
	}
	return item.Entity, nil
}

// BatchCreate validates and inserts docs in one write. With
// SkipDuplicates the documents violating uniqueness are dropped and
// reported in Skipped. A failed insert removes whatever part of the batch
// was written before the error is returned.
func (s *Service) BatchCreate(ctx context.Context, docs []domain.Document, opts BatchOptions) (*BatchResult, error) {
	res := &BatchResult{}
	if len(docs) == 0 {
		return res, nil
	}

	in := make([]domain.Document, len(docs))
	var errs []domain.FieldError
	for i, d := range docs {
		in[i] = s.strip(d, s.createWhitelist())
		if err := s.validate(in[i], true); err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) {
				for _, fe := range ve.Errors {
					errs = append(errs, domain.FieldError{Field: fmt.Sprintf("%d.%s", i, fe.Field), Message: fe.Message})
				}
			}
		}
	}
	if len(errs) > 0 {
		return nil, domain.NewValidationErrors(errs)
	}

	for {
		err := s.unique.Check(ctx, unique.Input{
			Schema:  s.schema,
			Docs:    in,
			Groups:  s.cfg.UniqueFields,
			Context: s.cfg.UniqueContext,
		})
		if err == nil {
			break
		}
		var dup *domain.DuplicateError
		if !opts.SkipDuplicates || !errors.As(err, &dup) || len(dup.Conflicting) == 0 {
			return nil, err
		}
		in, res.Skipped = without(in, dup.Conflicting, res.Skipped)
		if len(in) == 0 {
			return res, nil
		}
	}

	inserted := make([]any, len(in))
	for i, d := range in {
		if d.ID() == "" {
			d[domain.FieldID] = ids.New()
		}
		inserted[i] = d.ID()
	}

	created, err := s.model.InsertMany(ctx, in)
	if err != nil {
		if _, rmErr := s.store.Remove(ctx, s.schema.Collection, domain.Conditions{
			domain.FieldID: map[string]any{"$in": inserted},
		}); rmErr != nil {
			s.log.ErrorContext(ctx, "batch rollback failed",
				slog.Int("count", len(inserted)),
				slog.String("error", rmErr.Error()),
			)
		}
		s.invalidate(ctx)
		return nil, fmt.Errorf("batch create: %w", err)
	}
	s.invalidate(ctx)

	res.Created = make([]domain.Document, len(created))
	for i, d := range created {
		res.Created[i] = s.model.Coerce(d)
	}
	s.log.InfoContext(ctx, "batch created",
		slog.Int("created", len(res.Created)),
		slog.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}

// without removes the docs at the given indices and appends them to
// dropped.
func without(docs []domain.Document, indices []int, dropped []domain.Document) ([]domain.Document, []domain.Document) {
	drop := make(map[int]bool, len(indices))
	for _, i := range indices {
		drop[i] = true
	}
	kept := make([]domain.Document, 0, len(docs))
	for i, d := range docs {
		if drop[i] {
			dropped = append(dropped, d)
			continue
		}
		kept = append(kept, d)
	}
	return kept, dropped
}
