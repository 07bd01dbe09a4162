// Package model persists schema-typed entities: it assigns ids, defaults
// and audit timestamps, computes updates from entity changes and ties each
// save to its change record.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/pkg/ctxutil"
	"github.com/heartmarshall/tenantkit/pkg/ids"
)

type recorder interface {
	Prepare(ctx context.Context, s *domain.Schema, e *domain.Entity) *domain.ChangeRecord
	Persist(ctx context.Context, rec *domain.ChangeRecord) error
	Retract(ctx context.Context, s *domain.Schema, entityID, recordID string) error
}

// SchemaLookup resolves referenced collections for coercion.
type SchemaLookup interface {
	Schema(collection string) (*domain.Schema, bool)
}

// Deps are the collaborators of a Model. Recorder and Schemas are optional.
type Deps struct {
	Store    docstore.Store
	Recorder recorder
	Schemas  SchemaLookup
	Now      func() time.Time
}

// Model persists entities of one schema.
type Model struct {
	schema   *domain.Schema
	store    docstore.Store
	recorder recorder
	schemas  SchemaLookup
	now      func() time.Time
	log      *slog.Logger
}

// New creates a Model for s.
func New(log *slog.Logger, s *domain.Schema, d Deps) *Model {
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Model{
		schema:   s,
		store:    d.Store,
		recorder: d.Recorder,
		schemas:  d.Schemas,
		now:      d.Now,
		log:      log.With("model", s.Collection),
	}
}

// Schema returns the model schema.
func (m *Model) Schema() *domain.Schema { return m.schema }

// New wraps doc as an unsaved entity with schema defaults applied.
func (m *Model) New(doc domain.Document) *domain.Entity {
	doc = doc.Clone()
	for _, f := range m.schema.Fields {
		if f.Default == nil {
			continue
		}
		if _, ok := doc[f.Name]; !ok {
			doc[f.Name] = domain.CloneValue(f.Default)
		}
	}
	return domain.NewEntity(m.schema, doc)
}

// Hydrate wraps a persisted document as a live entity.
func (m *Model) Hydrate(doc domain.Document) *domain.Entity {
	return domain.LoadEntity(m.schema, m.Coerce(doc))
}

func (m *Model) timestamp() time.Time {
	return m.now().UTC().Truncate(time.Millisecond)
}

func (m *Model) stamp(ctx context.Context, doc domain.Document, now time.Time, created bool) {
	if created {
		if doc.ID() == "" {
			doc[domain.FieldID] = ids.New()
		}
		if m.schema.Has(domain.FieldDateCreated) {
			doc[domain.FieldDateCreated] = now
		}
	}
	if m.schema.Has(domain.FieldDateUpdated) {
		doc[domain.FieldDateUpdated] = now
	}
	if actor, ok := ctxutil.ActorIDFromCtx(ctx); ok && m.schema.Has(domain.FieldUpdatedBy) {
		doc[domain.FieldUpdatedBy] = actor
	}
}

// InsertMany writes docs in one batch without change records and returns
// them as stored.
func (m *Model) InsertMany(ctx context.Context, docs []domain.Document) ([]domain.Document, error) {
	now := m.timestamp()
	out := make([]domain.Document, len(docs))
	for i, d := range docs {
		e := m.New(d)
		m.stamp(ctx, e.Document(), now, true)
		out[i] = e.Document()
	}
	if err := m.store.Insert(ctx, m.schema.Collection, out...); err != nil {
		return nil, fmt.Errorf("insert %s: %w", m.schema.Collection, err)
	}
	return out, nil
}

// Save inserts a new entity or writes the changed fields of a loaded one.
// Saving an unmodified entity is a no-op.
func (m *Model) Save(ctx context.Context, e *domain.Entity) error {
	if e.IsNew() {
		return m.insert(ctx, e)
	}
	return m.update(ctx, e)
}

func (m *Model) insert(ctx context.Context, e *domain.Entity) error {
	doc := e.Document()
	m.stamp(ctx, doc, m.timestamp(), true)

	rec := m.prepare(ctx, e)
	if rec != nil {
		hist, _ := domain.AsSlice(doc[domain.FieldHistory])
		doc[domain.FieldHistory] = append(append([]any{}, hist...), rec.ID)
	}
	if err := m.store.Insert(ctx, m.schema.Collection, doc); err != nil {
		return fmt.Errorf("insert %s: %w", m.schema.Collection, err)
	}
	m.persist(ctx, e.ID(), rec)
	e.MarkSaved()
	return nil
}

func (m *Model) update(ctx context.Context, e *domain.Entity) error {
	modified := e.Modified()
	if len(modified) == 0 {
		return nil
	}
	rec := m.prepare(ctx, e)

	doc := e.Document()
	set := domain.Document{}
	for _, k := range modified {
		if k == domain.FieldID {
			continue
		}
		set[k] = doc[k]
	}
	m.stamp(ctx, set, m.timestamp(), false)

	upd := docstore.Update{Set: set}
	if rec != nil {
		upd.Push = map[string][]any{domain.FieldHistory: {rec.ID}}
	}
	n, err := m.store.Update(ctx, m.schema.Collection, domain.Conditions{domain.FieldID: e.ID()}, upd, docstore.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("update %s %s: %w", m.schema.Collection, e.ID(), err)
	}
	if n == 0 {
		return fmt.Errorf("update %s %s: %w", m.schema.Collection, e.ID(), domain.ErrNotFound)
	}

	for k, v := range set {
		e.Set(k, v)
	}
	if rec != nil {
		hist, _ := domain.AsSlice(doc[domain.FieldHistory])
		e.Set(domain.FieldHistory, append(append([]any{}, hist...), rec.ID))
	}
	m.persist(ctx, e.ID(), rec)
	e.MarkSaved()
	return nil
}

func (m *Model) prepare(ctx context.Context, e *domain.Entity) *domain.ChangeRecord {
	if m.recorder == nil {
		return nil
	}
	return m.recorder.Prepare(ctx, m.schema, e)
}

// persist stores rec after the entity write. Failures never fail the save.
func (m *Model) persist(ctx context.Context, entityID string, rec *domain.ChangeRecord) {
	if rec == nil {
		return
	}
	err := m.recorder.Persist(ctx, rec)
	if err == nil {
		return
	}
	m.log.ErrorContext(ctx, "change record not stored",
		slog.String("id", entityID),
		slog.String("record", rec.ID),
		slog.String("error", err.Error()),
	)
	if err := m.recorder.Retract(ctx, m.schema, entityID, rec.ID); err != nil {
		m.log.ErrorContext(ctx, "change record id not retracted",
			slog.String("id", entityID),
			slog.String("record", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}
