package history

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

// Recorder builds and stores change records. Saving the entity and
// storing its record are two writes: the entity update carries the record
// id in the same statement, and the record is written right after. When
// the second write fails the id is pulled back out.
type Recorder struct {
	store docstore.Store
	log   *slog.Logger
	now   func() time.Time
}

// NewRecorder creates a Recorder persisting into store.
func NewRecorder(log *slog.Logger, store docstore.Store) *Recorder {
	return &Recorder{store: store, log: log.With("component", "history"), now: time.Now}
}

// Prepare returns the record for saving e, or nil when nothing is audited:
// the schema keeps no history, no audited field changed, or the change has
// no known actor and tenant.
func (r *Recorder) Prepare(ctx context.Context, s *domain.Schema, e *domain.Entity) *domain.ChangeRecord {
	if !s.Historized() {
		return nil
	}
	changes := Diff(s, e)
	if len(changes) == 0 {
		return nil
	}
	actor, hasActor := ctxutil.ActorIDFromCtx(ctx)
	tenant, hasTenant := ctxutil.TenantIDFromCtx(ctx)
	if !hasActor || !hasTenant {
		r.log.DebugContext(ctx, "change without actor not recorded",
			slog.String("collection", s.Collection),
			slog.String("id", e.ID()),
		)
		return nil
	}
	return &domain.ChangeRecord{
		ID:           ids.New(),
		Organization: tenant,
		User:         actor,
		Entity:       domain.EntityRef{Collection: s.Collection, ID: e.ID()},
		Changes:      changes,
		Date:         r.now().UTC(),
	}
}

// Persist stores rec.
func (r *Recorder) Persist(ctx context.Context, rec *domain.ChangeRecord) error {
	if err := r.store.Insert(ctx, Collection, toDocument(rec)); err != nil {
		return fmt.Errorf("persist change record: %w", err)
	}
	return nil
}

// Retract removes a record id from the entity history after a failed
// Persist.
func (r *Recorder) Retract(ctx context.Context, s *domain.Schema, entityID, recordID string) error {
	_, err := r.store.Update(ctx, s.Collection,
		domain.Conditions{domain.FieldID: entityID},
		docstore.Update{Pull: map[string][]any{domain.FieldHistory: {recordID}}},
		docstore.UpdateOptions{},
	)
	if err != nil {
		return fmt.Errorf("retract change record: %w", err)
	}
	return nil
}
