package unique

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/tenantkit/internal/adapter/memory"
	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
	"github.com/heartmarshall/tenantkit/internal/tenancy"
	"github.com/heartmarshall/tenantkit/pkg/ctxutil"
	"github.com/heartmarshall/tenantkit/pkg/ids"
)

type countingStore struct {
	*memory.Store
	finds    atomic.Int32
	lastCond domain.Conditions
}

func (c *countingStore) Find(ctx context.Context, coll string, q docstore.Query) ([]domain.Document, error) {
	c.finds.Add(1)
	c.lastCond = q.Conditions
	return c.Store.Find(ctx, coll, q)
}

var listSchema = domain.NewBaseSchema("todo", "lists",
	domain.Field{Name: "name", Type: domain.FieldString},
	domain.Field{Name: "code", Type: domain.FieldString},
	domain.Field{Name: "parent", Type: domain.FieldRef, Ref: "lists"},
	domain.Field{Name: domain.FieldInactive, Type: domain.FieldBool},
)

func newTestValidator(t *testing.T, seed ...domain.Document) (*Validator, *countingStore) {
	t.Helper()
	st := &countingStore{Store: memory.New()}
	if len(seed) > 0 {
		require.NoError(t, st.Insert(context.Background(), "lists", seed...))
	}
	return NewValidator(slog.New(slog.NewTextHandler(io.Discard, nil)), st), st
}

func TestParseGroups(t *testing.T) {
	t.Parallel()

	assert.Equal(t, [][]string{{"name"}, {"code", "parent"}}, ParseGroups("name  code&parent"))
	assert.Nil(t, ParseGroups("  "))
}

func TestCheck_IntraBatchDuplicateSkipsStore(t *testing.T) {
	t.Parallel()
	v, st := newTestValidator(t)
	parent := ids.New()

	err := v.Check(context.Background(), Input{
		Schema: listSchema,
		Groups: ParseGroups("code&parent"),
		Docs: []domain.Document{
			{"code": "a", "parent": parent},
			{"code": "b", "parent": parent},
			{"code": "a", "parent": map[string]any{"_id": parent, "name": "p"}},
		},
	})

	var dup *domain.DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, []string{"code", "parent"}, dup.Group)
	assert.Equal(t, []int{2}, dup.Conflicting)
	assert.Zero(t, st.finds.Load(), "batch duplicates need no round trip")
}

func TestCheck_PersistedConflict(t *testing.T) {
	t.Parallel()
	existing := ids.New()
	v, _ := newTestValidator(t, domain.Document{"_id": existing, "name": "Groceries"})

	err := v.Check(context.Background(), Input{
		Schema: listSchema,
		Groups: ParseGroups("name"),
		Docs:   []domain.Document{{"name": "Work"}, {"name": "Groceries"}},
	})

	var dup *domain.DuplicateError
	require.True(t, errors.As(err, &dup))
	require.Len(t, dup.Records, 1)
	assert.Equal(t, existing, dup.Records[0].ID())
	assert.Equal(t, []int{1}, dup.Conflicting)
	assert.ErrorIs(t, err, domain.ErrDuplicateUniqueFields)
}

func TestCheck_ExcludesOwnID(t *testing.T) {
	t.Parallel()
	existing := ids.New()
	v, _ := newTestValidator(t, domain.Document{"_id": existing, "name": "Groceries"})

	err := v.Check(context.Background(), Input{
		Schema:     listSchema,
		ExcludeIDs: []string{existing},
		Groups:     ParseGroups("name"),
		Docs:       []domain.Document{{"name": "Groceries"}},
	})
	assert.NoError(t, err)
}

func TestCheck_ExcludesEveryTargetID(t *testing.T) {
	t.Parallel()
	a, b := ids.New(), ids.New()
	v, st := newTestValidator(t,
		domain.Document{"_id": a, "name": "Groceries"},
		domain.Document{"_id": b, "name": "Work"},
	)

	in := Input{
		Schema:     listSchema,
		ExcludeIDs: []string{a, b},
		Groups:     ParseGroups("name"),
		Docs:       []domain.Document{{"name": "Groceries"}},
	}
	require.NoError(t, v.Check(context.Background(), in))
	assert.Equal(t, map[string]any{"$nin": []any{a, b}}, st.lastCond["_id"])

	in.ExcludeIDs = []string{b}
	assert.ErrorIs(t, v.Check(context.Background(), in), domain.ErrDuplicateUniqueFields)
}

func TestCheck_IgnoresInactiveAndEmpty(t *testing.T) {
	t.Parallel()
	v, st := newTestValidator(t, domain.Document{"_id": ids.New(), "name": "Old", "inactive": true})

	err := v.Check(context.Background(), Input{
		Schema: listSchema,
		Groups: ParseGroups("name"),
		Docs:   []domain.Document{{"name": "Old"}},
	})
	require.NoError(t, err)

	err = v.Check(context.Background(), Input{
		Schema: listSchema,
		Groups: ParseGroups("name"),
		Docs:   []domain.Document{{"name": ""}, {"code": "x"}},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.finds.Load(), "nothing to look up for empty values")
}

func TestCheck_ContextNarrowsQuery(t *testing.T) {
	t.Parallel()
	p1, p2 := ids.New(), ids.New()
	v, st := newTestValidator(t, domain.Document{"_id": ids.New(), "name": "Inbox", "parent": p1})

	err := v.Check(context.Background(), Input{
		Schema:  listSchema,
		Groups:  ParseGroups("name"),
		Context: []string{"parent"},
		Docs:    []domain.Document{{"name": "Inbox", "parent": map[string]any{"_id": p2}}},
	})
	require.NoError(t, err)
	assert.Equal(t, p2, st.lastCond["parent"])
}

type schemaMap map[string]*domain.Schema

func (m schemaMap) Schema(c string) (*domain.Schema, bool) {
	s, ok := m[c]
	return s, ok
}

func TestCheck_GlobalContextCrossesTenants(t *testing.T) {
	t.Parallel()
	tags := domain.NewTenantSchema("todo", "tags",
		domain.Field{Name: "label", Type: domain.FieldString},
		domain.Field{Name: domain.FieldInactive, Type: domain.FieldBool},
	)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	guard := tenancy.NewGuard(log, memory.New(), schemaMap{"tags": tags})
	v := NewValidator(log, guard)

	tenantCtx := func() context.Context {
		return ctxutil.WithRequest(context.Background(), ctxutil.Request{TenantID: ids.New(), ActorID: ids.New()})
	}
	mine, theirs := tenantCtx(), tenantCtx()
	require.NoError(t, guard.Insert(mine, "tags", domain.Document{"_id": ids.New(), "label": "errand"}))

	in := Input{
		Schema: tags,
		Groups: ParseGroups("label"),
		Docs:   []domain.Document{{"label": "errand"}},
	}
	require.NoError(t, v.Check(theirs, in), "other tenants' records are invisible")

	in.Context = []string{Global}
	err := v.Check(theirs, in)
	require.ErrorIs(t, err, domain.ErrDuplicateUniqueFields)

	var dup *domain.DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, []string{"label"}, dup.Group)
	assert.Equal(t, []int{0}, dup.Conflicting)
}
