package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	idA = "5f1d7f0c2a3b4c5d6e7f8091"
	idB = "5f1d7f0c2a3b4c5d6e7f8092"
)

type entityStub struct{ id string }

func (e entityStub) ID() string { return e.id }

func TestOf(t *testing.T) {
	t.Parallel()

	oid, _ := primitive.ObjectIDFromHex(idA)
	type namedMap map[string]any

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"raw string", idA, idA},
		{"object id", oid, idA},
		{"object id pointer", &oid, idA},
		{"zero object id", primitive.ObjectID{}, ""},
		{"sub-document", map[string]any{"_id": idA, "name": "x"}, idA},
		{"id key", map[string]any{"id": idB}, idB},
		{"named map", namedMap{"_id": oid}, idA},
		{"entity", entityStub{id: idB}, idB},
		{"nil", nil, ""},
		{"number", 42, ""},
		{"map without id", map[string]any{"name": "x"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Of(tt.in))
		})
	}
}

func TestOfAll(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{idA, idB}, OfAll([]any{idA, map[string]any{"_id": idB}}))
	assert.Equal(t, []string{idA}, OfAll(idA))
	assert.Equal(t, []string{idA, idB}, OfAll([]string{idA, idB}))
	assert.Nil(t, OfAll(nil))
}

func TestIsValid(t *testing.T) {
	t.Parallel()

	assert.True(t, IsValid(idA))
	assert.False(t, IsValid("not-an-id"))
	assert.False(t, IsValid(42))
	assert.True(t, IsValid([]any{idA, idB}))
	assert.False(t, IsValid([]any{idA, "nope"}))
	assert.True(t, IsValid([]any{}))
	assert.False(t, IsValid(map[string]any{"_id": idA}))
	assert.True(t, IsIDLike(map[string]any{"_id": idA}))
}

func TestEqual(t *testing.T) {
	t.Parallel()

	assert.True(t, Equal(idA, map[string]any{"_id": idA}, false))
	assert.False(t, Equal(idA, idB, false))
	assert.True(t, Equal([]any{idA, idB}, []any{idA, idB}, false))
	assert.False(t, Equal([]any{idA, idB}, []any{idB, idA}, false))
	assert.True(t, Equal([]any{idA, idB}, []any{idB, idA}, true))
	assert.False(t, Equal([]any{idA}, []any{idA, idB}, true))
	assert.False(t, Equal(idA, []any{idA}, true))
}

func TestContainsAndFilter(t *testing.T) {
	t.Parallel()

	list := []any{idA, map[string]any{"_id": idB}}
	assert.True(t, Contains(list, idB))
	assert.False(t, Contains(list, "other"))
	assert.Equal(t, []any{idA}, Filter(list, idB))
}

func TestFlattenAndStrip(t *testing.T) {
	t.Parallel()

	in := []any{
		map[string]any{"_id": idA, "name": "a"},
		map[string]any{"meta": map[string]any{"_id": idB, "k": 1}},
	}
	assert.Equal(t, []any{idA, map[string]any{"meta": idB}}, Flatten(in))

	stripped := StripIDs(map[string]any{"_id": idA, "items": []any{map[string]any{"_id": idB, "k": 1}}})
	assert.Equal(t, map[string]any{"items": []any{map[string]any{"k": 1}}}, stripped)
}

func TestTryID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, idA, TryID(map[string]any{"_id": idA}))
	assert.Equal(t, "plain", TryID("plain"))
	assert.Equal(t, []any{idA, "x"}, TryID([]any{map[string]any{"_id": idA}, "x"}))
	assert.True(t, IsValid(New()))
}
