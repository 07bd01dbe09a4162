package docstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartmarshall/tenantkit/internal/domain"
)

func mustMatch(t *testing.T, doc domain.Document, cond domain.Conditions) bool {
	t.Helper()
	ok, err := Match(doc, cond)
	require.NoError(t, err)
	return ok
}

// ---------------------------------------------------------------------------
// Match
// ---------------------------------------------------------------------------

func TestMatch_Equality(t *testing.T) {
	t.Parallel()

	doc := domain.Document{"name": "a", "n": int64(3), "tags": []any{"x", "y"}, "meta": map[string]any{"k": "v"}}

	assert.True(t, mustMatch(t, doc, domain.Conditions{"name": "a"}))
	assert.True(t, mustMatch(t, doc, domain.Conditions{"n": 3.0}), "numbers compare across types")
	assert.True(t, mustMatch(t, doc, domain.Conditions{"tags": "y"}), "array contains")
	assert.True(t, mustMatch(t, doc, domain.Conditions{"meta.k": "v"}), "dotted path")
	assert.False(t, mustMatch(t, doc, domain.Conditions{"name": "b"}))
	assert.True(t, mustMatch(t, doc, domain.Conditions{"missing": nil}))
}

func TestMatch_Operators(t *testing.T) {
	t.Parallel()

	at := time.Date(2020, 1, 5, 23, 59, 59, 0, time.UTC)
	doc := domain.Document{"name": "Alpha", "n": 5, "date_x": at}

	tests := []struct {
		name string
		cond domain.Conditions
		want bool
	}{
		{"ne missing", domain.Conditions{"inactive": map[string]any{"$ne": true}}, true},
		{"in", domain.Conditions{"name": map[string]any{"$in": []any{"x", "Alpha"}}}, true},
		{"empty in", domain.Conditions{"_id": map[string]any{"$in": []any{}}}, false},
		{"nin", domain.Conditions{"name": map[string]any{"$nin": []any{"Alpha"}}}, false},
		{"range", domain.Conditions{"n": map[string]any{"$gte": 5, "$lt": 6}}, true},
		{"date upper bound", domain.Conditions{"date_x": map[string]any{"$lt": time.Date(2020, 1, 6, 0, 0, 0, 0, time.UTC)}}, true},
		{"exists", domain.Conditions{"n": map[string]any{"$exists": false}}, false},
		{"regex i", domain.Conditions{"name": map[string]any{"$regex": "^alp", "$options": "i"}}, true},
		{"regex case", domain.Conditions{"name": map[string]any{"$regex": "^alp"}}, false},
		{"not", domain.Conditions{"n": map[string]any{"$not": map[string]any{"$gt": 4}}}, false},
		{"or", domain.Conditions{"$or": []any{map[string]any{"name": "x"}, map[string]any{"n": 5}}}, true},
		{"and", domain.Conditions{"$and": []any{map[string]any{"name": "Alpha"}, map[string]any{"n": 4}}}, false},
		{"text", domain.Conditions{"$text": map[string]any{"$search": "alp zzz"}}, true},
		{"sub-document equality", domain.Conditions{"name": map[string]any{"k": 1}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, mustMatch(t, doc, tt.cond))
		})
	}
}

func TestMatch_UnknownOperator(t *testing.T) {
	t.Parallel()

	_, err := Match(domain.Document{}, domain.Conditions{"n": map[string]any{"$where": "1"}})
	assert.Error(t, err)

	_, err = NewMatcher(domain.Conditions{"$where": "1"})
	assert.Error(t, err)
}

func TestNewMatcher_ReportsEveryProblem(t *testing.T) {
	t.Parallel()

	_, err := NewMatcher(domain.Conditions{
		"a": map[string]any{"$bogus": 1},
		"$and": []any{
			map[string]any{"b": 1},
			map[string]any{"c": map[string]any{"$in": "x"}},
		},
		"$or": []any{
			map[string]any{"d": map[string]any{"$not": map[string]any{"$also": true}}},
		},
	})
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "a: unknown operator $bogus")
	assert.Contains(t, msg, "c: $in expects an array")
	assert.Contains(t, msg, "d: unknown operator $also")

	_, err = NewMatcher(domain.Conditions{"a": map[string]any{"$gte": 1, "$lt": 3}, "b": map[string]any{"$regex": "^x", "$options": "i"}})
	assert.NoError(t, err)
}

// ---------------------------------------------------------------------------
// Apply / Project / Sort
// ---------------------------------------------------------------------------

func TestApply(t *testing.T) {
	t.Parallel()

	doc := domain.Document{"_id": "1", "name": "a", "history": []any{"h1"}, "tags": []any{"x", "y"}}
	out := Apply(doc, Update{
		Set:  domain.Document{"name": "b", "meta.k": 1, "gone": nil},
		Push: map[string][]any{"history": {"h2"}},
		Pull: map[string][]any{"tags": {"x"}},
	})

	assert.Equal(t, "b", out["name"])
	assert.Equal(t, map[string]any{"k": 1}, out["meta"])
	assert.Equal(t, []any{"h1", "h2"}, out["history"])
	assert.Equal(t, []any{"y"}, out["tags"])
	assert.Equal(t, "a", doc["name"], "input must not be mutated")
}

func TestProject(t *testing.T) {
	t.Parallel()

	doc := domain.Document{"_id": "1", "name": "a", "secret": "s", "n": 1}

	assert.Equal(t, domain.Document{"_id": "1", "name": "a"}, Project(doc, []string{"name"}))
	assert.Equal(t, domain.Document{"_id": "1", "name": "a", "n": 1}, Project(doc, []string{"-secret"}))
	assert.Equal(t, doc, Project(doc, nil))
}

func TestSortDocuments_MixedAndMissing(t *testing.T) {
	t.Parallel()

	docs := []domain.Document{
		{"_id": "a", "n": 3},
		{"_id": "b"},
		{"_id": "c", "n": 1.5},
		{"_id": "d", "n": 3, "m": "z"},
	}
	SortDocuments(docs, []SortField{{Key: "n", Desc: true}, {Key: "m"}})

	var got []string
	for _, d := range docs {
		got = append(got, d.ID())
	}
	assert.Equal(t, []string{"a", "d", "c", "b"}, got)
}

func TestWindow(t *testing.T) {
	t.Parallel()

	docs := []domain.Document{{"i": 1}, {"i": 2}, {"i": 3}}
	assert.Len(t, Window(docs, 1, 0), 2)
	assert.Len(t, Window(docs, 0, 2), 2)
	assert.Nil(t, Window(docs, 5, 1))
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

func TestEvalPipeline_GroupAndSort(t *testing.T) {
	t.Parallel()

	docs := []domain.Document{
		{"list": "a", "points": 2},
		{"list": "b", "points": 5},
		{"list": "a", "points": 3},
	}
	out, err := EvalPipeline(docs, []Stage{
		{"$match": map[string]any{"points": map[string]any{"$gt": 1}}},
		{"$group": map[string]any{"_id": "$list", "total": map[string]any{"$sum": "$points"}, "n": map[string]any{"$sum": 1}}},
		{"$sort": []SortField{{Key: "total", Desc: true}}},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0]["_id"])
	assert.Equal(t, 5.0, out[0]["total"])
	assert.Equal(t, 2.0, out[0]["n"])
}

func TestEvalPipeline_CountUnwindProject(t *testing.T) {
	t.Parallel()

	docs := []domain.Document{{"_id": "1", "tags": []any{"x", "y"}, "name": "a"}, {"_id": "2", "tags": []any{"x"}}}

	out, err := EvalPipeline(docs, []Stage{{"$unwind": "$tags"}, {"$count": "n"}})
	require.NoError(t, err)
	assert.Equal(t, []domain.Document{{"n": int64(3)}}, out)

	out, err = EvalPipeline(docs, []Stage{{"$project": map[string]any{"name": 1}}, {"$limit": 1}})
	require.NoError(t, err)
	assert.Equal(t, []domain.Document{{"_id": "1", "name": "a"}}, out)

	_, err = EvalPipeline(docs, []Stage{{"$lookup": map[string]any{}}})
	assert.Error(t, err)
}

func TestEnsureMatch(t *testing.T) {
	t.Parallel()

	p, cond := EnsureMatch([]Stage{{"$limit": 1}})
	require.Len(t, p, 2)
	cond["organization"] = "t1"
	op, arg, _ := StageOp(p[0])
	assert.Equal(t, "$match", op)
	assert.Equal(t, domain.Conditions{"organization": "t1"}, arg)

	orig := []Stage{{"$match": map[string]any{"a": 1}}}
	p, cond = EnsureMatch(orig)
	require.Len(t, p, 1)
	cond["b"] = 2
	assert.Equal(t, map[string]any{"a": 1}, orig[0]["$match"], "caller pipeline must not change")
}

func TestDistinctValues(t *testing.T) {
	t.Parallel()

	docs := []domain.Document{{"t": []any{"a", "b"}}, {"t": "a"}, {"t": 1}, {}}
	assert.Equal(t, []any{"a", "b", 1}, DistinctValues(docs, "t"))
}
