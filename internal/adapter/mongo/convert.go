package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/heartmarshall/tenantkit/internal/docstore"
	"github.com/heartmarshall/tenantkit/internal/domain"
)

// toBSON converts a document or condition tree. Values under _id that are
// valid ObjectID hex strings are stored as native ObjectIDs.
func toBSON(v any, underID bool) any {
	switch t := v.(type) {
	case domain.Document:
		return mapToBSON(t, underID)
	case domain.Conditions:
		return mapToBSON(t, underID)
	case map[string]any:
		return mapToBSON(t, underID)
	case []any:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = toBSON(e, underID)
		}
		return out
	case []string:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = toBSON(e, underID)
		}
		return out
	case string:
		if underID {
			if oid, err := primitive.ObjectIDFromHex(t); err == nil {
				return oid
			}
		}
		return t
	case time.Time:
		return t.UTC()
	default:
		return v
	}
}

func mapToBSON(m map[string]any, underID bool) bson.M {
	out := make(bson.M, len(m))
	for k, v := range m {
		switch {
		case k == domain.FieldID:
			out[k] = toBSON(v, true)
		case k == "$and" || k == "$or" || k == "$nor":
			// Logical clauses reset the key context.
			out[k] = toBSON(v, false)
		case len(k) > 0 && k[0] == '$':
			out[k] = toBSON(v, underID)
		default:
			out[k] = toBSON(v, false)
		}
	}
	return out
}

func filter(cond domain.Conditions) bson.M {
	if len(cond) == 0 {
		return bson.M{}
	}
	return mapToBSON(cond, false)
}

// fromBSON converts decoded driver values back to plain Go values.
func fromBSON(v any) any {
	switch t := v.(type) {
	case bson.M:
		return mapFromBSON(t)
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromBSON(e)
		}
		return out
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC()
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}

func mapFromBSON(m bson.M) domain.Document {
	out := make(domain.Document, len(m))
	for k, v := range m {
		out[k] = fromBSON(v)
	}
	return out
}

func sortSpec(order []docstore.SortField) bson.D {
	if len(order) == 0 {
		return nil
	}
	d := make(bson.D, 0, len(order))
	for _, f := range order {
		dir := 1
		if f.Desc {
			dir = -1
		}
		d = append(d, bson.E{Key: f.Key, Value: dir})
	}
	return d
}

func projection(fields []string) bson.M {
	if len(fields) == 0 {
		return nil
	}
	p := make(bson.M, len(fields))
	for _, f := range fields {
		if len(f) > 1 && f[0] == '-' {
			p[f[1:]] = 0
			continue
		}
		p[f] = 1
	}
	return p
}

func update(upd docstore.Update) bson.M {
	out := bson.M{}
	set, unset := bson.M{}, bson.M{}
	for k, v := range upd.Set {
		if v == nil {
			unset[k] = ""
			continue
		}
		set[k] = toBSON(v, k == domain.FieldID)
	}
	if len(set) > 0 {
		out["$set"] = set
	}
	if len(unset) > 0 {
		out["$unset"] = unset
	}
	if len(upd.Push) > 0 {
		push := bson.M{}
		for k, vals := range upd.Push {
			push[k] = bson.M{"$each": toBSON(vals, false)}
		}
		out["$push"] = push
	}
	if len(upd.Pull) > 0 {
		pull := bson.M{}
		for k, vals := range upd.Pull {
			pull[k] = bson.M{"$in": toBSON(vals, false)}
		}
		out["$pull"] = pull
	}
	return out
}

// pipeline keeps $sort stages ordered.
func pipeline(stages []docstore.Stage) (bson.A, error) {
	out := make(bson.A, 0, len(stages))
	for _, st := range stages {
		op, arg, ok := docstore.StageOp(st)
		if ok && op == "$sort" {
			order, err := docstore.SortStage(arg)
			if err != nil {
				return nil, err
			}
			out = append(out, bson.D{{Key: "$sort", Value: sortSpec(order)}})
			continue
		}
		out = append(out, mapToBSON(st, false))
	}
	return out, nil
}
