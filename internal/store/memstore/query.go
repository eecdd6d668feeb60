package memstore

import (
	"fmt"
	"reflect"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
)

func matches(doc bson.M, filter bson.M) (bool, error) {
	for key, cond := range filter {
		switch key {
		case "$or", "$and":
			clauses, ok := cond.(bson.A)
			if !ok {
				return false, fmt.Errorf("memstore: %s expects an array, got %T", key, cond)
			}
			anyMatched, allMatched := false, true
			for _, clause := range clauses {
				sub, ok := toM(clause)
				if !ok {
					return false, fmt.Errorf("memstore: %s clause must be a document, got %T", key, clause)
				}
				ok, err := matches(doc, sub)
				if err != nil {
					return false, err
				}
				anyMatched = anyMatched || ok
				allMatched = allMatched && ok
			}
			if key == "$or" && !anyMatched {
				return false, nil
			}
			if key == "$and" && !allMatched {
				return false, nil
			}
		default:
			if strings.HasPrefix(key, "$") {
				return false, fmt.Errorf("memstore: unsupported top-level operator %s", key)
			}
			val, exists := doc[key]
			ok, err := matchCondition(val, exists, cond)
			if err != nil || !ok {
				return false, err
			}
		}
	}
	return true, nil
}

func matchCondition(val any, exists bool, cond any) (bool, error) {
	ops, isOps := operators(cond)
	if !isOps {
		return equalOrContains(val, exists, cond), nil
	}

	for op, arg := range ops {
		switch op {
		case "$exists":
			want, _ := arg.(bool)
			if exists != want {
				return false, nil
			}
		case "$eq":
			if !equalOrContains(val, exists, arg) {
				return false, nil
			}
		case "$ne":
			if equalOrContains(val, exists, arg) {
				return false, nil
			}
		case "$in", "$nin":
			candidates, ok := arg.(bson.A)
			if !ok {
				return false, fmt.Errorf("memstore: %s expects an array, got %T", op, arg)
			}
			found := false
			for _, candidate := range candidates {
				if equalOrContains(val, exists, candidate) {
					found = true
					break
				}
			}
			if found != (op == "$in") {
				return false, nil
			}
		default:
			return false, fmt.Errorf("memstore: unsupported operator %s", op)
		}
	}
	return true, nil
}

// operators reports whether cond is an operator document such as {$ne: x}.
func operators(cond any) (bson.M, bool) {
	m, ok := toM(cond)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for key := range m {
		if !strings.HasPrefix(key, "$") {
			return nil, false
		}
	}
	return m, true
}

// equalOrContains follows MongoDB equality: null matches a missing field and
// a scalar matches any element of an array field.
func equalOrContains(val any, exists bool, want any) bool {
	if want == nil {
		return !exists || val == nil
	}
	if !exists {
		return false
	}
	if arr, ok := val.(bson.A); ok {
		if _, wantArr := want.(bson.A); !wantArr {
			for _, elem := range arr {
				if valuesEqual(elem, want) {
					return true
				}
			}
			return false
		}
	}
	return valuesEqual(val, want)
}

func valuesEqual(a, b any) bool {
	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toM(v any) (bson.M, bool) {
	switch d := v.(type) {
	case bson.M:
		return d, true
	case map[string]any:
		return bson.M(d), true
	case bson.D:
		m := make(bson.M, len(d))
		for _, e := range d {
			m[e.Key] = e.Value
		}
		return m, true
	}
	return nil, false
}

func applyUpdate(doc bson.M, update bson.M) (bson.M, error) {
	updated := make(bson.M, len(doc))
	for k, v := range doc {
		updated[k] = v
	}

	for op, arg := range update {
		fields, ok := toM(arg)
		if !ok {
			return nil, fmt.Errorf("memstore: %s expects a document, got %T", op, arg)
		}
		switch op {
		case "$set":
			for k, v := range fields {
				updated[k] = v
			}
		case "$unset":
			for k := range fields {
				delete(updated, k)
			}
		case "$push":
			for k, v := range fields {
				arr, _ := updated[k].(bson.A)
				next := make(bson.A, len(arr), len(arr)+1)
				copy(next, arr)
				updated[k] = append(next, v)
			}
		case "$pull":
			for k, v := range fields {
				arr, present := updated[k].(bson.A)
				if !present {
					continue
				}
				next := bson.A{}
				for _, elem := range arr {
					if !valuesEqual(elem, v) {
						next = append(next, elem)
					}
				}
				updated[k] = next
			}
		default:
			return nil, fmt.Errorf("memstore: unsupported update operator %s", op)
		}
	}
	return updated, nil
}
