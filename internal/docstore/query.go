package docstore

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// applyQuery evaluates q over docs in Go. Used by the stores that cannot push
// filters down to the backend. Documents missing the OrderBy field are
// excluded, matching Firestore.
func applyQuery(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if matches(doc, q.Filters) {
			if q.OrderBy != "" {
				if _, ok := lookup(doc.Data, q.OrderBy); !ok {
					continue
				}
			}
			out = append(out, doc)
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			a, _ := lookup(out[i].Data, q.OrderBy)
			b, _ := lookup(out[j].Data, q.OrderBy)
			c, _ := compare(a, b)
			if q.Descending {
				return c > 0
			}
			return c < 0
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		v, ok := lookup(doc.Data, f.Field)
		if !ok {
			return false
		}
		c, comparable := compare(v, f.Value)
		if !comparable {
			if f.Op == OpNotEqual {
				continue
			}
			return false
		}
		switch f.Op {
		case OpEqual:
			if c != 0 {
				return false
			}
		case OpNotEqual:
			if c == 0 {
				return false
			}
		case OpLess:
			if c >= 0 {
				return false
			}
		case OpLessOrEqual:
			if c > 0 {
				return false
			}
		case OpGreater:
			if c <= 0 {
				return false
			}
		case OpGreaterOrEqual:
			if c < 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// lookup resolves a dotted field path
func lookup(data map[string]interface{}, path string) (interface{}, bool) {
	var cur interface{} = data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// compare orders two values of the same family. The bool result is false when
// the values cannot be compared.
func compare(a, b interface{}) (int, bool) {
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		switch {
		case at.Before(bt):
			return -1, true
		case at.After(bt):
			return 1, true
		}
		return 0, true
	}

	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if av == bv {
			return 0, true
		}
		if !av {
			return -1, true
		}
		return 1, true
	case nil:
		if b == nil {
			return 0, true
		}
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// deepMerge merges src into dst, recursing into nested maps the way a
// Firestore merge-all write does.
func deepMerge(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for k, v := range src {
		if sm, ok := v.(map[string]interface{}); ok {
			if dm, ok := dst[k].(map[string]interface{}); ok {
				dst[k] = deepMerge(dm, sm)
				continue
			}
		}
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneData(data map[string]interface{}) map[string]interface{} {
	if data == nil {
		return nil
	}
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return cloneData(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
