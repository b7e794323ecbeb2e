package mongodb

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// normalizeValue rewrites BSON container types into their plain Go JSON
// shapes ([]any, map[string]any) so that values read back from the store
// compare cleanly against freshly decoded request payloads.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case primitive.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeValue(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	default:
		return v
	}
}

// asList returns v normalized to []any when it holds a BSON or JSON array.
func asList(v any) ([]any, bool) {
	switch t := normalizeValue(v).(type) {
	case []any:
		return t, true
	default:
		return nil, false
	}
}
