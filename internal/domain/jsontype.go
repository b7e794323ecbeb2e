package domain

import "fmt"

// JSONType classifies a decoded JSON value for feedback/response type
// matching. All numeric representations collapse into one class so that a
// value surviving a round trip through the store (int32/int64/double) never
// mismatches the float64 the JSON decoder produces.
func JSONType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "str"
	case bool:
		return "bool"
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	default:
		return fmt.Sprintf("%T", v)
	}
}
