package graph

import (
	"fmt"
	"reflect"
	"strings"
)

// MergeContent returns a copy of base with changes applied on top.
// Neither input is mutated; nested maps from changes replace wholesale.
func MergeContent(base, changes map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(changes))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range changes {
		out[k] = v
	}
	return out
}

// ContentEqual compares two opaque content mappings structurally
func ContentEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// FlattenContent renders every scalar reachable in a nested content mapping
// as a string, depth-first. The result is the token source for similarity
// scoring and text search.
func FlattenContent(content map[string]any) []string {
	var out []string
	flattenValue(content, &out)
	return out
}

func flattenValue(v any, out *[]string) {
	switch val := v.(type) {
	case map[string]any:
		for _, child := range val {
			flattenValue(child, out)
		}
	case []any:
		for _, child := range val {
			flattenValue(child, out)
		}
	case string:
		*out = append(*out, val)
	case bool:
		*out = append(*out, fmt.Sprintf("%t", val))
	case float64:
		*out = append(*out, strings.TrimSuffix(fmt.Sprintf("%g", val), ".0"))
	case int:
		*out = append(*out, fmt.Sprintf("%d", val))
	case int64:
		*out = append(*out, fmt.Sprintf("%d", val))
	case nil:
		// skip
	default:
		*out = append(*out, fmt.Sprintf("%v", val))
	}
}
