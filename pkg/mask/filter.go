package mask

import (
	"strings"

	"github.com/kumarabd/hostwatch/pkg/value"
)

// DefaultSensitivePatterns are key fragments never published
var DefaultSensitivePatterns = []string{"password", "token"}

// FilterSensitive returns a copy of v without any mapping key that contains
// one of patterns, at any depth
func FilterSensitive(v value.Value, patterns []string) value.Value {
	switch v.Kind() {
	case value.KindMap:
		out := make(map[string]value.Value)
		for _, k := range v.Keys() {
			if sensitive(k, patterns) {
				continue
			}
			child, _ := v.Get(k)
			out[k] = FilterSensitive(child, patterns)
		}
		return value.Map(out)
	case value.KindList:
		items, _ := v.AsList()
		out := make([]value.Value, len(items))
		for i, item := range items {
			out[i] = FilterSensitive(item, patterns)
		}
		return value.List(out...)
	default:
		return v
	}
}

func sensitive(key string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(key, p) {
			return true
		}
	}
	return false
}
