package merge

import (
	"errors"
	"fmt"

	"github.com/kumarabd/hostwatch/pkg/value"
)

// ErrTypeMismatch is returned when either side of a merge is not a mapping
var ErrTypeMismatch = errors.New("merge: cannot merge non-mapping values")

// DeepMerge merges upd into a copy of dest. Neither input is modified.
//
// When the two mappings share no key the result is a flat overwrite.
// Otherwise nested mappings are merged recursively, lists are concatenated
// when mergeLists is set, and every other update value replaces the
// destination value.
func DeepMerge(dest, upd value.Value, mergeLists bool) (value.Value, error) {
	dm, ok := dest.AsMap()
	if !ok {
		return value.Value{}, fmt.Errorf("%w: destination is %s", ErrTypeMismatch, dest.Kind())
	}
	um, ok := upd.AsMap()
	if !ok {
		return value.Value{}, fmt.Errorf("%w: update is %s", ErrTypeMismatch, upd.Kind())
	}
	return value.Map(mergeMaps(dm, um, mergeLists)), nil
}

func mergeMaps(dest, upd map[string]value.Value, mergeLists bool) map[string]value.Value {
	out := make(map[string]value.Value, len(dest)+len(upd))
	for k, v := range dest {
		out[k] = v.Clone()
	}

	shared := false
	for k := range upd {
		if _, ok := dest[k]; ok {
			shared = true
			break
		}
	}
	if !shared {
		for k, v := range upd {
			out[k] = v.Clone()
		}
		return out
	}

	for k, uv := range upd {
		dv, exists := dest[k]
		if !exists {
			out[k] = uv.Clone()
			continue
		}
		out[k] = mergeValue(dv, uv, mergeLists)
	}
	return out
}

func mergeValue(dv, uv value.Value, mergeLists bool) value.Value {
	switch {
	case dv.IsMap() && uv.IsMap():
		dm, _ := dv.AsMap()
		um, _ := uv.AsMap()
		return value.Map(mergeMaps(dm, um, mergeLists))
	case dv.IsList() && uv.IsList() && mergeLists:
		dl, _ := dv.AsList()
		ul, _ := uv.AsList()
		joined := make([]value.Value, 0, len(dl)+len(ul))
		for _, item := range dl {
			joined = append(joined, item.Clone())
		}
		for _, item := range ul {
			joined = append(joined, item.Clone())
		}
		return value.List(joined...)
	default:
		return uv.Clone()
	}
}

// All folds DeepMerge over docs, starting from an empty mapping
func All(mergeLists bool, docs ...value.Value) (value.Value, error) {
	acc := value.Map(nil)
	for i, doc := range docs {
		merged, err := DeepMerge(acc, doc, mergeLists)
		if err != nil {
			return value.Value{}, fmt.Errorf("document %d: %w", i, err)
		}
		acc = merged
	}
	return acc, nil
}

// DedupList returns items without repeats, keeping the first occurrence of
// each structurally equal value in its original position.
func DedupList(items []value.Value) []value.Value {
	out := make([]value.Value, 0, len(items))
	for _, item := range items {
		seen := false
		for _, kept := range out {
			if kept.Equal(item) {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, item)
		}
	}
	return out
}
