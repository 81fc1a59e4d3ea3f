package store

import (
	"encoding/json"
	"reflect"
)

// mergeShallow returns base with every key of patch applied on top.
func mergeShallow(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

// mergeDeep merges patch into base recursively. Nested objects are merged key
// by key; any other value in patch replaces the base value.
func mergeDeep(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if pm, ok := v.(map[string]any); ok {
			if bm, ok := out[k].(map[string]any); ok {
				out[k] = mergeDeep(bm, pm)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// mergeContent merges a message content patch. Objects are deep merged; any
// other payload replaces the stored content.
func mergeContent(base, patch any) any {
	if patch == nil {
		return base
	}
	bm, bok := asJSONObject(base)
	pm, pok := asJSONObject(patch)
	if bok && pok {
		return mergeDeep(bm, pm)
	}
	return patch
}

func asJSONObject(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	if v == nil {
		return nil, false
	}
	normalized, err := normalizeJSON(v)
	if err != nil {
		return nil, false
	}
	m, ok := normalized.(map[string]any)
	return m, ok
}

// normalizeJSON converts v to the shape encoding/json decodes into, so that
// values written and read back compare equal.
func normalizeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// jsonEqual compares two values by their JSON representation.
func jsonEqual(a, b any) bool {
	na, errA := normalizeJSON(a)
	nb, errB := normalizeJSON(b)
	if errA != nil || errB != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}
