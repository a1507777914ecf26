package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// ToPlain converts v into its JSON-native form: maps become
// map[string]any, numbers float64, slices []any. Structs are flattened
// through their json tags.
func ToPlain(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return out, nil
}

// normalize returns a deep, JSON-native copy of doc.
func normalize(doc Document) (Document, error) {
	if doc == nil {
		return Document{}, nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return decodeJSON(b)
}

func decodeJSON(b []byte) (Document, error) {
	var out Document
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("document is null")
	}
	return out, nil
}

// normalizeFilters converts filter values so they compare equal to stored
// values.
func normalizeFilters(filters []Filter) ([]Filter, error) {
	out := make([]Filter, len(filters))
	for i, f := range filters {
		v, err := ToPlain(f.Value)
		if err != nil {
			return nil, err
		}
		out[i] = Filter{Field: f.Field, Value: v}
	}
	return out, nil
}

// matches reports whether doc satisfies every normalized filter.
func matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		v, ok := doc[f.Field]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(v, f.Value) {
			return false
		}
	}
	return true
}
