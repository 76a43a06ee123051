package secbot

import (
	"encoding/json"
	"fmt"
)

// KindKey is the discriminator field the payload codec stamps into every
// reduced record so the worker can revive it as the right Go type.
const KindKey = "__kind__"

// Kinded is implemented by every record that travels through the task broker.
type Kinded interface {
	PayloadKind() string
}

var kinds = make(map[string]func() any)

// RegisterKind binds a payload kind to a factory producing a pointer to a
// zero value of its type. Called from package init; duplicate kinds panic.
func RegisterKind(kind string, factory func() any) {
	if _, exists := kinds[kind]; exists {
		panic(fmt.Sprintf("payload kind %s already registered", kind))
	}
	kinds[kind] = factory
}

// Reduce converts a value into a JSON-clean representation. Kinded records
// become maps carrying their kind tag; slices and maps are reduced element
// by element; everything else passes through as is.
func Reduce(v any) (any, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case Kinded:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("reduce %s: %w", value.PayloadKind(), err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("reduce %s: %w", value.PayloadKind(), err)
		}
		m[KindKey] = value.PayloadKind()
		return m, nil
	case []any:
		reduced := make([]any, len(value))
		for i, item := range value {
			r, err := Reduce(item)
			if err != nil {
				return nil, err
			}
			reduced[i] = r
		}
		return reduced, nil
	case map[string]any:
		reduced := make(map[string]any, len(value))
		for key, item := range value {
			r, err := Reduce(item)
			if err != nil {
				return nil, err
			}
			reduced[key] = r
		}
		return reduced, nil
	default:
		return v, nil
	}
}

// Revive is the inverse of Reduce: maps carrying a kind tag come back as the
// registered typed record, containers are revived recursively, scalars pass
// through. An unknown kind or a record that fails to decode is a permanent
// error; retrying will not fix the payload.
func Revive(v any) (any, error) {
	switch value := v.(type) {
	case map[string]any:
		if rawKind, ok := value[KindKey]; ok {
			kind, ok := rawKind.(string)
			if !ok {
				return nil, fmt.Errorf("revive: kind tag is not a string: %v", rawKind)
			}
			factory, ok := kinds[kind]
			if !ok {
				return nil, fmt.Errorf("revive: unknown payload kind %s", kind)
			}
			data, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("revive %s: %w", kind, err)
			}
			record := factory()
			if err := json.Unmarshal(data, record); err != nil {
				return nil, fmt.Errorf("revive %s: %w", kind, err)
			}
			return record, nil
		}
		revived := make(map[string]any, len(value))
		for key, item := range value {
			r, err := Revive(item)
			if err != nil {
				return nil, err
			}
			revived[key] = r
		}
		return revived, nil
	case []any:
		revived := make([]any, len(value))
		for i, item := range value {
			r, err := Revive(item)
			if err != nil {
				return nil, err
			}
			revived[i] = r
		}
		return revived, nil
	default:
		return v, nil
	}
}
