package dataflow

import (
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/workglow-dev/workglow/schema"
)

// SetInput merges partial onto current, honoring s: unknown keys are
// dropped unless s.AdditionalProperties is true or s exposes the ALL_PORTS
// wildcard port.
func SetInput(s *schema.Schema, current, partial map[string]any) map[string]any {
	out := maps.Clone(current)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range partial {
		if s == nil || s.HasWildcardPort() {
			out[k] = v
			continue
		}
		if _, declared := s.Properties[k]; declared || k == schema.AllPorts {
			out[k] = v
		}
		// else: unknown key dropped.
	}
	return out
}

// AddInput merges a value arriving from a graph edge onto (task, port)'s
// staging input: for an array-typed port (or a port
// whose current value is already an array), incoming values are appended;
// otherwise the value replaces. Returns the new value and whether it
// actually changed (deep-equality no-op detection — a no-op write must not
// re-trigger readiness).
func AddInput(portSchema *schema.Schema, current any, incoming any) (updated any, changed bool) {
	isArrayPort := portSchema != nil && portSchema.Type == schema.TypeArray
	_, currentIsArray := current.([]any)

	if isArrayPort || currentIsArray {
		var base []any
		if arr, ok := current.([]any); ok {
			base = arr
		} else if current != nil {
			base = []any{current}
		}
		next := append(slices.Clone(base), incoming)
		return next, !reflect.DeepEqual(current, next)
	}

	return incoming, !reflect.DeepEqual(current, incoming)
}

// ResetInputData clones defaults with a smart clone: plain maps/slices are
// deep-copied, typed numeric buffers are copied by value, and opaque
// handles (repositories, models, open files — anything not a map, slice,
// or comparable scalar) are preserved by reference. Circular references
// are a hard error.
func ResetInputData(defaults map[string]any) (map[string]any, error) {
	seen := make(map[any]bool)
	cloned, err := smartClone(defaults, seen)
	if err != nil {
		return nil, err
	}
	m, _ := cloned.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func smartClone(v any, seen map[any]bool) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if seen[ptrKey(val)] {
			return nil, fmt.Errorf("dataflow: circular reference detected while cloning input defaults")
		}
		seen[ptrKey(val)] = true
		out := make(map[string]any, len(val))
		for k, vv := range val {
			cv, err := smartClone(vv, seen)
			if err != nil {
				return nil, err
			}
			out[k] = cv
		}
		delete(seen, ptrKey(val))
		return out, nil

	case []any:
		if seen[ptrKey(val)] {
			return nil, fmt.Errorf("dataflow: circular reference detected while cloning input defaults")
		}
		seen[ptrKey(val)] = true
		out := make([]any, len(val))
		for i, vv := range val {
			cv, err := smartClone(vv, seen)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		delete(seen, ptrKey(val))
		return out, nil

	case []byte:
		return slices.Clone(val), nil
	case []float64:
		return slices.Clone(val), nil
	case []int:
		return slices.Clone(val), nil

	default:
		// Scalars and opaque handles (repositories, model records, open
		// files, etc.) pass through by reference.
		return v, nil
	}
}

// ptrKey returns a stable identity key for cycle detection on reference
// types; using reflect.ValueOf(...).Pointer() avoids requiring callers'
// types to be comparable.
func ptrKey(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Ptr:
		return rv.Pointer()
	default:
		return v
	}
}

// ForwardAllPorts implements the ALL_PORTS merge rule: if the target
// schema exposes the wildcard port, the full payload is merged into the
// task's input as a map under every matching property name plus any
// unknown keys (since the wildcard implies additionalProperties-like
// admission).
func ForwardAllPorts(targetSchema *schema.Schema, current, payload map[string]any) map[string]any {
	if targetSchema == nil || !targetSchema.HasWildcardPort() {
		return current
	}
	out := maps.Clone(current)
	if out == nil {
		out = map[string]any{}
	}
	maps.Copy(out, payload)
	return out
}
