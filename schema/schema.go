// Package schema implements the port schema model: the self-describing
// record attached to every task input and output port. A schema carries a
// base type, optional per-property sub-schemas, a required-property list,
// an additionalProperties policy, and three semantic annotations (format,
// x-stream, x-replicate) that drive validation, streaming, and replication
// decisions throughout the engine.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// BaseType is the declared JSON-ish type of a port.
type BaseType string

const (
	TypeString  BaseType = "string"
	TypeNumber  BaseType = "number"
	TypeBoolean BaseType = "boolean"
	TypeArray   BaseType = "array"
	TypeObject  BaseType = "object"
	// TypeAny is the wildcard base type (JSON Schema's `true`): it accepts
	// any value and is used for ports whose shape is deliberately open.
	TypeAny BaseType = "any"
)

// StreamMode is a port's static streaming annotation.
type StreamMode string

const (
	// StreamReplace means each emission replaces the prior value (default).
	StreamReplace StreamMode = "replace"
	// StreamAppend means text-delta chunks concatenate onto an accumulator.
	StreamAppend StreamMode = "append"
)

// AllPorts is the distinguished port id meaning "forward every matching name".
const AllPorts = "*"

// Schema describes one port (or nested property) of a task.
type Schema struct {
	Type                 BaseType
	Properties           map[string]*Schema
	Required             []string
	AdditionalProperties bool
	Items                *Schema // element schema when Type == TypeArray

	// Format is a dotted semantic kind, optionally narrowed, e.g.
	// "model" or "model:EmbeddingTask".
	Format string
	// Stream is the port's static streaming mode. Append-mode ports accept
	// text-delta chunks that concatenate into the finish payload.
	Stream StreamMode
	// Replicate, when true on an array-typed port, means "run this task
	// once per element" (fan-out by value rather than by edge). Only
	// dataflow.Compatible reads it, to accept an array edge onto a scalar
	// port; the scheduler does not expand replicated ports per element.
	Replicate bool
}

// FormatKind splits a Format annotation into its base kind and optional
// narrowing suffix: "model:EmbeddingTask" -> ("model", "EmbeddingTask").
func (s *Schema) FormatKind() (kind, narrow string) {
	if s == nil || s.Format == "" {
		return "", ""
	}
	if idx := strings.IndexByte(s.Format, ':'); idx >= 0 {
		return s.Format[:idx], s.Format[idx+1:]
	}
	return s.Format, ""
}

// StreamMode returns the port's effective streaming mode, defaulting to
// StreamReplace per the invariant that the mode is static.
func (s *Schema) StreamMode() StreamMode {
	if s == nil || s.Stream == "" {
		return StreamReplace
	}
	return s.Stream
}

// AcceptsStreamingInput reports whether a port declares x-stream: append,
// the condition the scheduler uses to decide eager vs. materialising edges.
func (s *Schema) AcceptsStreamingInput() bool {
	return s != nil && s.StreamMode() == StreamAppend
}

// HasWildcardPort reports whether this object schema exposes the ALL_PORTS
// wildcard property explicitly, or allows additional properties through.
func (s *Schema) HasWildcardPort() bool {
	if s == nil {
		return false
	}
	if _, ok := s.Properties[AllPorts]; ok {
		return true
	}
	return s.AdditionalProperties
}

// Compiled is a validator compiled once from a Schema and cached per task
// type; cache the compiled form
// per task type").
type Compiled struct {
	root *Schema
}

// Compile compiles s into a reusable validator.
func Compile(s *Schema) *Compiled {
	return &Compiled{root: s}
}

// Validate checks value against the compiled schema, returning a
// descriptive error on the first violation found (fail-fast, per the
// runner's step 3).
func (c *Compiled) Validate(value any) error {
	if c == nil || c.root == nil {
		return nil
	}
	return validate(c.root, value, "$")
}

func validate(s *Schema, value any, path string) error {
	if s == nil || s.Type == TypeAny {
		return nil
	}
	switch s.Type {
	case TypeObject:
		m, ok := value.(map[string]any)
		if value != nil && !ok {
			return fmt.Errorf("%s: expected object, got %T", path, value)
		}
		if m == nil {
			m = map[string]any{}
		}
		for _, req := range s.Required {
			if _, present := m[req]; !present {
				return fmt.Errorf("%s: missing required property %q", path, req)
			}
		}
		for k, v := range m {
			if k == AllPorts {
				continue
			}
			prop, declared := s.Properties[k]
			if !declared {
				if !s.AdditionalProperties {
					return fmt.Errorf("%s: unexpected property %q (additionalProperties=false)", path, k)
				}
				continue
			}
			if err := validate(prop, v, path+"."+k); err != nil {
				return err
			}
		}
		return nil
	case TypeArray:
		arr, ok := value.([]any)
		if value != nil && !ok {
			return fmt.Errorf("%s: expected array, got %T", path, value)
		}
		if s.Items != nil {
			for i, item := range arr {
				if err := validate(s.Items, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
		}
		return nil
	case TypeString:
		if value != nil {
			if _, ok := value.(string); !ok {
				return fmt.Errorf("%s: expected string, got %T", path, value)
			}
		}
		return nil
	case TypeNumber:
		if value != nil {
			switch value.(type) {
			case int, int32, int64, float32, float64:
			default:
				return fmt.Errorf("%s: expected number, got %T", path, value)
			}
		}
		return nil
	case TypeBoolean:
		if value != nil {
			if _, ok := value.(bool); !ok {
				return fmt.Errorf("%s: expected boolean, got %T", path, value)
			}
		}
		return nil
	}
	return nil
}

// SortedPropertyNames returns property names in deterministic order, used
// by canonical fingerprinting and DOT export.
func (s *Schema) SortedPropertyNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Properties))
	for k := range s.Properties {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
