package dataflow

import (
	"encoding/json"
	"fmt"

	"github.com/workglow-dev/workglow/schema"
	"github.com/workglow-dev/workglow/task"
)

// TaskJSON is the serialised form of one graph node.
type TaskJSON struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Title        string          `json:"title,omitempty"`
	Defaults     map[string]any  `json:"defaults,omitempty"`
	InputSchema  *SchemaJSON     `json:"inputSchema,omitempty"`
	OutputSchema *SchemaJSON     `json:"outputSchema,omitempty"`
	Extras       map[string]any  `json:"extras,omitempty"`
	Subgraph     *GraphJSON      `json:"subgraph,omitempty"`
	Merge        string          `json:"merge,omitempty"`
}

// EdgeJSON is the serialised form of one dataflow edge.
type EdgeJSON struct {
	SourceTaskID     string `json:"sourceTaskId"`
	SourceTaskPortID string `json:"sourceTaskPortId"`
	TargetTaskID     string `json:"targetTaskId"`
	TargetTaskPortID string `json:"targetTaskPortId"`
}

// GraphJSON is the full serialised graph.
type GraphJSON struct {
	Tasks      []TaskJSON `json:"tasks"`
	Dataflows  []EdgeJSON `json:"dataflows"`
}

// SchemaJSON is a minimal JSON-friendly projection of schema.Schema,
// sufficient to round-trip the port annotations the engine cares about.
type SchemaJSON struct {
	Type                 string                 `json:"type"`
	Properties           map[string]*SchemaJSON `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties bool                   `json:"additionalProperties,omitempty"`
	Items                *SchemaJSON            `json:"items,omitempty"`
	Format               string                 `json:"format,omitempty"`
	Stream               string                 `json:"x-stream,omitempty"`
	Replicate            bool                   `json:"x-replicate,omitempty"`
}

// ToSchemaJSON converts the runtime schema into its wire form.
func ToSchemaJSON(s *schema.Schema) *SchemaJSON {
	if s == nil {
		return nil
	}
	out := &SchemaJSON{
		Type:                 string(s.Type),
		Required:             s.Required,
		AdditionalProperties: s.AdditionalProperties,
		Format:               s.Format,
		Stream:               string(s.Stream),
		Replicate:            s.Replicate,
	}
	if s.Items != nil {
		out.Items = ToSchemaJSON(s.Items)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*SchemaJSON, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = ToSchemaJSON(v)
		}
	}
	return out
}

// FromSchemaJSON converts the wire form back into a runtime schema.
func FromSchemaJSON(s *SchemaJSON) *schema.Schema {
	if s == nil {
		return nil
	}
	out := &schema.Schema{
		Type:                 schema.BaseType(s.Type),
		Required:             s.Required,
		AdditionalProperties: s.AdditionalProperties,
		Format:               s.Format,
		Stream:               schema.StreamMode(s.Stream),
		Replicate:            s.Replicate,
	}
	if s.Items != nil {
		out.Items = FromSchemaJSON(s.Items)
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*schema.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = FromSchemaJSON(v)
		}
	}
	return out
}

// Factory constructs a task.Task from its serialised defaults/extras. A
// factory for a CompoundTask-shaped type receives the deserialised
// subgraph via the `subgraph` parameter.
type Factory func(id string, defaults, extras map[string]any, subgraph *Graph) (task.Task, error)

// TypeRegistry maps `type` strings from TaskJSON to task factories, per
// ("A registry maps type strings to task class factories").
type TypeRegistry struct {
	factories map[string]Factory
}

// NewTypeRegistry returns an empty task-type registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{factories: make(map[string]Factory)}
}

// Register binds typeName to factory.
func (r *TypeRegistry) Register(typeName string, factory Factory) {
	r.factories[typeName] = factory
}

// Serialize converts g into its wire form. titleOf/defaultsOf are optional
// hooks filling each task's Title and Defaults, which aren't derivable from
// the task.Task interface alone; Subgraph, Extras and Merge are left empty.
func Serialize(g *Graph, titleOf func(task.Task) string, defaultsOf func(task.Task) map[string]any) GraphJSON {
	out := GraphJSON{}
	for _, t := range g.Tasks() {
		tj := TaskJSON{
			ID:           t.ID(),
			Type:         t.Type(),
			InputSchema:  ToSchemaJSON(t.InputSchema()),
			OutputSchema: ToSchemaJSON(t.OutputSchema()),
		}
		if titleOf != nil {
			tj.Title = titleOf(t)
		}
		if defaultsOf != nil {
			tj.Defaults = defaultsOf(t)
		}
		out.Tasks = append(out.Tasks, tj)
	}
	for _, e := range g.Edges() {
		out.Dataflows = append(out.Dataflows, EdgeJSON{
			SourceTaskID:     e.SourceTaskID,
			SourceTaskPortID: e.SourcePortID,
			TargetTaskID:     e.TargetTaskID,
			TargetTaskPortID: e.TargetPortID,
		})
	}
	return out
}

// Deserialize rebuilds a Graph from gj, recursing into nested subgraphs
// (deserialising a task with a `subgraph` field recurses).
func (r *TypeRegistry) Deserialize(gj GraphJSON) (*Graph, error) {
	g := New()
	for _, tj := range gj.Tasks {
		factory, ok := r.factories[tj.Type]
		if !ok {
			return nil, fmt.Errorf("dataflow: no factory registered for task type %q", tj.Type)
		}
		var sub *Graph
		if tj.Subgraph != nil {
			var err error
			sub, err = r.Deserialize(*tj.Subgraph)
			if err != nil {
				return nil, fmt.Errorf("dataflow: deserializing subgraph of %q: %w", tj.ID, err)
			}
		}
		t, err := factory(tj.ID, tj.Defaults, tj.Extras, sub)
		if err != nil {
			return nil, fmt.Errorf("dataflow: constructing task %q: %w", tj.ID, err)
		}
		if err := g.AddTask(t); err != nil {
			return nil, err
		}
	}
	for _, ej := range gj.Dataflows {
		if err := g.AddEdge(Edge{
			SourceTaskID: ej.SourceTaskID,
			SourcePortID: ej.SourceTaskPortID,
			TargetTaskID: ej.TargetTaskID,
			TargetPortID: ej.TargetTaskPortID,
		}); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Marshal / UnmarshalGraphJSON: byte-level round-trip helpers.

func (gj GraphJSON) Marshal() ([]byte, error) { return json.Marshal(gj) }

func UnmarshalGraphJSON(data []byte) (GraphJSON, error) {
	var gj GraphJSON
	err := json.Unmarshal(data, &gj)
	return gj, err
}
