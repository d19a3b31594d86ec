package compound

import (
	"fmt"

	"github.com/workglow-dev/workglow/dataflow"
	"github.com/workglow-dev/workglow/schema"
	"github.com/workglow-dev/workglow/scheduler"
	"github.com/workglow-dev/workglow/task"
)

// ChildFactory builds the task that processes one element of a MapTask's
// input array. index is the element's position; item is its value.
type ChildFactory func(index int, item any) (task.Task, error)

// Reducer folds a MapTask's per-child outputs into the task's own output.
// The default reducer (used when Reducer is nil) collects outPort from each
// child's output into an array.
type Reducer func(childOutputs []map[string]any) (map[string]any, error)

// MapTask applies a ChildFactory to every element of an input array port,
// runs the resulting child tasks concurrently via a nested GraphScheduler,
// and reduces their outputs into its own output (/: iterator tasks
// share the compound-graph machinery; this is the map half of it).
//
// Children are built on the fly, one per call to Execute, and registered
// through RunContext.Own so a Tracer can attribute their spans to the
// MapTask. Grounded on MapReduceNode (graph/parallel.go),
// generalized from a fixed Node slice plus reducer func to a factory over a
// runtime-sized array and a nested dataflow.Graph instead of raw goroutines.
type MapTask struct {
	id, typ           string
	itemPort, outPort string
	inputSchema       *schema.Schema
	outputSchema      *schema.Schema
	childFactory      ChildFactory
	Reducer           Reducer
	Config            scheduler.Config
}

// NewMap builds a MapTask reading its array input from itemPort and, absent
// a custom Reducer, collecting outPort from each child into an array under
// outPort in its own output.
func NewMap(id, typ, itemPort, outPort string, itemSchema *schema.Schema, factory ChildFactory) *MapTask {
	return &MapTask{
		id:       id,
		typ:      typ,
		itemPort: itemPort,
		outPort:  outPort,
		inputSchema: &schema.Schema{
			Type: schema.TypeObject,
			Properties: map[string]*schema.Schema{
				itemPort: {Type: schema.TypeArray, Items: itemSchema},
			},
			Required: []string{itemPort},
		},
		outputSchema: &schema.Schema{
			Type: schema.TypeObject,
			Properties: map[string]*schema.Schema{
				outPort: {Type: schema.TypeArray},
			},
		},
		childFactory: factory,
	}
}

func (m *MapTask) ID() string                  { return m.id }
func (m *MapTask) Type() string                { return m.typ }
func (m *MapTask) InputSchema() *schema.Schema  { return m.inputSchema }
func (m *MapTask) OutputSchema() *schema.Schema { return m.outputSchema }
func (m *MapTask) Cacheable() bool              { return false }

func (m *MapTask) Execute(rc *task.RunContext, input map[string]any) (map[string]any, error) {
	items, _ := input[m.itemPort].([]any)

	g := dataflow.New()
	children := make([]task.Task, 0, len(items))
	for i, item := range items {
		child, err := m.childFactory(i, item)
		if err != nil {
			return nil, fmt.Errorf("map %s: building child %d: %w", m.id, i, err)
		}
		if err := g.AddTask(child); err != nil {
			return nil, fmt.Errorf("map %s: registering child %d: %w", m.id, i, err)
		}
		children = append(children, child)
		if rc.Own != nil {
			rc.Own(child)
		}
	}

	if len(children) == 0 {
		return map[string]any{m.outPort: []any{}}, nil
	}

	defaults := make(map[string]map[string]any, len(children))
	for i, child := range children {
		defaults[child.ID()] = dataflow.SetInput(child.InputSchema(), nil, map[string]any{m.itemPort: items[i]})
	}

	cfg := m.Config
	cfg.Registry = rc.Registry
	s := scheduler.New(g, cfg)
	result, err := s.Run(rc.Ctx, defaults)
	if err != nil {
		return nil, fmt.Errorf("map %s: %w", m.id, err)
	}
	if len(result.Incomplete) > 0 {
		return nil, fmt.Errorf("map %s: incomplete children %v", m.id, result.Incomplete)
	}

	outputs := make([]map[string]any, len(children))
	for i, child := range children {
		outputs[i] = result.Outputs[child.ID()]
	}

	if m.Reducer != nil {
		return m.Reducer(outputs)
	}
	values := make([]any, len(outputs))
	for i, o := range outputs {
		values[i] = o[m.outPort]
	}
	return map[string]any{m.outPort: values}, nil
}
