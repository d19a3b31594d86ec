// Package compound implements the graph-as-task wrapper: a CompoundTask
// recursively drives a scheduler.GraphScheduler over an inner
// dataflow.Graph and exposes it to the outer graph as a single task.Task.
//
// Grounded on graph/subgraph.go (Subgraph.Execute compiling
// and invoking a nested StateGraph) and graph/parallel.go's MapReduceNode
// (parallel fan-out over a reducer), generalized from a single state map
// handoff to the scheduler's per-port defaults and CompoundMergeStrategy.
package compound

import (
	"fmt"
	"sort"

	"github.com/workglow-dev/workglow/dataflow"
	"github.com/workglow-dev/workglow/schema"
	"github.com/workglow-dev/workglow/scheduler"
	"github.com/workglow-dev/workglow/task"
)

// MergeStrategy selects how a compound task folds its inner graph's sink
// outputs into a single output map.2 Compound merge.
type MergeStrategy string

const (
	// MergePropertyArray collects, for each port name emitted by any sink,
	// the values in topological order; a port produced by exactly one sink
	// unwraps to the scalar. This is the default.
	MergePropertyArray MergeStrategy = "PROPERTY_ARRAY"
	// MergeLastWins overwrites by sink iteration order: the last sink to
	// emit a given port name wins.
	MergeLastWins MergeStrategy = "LAST_WINS"
	// MergeNamedTable nests each sink's full output under its task ID.
	MergeNamedTable MergeStrategy = "NAMED_TABLE"
)

// CompoundTask wraps a dataflow.Graph so it can be used as a single task.Task
// node in an outer graph. Its input is distributed to the inner graph's root
// tasks (those with no incoming edges) via dataflow.SetInput, honoring each
// root's own schema; its output is the merged sink output per Strategy.
type CompoundTask struct {
	id       string
	typ      string
	graph    *dataflow.Graph
	Strategy MergeStrategy
	Config   scheduler.Config
	optional bool

	inputSchema, outputSchema *schema.Schema
}

// New builds a CompoundTask from a fully constructed inner graph. The output
// schema is derived from the union of the inner graph's sink output schemas
// (see DeriveOutputSchema); pass an explicit one with WithOutputSchema if the
// derivation isn't
// suitable.
func New(id, typ string, g *dataflow.Graph, opts ...Option) *CompoundTask {
	c := &CompoundTask{
		id:           id,
		typ:          typ,
		graph:        g,
		Strategy:     MergePropertyArray,
		inputSchema:  DeriveInputSchema(g),
		outputSchema: DeriveOutputSchema(g),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures a CompoundTask at construction.
type Option func(*CompoundTask)

func WithMergeStrategy(s MergeStrategy) Option { return func(c *CompoundTask) { c.Strategy = s } }
func WithSchedulerConfig(cfg scheduler.Config) Option {
	return func(c *CompoundTask) { c.Config = cfg }
}
func WithOptional(optional bool) Option { return func(c *CompoundTask) { c.optional = optional } }
func WithInputSchema(s *schema.Schema) Option {
	return func(c *CompoundTask) { c.inputSchema = s }
}
func WithOutputSchema(s *schema.Schema) Option {
	return func(c *CompoundTask) { c.outputSchema = s }
}

func (c *CompoundTask) ID() string                  { return c.id }
func (c *CompoundTask) Type() string                { return c.typ }
func (c *CompoundTask) InputSchema() *schema.Schema  { return c.inputSchema }
func (c *CompoundTask) OutputSchema() *schema.Schema { return c.outputSchema }
func (c *CompoundTask) Cacheable() bool              { return false }
func (c *CompoundTask) Optional() bool               { return c.optional }

// Graph exposes the inner graph, e.g. for serialisation or DOT export.
func (c *CompoundTask) Graph() *dataflow.Graph { return c.graph }

// Execute runs the inner graph to completion and merges its sink outputs.
// The outer RunContext's cancellation token flows straight through to the
// nested scheduler.Run call, so aborting the parent also aborts every task
// in the inner graph (Cancellation).
func (c *CompoundTask) Execute(rc *task.RunContext, input map[string]any) (map[string]any, error) {
	cfg := c.Config
	cfg.Registry = rc.Registry

	s := scheduler.New(c.graph, cfg)
	result, err := s.Run(rc.Ctx, c.buildDefaults(input))
	if err != nil {
		return nil, fmt.Errorf("compound %s: %w", c.id, err)
	}
	if len(result.Incomplete) > 0 {
		return nil, fmt.Errorf("compound %s: incomplete inner tasks %v", c.id, result.Incomplete)
	}

	return mergeOutputs(c.graph, result.Outputs, c.Strategy)
}

func (c *CompoundTask) buildDefaults(input map[string]any) map[string]map[string]any {
	defaults := make(map[string]map[string]any)
	for _, t := range roots(c.graph) {
		defaults[t.ID()] = dataflow.SetInput(t.InputSchema(), nil, input)
	}
	return defaults
}

// roots returns the tasks with no incoming edges, in graph insertion order —
// the entry points that receive the compound task's own input.
func roots(g *dataflow.Graph) []task.Task {
	hasIncoming := make(map[string]bool)
	for _, e := range g.Edges() {
		hasIncoming[e.TargetTaskID] = true
	}
	var out []task.Task
	for _, t := range g.Tasks() {
		if !hasIncoming[t.ID()] {
			out = append(out, t)
		}
	}
	return out
}

// DeriveInputSchema unions the input schemas of the inner graph's root
// tasks into a single object schema, so the outer graph can validate the
// compound task's input before it's distributed to each root.
func DeriveInputSchema(g *dataflow.Graph) *schema.Schema {
	props := make(map[string]*schema.Schema)
	for _, t := range roots(g) {
		in := t.InputSchema()
		if in == nil {
			continue
		}
		for name, ps := range in.Properties {
			if _, exists := props[name]; !exists {
				props[name] = ps
			}
		}
	}
	return &schema.Schema{Type: schema.TypeObject, Properties: props, AdditionalProperties: true}
}

// DeriveOutputSchema unions the output schemas of the inner graph's sinks.
// A port produced by exactly one sink keeps that sink's declared
// schema; a port produced by more than one sink is widened to an array,
// mirroring the PROPERTY_ARRAY merge it feeds.
func DeriveOutputSchema(g *dataflow.Graph) *schema.Schema {
	producers := make(map[string][]*schema.Schema)
	order := make([]string, 0)
	for _, sinkID := range g.Sinks() {
		t, ok := g.Task(sinkID)
		if !ok {
			continue
		}
		out := t.OutputSchema()
		if out == nil {
			continue
		}
		for _, name := range out.SortedPropertyNames() {
			if _, exists := producers[name]; !exists {
				order = append(order, name)
			}
			producers[name] = append(producers[name], out.Properties[name])
		}
	}

	props := make(map[string]*schema.Schema, len(order))
	for _, name := range order {
		schemas := producers[name]
		if len(schemas) == 1 {
			props[name] = schemas[0]
		} else {
			props[name] = &schema.Schema{Type: schema.TypeArray, Items: schemas[0]}
		}
	}
	return &schema.Schema{Type: schema.TypeObject, Properties: props}
}

func mergeOutputs(g *dataflow.Graph, outputs map[string]map[string]any, strategy MergeStrategy) (map[string]any, error) {
	sinks := g.Sinks()
	switch strategy {
	case "", MergePropertyArray:
		return mergePropertyArray(g, sinks, outputs), nil
	case MergeLastWins:
		return mergeLastWins(sinks, outputs), nil
	case MergeNamedTable:
		return mergeNamedTable(sinks, outputs), nil
	default:
		return nil, fmt.Errorf("compound: unknown merge strategy %q", strategy)
	}
}

func mergePropertyArray(g *dataflow.Graph, sinks []string, outputs map[string]map[string]any) map[string]any {
	order := make([]string, 0)
	seen := make(map[string]bool)
	values := make(map[string][]any)

	for _, sinkID := range sinks {
		out := outputs[sinkID]
		names := sinkPortNames(g, sinkID, out)
		for _, name := range names {
			v, ok := out[name]
			if !ok {
				continue
			}
			if !seen[name] {
				seen[name] = true
				order = append(order, name)
			}
			values[name] = append(values[name], v)
		}
	}

	merged := make(map[string]any, len(order))
	for _, name := range order {
		vs := values[name]
		if len(vs) == 1 {
			merged[name] = vs[0]
		} else {
			merged[name] = vs
		}
	}
	return merged
}

func sinkPortNames(g *dataflow.Graph, sinkID string, out map[string]any) []string {
	if t, ok := g.Task(sinkID); ok {
		if s := t.OutputSchema(); s != nil {
			return s.SortedPropertyNames()
		}
	}
	names := make([]string, 0, len(out))
	for k := range out {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func mergeLastWins(sinks []string, outputs map[string]map[string]any) map[string]any {
	merged := make(map[string]any)
	for _, sinkID := range sinks {
		for k, v := range outputs[sinkID] {
			merged[k] = v
		}
	}
	return merged
}

func mergeNamedTable(sinks []string, outputs map[string]map[string]any) map[string]any {
	merged := make(map[string]any, len(sinks))
	for _, sinkID := range sinks {
		merged[sinkID] = outputs[sinkID]
	}
	return merged
}
