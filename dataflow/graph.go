// Package dataflow implements the DAG storage, topological ordering, cycle
// detection, and port-compatibility model this engine runs on. A Graph holds
// an ordered set of task.Task nodes plus a set of Edges; this package knows
// nothing about execution — that's scheduler's job.
//
// Grounded on graph.StateGraph node/edge bookkeeping
// (graph/state_graph.go, graph/graph.go), generalized from a name-keyed
// flowchart with conditional branching to a dataflow DAG with per-port
// edges and array accumulation, and on a reference Kahn's-algorithm DAG
// scheduler for topological ordering.
package dataflow

import (
	"errors"
	"fmt"

	"github.com/workglow-dev/workglow/task"
)

// AllPorts forwards every matching name, mirroring schema.AllPorts.
const AllPorts = "*"

var (
	ErrTaskNotFound  = errors.New("dataflow: task not found")
	ErrDuplicateEdge = errors.New("dataflow: duplicate edge between the same port pair")
	ErrWouldCycle    = errors.New("dataflow: edge would create a cycle")
)

// Edge is a directed connection (sourceTaskId, sourcePortId) ->
// (targetTaskId, targetPortId).
type Edge struct {
	SourceTaskID string
	SourcePortID string
	TargetTaskID string
	TargetPortID string
}

func (e Edge) key() [2]string {
	return [2]string{e.SourceTaskID + "#" + e.SourcePortID, e.TargetTaskID + "#" + e.TargetPortID}
}

// Graph is an ordered set of tasks plus a set of edges (Graph).
type Graph struct {
	order []string // insertion order of task IDs, for deterministic iteration
	tasks map[string]task.Task
	edges []Edge
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{tasks: make(map[string]task.Task)}
}

// AddTask registers t. IDs must be unique within the graph.
func (g *Graph) AddTask(t task.Task) error {
	if _, exists := g.tasks[t.ID()]; exists {
		return fmt.Errorf("dataflow: duplicate task id %q", t.ID())
	}
	g.tasks[t.ID()] = t
	g.order = append(g.order, t.ID())
	return nil
}

// Task returns the task registered under id.
func (g *Graph) Task(id string) (task.Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// Tasks returns all tasks in insertion order.
func (g *Graph) Tasks() []task.Task {
	out := make([]task.Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// AddEdge validates and appends e. Endpoints must exist; at most one edge
// may connect any given (src-port, tgt-port) pair; the edge must not
// create a cycle.
func (g *Graph) AddEdge(e Edge) error {
	if _, ok := g.tasks[e.SourceTaskID]; !ok {
		return fmt.Errorf("%w: source %q", ErrTaskNotFound, e.SourceTaskID)
	}
	if _, ok := g.tasks[e.TargetTaskID]; !ok {
		return fmt.Errorf("%w: target %q", ErrTaskNotFound, e.TargetTaskID)
	}
	if e.SourceTaskID == e.TargetTaskID {
		return fmt.Errorf("%w: %s -> %s", ErrWouldCycle, e.SourceTaskID, e.TargetTaskID)
	}
	newKey := e.key()
	for _, existing := range g.edges {
		if existing.key() == newKey {
			return ErrDuplicateEdge
		}
	}
	g.edges = append(g.edges, e)
	if _, err := g.TopologicalWaves(); err != nil {
		g.edges = g.edges[:len(g.edges)-1]
		return fmt.Errorf("%w: %s -> %s", ErrWouldCycle, e.SourceTaskID, e.TargetTaskID)
	}
	return nil
}

// EdgesInto returns every edge landing on (taskID, portID), preserving
// insertion order (the order in which accumulates them into an array).
func (g *Graph) EdgesInto(taskID, portID string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.TargetTaskID == taskID && (e.TargetPortID == portID || e.TargetPortID == AllPorts) {
			out = append(out, e)
		}
	}
	return out
}

// EdgesFrom returns every edge whose source is (taskID, portID).
func (g *Graph) EdgesFrom(taskID, portID string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.SourceTaskID == taskID && (e.SourcePortID == portID || e.SourcePortID == AllPorts) {
			out = append(out, e)
		}
	}
	return out
}

// Sinks returns the IDs of tasks with no outgoing edges, in graph order —
// used by the compound-task output merge.
func (g *Graph) Sinks() []string {
	hasOutgoing := make(map[string]bool)
	for _, e := range g.edges {
		hasOutgoing[e.SourceTaskID] = true
	}
	var out []string
	for _, id := range g.order {
		if !hasOutgoing[id] {
			out = append(out, id)
		}
	}
	return out
}

// TopologicalWaves computes Kahn's-algorithm wavefronts: wave[0] contains
// every task with no incoming edges, wave[1] every task whose producers are
// all in earlier waves, and so on. Returns ErrWouldCycle if the graph
// (including a tentative edge under test) is not a DAG.
func (g *Graph) TopologicalWaves() ([][]string, error) {
	inDegree := make(map[string]int, len(g.tasks))
	adjacency := make(map[string][]string, len(g.tasks))
	for id := range g.tasks {
		inDegree[id] = 0
	}
	for _, e := range g.edges {
		if e.SourceTaskID == e.TargetTaskID {
			continue
		}
		adjacency[e.SourceTaskID] = append(adjacency[e.SourceTaskID], e.TargetTaskID)
		inDegree[e.TargetTaskID]++
	}

	var waves [][]string
	remaining := len(g.tasks)
	frontier := make([]string, 0)
	for _, id := range g.order {
		if inDegree[id] == 0 {
			frontier = append(frontier, id)
		}
	}

	seenInDegree := make(map[string]int, len(inDegree))
	for k, v := range inDegree {
		seenInDegree[k] = v
	}

	for len(frontier) > 0 {
		waves = append(waves, frontier)
		remaining -= len(frontier)
		var next []string
		for _, id := range frontier {
			for _, downstream := range adjacency[id] {
				seenInDegree[downstream]--
				if seenInDegree[downstream] == 0 {
					next = append(next, downstream)
				}
			}
		}
		frontier = next
	}

	if remaining != 0 {
		return nil, ErrWouldCycle
	}
	return waves, nil
}
