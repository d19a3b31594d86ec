package dataflow

import (
	"fmt"
	"sort"
	"strings"
)

// ToDOT renders g as a Graphviz DOT digraph, grounded on this
// graph/visualization.go Mermaid exporter and generalized to per-port
// edge labels. This is a supplemented feature (SPEC_FULL.md ) with
// no spec.md analogue; it exists purely for debugging and documentation.
func ToDOT(g *Graph) string {
	var b strings.Builder
	b.WriteString("digraph workflow {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, fontname=\"sans-serif\"];\n")

	for _, id := range sortedIDs(g) {
		t, _ := g.Task(id)
		label := fmt.Sprintf("%s\\n(%s)", id, t.Type())
		b.WriteString(fmt.Sprintf("  %q [label=%q];\n", id, label))
	}

	for _, e := range g.Edges() {
		label := fmt.Sprintf("%s -> %s", e.SourcePortID, e.TargetPortID)
		b.WriteString(fmt.Sprintf("  %q -> %q [label=%q];\n", e.SourceTaskID, e.TargetTaskID, label))
	}

	b.WriteString("}\n")
	return b.String()
}

func sortedIDs(g *Graph) []string {
	ids := make([]string, 0)
	for _, t := range g.Tasks() {
		ids = append(ids, t.ID())
	}
	sort.Strings(ids)
	return ids
}
