package compound

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workglow-dev/workglow/dataflow"
	"github.com/workglow-dev/workglow/schema"
	"github.com/workglow-dev/workglow/task"
)

type stepTask struct {
	id      string
	in, out *schema.Schema
	fn      func(map[string]any) (map[string]any, error)
}

func (s *stepTask) ID() string                  { return s.id }
func (s *stepTask) Type() string                { return "step" }
func (s *stepTask) InputSchema() *schema.Schema  { return s.in }
func (s *stepTask) OutputSchema() *schema.Schema { return s.out }
func (s *stepTask) Cacheable() bool              { return false }
func (s *stepTask) Execute(ctx *task.RunContext, input map[string]any) (map[string]any, error) {
	return s.fn(input)
}

func textPort() *schema.Schema {
	return &schema.Schema{Type: schema.TypeObject, Properties: map[string]*schema.Schema{
		"text": {Type: schema.TypeString},
	}}
}

func buildInnerGraph(t *testing.T) *dataflow.Graph {
	t.Helper()
	double := &stepTask{
		id: "double", in: textPort(), out: textPort(),
		fn: func(in map[string]any) (map[string]any, error) {
			return map[string]any{"text": in["text"].(string) + in["text"].(string)}, nil
		},
	}
	shout := &stepTask{
		id: "shout", in: textPort(), out: textPort(),
		fn: func(in map[string]any) (map[string]any, error) {
			return map[string]any{"text": in["text"].(string) + "!"}, nil
		},
	}
	g := dataflow.New()
	require.NoError(t, g.AddTask(double))
	require.NoError(t, g.AddTask(shout))
	require.NoError(t, g.AddEdge(dataflow.Edge{SourceTaskID: "double", SourcePortID: "text", TargetTaskID: "shout", TargetPortID: "text"}))
	return g
}

func TestCompoundTask_ExecutesInnerGraphAndMergesSingleSink(t *testing.T) {
	g := buildInnerGraph(t)
	c := New("compound-1", "compound", g)

	out, err := c.Execute(&task.RunContext{Ctx: context.Background()}, map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hihi!", out["text"])
}

func TestCompoundTask_PropertyArrayMergesMultipleSinks(t *testing.T) {
	left := &stepTask{
		id: "left", in: textPort(), out: textPort(),
		fn: func(in map[string]any) (map[string]any, error) {
			return map[string]any{"text": "L:" + in["text"].(string)}, nil
		},
	}
	right := &stepTask{
		id: "right", in: textPort(), out: textPort(),
		fn: func(in map[string]any) (map[string]any, error) {
			return map[string]any{"text": "R:" + in["text"].(string)}, nil
		},
	}
	g := dataflow.New()
	require.NoError(t, g.AddTask(left))
	require.NoError(t, g.AddTask(right))

	c := New("compound-2", "compound", g)
	out, err := c.Execute(&task.RunContext{Ctx: context.Background()}, map[string]any{"text": "x"})
	require.NoError(t, err)

	arr, ok := out["text"].([]any)
	require.True(t, ok, "expected merged array output, got %T", out["text"])
	assert.ElementsMatch(t, []any{"L:x", "R:x"}, arr)
}

func TestCompoundTask_NamedTableMerge(t *testing.T) {
	g := buildInnerGraph(t)
	c := New("compound-3", "compound", g, WithMergeStrategy(MergeNamedTable))

	out, err := c.Execute(&task.RunContext{Ctx: context.Background()}, map[string]any{"text": "hi"})
	require.NoError(t, err)
	shoutOut, ok := out["shout"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hihi!", shoutOut["text"])
}

func TestCompoundTask_PropagatesChildFailure(t *testing.T) {
	boom := &stepTask{
		id: "boom",
		fn: func(map[string]any) (map[string]any, error) { return nil, fmt.Errorf("kaboom") },
	}
	g := dataflow.New()
	require.NoError(t, g.AddTask(boom))

	c := New("compound-4", "compound", g)
	_, err := c.Execute(&task.RunContext{Ctx: context.Background()}, nil)
	assert.Error(t, err)
}

func TestDeriveOutputSchema_CarriesSinkPortSchema(t *testing.T) {
	g := buildInnerGraph(t)
	out := DeriveOutputSchema(g)
	require.Contains(t, out.Properties, "text")
	assert.Equal(t, schema.TypeString, out.Properties["text"].Type)
}
