package dataflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workglow-dev/workglow/schema"
	"github.com/workglow-dev/workglow/task"
)

func stubFactory(typ string) Factory {
	return func(id string, defaults, extras map[string]any, subgraph *Graph) (task.Task, error) {
		return &stubTask{
			id:  id,
			typ: typ,
			inputSchema: &schema.Schema{
				Type:       schema.TypeObject,
				Properties: map[string]*schema.Schema{"in": {Type: schema.TypeString}},
			},
			outputSchema: &schema.Schema{
				Type:       schema.TypeObject,
				Properties: map[string]*schema.Schema{"out": {Type: schema.TypeString}},
			},
		}, nil
	}
}

func TestSerializeDeserialize_RoundTrip(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask(&stubTask{
		id:  "a",
		typ: "echo",
		inputSchema: &schema.Schema{
			Type:       schema.TypeObject,
			Properties: map[string]*schema.Schema{"in": {Type: schema.TypeString}},
		},
		outputSchema: &schema.Schema{
			Type:       schema.TypeObject,
			Properties: map[string]*schema.Schema{"out": {Type: schema.TypeString}},
		},
	}))
	require.NoError(t, g.AddTask(&stubTask{id: "b", typ: "echo"}))
	require.NoError(t, g.AddEdge(Edge{SourceTaskID: "a", SourcePortID: "out", TargetTaskID: "b", TargetPortID: "in"}))

	gj := Serialize(g, nil, nil)

	reg := NewTypeRegistry()
	reg.Register("echo", stubFactory("echo"))

	rebuilt, err := reg.Deserialize(gj)
	require.NoError(t, err)

	assert.Len(t, rebuilt.Tasks(), 2)
	edges := rebuilt.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, Edge{SourceTaskID: "a", SourcePortID: "out", TargetTaskID: "b", TargetPortID: "in"}, edges[0])
}

func TestSerialize_MarshalUnmarshalBytes(t *testing.T) {
	g := New()
	require.NoError(t, g.AddTask(&stubTask{id: "a", typ: "echo"}))

	gj := Serialize(g, func(task.Task) string { return "My Task" }, func(task.Task) map[string]any {
		return map[string]any{"k": "v"}
	})

	data, err := gj.Marshal()
	require.NoError(t, err)

	back, err := UnmarshalGraphJSON(data)
	require.NoError(t, err)
	require.Len(t, back.Tasks, 1)
	assert.Equal(t, "My Task", back.Tasks[0].Title)
	assert.Equal(t, "v", back.Tasks[0].Defaults["k"])
}

func TestDeserialize_UnknownTypeErrors(t *testing.T) {
	reg := NewTypeRegistry()
	_, err := reg.Deserialize(GraphJSON{Tasks: []TaskJSON{{ID: "a", Type: "nope"}}})
	assert.Error(t, err)
}

func TestSchemaJSON_RoundTrip(t *testing.T) {
	s := &schema.Schema{
		Type:     schema.TypeArray,
		Items:    &schema.Schema{Type: schema.TypeString, Format: "model:EmbeddingTask", Stream: schema.StreamAppend},
		Required: []string{"x"},
	}
	back := FromSchemaJSON(ToSchemaJSON(s))
	assert.Equal(t, s.Type, back.Type)
	assert.Equal(t, s.Items.Format, back.Items.Format)
	assert.Equal(t, s.Items.Stream, back.Items.Stream)
}
