package dataflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workglow-dev/workglow/schema"
)

func TestSetInput_DropsUndeclaredKeysWithoutAdditionalProperties(t *testing.T) {
	s := &schema.Schema{
		Type:       schema.TypeObject,
		Properties: map[string]*schema.Schema{"a": {Type: schema.TypeString}},
	}
	out := SetInput(s, map[string]any{"a": "x"}, map[string]any{"a": "y", "unknown": "z"})
	assert.Equal(t, map[string]any{"a": "y"}, out)
}

func TestSetInput_AllowsAdditionalProperties(t *testing.T) {
	s := &schema.Schema{Type: schema.TypeObject, AdditionalProperties: true}
	out := SetInput(s, map[string]any{"a": "x"}, map[string]any{"unknown": "z"})
	assert.Equal(t, "z", out["unknown"])
}

func TestAddInput_ArrayPortAccumulates(t *testing.T) {
	s := &schema.Schema{Type: schema.TypeArray, Items: &schema.Schema{Type: schema.TypeString}}
	updated, changed := AddInput(s, []any{"x"}, "y")
	assert.True(t, changed)
	assert.Equal(t, []any{"x", "y"}, updated)
}

func TestAddInput_ScalarPortReplaces(t *testing.T) {
	s := &schema.Schema{Type: schema.TypeString}
	updated, changed := AddInput(s, "x", "y")
	assert.True(t, changed)
	assert.Equal(t, "y", updated)
}

func TestAddInput_NoOpDetection(t *testing.T) {
	s := &schema.Schema{Type: schema.TypeString}
	updated, changed := AddInput(s, "x", "x")
	assert.False(t, changed)
	assert.Equal(t, "x", updated)
}

func TestAddInput_FirstWriteToArrayPortWrapsScalar(t *testing.T) {
	s := &schema.Schema{Type: schema.TypeArray}
	updated, changed := AddInput(s, nil, "first")
	assert.True(t, changed)
	assert.Equal(t, []any{"first"}, updated)
}

func TestResetInputData_DeepCopiesPlainContainers(t *testing.T) {
	inner := map[string]any{"x": 1}
	defaults := map[string]any{"nested": inner, "list": []any{1, 2}}

	cloned, err := ResetInputData(defaults)
	require.NoError(t, err)

	clonedInner := cloned["nested"].(map[string]any)
	clonedInner["x"] = 2
	assert.Equal(t, 1, inner["x"], "mutating the clone must not affect the original")

	clonedList := cloned["list"].([]any)
	clonedList[0] = 99
	assert.Equal(t, 1, defaults["list"].([]any)[0])
}

func TestResetInputData_PreservesOpaqueHandlesByReference(t *testing.T) {
	type handle struct{ n int }
	h := &handle{n: 1}
	defaults := map[string]any{"db": h}

	cloned, err := ResetInputData(defaults)
	require.NoError(t, err)
	assert.Same(t, h, cloned["db"])
}

func TestResetInputData_DetectsCycles(t *testing.T) {
	a := map[string]any{}
	b := map[string]any{"a": a}
	a["b"] = b

	_, err := ResetInputData(a)
	assert.Error(t, err)
}

func TestForwardAllPorts_NoWildcardLeavesCurrentUnchanged(t *testing.T) {
	s := &schema.Schema{Type: schema.TypeObject, Properties: map[string]*schema.Schema{"x": {Type: schema.TypeString}}}
	out := ForwardAllPorts(s, map[string]any{"x": "a"}, map[string]any{"y": "b"})
	assert.Equal(t, map[string]any{"x": "a"}, out)
}

func TestForwardAllPorts_WithWildcardMergesPayload(t *testing.T) {
	s := &schema.Schema{
		Type: schema.TypeObject,
		Properties: map[string]*schema.Schema{
			schema.AllPorts: {Type: schema.TypeAny},
		},
	}
	out := ForwardAllPorts(s, map[string]any{"x": "a"}, map[string]any{"y": "b"})
	assert.Equal(t, "a", out["x"])
	assert.Equal(t, "b", out["y"])
}
