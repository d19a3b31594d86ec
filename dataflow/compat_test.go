package dataflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/workglow-dev/workglow/schema"
)

func TestCompatible_AnyTargetAcceptsEverything(t *testing.T) {
	source := &schema.Schema{Type: schema.TypeString}
	target := &schema.Schema{Type: schema.TypeAny}
	assert.True(t, Compatible(source, target))
}

func TestCompatible_BaseTypeMismatchRejected(t *testing.T) {
	source := &schema.Schema{Type: schema.TypeString}
	target := &schema.Schema{Type: schema.TypeNumber}
	assert.False(t, Compatible(source, target))
}

func TestCompatible_ArrayIntoReplicateScalarTarget(t *testing.T) {
	source := &schema.Schema{Type: schema.TypeArray, Items: &schema.Schema{Type: schema.TypeString, Format: "model:EmbeddingTask"}}
	target := &schema.Schema{Type: schema.TypeString, Replicate: true, Format: "model:EmbeddingTask"}
	assert.True(t, Compatible(source, target))
}

func TestCompatible_ArrayIntoNonReplicateScalarRejected(t *testing.T) {
	source := &schema.Schema{Type: schema.TypeArray, Items: &schema.Schema{Type: schema.TypeString}}
	target := &schema.Schema{Type: schema.TypeString}
	assert.False(t, Compatible(source, target))
}

func TestCompatible_FormatKindMismatchRejected(t *testing.T) {
	source := &schema.Schema{Type: schema.TypeString, Format: "model:ChatTask"}
	target := &schema.Schema{Type: schema.TypeString, Format: "embedding:EmbeddingTask"}
	assert.False(t, Compatible(source, target))
}

func TestCompatible_NarrowingRequiresMatchOrGeneric(t *testing.T) {
	target := &schema.Schema{Type: schema.TypeString, Format: "model:EmbeddingTask"}

	generic := &schema.Schema{Type: schema.TypeString, Format: "model"}
	assert.True(t, Compatible(generic, target))

	matching := &schema.Schema{Type: schema.TypeString, Format: "model:EmbeddingTask"}
	assert.True(t, Compatible(matching, target))

	mismatched := &schema.Schema{Type: schema.TypeString, Format: "model:ChatTask"}
	assert.False(t, Compatible(mismatched, target))
}

func TestCompatible_TargetWithoutFormatAcceptsAnySource(t *testing.T) {
	source := &schema.Schema{Type: schema.TypeString, Format: "model:EmbeddingTask"}
	target := &schema.Schema{Type: schema.TypeString}
	assert.True(t, Compatible(source, target))
}
