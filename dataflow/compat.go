package dataflow

import "github.com/workglow-dev/workglow/schema"

// Compatible reports whether a value flowing from source (an output port
// schema) may land on target (an input port schema), per the semantic port
// compatibility rules of component A's port system.
//
// Rules, in order:
//  1. A target of TypeAny accepts anything.
//  2. Base types must match, except an array source may land on a scalar
//     target only if the target is x-replicate. Compatible only accepts
//     such an edge; the scheduler delivers the whole array as the port's
//     value and does not run the consumer once per element.
//  3. If target declares a Format, source must declare the same kind; if
//     target additionally narrows (e.g. "model:EmbeddingTask"), source must
//     either carry no narrowing (generic) or the identical narrowing.
func Compatible(source, target *schema.Schema) bool {
	if target == nil || target.Type == schema.TypeAny {
		return true
	}
	if source == nil {
		return true
	}

	if source.Type != target.Type {
		if source.Type == schema.TypeArray && target.Replicate {
			return compatibleFormat(source.Items, target)
		}
		return false
	}

	return compatibleFormat(source, target)
}

func compatibleFormat(source, target *schema.Schema) bool {
	targetKind, targetNarrow := target.FormatKind()
	if targetKind == "" {
		return true
	}
	if source == nil {
		return false
	}
	sourceKind, sourceNarrow := source.FormatKind()
	if sourceKind != targetKind {
		return false
	}
	if targetNarrow == "" {
		return true
	}
	return sourceNarrow == "" || sourceNarrow == targetNarrow
}
