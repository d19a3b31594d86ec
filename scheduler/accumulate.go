package scheduler

import (
	"github.com/workglow-dev/workglow/dataflow"
	"github.com/workglow-dev/workglow/schema"
	"github.com/workglow-dev/workglow/task"
)

// EagerChain reports whether an edge is part of an eager streaming
// sub-chain: the producer's port streams append-mode output and the
// target port tolerates streaming input.
func EagerChain(g *dataflow.Graph, e dataflow.Edge) bool {
	producer, ok := g.Task(e.SourceTaskID)
	if !ok {
		return false
	}
	consumer, ok := g.Task(e.TargetTaskID)
	if !ok {
		return false
	}

	producerPort := portSchema(producer.OutputSchema(), e.SourcePortID)
	consumerPort := portSchema(consumer.InputSchema(), e.TargetPortID)

	if producerPort == nil || producerPort.StreamMode() != schema.StreamAppend {
		return false
	}
	return consumerPort != nil && consumerPort.AcceptsStreamingInput()
}

func portSchema(s *schema.Schema, port string) *schema.Schema {
	if s == nil {
		return nil
	}
	if prop, ok := s.Properties[port]; ok {
		return prop
	}
	if prop, ok := s.Properties[dataflow.AllPorts]; ok {
		return prop
	}
	return nil
}

// ShouldAccumulate implements the accumulation decision: the
// scheduler sets ShouldAccumulate=false iff every outgoing edge of
// taskID is an eager streaming edge into a streaming-tolerant consumer
// AND the producer's output is not being cached. Any materialising
// consumer, any non-eager edge, or an active cache forces accumulation.
func ShouldAccumulate(g *dataflow.Graph, t task.Task, cacheable bool) bool {
	if cacheable {
		return true
	}

	outSchema := t.OutputSchema()
	if outSchema == nil {
		return true
	}

	hasOutgoing := false
	for portName := range outSchema.Properties {
		for _, e := range g.EdgesFrom(t.ID(), portName) {
			hasOutgoing = true
			if !EagerChain(g, e) {
				return true
			}
		}
	}
	if !hasOutgoing {
		// No outgoing edges at all: nothing downstream needs a live
		// stream, so the accumulated finish payload is still the only
		// observable output (a sink task).
		return true
	}
	return false
}
