package scheduler

import (
	"sync"
	"time"
)

// SpanEvent names the phase a TraceSpan records.
type SpanEvent string

const (
	SpanGraphStart SpanEvent = "graph_start"
	SpanGraphEnd   SpanEvent = "graph_end"
	SpanTaskStart  SpanEvent = "task_start"
	SpanTaskEnd    SpanEvent = "task_end"
	SpanTaskError  SpanEvent = "task_error"
)

// TraceSpan records timing and outcome for one phase of graph execution,
// grounded on TraceSpan (graph/tracing.go), generalized from
// node/edge terminology to task terminology and from a TraceHook callback
// list to spans collected in a Tracer (read back with Spans).
type TraceSpan struct {
	Event     SpanEvent
	TaskID    string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Err       error
}

// Tracer collects spans for one graph run, safe for concurrent use by the
// wavefront's parallel task goroutines.
type Tracer struct {
	mu       sync.Mutex
	spans    []TraceSpan
	children map[string][]string
}

// NewTracer returns an empty tracer.
func NewTracer() *Tracer { return &Tracer{} }

// Start begins a span for taskID and event, returning a function that
// ends it.
func (t *Tracer) Start(event SpanEvent, taskID string) func(err error) {
	start := time.Now()
	return func(err error) {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.spans = append(t.spans, TraceSpan{
			Event:     event,
			TaskID:    taskID,
			StartTime: start,
			EndTime:   time.Now(),
			Duration:  time.Since(start),
			Err:       err,
		})
	}
}

// Spans returns a snapshot of recorded spans in recording order.
func (t *Tracer) Spans() []TraceSpan {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceSpan, len(t.spans))
	copy(out, t.spans)
	return out
}

// RecordChild attaches childID under parentID, recording the dynamic
// child-task relationship a compound or iterator task declares through
// RunContext.Own so nested spans can be attributed to their parent.
func (t *Tracer) RecordChild(parentID, childID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.children == nil {
		t.children = make(map[string][]string)
	}
	t.children[parentID] = append(t.children[parentID], childID)
}

// Children returns the child task IDs recorded under parentID, in
// attachment order.
func (t *Tracer) Children(parentID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.children[parentID]))
	copy(out, t.children[parentID])
	return out
}
