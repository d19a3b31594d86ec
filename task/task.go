package task

import (
	"context"

	"github.com/workglow-dev/workglow/registry"
	"github.com/workglow-dev/workglow/schema"
)

// ProgressFunc reports 0-100 progress with an optional message. The runner
// rate-limits calls before they reach a listener (Progress).
type ProgressFunc func(pct int, message string)

// RunContext carries everything a Task's behaviour needs beyond its input:
// cancellation, progress reporting, the service registry, a callback to
// attach child tasks to this task's internal graph (used by compound
// tasks), and — for a consumer eager-chained behind a streaming producer —
// the map of upstream input streams keyed by target port.
type RunContext struct {
	Ctx          context.Context
	Progress     ProgressFunc
	Registry     *registry.Registry
	Own          func(child Task)
	InputStreams map[string]<-chan StreamEvent
}

// WithProgress returns a copy of rc with a different progress sink, used
// when the scheduler wraps a task's context per run.
func (rc RunContext) WithProgress(fn ProgressFunc) RunContext {
	rc.Progress = fn
	return rc
}

// Task is the contract every node in a graph implements. Execute is
// the only required virtual method; StreamingTask and ReactiveTask are
// optional behaviours a concrete task may additionally implement, per the
// "single virtual method + optional interfaces" design note.
type Task interface {
	ID() string
	Type() string
	InputSchema() *schema.Schema
	OutputSchema() *schema.Schema
	// Cacheable reports whether the runner should consult/populate the
	// TaskOutput cache for this task.
	Cacheable() bool
	// Execute runs the non-streaming path: resolved input in, output out.
	Execute(ctx *RunContext, input map[string]any) (map[string]any, error)
}

// StreamingTask is implemented by tasks that declare any x-stream output
// port. The runner calls ExecuteStream instead of Execute when the task's
// output schema has an append-mode (x-stream: append) port.
type StreamingTask interface {
	Task
	ExecuteStream(ctx *RunContext, input map[string]any) (<-chan StreamEvent, error)
}

// ReactiveTask is implemented by tasks offering a lightweight, idempotent,
// side-effect-free recomputation for live previews. It must never perform
// I/O and never trigger caching.
type ReactiveTask interface {
	Task
	ExecuteReactive(ctx *RunContext, input, prevOutput map[string]any) (map[string]any, error)
}

// Optional is implemented by tasks the scheduler should not treat as
// graph-fatal on failure (Failure policy).
type Optional interface {
	Optional() bool
}
