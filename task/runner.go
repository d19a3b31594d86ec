package task

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/workglow-dev/workglow/log"
	"github.com/workglow-dev/workglow/schema"
)

// OutputCache is the narrow interface the runner needs from the TaskOutput
// cache. It is defined here (consumer side) rather than in the
// repository package, so task has no dependency on repository; concrete
// implementations live in repository/taskcache.
type OutputCache interface {
	Get(ctx context.Context, taskType string, input map[string]any) (output map[string]any, hit bool, err error)
	Put(ctx context.Context, taskType string, input, output map[string]any) error
}

// HandleResolver resolves a schema-annotated placeholder (e.g. a model ID)
// to a live object looked up in the service registry. A resolver is registered per
// format kind (the part of Schema.Format before the ':').
type HandleResolver func(ctx *RunContext, narrow string, value any) (any, error)

// Runner drives the seven-step lifecycle of for one Task. A Runner is
// owned by exactly one Task instance; concurrent Run calls on the same
// Runner for the same task would race on State and must not happen — the
// scheduler creates one Runner per task node.
type Runner struct {
	Task Task

	// InputSchema is the compiled input validator; callers typically get
	// it from a shared schema.CompileCache keyed by Task.Type().
	InputSchema *schema.Compiled

	Cache     OutputCache
	Resolvers map[string]HandleResolver

	Logger log.Logger

	// ProgressInterval rate-limits progress emission; zero means no
	// throttling beyond per-call dedup of identical percentages.
	ProgressInterval time.Duration

	// ShouldAccumulate is set by the graph scheduler 	// accumulation decision before each run.
	ShouldAccumulate bool

	State *State
	Bus   *Bus
}

// State holds a task's mutable runtime attributes (Task attributes).
// Only the owning Runner mutates it while running.
type State struct {
	Status      Status
	Progress    int
	Input       map[string]any
	Output      map[string]any
	LastError   error
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// NewState returns a freshly PENDING state.
func NewState() *State {
	return &State{Status: StatusPending, CreatedAt: time.Now()}
}

func (r *Runner) logger() log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.GetDefaultLogger()
}

func (r *Runner) setStatus(s Status) {
	if !CanTransition(r.State.Status, s) && r.State.Status != s {
		r.logger().Warn("task %s: illegal status transition %s -> %s", r.Task.ID(), r.State.Status, s)
	}
	r.State.Status = s
	if r.Bus != nil {
		r.Bus.Emit(Event{Topic: TopicStatus, TaskID: r.Task.ID(), Status: s})
	}
}

// Run executes the task's lifecycle against defaults merged with overrides,
// returning the final output snapshot or a classified *Error.
func (r *Runner) Run(ctx *RunContext, defaults, overrides map[string]any) (map[string]any, error) {
	r.State.StartedAt = time.Now()
	if r.Bus != nil {
		r.Bus.Emit(Event{Topic: TopicStart, TaskID: r.Task.ID()})
	}

	// Step 1: apply user overrides to the input snapshot.
	input := MergeInputs(defaults, overrides)
	r.State.Input = input

	r.setStatus(StatusProcessing)

	// Progress reports update State.Progress; a repeated percentage is
	// dropped and TopicProgress events are spaced by ProgressInterval.
	lastPct, lastProgress := -1, time.Time{}
	progressCtx := ctx.WithProgress(func(pct int, message string) {
		if pct == lastPct {
			return
		}
		lastPct = pct
		r.State.Progress = pct
		if r.Bus != nil {
			r.throttledEmit(&lastProgress, Event{Topic: TopicProgress, TaskID: r.Task.ID(), Progress: pct, Message: message})
		}
	})
	ctx = &progressCtx

	// Step 2: resolve schema-annotated placeholders.
	resolved, err := r.resolvePlaceholders(ctx, input)
	if err != nil {
		return r.fail(KindConfiguration, err)
	}

	// Step 3: validate input against the compiled schema; fail fast.
	if r.InputSchema != nil {
		if err := r.InputSchema.Validate(resolved); err != nil {
			return r.fail(KindInvalidInput, err)
		}
	}

	// Step 4: cache consult.
	if r.Task.Cacheable() && r.Cache != nil {
		output, hit, cacheErr := r.Cache.Get(ctx.Ctx, r.Task.Type(), resolved)
		if cacheErr != nil {
			r.logger().Warn("task %s: cache read failed, treating as miss: %v", r.Task.ID(), cacheErr)
		} else if hit {
			return r.replayCacheHit(ctx, resolved, output)
		}
	}

	// Step 5: dispatch to streaming or non-streaming execution.
	output, err := r.dispatch(ctx, resolved)
	if err != nil {
		return nil, err // already classified by dispatch/fail helpers
	}

	// Step 6: save to cache on success.
	if r.Task.Cacheable() && r.Cache != nil {
		if err := r.Cache.Put(ctx.Ctx, r.Task.Type(), resolved, output); err != nil {
			r.logger().Warn("task %s: cache write failed, surfacing success anyway: %v", r.Task.ID(), err)
		}
	}

	r.State.Output = output
	r.State.CompletedAt = time.Now()
	r.setStatus(StatusCompleted)
	if r.Bus != nil {
		r.Bus.Emit(Event{Topic: TopicComplete, TaskID: r.Task.ID(), Output: output})
	}
	return output, nil
}

func (r *Runner) resolvePlaceholders(ctx *RunContext, input map[string]any) (map[string]any, error) {
	if len(r.Resolvers) == 0 || r.Task.InputSchema() == nil {
		return input, nil
	}
	out := maps.Clone(input)
	for name, propSchema := range r.Task.InputSchema().Properties {
		kind, narrow := propSchema.FormatKind()
		if kind == "" {
			continue
		}
		resolver, ok := r.Resolvers[kind]
		if !ok {
			continue
		}
		value, present := out[name]
		if !present {
			continue
		}
		resolvedValue, err := resolver(ctx, narrow, value)
		if err != nil {
			return nil, fmt.Errorf("resolving %s for port %q: %w", propSchema.Format, name, err)
		}
		out[name] = resolvedValue
	}
	return out, nil
}

func (r *Runner) replayCacheHit(ctx *RunContext, input, cached map[string]any) (map[string]any, error) {
	// Replay a synthetic finish event to preserve the stream-event
	// contract (step 4 / testable property 3 and scenario S6), then
	// run ExecuteReactive if offered and return.
	r.setStatus(StatusStreaming)
	if r.Bus != nil {
		r.Bus.Emit(Event{Topic: TopicStreamStart, TaskID: r.Task.ID()})
		r.Bus.Emit(Event{Topic: TopicStreamEnd, TaskID: r.Task.ID(), Stream: FinishEvent(cached)})
	}

	output := cached
	if reactive, ok := r.Task.(ReactiveTask); ok {
		reactOut, err := reactive.ExecuteReactive(ctx, input, cached)
		if err == nil {
			output = reactOut
		} else {
			r.logger().Warn("task %s: reactive recompute after cache hit failed: %v", r.Task.ID(), err)
		}
	}

	r.State.Output = output
	r.State.CompletedAt = time.Now()
	r.setStatus(StatusCompleted)
	if r.Bus != nil {
		r.Bus.Emit(Event{Topic: TopicComplete, TaskID: r.Task.ID(), Output: output})
	}
	return output, nil
}

func (r *Runner) dispatch(ctx *RunContext, input map[string]any) (map[string]any, error) {
	streaming, isStreaming := r.Task.(StreamingTask)
	hasStreamPort := r.Task.OutputSchema() != nil && hasAppendPort(r.Task.OutputSchema())

	if isStreaming && hasStreamPort {
		return r.runStreaming(ctx, streaming, input)
	}
	return r.runDirect(ctx, input)
}

func hasAppendPort(s *schema.Schema) bool {
	for _, prop := range s.Properties {
		if prop.StreamMode() == schema.StreamAppend {
			return true
		}
	}
	return false
}

func (r *Runner) runDirect(ctx *RunContext, input map[string]any) (map[string]any, error) {
	output, err := r.Task.Execute(ctx, input)
	if err != nil {
		if ctx.Ctx.Err() != nil {
			return r.fail(KindAborted, ctx.Ctx.Err())
		}
		return r.fail(KindFailed, err)
	}
	return output, nil
}

func (r *Runner) runStreaming(ctx *RunContext, streaming StreamingTask, input map[string]any) (map[string]any, error) {
	events, err := streaming.ExecuteStream(ctx, input)
	if err != nil {
		return r.fail(KindFailed, err)
	}

	r.setStatus(StatusStreaming)
	if r.Bus != nil {
		r.Bus.Emit(Event{Topic: TopicStreamStart, TaskID: r.Task.ID()})
	}

	accumulators := map[string]*stringBuilder{}
	var lastEmit time.Time

	for {
		select {
		case <-ctx.Ctx.Done():
			return r.fail(KindAborted, ctx.Ctx.Err())
		case ev, ok := <-events:
			if !ok {
				return r.fail(KindFailed, errors.New("stream closed without a terminal event"))
			}

			switch ev.Kind {
			case EventTextDelta:
				if r.ShouldAccumulate {
					acc := accumulators[ev.Port]
					if acc == nil {
						acc = &stringBuilder{}
						accumulators[ev.Port] = acc
					}
					acc.WriteString(ev.TextDelta)
				}
				if r.Bus != nil {
					r.throttledEmit(&lastEmit, Event{Topic: TopicStreamChunk, TaskID: r.Task.ID(), Stream: ev})
				}

			case EventObjectDelta, EventSnapshot:
				if r.Bus != nil {
					r.Bus.Emit(Event{Topic: TopicStreamChunk, TaskID: r.Task.ID(), Stream: ev})
				}

			case EventFinish:
				data := ev.Data
				if r.ShouldAccumulate && len(accumulators) > 0 {
					data = maps.Clone(data)
					if data == nil {
						data = map[string]any{}
					}
					for port, acc := range accumulators {
						data[port] = acc.String()
					}
				}
				if r.Bus != nil {
					r.Bus.Emit(Event{Topic: TopicStreamEnd, TaskID: r.Task.ID(), Stream: FinishEvent(data)})
				}
				return data, nil

			case EventError:
				return r.fail(KindFailed, ev.Err)
			}
		}
	}
}

func (r *Runner) throttledEmit(lastEmit *time.Time, ev Event) {
	now := time.Now()
	if r.ProgressInterval > 0 && ev.Topic == TopicProgress && !lastEmit.IsZero() && now.Sub(*lastEmit) < r.ProgressInterval {
		return
	}
	*lastEmit = now
	r.Bus.Emit(ev)
}

func (r *Runner) fail(kind Kind, cause error) (map[string]any, error) {
	wrapped := NewError(kind, r.Task.ID(), cause)
	r.State.LastError = wrapped
	r.State.CompletedAt = time.Now()

	if kind == KindAborted {
		r.setStatus(StatusAborting)
		r.setStatus(StatusAborted)
		if r.Bus != nil {
			r.Bus.Emit(Event{Topic: TopicAbort, TaskID: r.Task.ID(), Err: wrapped})
		}
	} else {
		r.setStatus(StatusFailed)
		if r.Bus != nil {
			r.Bus.Emit(Event{Topic: TopicError, TaskID: r.Task.ID(), Err: wrapped})
		}
	}
	return nil, wrapped
}

// MergeInputs applies overrides onto defaults, dropping unknown keys is the
// caller's responsibility (schema-aware filtering happens in the dataflow
// package's SetInput, which knows the target schema); this is the
// unconditional shallow-merge primitive both layers share.
func MergeInputs(defaults, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(overrides))
	maps.Copy(out, defaults)
	maps.Copy(out, overrides)
	return out
}

type stringBuilder struct {
	parts []string
}

func (b *stringBuilder) WriteString(s string) { b.parts = append(b.parts, s) }
func (b *stringBuilder) String() string {
	total := 0
	for _, p := range b.parts {
		total += len(p)
	}
	buf := make([]byte, 0, total)
	for _, p := range b.parts {
		buf = append(buf, p...)
	}
	return string(buf)
}
