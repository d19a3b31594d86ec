// Package scheduler drives the parallel wavefront execution of a
// dataflow.Graph: it launches every task whose producers have all
// terminated, tees eager streaming edges to their consumers as soon as
// the producer starts emitting, and materialises everything else behind
// the producer's terminal event.
//
// Grounded on raw sync.WaitGroup fan-out (graph/parallel.go) and
// Kahn's-algorithm readiness tracking from a reference DAG scheduler,
// upgraded to golang.org/x/sync/errgroup plus a semaphore.Weighted
// concurrency cap because the scheduler needs a true cap and first-error
// cancellation that a raw WaitGroup doesn't give.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/workglow-dev/workglow/dataflow"
	"github.com/workglow-dev/workglow/log"
	"github.com/workglow-dev/workglow/registry"
	"github.com/workglow-dev/workglow/schema"
	"github.com/workglow-dev/workglow/task"
)

// Config configures a GraphScheduler. Zero-valued fields fall back to
// sane defaults.
type Config struct {
	Cache            task.OutputCache
	Resolvers        map[string]task.HandleResolver
	Logger           log.Logger
	Registry         *registry.Registry
	Bus              *task.Bus
	Tracer           *Tracer
	SchemaCache      *schema.CompileCache
	MaxConcurrency   int64
	ProgressInterval time.Duration
	TeeBufferSize    int
	TeeStallTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Bus == nil {
		c.Bus = task.NewBus()
	}
	if c.SchemaCache == nil {
		c.SchemaCache = schema.NewCompileCache()
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 16
	}
	if c.Logger == nil {
		c.Logger = log.GetDefaultLogger()
	}
	return c
}

// Result is the outcome of one graph run.
type Result struct {
	// Outputs holds each completed task's output, keyed by task ID.
	Outputs map[string]map[string]any
	// Incomplete lists the IDs of every task that did not reach COMPLETED:
	// failed and aborted tasks as well as tasks that never ran.
	Incomplete []string
	// FirstErr is the first non-optional task failure, nil on success.
	FirstErr error
	// OptionalErrs collects failures from tasks marked optional, which
	// don't cancel the run (Failure policy).
	OptionalErrs []error
}

// GraphScheduler executes one dataflow.Graph.
type GraphScheduler struct {
	graph  *dataflow.Graph
	config Config
}

// New returns a scheduler for g.
func New(g *dataflow.Graph, cfg Config) *GraphScheduler {
	return &GraphScheduler{graph: g, config: cfg.withDefaults()}
}

type taskRuntime struct {
	runner   *task.Runner
	done     chan struct{}
	fanout   *eagerFanout
	hasEager bool
}

// eagerFanout publishes a producer's teed branches to its eager
// consumers as soon as the producer's ExecuteStream call starts emitting,
// rather than waiting for the producer's Run to return.
type eagerFanout struct {
	ready    chan struct{}
	once     sync.Once
	branches map[string]<-chan task.StreamEvent // keyed by "consumerTaskID#consumerPortID"
}

func newEagerFanout() *eagerFanout {
	return &eagerFanout{ready: make(chan struct{})}
}

func (f *eagerFanout) publish(branches map[string]<-chan task.StreamEvent) {
	f.once.Do(func() {
		f.branches = branches
		close(f.ready)
	})
}

// Run executes the graph to completion. defaults supplies each task's
// initial input snapshot ; callers typically
// pass the result of dataflow.ResetInputData per task.
func (s *GraphScheduler) Run(ctx context.Context, defaults map[string]map[string]any) (*Result, error) {
	g := s.graph
	cfg := s.config

	runtimes := make(map[string]*taskRuntime, len(g.Tasks()))
	for _, t := range g.Tasks() {
		eagerEdges := eagerOutgoingEdges(g, t)
		rt := &taskRuntime{
			done:     make(chan struct{}),
			hasEager: len(eagerEdges) > 0,
		}
		if rt.hasEager {
			rt.fanout = newEagerFanout()
		}

		compiled := cfg.SchemaCache.GetOrCompile(t.Type(), t.InputSchema())
		rt.runner = &task.Runner{
			Task:             wrapForFanout(t, rt.fanout, eagerEdges, cfg),
			InputSchema:      compiled,
			Cache:            cfg.Cache,
			Resolvers:        cfg.Resolvers,
			Logger:           cfg.Logger,
			ProgressInterval: cfg.ProgressInterval,
			ShouldAccumulate: ShouldAccumulate(g, t, t.Cacheable()),
			State:            task.NewState(),
			Bus:              cfg.Bus,
		}
		runtimes[t.ID()] = rt
	}

	group, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(cfg.MaxConcurrency)

	var mu sync.Mutex
	outputs := make(map[string]map[string]any, len(runtimes))
	var firstErr error
	var optionalErrs []error

	for _, t := range g.Tasks() {
		t := t
		rt := runtimes[t.ID()]
		group.Go(func() error {
			defer close(rt.done)

			input, err := s.assembleInput(gctx, g, runtimes, t, defaults[t.ID()])
			if err != nil {
				return s.recordFailure(&mu, &optionalErrs, t, err)
			}
			if err := waitForProducers(gctx, g, runtimes, t); err != nil {
				return s.recordFailure(&mu, &optionalErrs, t, err)
			}

			if err := sem.Acquire(gctx, 1); err != nil {
				return s.recordFailure(&mu, &optionalErrs, t, err)
			}
			defer sem.Release(1)

			end := traceStart(cfg.Tracer, t.ID())
			rc := &task.RunContext{
				Ctx:          gctx,
				Registry:     cfg.Registry,
				InputStreams: gatherInputStreams(g, runtimes, t),
				Own:          ownFunc(cfg.Tracer, t.ID()),
			}
			output, runErr := rt.runner.Run(rc, input, nil)
			end(runErr)
			if runErr != nil {
				return s.recordFailure(&mu, &optionalErrs, t, runErr)
			}

			mu.Lock()
			outputs[t.ID()] = output
			mu.Unlock()
			return nil
		})
	}

	if groupErr := group.Wait(); groupErr != nil {
		firstErr = groupErr
	}

	var incomplete []string
	for id, rt := range runtimes {
		if rt.runner.State.Status != task.StatusCompleted {
			incomplete = append(incomplete, id)
		}
	}

	return &Result{Outputs: outputs, Incomplete: incomplete, FirstErr: firstErr, OptionalErrs: optionalErrs}, firstErr
}

func (s *GraphScheduler) recordFailure(mu *sync.Mutex, optionalErrs *[]error, t task.Task, err error) error {
	if opt, ok := t.(task.Optional); ok && opt.Optional() {
		mu.Lock()
		*optionalErrs = append(*optionalErrs, fmt.Errorf("task %s: %w", t.ID(), err))
		mu.Unlock()
		return nil
	}
	return fmt.Errorf("task %s: %w", t.ID(), err)
}

type producerKind struct {
	hasEager        bool
	hasMaterialising bool
}

// waitForProducers blocks until every materialising producer of t has
// completed and every purely-eager producer of t has begun streaming. A
// producer that sends t both an eager and a materialising edge is waited
// on via its done channel, since assembleInput needs its final output
// for the materialising edge anyway.
func waitForProducers(ctx context.Context, g *dataflow.Graph, runtimes map[string]*taskRuntime, t task.Task) error {
	for producerID, kind := range incomingProducers(g, t) {
		prt := runtimes[producerID]
		if prt == nil {
			continue
		}
		wait := prt.done
		if kind.hasEager && !kind.hasMaterialising && prt.fanout != nil {
			wait = prt.fanout.ready
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// incomingProducers maps each distinct producer task ID feeding t to
// whether its edges into t are eager, materialising, or both.
func incomingProducers(g *dataflow.Graph, t task.Task) map[string]producerKind {
	out := map[string]producerKind{}
	for _, port := range allPortNames(t.InputSchema()) {
		for _, e := range g.EdgesInto(t.ID(), port) {
			k := out[e.SourceTaskID]
			if EagerChain(g, e) {
				k.hasEager = true
			} else {
				k.hasMaterialising = true
			}
			out[e.SourceTaskID] = k
		}
	}
	return out
}

func allPortNames(s *schema.Schema) []string {
	if s == nil {
		return nil
	}
	names := s.SortedPropertyNames()
	names = append(names, dataflow.AllPorts)
	return names
}

// assembleInput builds t's initial input snapshot from its declared
// defaults plus every materialising edge landing on it.
func (s *GraphScheduler) assembleInput(ctx context.Context, g *dataflow.Graph, runtimes map[string]*taskRuntime, t task.Task, defaults map[string]any) (map[string]any, error) {
	base, err := dataflow.ResetInputData(defaults)
	if err != nil {
		return nil, fmt.Errorf("resetting input defaults: %w", err)
	}

	for _, port := range allPortNames(t.InputSchema()) {
		for _, e := range g.EdgesInto(t.ID(), port) {
			if EagerChain(g, e) {
				continue // delivered live via RunContext.InputStreams
			}
			prt := runtimes[e.SourceTaskID]
			if prt == nil {
				continue
			}
			select {
			case <-prt.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			producer, _ := g.Task(e.SourceTaskID)
			producerOutput, err := producerResult(producer, prt)
			if err != nil {
				return nil, err
			}
			value, present := producerOutput[e.SourcePortID]
			if !present {
				continue
			}
			portSchema := portLookup(t.InputSchema(), e.TargetPortID)
			updated, _ := dataflow.AddInput(portSchema, base[e.TargetPortID], value)
			base[e.TargetPortID] = updated
		}
	}
	return base, nil
}

func producerResult(producer task.Task, prt *taskRuntime) (map[string]any, error) {
	if prt.runner.State.Status == task.StatusFailed || prt.runner.State.Status == task.StatusAborted {
		return nil, fmt.Errorf("producer %s did not complete successfully", producer.ID())
	}
	return prt.runner.State.Output, nil
}

func portLookup(s *schema.Schema, port string) *schema.Schema {
	if s == nil {
		return nil
	}
	if prop, ok := s.Properties[port]; ok {
		return prop
	}
	return s.Properties[dataflow.AllPorts]
}

func gatherInputStreams(g *dataflow.Graph, runtimes map[string]*taskRuntime, t task.Task) map[string]<-chan task.StreamEvent {
	streams := map[string]<-chan task.StreamEvent{}
	for _, port := range allPortNames(t.InputSchema()) {
		for _, e := range g.EdgesInto(t.ID(), port) {
			if !EagerChain(g, e) {
				continue
			}
			prt := runtimes[e.SourceTaskID]
			if prt == nil || prt.fanout == nil {
				continue
			}
			if ch, ok := prt.fanout.branches[fanoutKey(t.ID(), e.TargetPortID)]; ok {
				streams[e.TargetPortID] = ch
			}
		}
	}
	return streams
}

func fanoutKey(consumerTaskID, consumerPortID string) string {
	return consumerTaskID + "#" + consumerPortID
}

// eagerOutgoingEdges returns t's outgoing edges that qualify as eager
// streaming sub-chain edges, and are only possible if t actually
// implements task.StreamingTask.
func eagerOutgoingEdges(g *dataflow.Graph, t task.Task) []dataflow.Edge {
	if _, ok := t.(task.StreamingTask); !ok {
		return nil
	}
	var out []dataflow.Edge
	for _, port := range allPortNames(t.OutputSchema()) {
		for _, e := range g.EdgesFrom(t.ID(), port) {
			if EagerChain(g, e) {
				out = append(out, e)
			}
		}
	}
	return out
}

// wrapForFanout decorates t so its ExecuteStream call tees into one
// branch per eager consumer plus a branch handed back to t's own Runner,
// publishing the consumer branches on fanout as soon as streaming starts.
func wrapForFanout(t task.Task, fanout *eagerFanout, eagerEdges []dataflow.Edge, cfg Config) task.Task {
	if fanout == nil || len(eagerEdges) == 0 {
		return t
	}
	streaming := t.(task.StreamingTask)
	return &fanoutTask{
		StreamingTask: streaming,
		fanout:        fanout,
		eagerEdges:    eagerEdges,
		bufferSize:    cfg.TeeBufferSize,
		stallTimeout:  cfg.TeeStallTimeout,
	}
}

type fanoutTask struct {
	task.StreamingTask
	fanout       *eagerFanout
	eagerEdges   []dataflow.Edge
	bufferSize   int
	stallTimeout time.Duration
}

func (f *fanoutTask) ExecuteStream(ctx *task.RunContext, input map[string]any) (<-chan task.StreamEvent, error) {
	events, err := f.StreamingTask.ExecuteStream(ctx, input)
	if err != nil {
		return nil, err
	}
	branches := Tee(events, len(f.eagerEdges)+1, f.bufferSize, f.stallTimeout)

	published := make(map[string]<-chan task.StreamEvent, len(f.eagerEdges))
	for i, e := range f.eagerEdges {
		published[fanoutKey(e.TargetTaskID, e.TargetPortID)] = branches[i+1]
	}
	f.fanout.publish(published)

	return branches[0], nil
}

func traceStart(tr *Tracer, taskID string) func(error) {
	if tr == nil {
		return func(error) {}
	}
	return tr.Start(SpanTaskStart, taskID)
}

// ownFunc returns the RunContext.Own callback a task uses to attach
// dynamically built child tasks (compound/iterator tasks) to itself for
// tracing purposes. A nil Tracer makes it a no-op.
func ownFunc(tr *Tracer, parentID string) func(task.Task) {
	if tr == nil {
		return func(task.Task) {}
	}
	return func(child task.Task) {
		tr.RecordChild(parentID, child.ID())
	}
}
