// Workglow - a DAG-based task execution engine for Go
//
// Workglow runs directed graphs of tasks where edges carry typed values
// between named ports. It handles scheduling (readiness, concurrency caps,
// cancellation propagation), streaming outputs, output caching, and
// durable job queues for deferred or rate-limited work, on top of a
// pluggable storage layer.
//
// # Quick Start
//
// Install the package:
//
//	go get github.com/workglow-dev/workglow
//
// Basic example:
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//
//		"github.com/workglow-dev/workglow/dataflow"
//		"github.com/workglow-dev/workglow/scheduler"
//	)
//
//	func main() {
//		g := dataflow.New()
//		// ... add tasks and edges to g ...
//
//		s := scheduler.New(g, scheduler.Config{})
//		result, err := s.Run(context.Background(), nil)
//		if err != nil {
//			panic(err)
//		}
//		fmt.Println(result)
//	}
//
// # Packages
//
//   - dataflow: graph storage, topological ordering, port compatibility
//   - task: the Task contract, run context, streaming events, error taxonomy
//   - scheduler: the execution loop that drives a graph to completion
//   - compound: nested graphs exposed as a single task
//   - schema: the type system ports and tasks are described with
//   - repository: the abstract row store backing checkpoints and caches,
//     with memory, postgres, redis, and sqlite backends
//   - queue: a persisted job queue, rate limiter, retry/backoff, and sweeper
//     for deferred or throttled task execution
//   - registry: a process-wide registry of long-lived services
//   - log: a minimal structured logging facade
package workglow
