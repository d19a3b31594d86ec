package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/workglow-dev/workglow/task"
)

// ErrBackpressure is wrapped into the terminal error event Tee delivers on
// a branch whose bounded buffer stayed full past the stall timeout. It is
// reported on that branch only; the producer and the other branches keep
// running.
var ErrBackpressure = errors.New("scheduler: backpressure: consumer buffer overflow")

// DefaultTeeBufferSize bounds each branch of a fan-out tee when the
// caller doesn't specify one.
const DefaultTeeBufferSize = 64

// DefaultStallTimeout is how long Tee will block on a slow branch's
// buffered channel before declaring it permanently overflowed.
const DefaultStallTimeout = 30 * time.Second

// Tee splits a single producer stream into n independent sequences, each
// preserving the producer's emission order with no cross-consumer
// synchronisation (Ordering guarantees). Each branch is a channel
// buffered to bufferSize; once full, Tee blocks the whole producer on
// that branch (true backpressure) for up to stallTimeout before treating
// the branch as overflowed: it receives a terminal BACKPRESSURE error
// event and is dropped from further delivery, while the remaining
// branches keep flowing. Grounded on this
// StreamingListener.handleBackpressure pattern (graph/streaming.go),
// generalized from a single listener fan-out to N bounded branches.
func Tee(source <-chan task.StreamEvent, n int, bufferSize int, stallTimeout time.Duration) []<-chan task.StreamEvent {
	if bufferSize <= 0 {
		bufferSize = DefaultTeeBufferSize
	}
	if stallTimeout <= 0 {
		stallTimeout = DefaultStallTimeout
	}

	branches := make([]chan task.StreamEvent, n)
	out := make([]<-chan task.StreamEvent, n)
	for i := range branches {
		branches[i] = make(chan task.StreamEvent, bufferSize)
		out[i] = branches[i]
	}

	go func() {
		dead := make([]bool, n)
		defer func() {
			for i, b := range branches {
				if !dead[i] {
					close(b)
				}
			}
		}()
		for ev := range source {
			var wg sync.WaitGroup
			for i, b := range branches {
				if dead[i] {
					continue
				}
				wg.Add(1)
				go func(i int, b chan task.StreamEvent) {
					defer wg.Done()
					timer := time.NewTimer(stallTimeout)
					defer timer.Stop()
					select {
					case b <- ev:
						return
					case <-timer.C:
					}
					// The consumer hasn't drained within stallTimeout;
					// declare this branch overflowed and stop feeding it
					// from the main loop. Deliver the terminal error
					// asynchronously so one stalled consumer can never
					// block the other branches.
					dead[i] = true
					go func() {
						b <- task.ErrorEvent(fmt.Errorf("%w: branch %d", ErrBackpressure, i))
						close(b)
					}()
				}(i, b)
			}
			wg.Wait()
		}
	}()

	return out
}
