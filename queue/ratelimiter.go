// Sliding-window rate limiter: a per-queue counter of recent
// execution timestamps plus a backoff anchor the server can set directly
// from an upstream 429/503. Backed by a repository.Repository row per
// queue (`{"executions": [...], "next_available": ...}`), so any durable
// repository backend doubles as rate-limiter storage — repositories and
// rate-limiter storage are the same kind of externally shared,
// linearizable service.
//
// golang.org/x/time/rate backs an in-process fallback gate used only when
// the repository is unreachable, so a storage outage degrades to
// per-process (not cluster-wide) rate limiting rather than unlimited
// dispatch.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/workglow-dev/workglow/repository"
)

// RateLimiter admits job dispatches against a sliding window of recent
// executions, per queue.
type RateLimiter struct {
	store         repository.Repository
	maxExecutions int
	window        time.Duration

	mu        sync.Mutex
	fallbacks map[string]*rate.Limiter
}

// NewRateLimiter returns a limiter admitting at most maxExecutions per
// window, per queue name, backed by store.
func NewRateLimiter(store repository.Repository, maxExecutions int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		store:         store,
		maxExecutions: maxExecutions,
		window:        window,
		fallbacks:     make(map[string]*rate.Limiter),
	}
}

func rowKey(queue string) string { return "ratelimit:" + queue }

// RecordExecution appends now to queue's sliding window, dropping recorded
// executions older than the window so the row holds only the window itself.
func (r *RateLimiter) RecordExecution(ctx context.Context, queue string) error {
	row, _, err := r.store.Get(ctx, rowKey(queue))
	if err != nil {
		return fmt.Errorf("queue: record execution: %w", err)
	}
	now := time.Now()
	windowStart := now.Add(-r.window)
	executions := []time.Time{}
	for _, t := range executionsFromRow(row) {
		if !t.Before(windowStart) {
			executions = append(executions, t)
		}
	}
	executions = append(executions, now)

	row = rowFromState(executions, nextAvailableFromRow(row))
	if err := r.store.Put(ctx, rowKey(queue), row); err != nil {
		return fmt.Errorf("queue: record execution: %w", err)
	}
	return nil
}

// GetExecutionCount counts executions recorded at or after windowStart.
func (r *RateLimiter) GetExecutionCount(ctx context.Context, queue string, windowStart time.Time) (int, error) {
	row, _, err := r.store.Get(ctx, rowKey(queue))
	if err != nil {
		return 0, fmt.Errorf("queue: get execution count: %w", err)
	}
	n := 0
	for _, t := range executionsFromRow(row) {
		if !t.Before(windowStart) {
			n++
		}
	}
	return n, nil
}

// SetNextAvailable sets a backoff anchor for queue, typically from a
// server-supplied Retry-After.
func (r *RateLimiter) SetNextAvailable(ctx context.Context, queue string, t time.Time) error {
	row, _, err := r.store.Get(ctx, rowKey(queue))
	if err != nil {
		return fmt.Errorf("queue: set next available: %w", err)
	}
	row = rowFromState(executionsFromRow(row), t)
	if err := r.store.Put(ctx, rowKey(queue), row); err != nil {
		return fmt.Errorf("queue: set next available: %w", err)
	}
	return nil
}

// NextAvailable returns queue's backoff anchor, if one has been set.
func (r *RateLimiter) NextAvailable(ctx context.Context, queue string) (time.Time, bool, error) {
	row, found, err := r.store.Get(ctx, rowKey(queue))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("queue: next available: %w", err)
	}
	if !found {
		return time.Time{}, false, nil
	}
	t, ok := nextAvailableFromRow(row), true
	if t.IsZero() {
		ok = false
	}
	return t, ok, nil
}

// Admit reports how long the caller must wait before dispatching against
// queue: zero if admission is immediate, otherwise the delay until the
// window has room or the backoff anchor passes. It does not record the
// execution; call RecordExecution after a successful dispatch.
func (r *RateLimiter) Admit(ctx context.Context, queue string) (time.Duration, error) {
	now := time.Now()

	if anchor, ok, err := r.NextAvailable(ctx, queue); err != nil {
		return r.fallbackReserve(queue), nil
	} else if ok && anchor.After(now) {
		return anchor.Sub(now), nil
	}

	windowStart := now.Add(-r.window)
	count, err := r.GetExecutionCount(ctx, queue, windowStart)
	if err != nil {
		return r.fallbackReserve(queue), nil
	}
	if count < r.maxExecutions {
		return 0, nil
	}

	row, _, err := r.store.Get(ctx, rowKey(queue))
	if err != nil {
		return r.fallbackReserve(queue), nil
	}
	oldest := oldestInWindow(executionsFromRow(row), windowStart)
	if oldest.IsZero() {
		return 0, nil
	}
	wait := oldest.Add(r.window).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, nil
}

// Wait blocks until queue admits a dispatch or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context, queue string) error {
	for {
		wait, err := r.Admit(ctx, queue)
		if err != nil {
			return err
		}
		if wait == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (r *RateLimiter) fallbackReserve(queue string) time.Duration {
	r.mu.Lock()
	limiter, ok := r.fallbacks[queue]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(r.window/time.Duration(r.maxExecutions)), r.maxExecutions)
		r.fallbacks[queue] = limiter
	}
	r.mu.Unlock()
	return limiter.Reserve().Delay()
}

func executionsFromRow(row map[string]any) []time.Time {
	raw, ok := row["executions"]
	if !ok {
		return nil
	}

	var strs []string
	switch v := raw.(type) {
	case []string:
		strs = v
	case []any:
		strs = make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				strs = append(strs, s)
			}
		}
	default:
		return nil
	}

	out := make([]time.Time, 0, len(strs))
	for _, s := range strs {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			out = append(out, t)
		}
	}
	return out
}

func nextAvailableFromRow(row map[string]any) time.Time {
	raw, ok := row["next_available"]
	if !ok {
		return time.Time{}
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func rowFromState(executions []time.Time, nextAvailable time.Time) map[string]any {
	strs := make([]string, len(executions))
	for i, t := range executions {
		strs[i] = t.Format(time.RFC3339Nano)
	}
	row := map[string]any{"executions": strs}
	if !nextAvailable.IsZero() {
		row["next_available"] = nextAvailable.Format(time.RFC3339Nano)
	}
	return row
}

func oldestInWindow(executions []time.Time, windowStart time.Time) time.Time {
	var oldest time.Time
	for _, t := range executions {
		if t.Before(windowStart) {
			continue
		}
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
	}
	return oldest
}
