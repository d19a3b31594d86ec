// Package memory implements queue.JobQueue as an in-process store, the
// default backend for tests and single-process deployments.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/workglow-dev/workglow/queue"
	"github.com/workglow-dev/workglow/task"
)

// Queue is an in-memory queue.JobQueue, safe for concurrent use.
type Queue struct {
	mu   sync.Mutex
	jobs map[string]*queue.Job
}

// New returns an empty job queue.
func New() *Queue {
	return &Queue{jobs: make(map[string]*queue.Job)}
}

func (q *Queue) Add(ctx context.Context, job *queue.Job) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	j := job.Clone()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	fp, err := queue.Fingerprint(j.Input)
	if err != nil {
		return nil, err
	}
	j.Fingerprint = fp
	j.Status = queue.StatusPending
	j.CreatedAt = time.Now()
	if j.RunAfter.IsZero() {
		j.RunAfter = j.CreatedAt
	}
	q.jobs[j.ID] = j
	return j.Clone(), nil
}

// Next claims the oldest PENDING job with RunAfter <= now for queueName.
// Next holds q.mu for the full scan-and-claim, making the claim
// exactly-once without a separate CAS primitive.
func (q *Queue) Next(ctx context.Context, queueName, workerID string) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var best *queue.Job
	for _, j := range q.jobs {
		if j.QueueName != queueName || j.Status != queue.StatusPending {
			continue
		}
		if j.RunAfter.After(now) {
			continue
		}
		if best == nil || j.CreatedAt.Before(best.CreatedAt) {
			best = j
		}
	}
	if best == nil {
		return nil, queue.ErrNoJobAvailable
	}

	best.Status = queue.StatusProcessing
	best.WorkerID = workerID
	best.LastRanAt = now
	return best.Clone(), nil
}

func (q *Queue) Complete(ctx context.Context, jobID string, output map[string]any, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j, ok := q.jobs[jobID]
	if !ok {
		return queue.ErrJobNotFound
	}

	if err == nil {
		j.Status = queue.StatusCompleted
		j.Output = output
		j.CompletedAt = time.Now()
		return nil
	}

	var retryable *task.RetryableError
	if errors.As(err, &retryable) {
		j.RunAttempts++
		j.LastError = retryable.Error()
		if j.RunAttempts < j.MaxRetries {
			j.Status = queue.StatusPending
			j.RunAfter = queue.NextRunAfter(retryable, time.Now())
		} else {
			j.Status = queue.StatusFailed
			j.CompletedAt = time.Now()
		}
		return nil
	}

	j.Status = queue.StatusFailed
	j.LastError = err.Error()
	j.CompletedAt = time.Now()
	return nil
}

func (q *Queue) Abort(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return queue.ErrJobNotFound
	}
	j.Status = queue.StatusAborting
	return nil
}

func (q *Queue) OutputForInput(ctx context.Context, queueName string, input map[string]any) (map[string]any, bool, error) {
	fp, err := queue.Fingerprint(input)
	if err != nil {
		return nil, false, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var best *queue.Job
	for _, j := range q.jobs {
		if j.QueueName != queueName || j.Status != queue.StatusCompleted || j.Fingerprint != fp {
			continue
		}
		if best == nil || j.CompletedAt.After(best.CompletedAt) {
			best = j
		}
	}
	if best == nil {
		return nil, false, nil
	}
	return best.Clone().Output, true, nil
}

func (q *Queue) Peek(ctx context.Context, queueName string, status queue.Status, n int) ([]*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var matched []*queue.Job
	for _, j := range q.jobs {
		if j.QueueName == queueName && j.Status == status {
			matched = append(matched, j)
		}
	}
	sort.Slice(matched, func(i, k int) bool { return matched[i].CreatedAt.Before(matched[k].CreatedAt) })
	if n > 0 && len(matched) > n {
		matched = matched[:n]
	}

	out := make([]*queue.Job, len(matched))
	for i, j := range matched {
		out[i] = j.Clone()
	}
	return out, nil
}

func (q *Queue) Size(ctx context.Context, queueName string, status queue.Status) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, j := range q.jobs {
		if j.QueueName == queueName && j.Status == status {
			n++
		}
	}
	return n, nil
}

func (q *Queue) Heartbeat(ctx context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return queue.ErrJobNotFound
	}
	j.LastRanAt = time.Now()
	return nil
}

func (q *Queue) ReclaimStale(ctx context.Context, queueName string, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	n := 0
	for _, j := range q.jobs {
		if j.QueueName != queueName || j.Status != queue.StatusProcessing {
			continue
		}
		if j.LastRanAt.Before(cutoff) {
			j.Status = queue.StatusPending
			j.WorkerID = ""
			n++
		}
	}
	return n, nil
}
