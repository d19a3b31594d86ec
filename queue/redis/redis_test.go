package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workglow-dev/workglow/queue"
	"github.com/workglow-dev/workglow/task"
)

func newTestQueue(t *testing.T) *Queue {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return New(Options{Addr: mr.Addr(), Prefix: "test:"})
}

func TestQueue_AddAndNext(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, err := q.Add(ctx, &queue.Job{QueueName: "q1", Input: map[string]any{"x": float64(1)}, MaxRetries: 3})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	claimed, err := q.Next(ctx, "q1", "worker-a")
	require.NoError(t, err)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, queue.StatusProcessing, claimed.Status)
	assert.Equal(t, "worker-a", claimed.WorkerID)

	_, err = q.Next(ctx, "q1", "worker-b")
	assert.ErrorIs(t, err, queue.ErrNoJobAvailable)
}

func TestQueue_NextRespectsRunAfter(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Add(ctx, &queue.Job{QueueName: "q1", Input: map[string]any{}, RunAfter: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	_, err = q.Next(ctx, "q1", "worker-a")
	assert.ErrorIs(t, err, queue.ErrNoJobAvailable)
}

func TestQueue_CompleteSuccessStoresOutput(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, _ := q.Add(ctx, &queue.Job{QueueName: "q1", Input: map[string]any{}})
	_, _ = q.Next(ctx, "q1", "worker-a")

	require.NoError(t, q.Complete(ctx, job.ID, map[string]any{"y": float64(2)}, nil))

	jobs, err := q.Peek(ctx, "q1", queue.StatusCompleted, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestQueue_CompleteRetryableReschedules(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, _ := q.Add(ctx, &queue.Job{QueueName: "q1", Input: map[string]any{}, MaxRetries: 3})
	_, _ = q.Next(ctx, "q1", "worker-a")

	require.NoError(t, q.Complete(ctx, job.ID, nil, &task.RetryableError{Code: "503"}))

	// A retryable failure puts the job back to PENDING with run_attempts
	// bumped. RetryAfter is unset, so run_after moves out by
	// DefaultRetryAfter and the job is not claimable yet; Peek filters on
	// the status field, not on run_after, so it still lists the job.
	pending, err := q.Peek(ctx, "q1", queue.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RunAttempts)
}

func TestQueue_AbortMarksAborting(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	job, _ := q.Add(ctx, &queue.Job{QueueName: "q1", Input: map[string]any{}})
	require.NoError(t, q.Abort(ctx, job.ID))

	fields, err := q.client.HGetAll(ctx, q.jobKey(job.ID)).Result()
	require.NoError(t, err)
	assert.Equal(t, string(queue.StatusAborting), fields["status"])
}

func TestQueue_OutputForInputReturnsCompletedOutput(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	input := map[string]any{"x": float64(1)}
	job, _ := q.Add(ctx, &queue.Job{QueueName: "q1", Input: input})
	_, _ = q.Next(ctx, "q1", "worker-a")
	require.NoError(t, q.Complete(ctx, job.ID, map[string]any{"y": float64(2)}, nil))

	out, found, err := q.OutputForInput(ctx, "q1", input)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, float64(2), out["y"])
}
