package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workglow-dev/workglow/queue"
	"github.com/workglow-dev/workglow/task"
)

func TestQueue_AddAndNext(t *testing.T) {
	q := New()
	ctx := context.Background()

	job, err := q.Add(ctx, &queue.Job{QueueName: "q1", Input: map[string]any{"x": 1}, MaxRetries: 3})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, queue.StatusPending, job.Status)

	claimed, err := q.Next(ctx, "q1", "worker-a")
	require.NoError(t, err)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, queue.StatusProcessing, claimed.Status)
	assert.Equal(t, "worker-a", claimed.WorkerID)

	_, err = q.Next(ctx, "q1", "worker-b")
	assert.ErrorIs(t, err, queue.ErrNoJobAvailable)
}

func TestQueue_NextRespectsRunAfter(t *testing.T) {
	q := New()
	ctx := context.Background()

	_, err := q.Add(ctx, &queue.Job{QueueName: "q1", Input: map[string]any{}, RunAfter: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	_, err = q.Next(ctx, "q1", "worker-a")
	assert.ErrorIs(t, err, queue.ErrNoJobAvailable)
}

func TestQueue_CompleteSuccess(t *testing.T) {
	q := New()
	ctx := context.Background()

	job, _ := q.Add(ctx, &queue.Job{QueueName: "q1", Input: map[string]any{}})
	_, _ = q.Next(ctx, "q1", "worker-a")

	require.NoError(t, q.Complete(ctx, job.ID, map[string]any{"result": 42}, nil))

	jobs, err := q.Peek(ctx, "q1", queue.StatusCompleted, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 42, jobs[0].Output["result"])
}

func TestQueue_CompleteRetryableReschedules(t *testing.T) {
	q := New()
	ctx := context.Background()

	job, _ := q.Add(ctx, &queue.Job{QueueName: "q1", Input: map[string]any{}, MaxRetries: 3})
	_, _ = q.Next(ctx, "q1", "worker-a")

	require.NoError(t, q.Complete(ctx, job.ID, nil, &task.RetryableError{Code: "503"}))

	pending, err := q.Peek(ctx, "q1", queue.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RunAttempts)
}

func TestQueue_CompleteRetryableExhaustsToFailed(t *testing.T) {
	q := New()
	ctx := context.Background()

	job, _ := q.Add(ctx, &queue.Job{QueueName: "q1", Input: map[string]any{}, MaxRetries: 1})
	_, _ = q.Next(ctx, "q1", "worker-a")

	require.NoError(t, q.Complete(ctx, job.ID, nil, &task.RetryableError{Code: "503"}))

	failed, err := q.Peek(ctx, "q1", queue.StatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
}

func TestQueue_CompletePermanentFails(t *testing.T) {
	q := New()
	ctx := context.Background()

	job, _ := q.Add(ctx, &queue.Job{QueueName: "q1", Input: map[string]any{}, MaxRetries: 5})
	_, _ = q.Next(ctx, "q1", "worker-a")

	require.NoError(t, q.Complete(ctx, job.ID, nil, &task.PermanentError{Code: "400"}))

	failed, err := q.Peek(ctx, "q1", queue.StatusFailed, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
}

func TestQueue_OutputForInputReturnsMostRecentCompleted(t *testing.T) {
	q := New()
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

func TestQueue_AbortMarksAborting(t *testing.T) {
	q := New()
	ctx := context.Background()

	job, _ := q.Add(ctx, &queue.Job{QueueName: "q1", Input: map[string]any{}})
	require.NoError(t, q.Abort(ctx, job.ID))

	aborting, err := q.Peek(ctx, "q1", queue.StatusAborting, 10)
	require.NoError(t, err)
	require.Len(t, aborting, 1)
}

func TestQueue_ReclaimStale(t *testing.T) {
	q := New()
	ctx := context.Background()

	job, _ := q.Add(ctx, &queue.Job{QueueName: "q1", Input: map[string]any{}})
	claimed, _ := q.Next(ctx, "q1", "worker-a")
	assert.Equal(t, job.ID, claimed.ID)

	q.jobs[job.ID].LastRanAt = time.Now().Add(-time.Hour)

	n, err := q.ReclaimStale(ctx, "q1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := q.Peek(ctx, "q1", queue.StatusPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestQueue_SizeCountsByStatus(t *testing.T) {
	q := New()
	ctx := context.Background()

	_, _ = q.Add(ctx, &queue.Job{QueueName: "q1", Input: map[string]any{}})
	_, _ = q.Add(ctx, &queue.Job{QueueName: "q1", Input: map[string]any{}})

	n, err := q.Size(ctx, "q1", queue.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
