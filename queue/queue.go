package queue

import (
	"context"
	"errors"
	"time"
)

// ErrNoJobAvailable is returned by Next when no PENDING job with
// run_after <= now exists for the queue.
var ErrNoJobAvailable = errors.New("queue: no job available")

// ErrJobNotFound is returned when an operation references an unknown job
// ID.
var ErrJobNotFound = errors.New("queue: job not found")

// JobQueue is the persisted deferred-execution contract for jobs that
// outlive a single run.
// Implementations live in queue/memory, queue/postgres, and queue/redis.
type JobQueue interface {
	// Add enqueues a new job, stamping ID, Fingerprint (from Input),
	// CreatedAt, and RunAfter=now if unset.
	Add(ctx context.Context, job *Job) (*Job, error)

	// Next atomically claims the oldest PENDING job with RunAfter <= now
	// for queueName, setting Status=PROCESSING, WorkerID, and LastRanAt.
	// Returns ErrNoJobAvailable if none is claimable. The claim must be
	// exactly-once under concurrent workers.
	Next(ctx context.Context, queueName, workerID string) (*Job, error)

	// Complete records a terminal or retry outcome for job. A nil err
	// with output marks it COMPLETED. A *task.PermanentError marks it
	// FAILED. A *task.RetryableError increments RunAttempts and either
	// reschedules RunAfter (RunAttempts < MaxRetries) or marks FAILED.
	Complete(ctx context.Context, jobID string, output map[string]any, err error) error

	// Abort marks job ABORTING; a worker observing this on its next
	// heartbeat should cancel and call Complete with an Aborted error.
	Abort(ctx context.Context, jobID string) error

	// OutputForInput looks up the most recent COMPLETED job's output for
	// this fingerprint, for result reuse across runs.
	OutputForInput(ctx context.Context, queueName string, input map[string]any) (map[string]any, bool, error)

	// Peek returns up to n jobs for queueName in the given status,
	// oldest first.
	Peek(ctx context.Context, queueName string, status Status, n int) ([]*Job, error)

	// Size counts jobs for queueName in the given status.
	Size(ctx context.Context, queueName string, status Status) (int, error)

	// Heartbeat updates LastRanAt for a job a worker is actively running,
	// so the sweeper doesn't reclaim it.
	Heartbeat(ctx context.Context, jobID string) error

	// ReclaimStale resets to PENDING every PROCESSING job for queueName
	// whose LastRanAt is older than olderThan, returning the count
	// reclaimed. Used by the sweeper.
	ReclaimStale(ctx context.Context, queueName string, olderThan time.Duration) (int, error)
}
