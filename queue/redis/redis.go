// Package redis implements queue.JobQueue on Redis: jobs are hash blobs
// keyed by ID, with a per-queue sorted set (score = run_after unix time)
// providing the dequeue order. Next claims via a Lua script so the
// score-check-and-claim is atomic under concurrent workers, the Redis
// analog of postgres's SELECT ... FOR UPDATE SKIP LOCKED.
//
// Grounded on repository/redis's client/prefix/pipeline shape (itself
// grounded on store/redis/redis.go), generalized to a
// sorted-set-ordered job table plus a Lua claim script.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/workglow-dev/workglow/queue"
	"github.com/workglow-dev/workglow/task"
)

// claimScript atomically pops the oldest job whose run_after score has
// passed: ZRANGEBYSCORE to find a candidate, ZREM to remove it from the
// pending set (the removal is what makes the claim exclusive — a second
// worker's ZREM on an already-removed member is a no-op and returns 0),
// then HSET to flip its status.
var claimScript = redis.NewScript(`
local pendingKey = KEYS[1]
local jobKeyPrefix = KEYS[2]
local now = ARGV[1]
local workerID = ARGV[2]
local ranAt = ARGV[3]

local candidates = redis.call('ZRANGEBYSCORE', pendingKey, '-inf', now, 'LIMIT', 0, 1)
if #candidates == 0 then
	return nil
end

local jobID = candidates[1]
local removed = redis.call('ZREM', pendingKey, jobID)
if removed == 0 then
	return nil
end

local jobKey = jobKeyPrefix .. jobID
redis.call('HSET', jobKey, 'status', 'PROCESSING', 'worker_id', workerID, 'last_ran_at', ranAt)
return redis.call('HGETALL', jobKey)
`)

// Queue implements queue.JobQueue over Redis.
type Queue struct {
	client *redis.Client
	prefix string
}

// Options configures a Queue's connection and key namespace.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // default "workglow:queue:"
}

// New dials a Redis client and returns a queue.JobQueue over it.
func New(opts Options) *Queue {
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "workglow:queue:"
	}
	return &Queue{client: client, prefix: prefix}
}

func (q *Queue) jobKey(id string) string        { return q.prefix + "job:" + id }
func (q *Queue) pendingKey(name string) string  { return q.prefix + "pending:" + name }

// allKey tracks every job ID ever added to a queue, independent of the
// pending set the claim script removes from — Peek/Size/OutputForInput/
// ReclaimStale need to see jobs in every status, not just PENDING.
func (q *Queue) allKey(name string) string { return q.prefix + "all:" + name }

func (q *Queue) Add(ctx context.Context, job *queue.Job) (*queue.Job, error) {
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

	fields, err := jobToFields(j)
	if err != nil {
		return nil, err
	}

	pipe := q.client.Pipeline()
	pipe.HSet(ctx, q.jobKey(j.ID), fields)
	pipe.ZAdd(ctx, q.pendingKey(j.QueueName), redis.Z{Score: float64(j.RunAfter.Unix()), Member: j.ID})
	pipe.SAdd(ctx, q.allKey(j.QueueName), j.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("queue/redis: add: %w", err)
	}
	return j, nil
}

func (q *Queue) Next(ctx context.Context, queueName, workerID string) (*queue.Job, error) {
	now := time.Now()
	result, err := claimScript.Run(ctx, q.client, []string{q.pendingKey(queueName), q.prefix + "job:"}, now.Unix(), workerID, now.Format(time.RFC3339Nano)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, queue.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("queue/redis: next: %w", err)
	}
	if result == nil {
		return nil, queue.ErrNoJobAvailable
	}

	flat, ok := result.([]any)
	if !ok || len(flat) == 0 {
		return nil, queue.ErrNoJobAvailable
	}

	fields := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		k, _ := flat[i].(string)
		v, _ := flat[i+1].(string)
		fields[k] = v
	}

	j, err := fieldsToJob(fields)
	if err != nil {
		return nil, err
	}
	j.QueueName = queueName
	return j, nil
}

func (q *Queue) Complete(ctx context.Context, jobID string, output map[string]any, jobErr error) error {
	key := q.jobKey(jobID)

	if jobErr == nil {
		data, err := json.Marshal(output)
		if err != nil {
			return fmt.Errorf("queue/redis: marshal output: %w", err)
		}
		return q.client.HSet(ctx, key, map[string]any{
			"status":       string(queue.StatusCompleted),
			"output":       string(data),
			"completed_at": time.Now().Format(time.RFC3339Nano),
		}).Err()
	}

	var retryable *task.RetryableError
	if errors.As(jobErr, &retryable) {
		vals, err := q.client.HMGet(ctx, key, "run_attempts", "max_retries", "queue_name").Result()
		if err != nil {
			return fmt.Errorf("queue/redis: complete: read attempts: %w", err)
		}
		attempts := toInt(vals[0]) + 1
		maxRetries := toInt(vals[1])
		queueName, _ := vals[2].(string)

		if attempts < maxRetries {
			runAfter := queue.NextRunAfter(retryable, time.Now())
			pipe := q.client.Pipeline()
			pipe.HSet(ctx, key, map[string]any{
				"status":       string(queue.StatusPending),
				"run_attempts": attempts,
				"run_after":    runAfter.Format(time.RFC3339Nano),
				"last_error":   retryable.Error(),
			})
			pipe.ZAdd(ctx, q.pendingKey(queueName), redis.Z{Score: float64(runAfter.Unix()), Member: jobID})
			_, err := pipe.Exec(ctx)
			return err
		}
		return q.client.HSet(ctx, key, map[string]any{
			"status":       string(queue.StatusFailed),
			"run_attempts": attempts,
			"last_error":   retryable.Error(),
			"completed_at": time.Now().Format(time.RFC3339Nano),
		}).Err()
	}

	return q.client.HSet(ctx, key, map[string]any{
		"status":       string(queue.StatusFailed),
		"last_error":   jobErr.Error(),
		"completed_at": time.Now().Format(time.RFC3339Nano),
	}).Err()
}

func toInt(v any) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n int
	fmt.Sscanf(s, "%d", &n)
	return n
}

func (q *Queue) Abort(ctx context.Context, jobID string) error {
	return q.client.HSet(ctx, q.jobKey(jobID), "status", string(queue.StatusAborting)).Err()
}

func (q *Queue) OutputForInput(ctx context.Context, queueName string, input map[string]any) (map[string]any, bool, error) {
	fp, err := queue.Fingerprint(input)
	if err != nil {
		return nil, false, err
	}

	// Redis has no secondary index here; scan the queue's known job IDs.
	// Acceptable for the bounded per-queue completed set this cache
	// lookup targets; repository/taskcache is the index-backed path for
	// hot task-output reuse.
	ids, err := q.client.SMembers(ctx, q.allKey(queueName)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("queue/redis: output for input: %w", err)
	}
	var best map[string]any
	var bestAt time.Time
	found := false
	for _, id := range ids {
		fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		if fields["status"] != string(queue.StatusCompleted) || fields["fingerprint"] != fp {
			continue
		}
		var output map[string]any
		if err := json.Unmarshal([]byte(fields["output"]), &output); err != nil {
			continue
		}
		completedAt, _ := time.Parse(time.RFC3339Nano, fields["completed_at"])
		if !found || completedAt.After(bestAt) {
			best, bestAt, found = output, completedAt, true
		}
	}
	return best, found, nil
}

func (q *Queue) Peek(ctx context.Context, queueName string, status queue.Status, n int) ([]*queue.Job, error) {
	ids, err := q.client.SMembers(ctx, q.allKey(queueName)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue/redis: peek: %w", err)
	}
	var out []*queue.Job
	for _, id := range ids {
		fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		if queue.Status(fields["status"]) != status {
			continue
		}
		j, err := fieldsToJob(fields)
		if err != nil {
			continue
		}
		j.QueueName = queueName
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (q *Queue) Size(ctx context.Context, queueName string, status queue.Status) (int, error) {
	jobs, err := q.Peek(ctx, queueName, status, 0)
	if err != nil {
		return 0, err
	}
	return len(jobs), nil
}

func (q *Queue) Heartbeat(ctx context.Context, jobID string) error {
	return q.client.HSet(ctx, q.jobKey(jobID), "last_ran_at", time.Now().Format(time.RFC3339Nano)).Err()
}

func (q *Queue) ReclaimStale(ctx context.Context, queueName string, olderThan time.Duration) (int, error) {
	ids, err := q.client.SMembers(ctx, q.allKey(queueName)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue/redis: reclaim stale: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	n := 0
	for _, id := range ids {
		fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		if fields["status"] != string(queue.StatusProcessing) {
			continue
		}
		lastRan, err := time.Parse(time.RFC3339Nano, fields["last_ran_at"])
		if err != nil || lastRan.After(cutoff) {
			continue
		}
		pipe := q.client.Pipeline()
		pipe.HSet(ctx, q.jobKey(id), "status", string(queue.StatusPending), "worker_id", "")
		runAfter, _ := time.Parse(time.RFC3339Nano, fields["run_after"])
		pipe.ZAdd(ctx, q.pendingKey(queueName), redis.Z{Score: float64(runAfter.Unix()), Member: id})
		if _, err := pipe.Exec(ctx); err == nil {
			n++
		}
	}
	return n, nil
}

func jobToFields(j *queue.Job) (map[string]any, error) {
	input, err := json.Marshal(j.Input)
	if err != nil {
		return nil, fmt.Errorf("queue/redis: marshal input: %w", err)
	}
	return map[string]any{
		"id":           j.ID,
		"queue_name":   j.QueueName,
		"fingerprint":  j.Fingerprint,
		"task_type":    j.TaskType,
		"input":        string(input),
		"status":       string(j.Status),
		"run_attempts": j.RunAttempts,
		"max_retries":  j.MaxRetries,
		"run_after":    j.RunAfter.Format(time.RFC3339Nano),
		"created_at":   j.CreatedAt.Format(time.RFC3339Nano),
	}, nil
}

func fieldsToJob(fields map[string]string) (*queue.Job, error) {
	j := &queue.Job{
		ID:          fields["id"],
		Fingerprint: fields["fingerprint"],
		TaskType:    fields["task_type"],
		Status:      queue.Status(fields["status"]),
		RunAttempts: toInt(fields["run_attempts"]),
		MaxRetries:  toInt(fields["max_retries"]),
		WorkerID:    fields["worker_id"],
		LastError:   fields["last_error"],
	}
	if fields["input"] != "" {
		if err := json.Unmarshal([]byte(fields["input"]), &j.Input); err != nil {
			return nil, fmt.Errorf("queue/redis: unmarshal input: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["run_after"]); err == nil {
		j.RunAfter = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["created_at"]); err == nil {
		j.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, fields["last_ran_at"]); err == nil {
		j.LastRanAt = t
	}
	return j, nil
}
