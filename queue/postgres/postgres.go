// Package postgres implements queue.JobQueue on Postgres, using
// SELECT ... FOR UPDATE SKIP LOCKED for exactly-once dequeue under
// concurrent workers.
//
// Grounded on repository/postgres's DBPool/pgxmock testing shape (itself
// grounded on store/postgres/postgres.go), generalized to
// the job table's status/run_after/run_attempts columns.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/workglow-dev/workglow/queue"
	"github.com/workglow-dev/workglow/task"
)

// DBPool is the narrow pgx surface the queue needs, matching
// *pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Queue implements queue.JobQueue over Postgres.
type Queue struct {
	pool      DBPool
	tableName string
}

// Options configures a Queue.
type Options struct {
	TableName string // default "jobs"
}

// New wraps an existing pool (or mock) as a queue.JobQueue.
func New(pool DBPool, opts Options) *Queue {
	tableName := opts.TableName
	if tableName == "" {
		tableName = "jobs"
	}
	return &Queue{pool: pool, tableName: tableName}
}

// InitSchema creates the backing table if it doesn't exist.
func (q *Queue) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			queue_name TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			task_type TEXT NOT NULL,
			input JSONB NOT NULL,
			output JSONB,
			status TEXT NOT NULL,
			run_attempts INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 0,
			run_after TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ,
			last_ran_at TIMESTAMPTZ,
			last_error TEXT,
			worker_id TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_%s_dequeue ON %s (queue_name, status, run_after);
	`, q.tableName, q.tableName, q.tableName)
	if _, err := q.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("queue/postgres: create schema: %w", err)
	}
	return nil
}

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

	input, err := json.Marshal(j.Input)
	if err != nil {
		return nil, fmt.Errorf("queue/postgres: marshal input: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, queue_name, fingerprint, task_type, input, status, run_attempts, max_retries, run_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9)
	`, q.tableName)
	_, err = q.pool.Exec(ctx, query, j.ID, j.QueueName, j.Fingerprint, j.TaskType, input, string(j.Status), j.MaxRetries, j.RunAfter, j.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("queue/postgres: add: %w", err)
	}
	return j, nil
}

// Next claims the oldest eligible job via SELECT ... FOR UPDATE SKIP
// LOCKED inside a transaction: the row lock is held only long enough to
// flip status to PROCESSING, so concurrent workers never double-claim the
// same job and never block on one another's scan.
func (q *Queue) Next(ctx context.Context, queueName, workerID string) (*queue.Job, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue/postgres: next: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	selectQuery := fmt.Sprintf(`
		SELECT id, fingerprint, task_type, input, run_attempts, max_retries, run_after, created_at
		FROM %s
		WHERE queue_name = $1 AND status = $2 AND run_after <= now()
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, q.tableName)

	var j queue.Job
	var input []byte
	err = tx.QueryRow(ctx, selectQuery, queueName, string(queue.StatusPending)).Scan(
		&j.ID, &j.Fingerprint, &j.TaskType, &input, &j.RunAttempts, &j.MaxRetries, &j.RunAfter, &j.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, queue.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("queue/postgres: next: select: %w", err)
	}
	if err := json.Unmarshal(input, &j.Input); err != nil {
		return nil, fmt.Errorf("queue/postgres: next: unmarshal input: %w", err)
	}

	now := time.Now()
	updateQuery := fmt.Sprintf(`
		UPDATE %s SET status = $1, worker_id = $2, last_ran_at = $3 WHERE id = $4
	`, q.tableName)
	if _, err := tx.Exec(ctx, updateQuery, string(queue.StatusProcessing), workerID, now, j.ID); err != nil {
		return nil, fmt.Errorf("queue/postgres: next: claim: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("queue/postgres: next: commit: %w", err)
	}

	j.QueueName = queueName
	j.Status = queue.StatusProcessing
	j.WorkerID = workerID
	j.LastRanAt = now
	return &j, nil
}

func (q *Queue) Complete(ctx context.Context, jobID string, output map[string]any, jobErr error) error {
	if jobErr == nil {
		data, err := json.Marshal(output)
		if err != nil {
			return fmt.Errorf("queue/postgres: marshal output: %w", err)
		}
		query := fmt.Sprintf(`UPDATE %s SET status = $1, output = $2, completed_at = $3 WHERE id = $4`, q.tableName)
		_, err = q.pool.Exec(ctx, query, string(queue.StatusCompleted), data, time.Now(), jobID)
		return err
	}

	var retryable *task.RetryableError
	if errors.As(jobErr, &retryable) {
		row, err := q.pool.Query(ctx, fmt.Sprintf(`SELECT run_attempts, max_retries FROM %s WHERE id = $1`, q.tableName), jobID)
		if err != nil {
			return fmt.Errorf("queue/postgres: complete: read attempts: %w", err)
		}
		var attempts, maxRetries int
		if row.Next() {
			if err := row.Scan(&attempts, &maxRetries); err != nil {
				row.Close()
				return fmt.Errorf("queue/postgres: complete: scan attempts: %w", err)
			}
		}
		row.Close()

		attempts++
		if attempts < maxRetries {
			runAfter := queue.NextRunAfter(retryable, time.Now())
			query := fmt.Sprintf(`UPDATE %s SET status = $1, run_attempts = $2, run_after = $3, last_error = $4 WHERE id = $5`, q.tableName)
			_, err := q.pool.Exec(ctx, query, string(queue.StatusPending), attempts, runAfter, retryable.Error(), jobID)
			return err
		}
		query := fmt.Sprintf(`UPDATE %s SET status = $1, run_attempts = $2, last_error = $3, completed_at = $4 WHERE id = $5`, q.tableName)
		_, err = q.pool.Exec(ctx, query, string(queue.StatusFailed), attempts, retryable.Error(), time.Now(), jobID)
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET status = $1, last_error = $2, completed_at = $3 WHERE id = $4`, q.tableName)
	_, err := q.pool.Exec(ctx, query, string(queue.StatusFailed), jobErr.Error(), time.Now(), jobID)
	return err
}

func (q *Queue) Abort(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $1 WHERE id = $2`, q.tableName)
	_, err := q.pool.Exec(ctx, query, string(queue.StatusAborting), jobID)
	return err
}

func (q *Queue) OutputForInput(ctx context.Context, queueName string, input map[string]any) (map[string]any, bool, error) {
	fp, err := queue.Fingerprint(input)
	if err != nil {
		return nil, false, err
	}

	query := fmt.Sprintf(`
		SELECT output FROM %s
		WHERE queue_name = $1 AND fingerprint = $2 AND status = $3
		ORDER BY completed_at DESC LIMIT 1
	`, q.tableName)
	var data []byte
	err = q.pool.QueryRow(ctx, query, queueName, fp, string(queue.StatusCompleted)).Scan(&data)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("queue/postgres: output for input: %w", err)
	}
	var output map[string]any
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, false, fmt.Errorf("queue/postgres: unmarshal output: %w", err)
	}
	return output, true, nil
}

func (q *Queue) Peek(ctx context.Context, queueName string, status queue.Status, n int) ([]*queue.Job, error) {
	query := fmt.Sprintf(`
		SELECT id, fingerprint, task_type, input, status, run_attempts, max_retries, run_after, created_at
		FROM %s WHERE queue_name = $1 AND status = $2 ORDER BY created_at ASC LIMIT $3
	`, q.tableName)
	rows, err := q.pool.Query(ctx, query, queueName, string(status), n)
	if err != nil {
		return nil, fmt.Errorf("queue/postgres: peek: %w", err)
	}
	defer rows.Close()

	var out []*queue.Job
	for rows.Next() {
		var j queue.Job
		var input []byte
		var statusStr string
		if err := rows.Scan(&j.ID, &j.Fingerprint, &j.TaskType, &input, &statusStr, &j.RunAttempts, &j.MaxRetries, &j.RunAfter, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("queue/postgres: peek: scan: %w", err)
		}
		j.Status = queue.Status(statusStr)
		j.QueueName = queueName
		if err := json.Unmarshal(input, &j.Input); err != nil {
			return nil, fmt.Errorf("queue/postgres: peek: unmarshal input: %w", err)
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

func (q *Queue) Size(ctx context.Context, queueName string, status queue.Status) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE queue_name = $1 AND status = $2`, q.tableName)
	var n int
	if err := q.pool.QueryRow(ctx, query, queueName, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue/postgres: size: %w", err)
	}
	return n, nil
}

func (q *Queue) Heartbeat(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`UPDATE %s SET last_ran_at = $1 WHERE id = $2`, q.tableName)
	_, err := q.pool.Exec(ctx, query, time.Now(), jobID)
	return err
}

func (q *Queue) ReclaimStale(ctx context.Context, queueName string, olderThan time.Duration) (int, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET status = $1, worker_id = NULL
		WHERE queue_name = $2 AND status = $3 AND last_ran_at < $4
	`, q.tableName)
	tag, err := q.pool.Exec(ctx, query, string(queue.StatusPending), queueName, string(queue.StatusProcessing), time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("queue/postgres: reclaim stale: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
