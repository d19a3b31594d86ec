// Exponential backoff for job retries, generalized from graph/retry.go's
// in-process RetryConfig to the job queue's persisted run_attempts/
// run_after: instead of sleeping in-process between attempts, the backoff
// is computed once and stored as the job's next RunAfter.
package queue

import "time"

// BackoffConfig configures exponential backoff between job retries.
type BackoffConfig struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultBackoffConfig matches node-level retry defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Delay returns the backoff delay before the given attempt number
// (1-indexed: the delay before the first retry, i.e. after attempt 1
// fails, is Delay(1)).
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= c.BackoffFactor
		if time.Duration(delay) >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	d := time.Duration(delay)
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}

// RunAfter returns now plus the backoff delay for attempt.
func (c BackoffConfig) RunAfter(attempt int, now time.Time) time.Time {
	return now.Add(c.Delay(attempt))
}
