// Retry classification for job handler errors. Reuses
// task.PermanentError/task.RetryableError rather than redefining the
// taxonomy at the queue layer.
package queue

import (
	"net/http"
	"strconv"
	"time"

	"github.com/workglow-dev/workglow/task"
)

// ClassifyHTTPStatus returns the retry classification for an HTTP response
// status code: 4xx other than 408/429 are permanent, everything
// else (408, 429, 5xx) is retryable.
func ClassifyHTTPStatus(statusCode int) bool {
	if statusCode == http.StatusRequestTimeout || statusCode == http.StatusTooManyRequests {
		return true
	}
	if statusCode >= 400 && statusCode < 500 {
		return false
	}
	return true
}

// ClassifyHTTPError builds a *task.PermanentError or *task.RetryableError
// from an HTTP response, parsing Retry-After if present. cause is wrapped
// as the error's Cause.
func ClassifyHTTPError(resp *http.Response, cause error) error {
	code := strconv.Itoa(resp.StatusCode)
	if !ClassifyHTTPStatus(resp.StatusCode) {
		return &task.PermanentError{Code: code, Cause: cause}
	}

	var retryAfter *time.Time
	if header := resp.Header.Get("Retry-After"); header != "" {
		if t, ok := ParseRetryAfter(header, time.Now()); ok {
			retryAfter = &t
		}
	}
	return &task.RetryableError{Code: code, Cause: cause, RetryAfter: retryAfter}
}

// ParseRetryAfter parses a Retry-After header value: either a
// non-negative integer seconds-delta from now, or an RFC1123/ISO8601
// absolute date. A parsed absolute date in the past is rejected (the
// caller should fall back to a provider-default delay); an unparseable
// value returns ok=false for the same reason.
func ParseRetryAfter(header string, now time.Time) (time.Time, bool) {
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return time.Time{}, false
		}
		return now.Add(time.Duration(seconds) * time.Second), true
	}

	for _, layout := range []string{time.RFC1123, time.RFC1123Z, time.RFC3339} {
		if t, err := time.Parse(layout, header); err == nil {
			if t.Before(now) {
				return time.Time{}, false
			}
			return t, true
		}
	}
	return time.Time{}, false
}

// DefaultRetryAfter is the delay used when a Retry-After header is absent,
// unparseable, or names a past time.
const DefaultRetryAfter = 30 * time.Second

// NextRunAfter computes a job's next RunAfter for a retryable error: the
// error's explicit RetryAfter if set and in the future, else now plus
// DefaultRetryAfter.
func NextRunAfter(err *task.RetryableError, now time.Time) time.Time {
	if err.RetryAfter != nil && err.RetryAfter.After(now) {
		return *err.RetryAfter
	}
	return now.Add(DefaultRetryAfter)
}
