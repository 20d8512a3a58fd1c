package dispatch

import "time"

// TimeoutRetryPolicy describes a bounded retry schedule for a timed-out
// agent CLI call: a maximum retry count and the backoff delay before each
// retry. Pipelines does not consult it: Ask and Adhoc report the first
// timeout as "timed out after Ns" without re-invoking the agent. The
// default policy allows zero retries.
type TimeoutRetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultTimeoutRetryPolicy returns the zero-retry default.
func DefaultTimeoutRetryPolicy() TimeoutRetryPolicy {
	return TimeoutRetryPolicy{MaxRetries: 0, BaseDelay: 5 * time.Second, MaxDelay: 30 * time.Second}
}

// NextDelay returns the backoff delay before retry attempt N+1, and whether
// a retry should be attempted at all given attempt (0-indexed retries so far).
func (p TimeoutRetryPolicy) NextDelay(attempt int) (delay time.Duration, shouldRetry bool) {
	if attempt >= p.MaxRetries {
		return 0, false
	}
	return BackoffDelay(attempt+1, p.BaseDelay, p.MaxDelay), true
}
