// Package retry decides whether a failed upstream attempt may be repeated.
//
// The policy is a small stateless value: callers pass in the attempt count and
// the outcome of the last attempt, and get back a backoff delay plus a
// retry-or-stop verdict. Read timeouts are never retried: an upstream that has
// already timed out is slow or overloaded, and repeating the request only
// compounds its load.
package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"profiling-proxy-go/internal/metrics"
)

// Policy decides retry eligibility and backoff for upstream attempts.
type Policy struct {
	maxAttempts int
	methods     map[string]bool
	baseDelay   time.Duration
	maxDelay    time.Duration
	metrics     *metrics.Metrics
}

// New creates a Policy. maxAttempts is the total attempt ceiling (not the
// retry count); methods lists the HTTP methods eligible for retry. The metrics
// parameter is optional; pass nil to disable retry counters.
func New(maxAttempts int, methods []string, baseDelay, maxDelay time.Duration, m *metrics.Metrics) *Policy {
	eligible := make(map[string]bool, len(methods))
	for _, method := range methods {
		eligible[method] = true
	}
	return &Policy{
		maxAttempts: maxAttempts,
		methods:     eligible,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		metrics:     m,
	}
}

// ShouldRetry reports whether another attempt may be made after attempt
// attempts, and how long to wait before it. Exactly one of resp and err
// describes the last attempt's outcome. path must be the URL path component
// only, never the full URL, so query parameters cannot leak into metrics.
//
// Granting a retry increments the retry counter; this is the policy's only
// side effect.
func (p *Policy) ShouldRetry(method, path string, attempt int, resp *http.Response, err error) (time.Duration, bool) {
	if attempt >= p.maxAttempts {
		return 0, false
	}
	if !p.methods[method] {
		return 0, false
	}
	if err != nil && IsReadTimeout(err) {
		return 0, false
	}

	retryable := err != nil
	if resp != nil && retryableStatus(resp.StatusCode) {
		retryable = true
	}
	if !retryable {
		return 0, false
	}

	if p.metrics != nil {
		p.metrics.UpstreamRetries.WithLabelValues(
			metrics.NormalizeMethod(method),
			metrics.NormalizeUpstreamPath(path),
		).Inc()
	}

	return p.backoff(attempt), true
}

// RetryableStatus reports whether an upstream status code is worth retrying.
func RetryableStatus(code int) bool {
	return retryableStatus(code)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// backoff doubles the base delay per prior attempt, capped at maxDelay.
func (p *Policy) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		attempt = 30
	}
	delay := p.baseDelay << uint(attempt-1)
	if delay <= 0 || delay > p.maxDelay {
		delay = p.maxDelay
	}
	return delay
}

// IsReadTimeout reports whether err is a timeout waiting for the upstream to
// respond on an established connection. Dial-phase timeouts are deliberately
// excluded: failing to connect says nothing about upstream load, so those
// remain retryable connection errors.
func IsReadTimeout(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
