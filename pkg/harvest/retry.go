package harvest

import (
	"context"
	"net/http"
	"time"
)

// RetryPolicy decides whether a request should be retried.
type RetryPolicy interface {
	ShouldRetry(resp *http.Response, err error) (bool, time.Duration)
}

// RetryPolicyFunc adapts a function to the RetryPolicy interface.
type RetryPolicyFunc func(resp *http.Response, err error) (bool, time.Duration)

// ShouldRetry implements the RetryPolicy interface.
func (f RetryPolicyFunc) ShouldRetry(resp *http.Response, err error) (bool, time.Duration) {
	return f(resp, err)
}

// DefaultRetryPolicy retries transport errors, throttling and server errors.
// The delay grows linearly with the attempt number.
var DefaultRetryPolicy RetryPolicy = RetryPolicyFunc(func(resp *http.Response, err error) (bool, time.Duration) {
	switch {
	case err != nil:
		return true, 500 * time.Millisecond
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return true, 500 * time.Millisecond
	default:
		return false, 0
	}
})

func (c *Client) retry(ctx context.Context, fn func() (*http.Response, error)) (*http.Response, error) {
	policy := c.retryPolicy
	if policy == nil {
		return fn()
	}
	var attempt int
	for {
		resp, err := fn()
		retry, delay := policy.ShouldRetry(resp, err)
		if !retry || attempt >= c.maxRetries || ctx.Err() != nil {
			return resp, err
		}
		if resp != nil {
			resp.Body.Close()
		}
		attempt++
		c.logger.DebugContext(ctx, "retrying request", "attempt", attempt, "delay", delay*time.Duration(attempt), "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay * time.Duration(attempt)):
		}
	}
}
