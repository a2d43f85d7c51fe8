// Package http executes portal requests with a pluggable retry policy.
//
// Listing requests retry transient failures; download requests pass
// NoRetryPolicy, since failed downloads are reported rather than retried.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RetryPolicy decides whether a failed attempt should be retried and after
// what delay.
type RetryPolicy interface {
	NextDelay(attempt int, resp *http.Response, err error) (time.Duration, bool)
}

// NoRetryPolicy disables retries.
type NoRetryPolicy struct{}

// NextDelay implements RetryPolicy.
func (NoRetryPolicy) NextDelay(int, *http.Response, error) (time.Duration, bool) {
	return 0, false
}

type backoffPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
}

// DefaultRetryPolicy retries transport errors and 429/5xx responses up to
// three attempts with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return backoffPolicy{maxAttempts: 3, baseDelay: 500 * time.Millisecond}
}

func (p backoffPolicy) NextDelay(attempt int, resp *http.Response, err error) (time.Duration, bool) {
	if attempt >= p.maxAttempts {
		return 0, false
	}
	retryable := err != nil
	if resp != nil {
		retryable = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	}
	if !retryable {
		return 0, false
	}
	return p.baseDelay << uint(attempt-1), true
}

// Do issues the request, consulting the policy after every attempt. The
// final response (or error) is returned as-is; status checking is the
// caller's concern.
func Do(ctx context.Context, client *http.Client, req *http.Request, policy RetryPolicy) (*http.Response, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if client == nil {
		return nil, errors.New("http client is required")
	}
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	for attempt := 1; ; attempt++ {
		attemptReq, err := cloneRequest(ctx, req)
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(attemptReq)
		delay, retry := policy.NextDelay(attempt, resp, err)
		if !retry {
			return resp, err
		}
		if resp != nil {
			resp.Body.Close()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	clone := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}
	return clone, nil
}

// HTTPError renders a non-2xx response, including a bounded body preview.
func HTTPError(resp *http.Response) error {
	if resp == nil {
		return errors.New("nil response")
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("http error: %s: %s", resp.Status, string(data))
}
