package httpx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultMaxRetries is the retry budget used when RetryPolicy.MaxRetries is 0.
const DefaultMaxRetries = 3

// RetryPolicy tunes DoWithRetry.
type RetryPolicy struct {
	MaxRetries int
	// BaseDelay is the first backoff interval; later ones double with
	// ±50% jitter. Defaults to 1s.
	BaseDelay time.Duration
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         30 * base,
	}
	b.Reset()
	return b
}

// StatusError is a non-2xx response that exhausted its retries or was not
// retryable.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

func retryable(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// DoWithRetry executes a request, backing off on network errors, 5xx and
// 429. buildReq is called once per attempt. Other statuses are returned to
// the caller untouched.
func DoWithRetry(ctx context.Context, client *http.Client, policy RetryPolicy, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	maxRetries := policy.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	attempt := func() (*http.Response, error) {
		req, err := buildReq()
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			logger.Warn("request failed", "url", req.URL.Redacted(), "err", err)
			return nil, err
		}
		if retryable(resp.StatusCode) {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			logger.Warn("server error", "url", req.URL.Redacted(), "status", resp.StatusCode)
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(policy.backOff()),
		backoff.WithMaxTries(uint(maxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug("retrying request", "backoff", next, "err", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}
