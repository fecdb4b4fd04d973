package httpclient

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/imroc/req/v3"
)

const (
	// defaultMaxRetries is applied when the caller passes zero.
	defaultMaxRetries = 3
	// defaultRetryBase is the first backoff interval; each retry doubles it.
	defaultRetryBase = 1500 * time.Millisecond
	// retryAfterFallback is used when a 429 carries no usable Retry-After.
	retryAfterFallback = 60 * time.Second
	// retryAfterCap bounds the sleep honoured from a Retry-After header.
	retryAfterCap = 120 * time.Second
)

// AttachRetry installs the shared retry policy on client.
//
// Retries fire on transient transport errors and on HTTP 429 / 5xx. The
// backoff for transport and 5xx failures is exponential: base delay doubled
// per attempt. A 429 instead sleeps the seconds advertised by Retry-After
// (capped) before the next attempt. Context cancellations and deadlines are
// never retried.
func AttachRetry(client *req.Client, maxRetries int, baseDelay time.Duration) {
	if maxRetries < 0 {
		return
	}
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	if baseDelay == 0 {
		baseDelay = defaultRetryBase
	}

	client.SetCommonRetryCount(maxRetries)
	client.AddCommonRetryCondition(func(resp *req.Response, err error) bool {
		if err != nil {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
		if resp == nil || resp.Response == nil {
			return false
		}
		return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	})
	client.SetCommonRetryInterval(func(resp *req.Response, attempt int) time.Duration {
		if resp != nil && resp.Response != nil && resp.StatusCode == http.StatusTooManyRequests {
			return parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return baseDelay << attempt
	})
}

// parseRetryAfter parses a Retry-After header value (integer seconds or
// HTTP-date) and returns a capped sleep duration.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return retryAfterFallback
	}
	if secs, err := strconv.Atoi(header); err == nil {
		d := time.Duration(secs) * time.Second
		return min(d, retryAfterCap)
	}
	if t, err := http.ParseTime(header); err == nil {
		d := max(time.Until(t), 0)
		return min(d, retryAfterCap)
	}
	return retryAfterFallback
}
