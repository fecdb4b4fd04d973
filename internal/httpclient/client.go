// Package httpclient builds the shared outbound HTTP client used by the
// source clients, the prober, and webhook delivery.
package httpclient

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/imroc/req/v3"
)

// userAgents is a rotation pool of desktop and mobile browser User-Agent
// strings. Source APIs and probe targets see a randomized but plausible
// client on every constructed client.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Android 14; Mobile; rv:123.0) Gecko/123.0 Firefox/123.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Edge/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Linux; Android 13) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Mobile Safari/537.36",
}

// RandomUserAgent returns one entry from the rotation pool.
func RandomUserAgent() string {
	return userAgents[rand.IntN(len(userAgents))] //nolint:gosec // non-cryptographic random is fine for UA rotation
}

// Options tunes a client built by New.
type Options struct {
	// Timeout applies to each individual request. Zero means 45s, the
	// budget the slowest source (crt.sh) needs.
	Timeout time.Duration
	// MaxRetries caps retries on transient failures. Negative disables
	// retrying; zero means the default of 3.
	MaxRetries int
	// RetryBaseDelay is the first backoff interval, doubled per attempt.
	// Zero means 1.5s.
	RetryBaseDelay time.Duration
	// InsecureSkipVerify disables TLS certificate verification. Only the
	// prober sets this, and only when configured to.
	InsecureSkipVerify bool
}

// New builds a *req.Client with a randomized User-Agent, a per-request
// timeout, and the shared retry policy from AttachRetry. When debug is true
// and logger is non-nil, an OnAfterResponse hook logs method, URL, and
// status at DEBUG level.
func New(opts Options, logger *slog.Logger, debug bool) *req.Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 45 * time.Second
	}

	client := req.NewClient().
		SetUserAgent(RandomUserAgent()).
		SetTimeout(timeout)

	if opts.InsecureSkipVerify {
		client.EnableInsecureSkipVerify()
	}

	AttachRetry(client, opts.MaxRetries, opts.RetryBaseDelay)

	if debug && logger != nil {
		attachDebugHook(client, logger)
	}

	return client
}

// attachDebugHook registers an OnAfterResponse hook that logs the HTTP
// method, URL, and status code at DEBUG level, plus a body snippet on
// non-2xx responses.
func attachDebugHook(client *req.Client, logger *slog.Logger) {
	client.OnAfterResponse(func(_ *req.Client, resp *req.Response) error {
		if resp.Request == nil || resp.Request.RawRequest == nil {
			return nil
		}
		logger.Debug("http response",
			"method", resp.Request.RawRequest.Method,
			"url", resp.Request.RawRequest.URL.String(),
			"status", resp.StatusCode,
		)
		if !resp.IsSuccessState() {
			body := resp.String()
			if len(body) > 512 {
				body = body[:512]
			}
			logger.Debug("http error body",
				"status", resp.StatusCode,
				"body", Sanitize(body),
			)
		}
		return nil
	})
}
