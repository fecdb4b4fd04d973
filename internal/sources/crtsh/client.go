// Package crtsh discovers subdomains through crt.sh certificate
// transparency log searches, recursively expanding discovered names.
package crtsh

import (
	"context"
	"errors"
	"log/slog"

	"github.com/imroc/req/v3"

	"github.com/dixcover/dixcover/internal/httpclient"
	"github.com/dixcover/dixcover/internal/ratelimit"
)

// searchURL is the crt.sh JSON search endpoint.
const searchURL = "https://crt.sh/"

// Entry is a single certificate record from the crt.sh JSON API.
type Entry struct {
	CommonName string `json:"common_name"`
	NameValue  string `json:"name_value"`
	NotBefore  string `json:"not_before"`
	NotAfter   string `json:"not_after"`
}

// Client queries the crt.sh API.
type Client struct {
	client  *req.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewClient creates a crt.sh client. limiter may be nil to disable gating.
func NewClient(client *req.Client, limiter *ratelimit.Limiter, logger *slog.Logger) *Client {
	return &Client{client: client, limiter: limiter, logger: logger}
}

// Search returns the certificate entries crt.sh holds for domain. Upstream
// failures (crt.sh 502s under load even after retries) are logged and
// reported as an empty result so one flaky source never aborts a scan.
// Only context cancellation propagates as an error.
func (c *Client) Search(ctx context.Context, domain string) ([]Entry, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var entries []Entry
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("q", domain).
		SetQueryParam("output", "json").
		SetSuccessResult(&entries).
		Get(searchURL)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		c.logger.Warn("crtsh: request failed", "domain", domain, "error", httpclient.SanitizeErr(err))
		return nil, nil
	}
	if !resp.IsSuccessState() {
		c.logger.Warn("crtsh: non-success response", "domain", domain, "status", resp.StatusCode)
		return nil, nil
	}
	return entries, nil
}
