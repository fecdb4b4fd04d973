// Package shodan discovers subdomains through the Shodan DNS API.
package shodan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/imroc/req/v3"

	"github.com/dixcover/dixcover/internal/apperr"
	"github.com/dixcover/dixcover/internal/httpclient"
	"github.com/dixcover/dixcover/internal/ratelimit"
	"github.com/dixcover/dixcover/internal/sources"
	"github.com/dixcover/dixcover/internal/storage"
	"github.com/dixcover/dixcover/internal/validate"
)

// baseURL is the Shodan DNS endpoint; the apex is appended.
const baseURL = "https://api.shodan.io/dns/domain/%s"

type response struct {
	// Subdomains holds bare left-hand labels ("www", "mail"), not FQDNs.
	Subdomains []string `json:"subdomains"`
}

// Client queries the Shodan API with an API key.
type Client struct {
	client  *req.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	apiKey  string
}

// NewClient creates a Shodan client. An empty apiKey disables the source at
// the service level.
func NewClient(client *req.Client, limiter *ratelimit.Limiter, logger *slog.Logger, apiKey string) *Client {
	return &Client{client: client, limiter: limiter, logger: logger, apiKey: apiKey}
}

// Subdomains returns the left-hand labels Shodan knows under apex. Upstream
// failures are logged and reported as empty; only context cancellation
// propagates.
func (c *Client) Subdomains(ctx context.Context, apex string) ([]string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var body response
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("key", c.apiKey).
		SetSuccessResult(&body).
		Get(fmt.Sprintf(baseURL, apex))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		c.logger.Warn("shodan: request failed", "apex", apex, "error", httpclient.SanitizeErr(err))
		return nil, nil
	}
	if !resp.IsSuccessState() {
		c.logger.Warn("shodan: non-success response", "apex", apex, "status", resp.StatusCode)
		return nil, nil
	}
	return body.Subdomains, nil
}

// Service ingests Shodan subdomain labels for an apex.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService creates the Shodan ingest service.
func NewService(client *Client, logger *slog.Logger) *Service {
	return &Service{client: client, logger: logger}
}

// Name returns the source tag.
func (s *Service) Name() string { return storage.SourceShodan }

// Ingest reconstructs each label as label.apex and records the in-scope
// names. Without an API key the source is skipped silently.
func (s *Service) Ingest(ctx context.Context, apex string, rec sources.Recorder) error {
	if s.client.apiKey == "" {
		s.logger.Debug("shodan: no API key, skipping", "apex", apex)
		return nil
	}
	apex = validate.Normalize(apex)
	if !validate.IsDomain(apex) {
		return fmt.Errorf("%w: not a valid domain: %q", apperr.ErrInvalidInput, apex)
	}

	labels, err := s.client.Subdomains(ctx, apex)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{})
	for _, label := range labels {
		name := validate.Normalize(label) + "." + apex
		if !validate.Accepts(name, apex) {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		f := storage.Finding{Subdomain: name, Source: storage.SourceShodan}
		if err := rec.Record(ctx, f); err != nil {
			s.logger.Error("shodan: record failed", "subdomain", name, "error", err)
		}
	}
	s.logger.Info("shodan: ingest complete", "apex", apex, "found", len(seen))
	return nil
}
