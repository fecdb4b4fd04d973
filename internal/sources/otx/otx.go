// Package otx pulls passive-DNS records from the AlienVault OTX API.
package otx

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

// baseURL is the OTX passive-DNS endpoint; the apex is appended.
const baseURL = "https://otx.alienvault.com/api/v1/indicators/domain/%s/passive_dns"

// Record is one passive-DNS observation from OTX.
type Record struct {
	Hostname string `json:"hostname"`
	Address  string `json:"address"`
}

type response struct {
	PassiveDNS []Record `json:"passive_dns"`
}

// Client queries the OTX API with an API key.
type Client struct {
	client  *req.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	apiKey  string
}

// NewClient creates an OTX client. An empty apiKey disables the source at
// the service level.
func NewClient(client *req.Client, limiter *ratelimit.Limiter, logger *slog.Logger, apiKey string) *Client {
	return &Client{client: client, limiter: limiter, logger: logger, apiKey: apiKey}
}

// Subdomains returns the passive-DNS records OTX holds under apex. Upstream
// failures are logged and reported as empty; only context cancellation
// propagates.
func (c *Client) Subdomains(ctx context.Context, apex string) ([]Record, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var body response
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("X-OTX-API-KEY", c.apiKey).
		SetSuccessResult(&body).
		Get(fmt.Sprintf(baseURL, apex))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		c.logger.Warn("otx: request failed", "apex", apex, "error", httpclient.SanitizeErr(err))
		return nil, nil
	}
	if !resp.IsSuccessState() {
		c.logger.Warn("otx: non-success response", "apex", apex, "status", resp.StatusCode)
		return nil, nil
	}
	return body.PassiveDNS, nil
}

// Service ingests OTX passive-DNS hostnames for an apex.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService creates the OTX ingest service.
func NewService(client *Client, logger *slog.Logger) *Service {
	return &Service{client: client, logger: logger}
}

// Name returns the source tag.
func (s *Service) Name() string { return storage.SourceOTX }

// Ingest records every in-scope passive-DNS hostname with its resolved
// address. Without an API key the source is skipped silently.
func (s *Service) Ingest(ctx context.Context, apex string, rec sources.Recorder) error {
	if s.client.apiKey == "" {
		s.logger.Debug("otx: no API key, skipping", "apex", apex)
		return nil
	}
	apex = validate.Normalize(apex)
	if !validate.IsDomain(apex) {
		return fmt.Errorf("%w: not a valid domain: %q", apperr.ErrInvalidInput, apex)
	}

	records, err := s.client.Subdomains(ctx, apex)
	if err != nil {
		return err
	}

	seen := make(map[string]struct{})
	for _, r := range records {
		name := validate.Normalize(r.Hostname)
		if !validate.Accepts(name, apex) {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		f := storage.Finding{Subdomain: name, Source: storage.SourceOTX, Address: r.Address}
		if err := rec.Record(ctx, f); err != nil {
			s.logger.Error("otx: record failed", "subdomain", name, "error", err)
		}
	}
	s.logger.Info("otx: ingest complete", "apex", apex, "found", len(seen))
	return nil
}
