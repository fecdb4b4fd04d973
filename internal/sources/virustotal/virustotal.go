// Package virustotal discovers subdomains through the VirusTotal v3 API,
// following relationship paging.
package virustotal

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

const (
	// baseURL is the v3 subdomains relationship endpoint; the apex is
	// appended.
	baseURL = "https://www.virustotal.com/api/v3/domains/%s/subdomains"
	// pageSize is the per-page item limit requested from the API.
	pageSize = 40
)

// Page is one response of the subdomains relationship.
type Page struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
	Meta struct {
		Count int `json:"count"`
	} `json:"meta"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

// Client queries the VirusTotal API with an API key.
type Client struct {
	client  *req.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	apiKey  string
}

// NewClient creates a VirusTotal client. An empty apiKey disables the source
// at the service level.
func NewClient(client *req.Client, limiter *ratelimit.Limiter, logger *slog.Logger, apiKey string) *Client {
	return &Client{client: client, limiter: limiter, logger: logger, apiKey: apiKey}
}

// Page fetches one page of the subdomains relationship. The first page uses
// the base endpoint; later pages pass the cursor URL from links.next.
// Upstream failures are logged and reported as an empty page; only context
// cancellation propagates.
func (c *Client) Page(ctx context.Context, apex, pageURL string) (*Page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	request := c.client.R().
		SetContext(ctx).
		SetHeader("x-apikey", c.apiKey)
	url := pageURL
	if url == "" {
		url = fmt.Sprintf(baseURL, apex)
		request.SetQueryParam("limit", fmt.Sprint(pageSize))
	}

	var page Page
	resp, err := request.SetSuccessResult(&page).Get(url)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		c.logger.Warn("virustotal: request failed", "apex", apex, "error", httpclient.SanitizeErr(err))
		return &Page{}, nil
	}
	if !resp.IsSuccessState() {
		c.logger.Warn("virustotal: non-success response", "apex", apex, "status", resp.StatusCode)
		return &Page{}, nil
	}
	return &page, nil
}

// Service ingests VirusTotal subdomain pages for an apex.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService creates the VirusTotal ingest service.
func NewService(client *Client, logger *slog.Logger) *Service {
	return &Service{client: client, logger: logger}
}

// Name returns the source tag.
func (s *Service) Name() string { return storage.SourceVirusTotal }

// Ingest pages through the subdomains relationship. The page budget is
// fixed after the first response: ceil(meta.count / pageSize), so a count
// that drifts while paging cannot extend the walk. Without an API key the
// source is skipped silently.
func (s *Service) Ingest(ctx context.Context, apex string, rec sources.Recorder) error {
	if s.client.apiKey == "" {
		s.logger.Debug("virustotal: no API key, skipping", "apex", apex)
		return nil
	}
	apex = validate.Normalize(apex)
	if !validate.IsDomain(apex) {
		return fmt.Errorf("%w: not a valid domain: %q", apperr.ErrInvalidInput, apex)
	}

	seen := make(map[string]struct{})
	next := ""
	maxPages := 1
	for fetched := 0; fetched < maxPages; fetched++ {
		page, err := s.client.Page(ctx, apex, next)
		if err != nil {
			return err
		}
		if fetched == 0 {
			maxPages = (page.Meta.Count + pageSize - 1) / pageSize
		}

		for _, item := range page.Data {
			name := validate.Normalize(item.ID)
			if !validate.Accepts(name, apex) {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			f := storage.Finding{Subdomain: name, Source: storage.SourceVirusTotal}
			if err := rec.Record(ctx, f); err != nil {
				s.logger.Error("virustotal: record failed", "subdomain", name, "error", err)
			}
		}

		next = page.Links.Next
		if next == "" {
			break
		}
	}
	s.logger.Info("virustotal: ingest complete", "apex", apex, "found", len(seen))
	return nil
}
