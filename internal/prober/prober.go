// Package prober answers the liveness question for a single host: does
// anything speak HTTP on it, on any of the usual scheme/port combinations.
package prober

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/imroc/req/v3"

	"github.com/dixcover/dixcover/internal/config"
	"github.com/dixcover/dixcover/internal/httpclient"
)

// Result is the outcome of probing one host.
type Result struct {
	Host      string
	Reachable bool
	// URL is the first candidate that answered with an HTTP status.
	URL        string
	StatusCode *int
	ProbedAt   time.Time
	// Err carries the sanitized last transport error when unreachable.
	Err string
}

// Prober walks a host's candidate URLs until one answers.
type Prober struct {
	client *req.Client
	ports  []int
	logger *slog.Logger
}

// New builds a Prober from configuration. Each request gets the configured
// timeout; transport failures retry with the configured backoff.
func New(cfg config.ProberConfig, logger *slog.Logger) *Prober {
	client := httpclient.New(httpclient.Options{
		Timeout:            cfg.Timeout,
		MaxRetries:         cfg.MaxRetries,
		RetryBaseDelay:     cfg.RetryDelay,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}, logger, false)
	return NewWithClient(client, cfg.Ports, logger)
}

// NewWithClient injects the HTTP client directly. Used by tests.
func NewWithClient(client *req.Client, ports []int, logger *slog.Logger) *Prober {
	if len(ports) == 0 {
		ports = config.DefaultProberPorts
	}
	return &Prober{client: client, ports: ports, logger: logger}
}

// Probe tries the host's candidate URLs in order and stops at the first one
// that answers with any HTTP status. Every status counts as reachable, a 503
// as much as a 200: something is listening.
func (p *Prober) Probe(ctx context.Context, host string) Result {
	result := Result{Host: host, ProbedAt: time.Now()}

	for _, url := range p.candidates(host) {
		if ctx.Err() != nil {
			result.Err = ctx.Err().Error()
			return result
		}
		status, err := p.probeURL(ctx, url)
		if err != nil {
			result.Err = httpclient.SanitizeErr(err)
			continue
		}
		result.Reachable = true
		result.URL = url
		result.StatusCode = &status
		result.Err = ""
		p.logger.Debug("probe: reachable", "host", host, "url", url, "status", status)
		return result
	}

	p.logger.Debug("probe: unreachable", "host", host, "error", result.Err)
	return result
}

// candidates orders the URLs to try: https then http on default ports,
// then the alternate ports, https before http on each.
func (p *Prober) candidates(host string) []string {
	urls := []string{
		"https://" + host,
		"http://" + host,
	}
	for _, port := range p.ports {
		urls = append(urls,
			fmt.Sprintf("https://%s:%d", host, port),
			fmt.Sprintf("http://%s:%d", host, port),
		)
	}
	return urls
}

// probeURL sends a HEAD and falls back to GET when the server rejects the
// method or the HEAD attempt fails in transit.
func (p *Prober) probeURL(ctx context.Context, url string) (int, error) {
	resp, err := p.client.R().SetContext(ctx).Head(url)
	if err == nil && resp.Response != nil && resp.StatusCode != http.StatusMethodNotAllowed {
		return resp.StatusCode, nil
	}

	resp, err = p.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return 0, err
	}
	if resp.Response == nil {
		return 0, fmt.Errorf("no response from %s", url)
	}
	return resp.StatusCode, nil
}
