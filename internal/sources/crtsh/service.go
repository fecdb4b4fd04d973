package crtsh

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dixcover/dixcover/internal/apperr"
	"github.com/dixcover/dixcover/internal/sources"
	"github.com/dixcover/dixcover/internal/storage"
	"github.com/dixcover/dixcover/internal/validate"
)

const (
	// maxDepth bounds the recursive expansion: the apex is depth 0 and
	// names found at depth maxDepth are recorded but not re-queried.
	maxDepth = 3
	// levelWorkers is how many names of one level are queried in parallel.
	levelWorkers = 2
	// politeDelay follows every crt.sh query to stay under its rate limit.
	politeDelay = 5 * time.Second
)

// Service expands an apex through crt.sh recursively: every discovered name
// becomes a query target for the next level until maxDepth is reached.
type Service struct {
	client *Client
	logger *slog.Logger

	// delay is politeDelay in production; tests shorten it.
	delay time.Duration
}

// NewService creates the crt.sh ingest service.
func NewService(client *Client, logger *slog.Logger) *Service {
	return &Service{client: client, logger: logger, delay: politeDelay}
}

// Name returns the source tag.
func (s *Service) Name() string { return storage.SourceCrtsh }

// Ingest walks the certificate transparency graph under apex. Queries within
// a level run on a small worker pool; persistence stays on the calling
// goroutine because the recorder is single-connection.
func (s *Service) Ingest(ctx context.Context, apex string, rec sources.Recorder) error {
	apex = validate.Normalize(apex)
	if !validate.IsDomain(apex) {
		return fmt.Errorf("%w: not a valid domain: %q", apperr.ErrInvalidInput, apex)
	}

	processed := make(map[string]struct{})
	found := make(map[string]struct{})
	level := []string{apex}

	for depth := 0; depth <= maxDepth && len(level) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		results := s.queryLevel(ctx, level)
		for _, name := range level {
			processed[name] = struct{}{}
		}

		var next []string
		for _, r := range results {
			for _, e := range r.entries {
				for _, f := range s.findings(e, apex) {
					if _, ok := found[f.Subdomain]; ok {
						continue
					}
					found[f.Subdomain] = struct{}{}
					if err := rec.Record(ctx, f); err != nil {
						s.logger.Error("crtsh: record failed",
							"subdomain", f.Subdomain, "error", err)
						continue
					}
					if _, done := processed[f.Subdomain]; !done {
						next = append(next, f.Subdomain)
					}
				}
			}
		}
		sort.Strings(next)
		level = next
	}

	s.logger.Info("crtsh: ingest complete", "apex", apex, "found", len(found))
	return nil
}

type levelResult struct {
	name    string
	entries []Entry
}

// queryLevel fetches all names of one level with levelWorkers goroutines.
// Each worker sleeps the polite delay after every query.
func (s *Service) queryLevel(ctx context.Context, names []string) []levelResult {
	jobs := make(chan string)
	out := make(chan levelResult, len(names))

	var wg sync.WaitGroup
	for i := 0; i < levelWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobs {
				entries, err := s.client.Search(ctx, name)
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.delay):
				}
				if err != nil {
					continue
				}
				out <- levelResult{name: name, entries: entries}
			}
		}()
	}

	for _, name := range names {
		select {
		case <-ctx.Done():
		case jobs <- name:
		}
	}
	close(jobs)
	wg.Wait()
	close(out)

	results := make([]levelResult, 0, len(names))
	for r := range out {
		results = append(results, r)
	}
	return results
}

// findings extracts in-scope names from one certificate entry. name_value
// may carry several newline-separated SANs; wildcards collapse onto their
// base name inside Accepts.
func (s *Service) findings(e Entry, apex string) []storage.Finding {
	var out []storage.Finding
	seen := make(map[string]struct{})
	for _, raw := range append(strings.Split(e.NameValue, "\n"), e.CommonName) {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "*."))
		if name == "" {
			continue
		}
		if !validate.Accepts(name, apex) {
			s.logger.Debug("crtsh: skipping out-of-scope name", "name", name, "apex", apex)
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, storage.Finding{
			Subdomain:    name,
			Source:       storage.SourceCrtsh,
			RegisteredOn: e.NotBefore,
			ExpiresOn:    e.NotAfter,
		})
	}
	return out
}
