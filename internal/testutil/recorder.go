package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/dixcover/dixcover/internal/storage"
)

// FindingRecorder collects findings in memory for source service tests.
type FindingRecorder struct {
	mu       sync.Mutex
	Findings []storage.Finding
	Err      error
}

// Record appends f, or returns Err when set.
func (r *FindingRecorder) Record(_ context.Context, f storage.Finding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Findings = append(r.Findings, f)
	return nil
}

// Subdomains returns the recorded names, sorted.
func (r *FindingRecorder) Subdomains() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.Findings))
	for _, f := range r.Findings {
		names = append(names, f.Subdomain)
	}
	sort.Strings(names)
	return names
}
