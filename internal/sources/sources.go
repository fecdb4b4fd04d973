// Package sources defines the contract shared by the intelligence source
// services and the scan coordinator.
package sources

import (
	"context"

	"github.com/dixcover/dixcover/internal/storage"
)

// Recorder persists findings. Implemented by *storage.Session.
type Recorder interface {
	Record(ctx context.Context, f storage.Finding) error
}

// Service ingests every subdomain a source knows for apex into rec.
//
// Implementations are best-effort: upstream failures are logged and the
// ingest finishes with whatever was collected. A non-nil error only means
// the ingest itself could not run (bad input, cancelled context).
type Service interface {
	Name() string
	Ingest(ctx context.Context, apex string, rec Recorder) error
}
