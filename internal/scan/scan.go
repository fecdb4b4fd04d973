// Package scan coordinates a full discovery run for one apex: reservation,
// schedule registration, and the fan-out to every intelligence source.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dixcover/dixcover/internal/apperr"
	"github.com/dixcover/dixcover/internal/sources"
	"github.com/dixcover/dixcover/internal/storage"
	"github.com/dixcover/dixcover/internal/validate"
)

// Sessions hands out single-connection storage handles. Implemented by
// *storage.Store.
type Sessions interface {
	Session(ctx context.Context) (*storage.Session, error)
}

// Registrar registers the recurring daily scan for an apex. Implemented by
// the scheduler; nil disables registration.
type Registrar interface {
	ScheduleScan(ctx context.Context, apex string) error
}

// Coordinator runs scans. Each source ingests on its own storage session so
// the four run fully in parallel.
type Coordinator struct {
	store     Sessions
	services  []sources.Service
	registrar Registrar
	logger    *slog.Logger

	wg sync.WaitGroup
}

// New creates a Coordinator over the given source services.
func New(store Sessions, services []sources.Service, registrar Registrar, logger *slog.Logger) *Coordinator {
	return &Coordinator{store: store, services: services, registrar: registrar, logger: logger}
}

// Scan validates and reserves apex, registers its daily job, and dispatches
// the source ingests in the background. It returns once dispatch has
// happened; discovery continues after the caller's request finishes.
//
// A manual scan (scheduled=false) conflicts with any live reservation and
// fails with ErrScanInProgress. Scheduled runs skip the conflict check so
// the daily job is never starved by its own reservation.
func (c *Coordinator) Scan(ctx context.Context, apex string, scheduled bool, requestedBy string) error {
	apex = validate.Normalize(apex)
	if !validate.IsApex(apex) {
		return fmt.Errorf("%w: not a registrable apex domain: %q", apperr.ErrInvalidInput, apex)
	}

	session, err := c.store.Session(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.PurgeExpiredReservations(ctx); err != nil {
		return err
	}
	if !scheduled {
		live, err := session.LiveReservation(ctx, apex)
		if err != nil {
			return err
		}
		if live != nil {
			return fmt.Errorf("%w: %q until %s", apperr.ErrScanInProgress,
				apex, live.TimeToZero.Format("2006-01-02 15:04:05"))
		}
	}
	// The stored flag records whether the daily job is registered for this
	// apex, so it is set for manual scans too once registration succeeds.
	jobRegistered := scheduled
	if c.registrar != nil {
		if err := c.registrar.ScheduleScan(ctx, apex); err != nil {
			c.logger.Error("scan: schedule registration failed", "apex", apex, "error", err)
		} else {
			jobRegistered = true
		}
	}
	if err := session.Reserve(ctx, apex, jobRegistered, requestedBy); err != nil {
		return err
	}

	c.dispatch(context.WithoutCancel(ctx), apex)
	return nil
}

// dispatch starts one goroutine per source, each with its own session.
func (c *Coordinator) dispatch(ctx context.Context, apex string) {
	for _, svc := range c.services {
		c.wg.Add(1)
		go func(svc sources.Service) {
			defer c.wg.Done()
			session, err := c.store.Session(ctx)
			if err != nil {
				c.logger.Error("scan: session acquire failed",
					"source", svc.Name(), "apex", apex, "error", err)
				return
			}
			defer session.Close()
			if err := svc.Ingest(ctx, apex, session); err != nil {
				c.logger.Error("scan: ingest failed",
					"source", svc.Name(), "apex", apex, "error", err)
			}
		}(svc)
	}
	c.logger.Info("scan: dispatched", "apex", apex, "sources", len(c.services))
}

// Wait blocks until all dispatched ingests finish. Used on shutdown and in
// tests.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
