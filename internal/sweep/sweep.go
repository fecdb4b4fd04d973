// Package sweep probes the whole master inventory and reports which hosts
// turned up alive for the first time.
package sweep

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/dixcover/dixcover/internal/notify"
	"github.com/dixcover/dixcover/internal/prober"
	"github.com/dixcover/dixcover/internal/storage"
	"github.com/dixcover/dixcover/internal/worker"
)

// Sessions hands out single-connection storage handles. Implemented by
// *storage.Store.
type Sessions interface {
	Session(ctx context.Context) (*storage.Session, error)
}

// HostProber probes a single host. Implemented by *prober.Prober.
type HostProber interface {
	Probe(ctx context.Context, host string) prober.Result
}

// Notifier receives the batch of hosts that became reachable during a sweep,
// with each host's status code and probe time. Implemented by
// *notify.Notifier; nil disables notification.
type Notifier interface {
	NewlyAlive(ctx context.Context, items []notify.Item)
}

// Runner sweeps the master inventory with a bounded probe fleet.
type Runner struct {
	store    Sessions
	prober   HostProber
	pool     *worker.Pool
	notifier Notifier
	logger   *slog.Logger
}

// New creates a sweep Runner probing with the given fleet size.
func New(store Sessions, p HostProber, workers int, notifier Notifier, logger *slog.Logger) *Runner {
	return &Runner{
		store:    store,
		prober:   p,
		pool:     worker.NewPool(workers, logger),
		notifier: notifier,
		logger:   logger,
	}
}

// Run snapshots the master inventory (limit 0 means all of it), probes every
// host, and persists each outcome on its own short-lived session. Newly
// reachable hosts are collected and delivered to the notifier as one batch
// at the end.
func (r *Runner) Run(ctx context.Context, limit int) error {
	hosts, err := r.snapshot(ctx, limit)
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		r.logger.Info("sweep: nothing to probe")
		return nil
	}
	r.logger.Info("sweep: starting", "hosts", len(hosts))

	var newAlive []notify.Item
	results := r.pool.Process(ctx, worker.Feed(ctx, hosts), r.probeAndRecord)
	var alive int
	for res := range results {
		if res.Err != nil {
			r.logger.Error("sweep: persist failed", "host", res.Host, "error", res.Err)
			continue
		}
		outcome := res.Value.(probeRecord)
		if outcome.reachable {
			alive++
		}
		if outcome.newlyAlive {
			newAlive = append(newAlive, notify.Item{
				Subdomain:  res.Host,
				StatusCode: outcome.statusCode,
				ProbedAt:   outcome.probedAt,
			})
		}
	}
	sort.Slice(newAlive, func(i, j int) bool { return newAlive[i].Subdomain < newAlive[j].Subdomain })
	r.logger.Info("sweep: finished", "hosts", len(hosts), "alive", alive, "new", len(newAlive))

	if r.notifier != nil && len(newAlive) > 0 {
		r.notifier.NewlyAlive(ctx, newAlive)
	}
	return nil
}

// snapshot reads the work list on its own session, released before any
// probing starts so the connection is not held across the whole sweep.
func (r *Runner) snapshot(ctx context.Context, limit int) ([]string, error) {
	session, err := r.store.Session(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return session.MasterSubdomains(ctx, limit)
}

type probeRecord struct {
	reachable  bool
	newlyAlive bool
	statusCode *int
	probedAt   time.Time
}

// probeAndRecord runs inside the pool: probe the host, then persist the
// outcome on a fresh session so a wedged connection never outlives one
// result.
func (r *Runner) probeAndRecord(ctx context.Context, host string) (any, error) {
	result := r.prober.Probe(ctx, host)

	session, err := r.store.Session(ctx)
	if err != nil {
		return probeRecord{}, err
	}
	defer session.Close()

	newly, err := session.RecordProbe(ctx, storage.ProbeOutcome{
		Subdomain:  host,
		Reachable:  result.Reachable,
		ProbedAt:   result.ProbedAt,
		StatusCode: result.StatusCode,
		Error:      result.Err,
	})
	if err != nil {
		return probeRecord{}, err
	}
	return probeRecord{
		reachable:  result.Reachable,
		newlyAlive: newly,
		statusCode: result.StatusCode,
		probedAt:   result.ProbedAt,
	}, nil
}
