// Package scheduler keeps the recurring work running: one daily discovery
// scan per registered apex and one daily probe sweep over the whole
// inventory. Registrations are durable; the jobs table is replayed on start
// so a restart never loses a schedule.
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dixcover/dixcover/internal/storage"
)

// defaultInterval is the cadence of every registered job.
const defaultInterval = 24 * time.Hour

// probeJobID is the single fleet-wide probe job.
const probeJobID = "probe_master_daily"

// Sessions hands out single-connection storage handles. Implemented by
// *storage.Store.
type Sessions interface {
	Session(ctx context.Context) (*storage.Session, error)
}

// ScanFunc runs a scheduled discovery scan for one apex.
type ScanFunc func(ctx context.Context, apex string) error

// ProbeFunc runs the fleet probe sweep.
type ProbeFunc func(ctx context.Context) error

// Scheduler owns the cron engine and the durable job registry.
type Scheduler struct {
	store  Sessions
	logger *slog.Logger

	runScan  ScanFunc
	runProbe ProbeFunc

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	started bool
	baseCtx context.Context
}

// New creates a Scheduler. Bind must be called before Start.
func New(store Sessions, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:   store,
		logger:  logger,
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		baseCtx: context.Background(),
	}
}

// Bind wires the functions the jobs invoke. Split from New so the scan
// coordinator can hold the scheduler as its registrar without a
// construction cycle.
func (s *Scheduler) Bind(runScan ScanFunc, runProbe ProbeFunc) {
	s.runScan = runScan
	s.runProbe = runProbe
}

// ScanJobID renders the job id for an apex: dots become underscores.
func ScanJobID(apex string) string {
	return "scan_" + strings.ReplaceAll(apex, ".", "_")
}

// Start replays the persisted registry into the cron engine and starts it.
// Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	session, err := s.store.Session(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	jobs, err := session.ListJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		s.addEntry(job)
	}

	s.baseCtx = context.WithoutCancel(ctx)
	s.cron.Start()
	s.started = true
	s.logger.Info("scheduler: started", "jobs", len(jobs))
	return nil
}

// Stop halts the cron engine without touching the registry. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.started = false
	s.logger.Info("scheduler: stopped")
}

// ScheduleScan registers the daily scan for apex. Re-registration is a
// no-op, so every manual scan of an apex safely re-asserts its schedule.
func (s *Scheduler) ScheduleScan(ctx context.Context, apex string) error {
	return s.register(ctx, storage.Job{
		ID:       ScanJobID(apex),
		Kind:     storage.JobKindScan,
		Apex:     apex,
		Interval: int64(defaultInterval.Seconds()),
	})
}

// ScheduleProbe registers the daily fleet probe sweep.
func (s *Scheduler) ScheduleProbe(ctx context.Context) error {
	return s.register(ctx, storage.Job{
		ID:       probeJobID,
		Kind:     storage.JobKindProbe,
		Interval: int64(defaultInterval.Seconds()),
	})
}

// Remove drops a job from both the registry and the running engine.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	session, err := s.store.Session(ctx)
	if err != nil {
		return err
	}
	defer session.Close()
	if err := session.DeleteJob(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	return nil
}

func (s *Scheduler) register(ctx context.Context, job storage.Job) error {
	session, err := s.store.Session(ctx)
	if err != nil {
		return err
	}
	defer session.Close()
	if err := session.UpsertJob(ctx, job); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.addEntry(job)
	return nil
}

// addEntry adds the cron entry for job if not already present. Caller holds
// the mutex.
func (s *Scheduler) addEntry(job storage.Job) {
	if _, ok := s.entries[job.ID]; ok {
		return
	}
	interval := time.Duration(job.Interval) * time.Second
	if interval <= 0 {
		interval = defaultInterval
	}
	entryID := s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		s.fire(job)
	}))
	s.entries[job.ID] = entryID
	s.logger.Info("scheduler: job registered", "job", job.ID, "interval", interval)
}

// fire runs one tick of a job.
func (s *Scheduler) fire(job storage.Job) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	switch job.Kind {
	case storage.JobKindScan:
		if s.runScan == nil {
			return
		}
		if err := s.runScan(ctx, job.Apex); err != nil {
			s.logger.Error("scheduler: scan run failed", "apex", job.Apex, "error", err)
		}
	case storage.JobKindProbe:
		if s.runProbe == nil {
			return
		}
		if err := s.runProbe(ctx); err != nil {
			s.logger.Error("scheduler: probe run failed", "error", err)
		}
	default:
		s.logger.Warn("scheduler: unknown job kind", "job", job.ID, "kind", job.Kind)
	}
}
