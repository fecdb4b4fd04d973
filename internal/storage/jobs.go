package storage

import (
	"context"
	"fmt"
)

// UpsertJob registers a durable scheduled job. Re-registering an existing
// job id is a no-op, so repeat scans of the same apex keep one entry.
func (s *Session) UpsertJob(ctx context.Context, job Job) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (job_id, kind, apex, interval_seconds)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id) DO NOTHING`,
		job.ID, job.Kind, job.Apex, job.Interval)
	if err != nil {
		return fmt.Errorf("storage: upsert job: %w", err)
	}
	return nil
}

// ListJobs returns every registered job, oldest first.
func (s *Session) ListJobs(ctx context.Context) ([]Job, error) {
	jobs := []Job{}
	err := s.q.SelectContext(ctx, &jobs, `
		SELECT job_id, kind, apex, interval_seconds, created_at
		FROM scheduled_jobs
		ORDER BY created_at ASC, job_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list jobs: %w", err)
	}
	return jobs, nil
}

// DeleteJob removes a job from the registry.
func (s *Session) DeleteJob(ctx context.Context, id string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM scheduled_jobs WHERE job_id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete job: %w", err)
	}
	return nil
}
