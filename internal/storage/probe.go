package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// MasterSubdomains returns the names in subdomains_master, newest first.
// A limit of 0 means no limit. Used by the sweep to snapshot its work list.
func (s *Session) MasterSubdomains(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT subdomain FROM subdomains_master ORDER BY created_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	var names []string
	if err := s.q.SelectContext(ctx, &names, query, args...); err != nil {
		return nil, fmt.Errorf("storage: master subdomains: %w", err)
	}
	return names, nil
}

// RecordProbe persists one probe outcome. For a reachable host it stamps
// last_alive on the master row and upserts the alive row; the returned bool
// is true when the host was not previously present in alive_subdomains.
// Unreachable hosts only refresh probed_at on an existing alive row so the
// observation time stays current without deleting history.
func (s *Session) RecordProbe(ctx context.Context, o ProbeOutcome) (newlyReachable bool, err error) {
	if !o.Reachable {
		_, err = s.q.ExecContext(ctx, `
			UPDATE alive_subdomains SET probed_at = $2
			WHERE subdomain = $1`, o.Subdomain, o.ProbedAt)
		if err != nil {
			return false, fmt.Errorf("storage: record probe miss: %w", err)
		}
		return false, nil
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE subdomains_master SET last_alive = $2
		WHERE subdomain = $1`, o.Subdomain, o.ProbedAt)
	if err != nil {
		return false, fmt.Errorf("storage: stamp master last_alive: %w", err)
	}
	if n, rerr := res.RowsAffected(); rerr == nil && n == 0 {
		// Alive host missing from master: the inventory was trimmed
		// between snapshot and persistence. Record it anyway.
		s.logger.Warn("probe: host absent from master", "subdomain", o.Subdomain)
	}

	var existingID int64
	err = s.q.GetContext(ctx, &existingID,
		`SELECT id FROM alive_subdomains WHERE subdomain = $1`, o.Subdomain)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.q.ExecContext(ctx, `
			INSERT INTO alive_subdomains (subdomain, probed_at, last_alive, status_code)
			VALUES ($1, $2, $2, $3)`, o.Subdomain, o.ProbedAt, o.StatusCode)
		if err != nil {
			return false, fmt.Errorf("storage: insert alive: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("storage: find alive: %w", err)
	}

	_, err = s.q.ExecContext(ctx, `
		UPDATE alive_subdomains
		SET probed_at = $2, last_alive = $2, status_code = $3
		WHERE id = $1`, existingID, o.ProbedAt, o.StatusCode)
	if err != nil {
		return false, fmt.Errorf("storage: update alive: %w", err)
	}
	return false, nil
}
