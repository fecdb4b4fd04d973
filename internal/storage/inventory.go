package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the PostgreSQL error code for duplicate-key conflicts.
const uniqueViolation = "23505"

// Record upserts one finding into its per-source table and merges it into
// subdomains_master, all within a single transaction.
//
// The per-source upsert is latest-wins on mutable columns. The master merge
// takes a row lock before the read-modify-write of sources, so two sources
// racing on the same subdomain serialize and the final set is the union of
// both observations. A unique violation on the initial master insert (two
// transactions inserting a brand-new name simultaneously) is retried once;
// the second pass finds the row and merges instead.
func (s *Session) Record(ctx context.Context, f Finding) error {
	if f.Subdomain == "" || f.Source == "" {
		return fmt.Errorf("storage: record: empty subdomain or source")
	}
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.record(ctx, f)
		if err == nil || !isUniqueViolation(err) {
			return err
		}
	}
	return err
}

func (s *Session) record(ctx context.Context, f Finding) error {
	tx, err := s.q.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: record begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := upsertSourceRow(ctx, tx, f); err != nil {
		return err
	}
	if err := mergeMaster(ctx, tx, f); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: record commit: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func upsertSourceRow(ctx context.Context, tx execer, f Finding) error {
	var err error
	switch f.Source {
	case SourceCrtsh:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO crtsh_subdomain (subdomain, registered_on, expires_on)
			VALUES ($1, $2, $3)
			ON CONFLICT (subdomain) DO UPDATE
			SET registered_on = EXCLUDED.registered_on,
			    expires_on    = EXCLUDED.expires_on`,
			f.Subdomain, f.RegisteredOn, f.ExpiresOn)
	case SourceOTX:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO otx_subdomains (subdomain, address)
			VALUES ($1, $2)
			ON CONFLICT (subdomain) DO UPDATE
			SET address = EXCLUDED.address`,
			f.Subdomain, f.Address)
	case SourceShodan:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO shodan_subdomain (subdomain)
			VALUES ($1)
			ON CONFLICT (subdomain) DO NOTHING`,
			f.Subdomain)
	case SourceVirusTotal:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO virus_total_subdomain (subdomain)
			VALUES ($1)
			ON CONFLICT (subdomain) DO NOTHING`,
			f.Subdomain)
	default:
		return fmt.Errorf("storage: record: unknown source %q", f.Source)
	}
	if err != nil {
		return fmt.Errorf("storage: upsert %s row: %w", f.Source, err)
	}
	return nil
}

func mergeMaster(ctx context.Context, tx execer, f Finding) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO subdomains_master (subdomain, sources, first_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (subdomain) DO NOTHING`,
		f.Subdomain, SourceList{f.Source}, f.FirstSeen)
	if err != nil {
		return fmt.Errorf("storage: insert master: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	// Existing row: lock it, then merge provenance and first_seen.
	var row struct {
		Sources   SourceList `db:"sources"`
		FirstSeen *time.Time `db:"first_seen"`
	}
	err = tx.GetContext(ctx, &row, `
		SELECT sources, first_seen FROM subdomains_master
		WHERE subdomain = $1 FOR UPDATE`, f.Subdomain)
	if err != nil {
		return fmt.Errorf("storage: lock master row: %w", err)
	}

	changed := false
	sources := row.Sources
	if !sources.Contains(f.Source) {
		sources = append(sources, f.Source)
		changed = true
	}
	firstSeen := row.FirstSeen
	if f.FirstSeen != nil && (firstSeen == nil || f.FirstSeen.Before(*firstSeen)) {
		firstSeen = f.FirstSeen
		changed = true
	}
	if !changed {
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE subdomains_master SET sources = $2, first_seen = $3
		WHERE subdomain = $1`,
		f.Subdomain, sources, firstSeen)
	if err != nil {
		return fmt.Errorf("storage: update master: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
