package storage

import (
	"context"
	"fmt"
	"strings"
)

// domainFilter builds the WHERE fragment matching a subdomain column against
// a filter domain: the domain itself or any name beneath it, case-insensitive.
func domainFilter(column string, argPos int) string {
	return fmt.Sprintf(`(LOWER(%s) = $%d OR LOWER(%s) LIKE '%%.' || $%d)`,
		column, argPos, column, argPos)
}

// CountMaster returns the number of master rows matching the optional
// domain filter.
func (s *Session) CountMaster(ctx context.Context, domain string) (int, error) {
	query := `SELECT COUNT(*) FROM subdomains_master`
	args := []interface{}{}
	if domain != "" {
		query += ` WHERE ` + domainFilter("subdomain", 1)
		args = append(args, strings.ToLower(domain))
	}
	var n int
	if err := s.q.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("storage: count master: %w", err)
	}
	return n, nil
}

// ListMaster returns a page of master rows, newest first.
func (s *Session) ListMaster(ctx context.Context, domain string, limit, offset int) ([]MasterSubdomain, error) {
	query := `SELECT id, subdomain, sources, last_alive, first_seen, created_at
		FROM subdomains_master`
	args := []interface{}{}
	if domain != "" {
		query += ` WHERE ` + domainFilter("subdomain", 1)
		args = append(args, strings.ToLower(domain))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows := []MasterSubdomain{}
	if err := s.q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("storage: list master: %w", err)
	}
	return rows, nil
}

// CountAlive returns the number of alive rows matching the optional
// domain filter.
func (s *Session) CountAlive(ctx context.Context, domain string) (int, error) {
	query := `SELECT COUNT(*) FROM alive_subdomains`
	args := []interface{}{}
	if domain != "" {
		query += ` WHERE ` + domainFilter("subdomain", 1)
		args = append(args, strings.ToLower(domain))
	}
	var n int
	if err := s.q.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("storage: count alive: %w", err)
	}
	return n, nil
}

// ListAlive returns a page of alive rows ordered by last observation.
func (s *Session) ListAlive(ctx context.Context, domain string, limit, offset int) ([]AliveSubdomain, error) {
	query := `SELECT id, subdomain, probed_at, last_alive, status_code, notes
		FROM alive_subdomains`
	args := []interface{}{}
	if domain != "" {
		query += ` WHERE ` + domainFilter("subdomain", 1)
		args = append(args, strings.ToLower(domain))
	}
	query += fmt.Sprintf(` ORDER BY probed_at DESC NULLS LAST, id DESC LIMIT $%d OFFSET $%d`,
		len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows := []AliveSubdomain{}
	if err := s.q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("storage: list alive: %w", err)
	}
	return rows, nil
}
