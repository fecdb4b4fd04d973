// Package storage implements PostgreSQL persistence for the subdomain
// inventory: per-source finding tables, the master table with provenance
// merge, probe reservations, the alive table, and the scheduler job store.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
)

// Store owns the connection pool. Background tasks never share a pool-level
// handle directly; they acquire a Session each and release it on exit.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	db.SetMaxOpenConns(30)
	db.SetMaxIdleConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Session returns a handle bound to one dedicated connection. Callers own
// the session for the duration of their task and must Close it on every
// exit path.
func (s *Store) Session(ctx context.Context) (*Session, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: acquire session: %w", err)
	}
	return &Session{q: conn, conn: conn, logger: s.logger}, nil
}

// querier is the subset of sqlx operations the repositories need. Both
// *sqlx.Conn (production sessions) and *sqlx.DB (sqlmock in tests) satisfy
// it.
type querier interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Session is a single-connection view of the store. It is not safe for
// concurrent use; each task acquires its own.
type Session struct {
	q      querier
	conn   *sqlx.Conn
	logger *slog.Logger
}

// NewSession wraps an existing sqlx handle. Used by tests to back a session
// with sqlmock; production code goes through Store.Session.
func NewSession(q *sqlx.DB, logger *slog.Logger) *Session {
	return &Session{q: q, logger: logger}
}

// Close returns the underlying connection to the pool.
func (s *Session) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
