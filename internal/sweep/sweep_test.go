package sweep_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dixcover/dixcover/internal/notify"
	"github.com/dixcover/dixcover/internal/prober"
	"github.com/dixcover/dixcover/internal/storage"
	"github.com/dixcover/dixcover/internal/sweep"
	"github.com/dixcover/dixcover/internal/testutil"
)

type stubSessions struct {
	mu     sync.Mutex
	queued []*storage.Session
}

func (s *stubSessions) Session(context.Context) (*storage.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.queued[0]
	s.queued = s.queued[1:]
	return next, nil
}

func newMockSession(t *testing.T) (*storage.Session, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewSession(sqlx.NewDb(db, "pgx"), testutil.NopLogger()), mock
}

// stubProber answers from a fixed table.
type stubProber struct {
	alive map[string]int
}

func (p *stubProber) Probe(_ context.Context, host string) prober.Result {
	r := prober.Result{Host: host, ProbedAt: time.Now()}
	if status, ok := p.alive[host]; ok {
		r.Reachable = true
		r.StatusCode = &status
	} else {
		r.Err = "connection refused"
	}
	return r
}

type stubNotifier struct {
	mu      sync.Mutex
	batches [][]notify.Item
}

func (n *stubNotifier) NewlyAlive(_ context.Context, items []notify.Item) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, items)
}

func expectSnapshot(mock sqlmock.Sqlmock, hosts ...string) {
	rows := sqlmock.NewRows([]string{"subdomain"})
	for _, h := range hosts {
		rows.AddRow(h)
	}
	mock.ExpectQuery(`SELECT subdomain FROM subdomains_master`).WillReturnRows(rows)
}

func expectReachable(mock sqlmock.Sqlmock, host string, aliveID int64) {
	mock.ExpectExec(`UPDATE subdomains_master SET last_alive`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if aliveID > 0 {
		mock.ExpectQuery(`SELECT id FROM alive_subdomains`).
			WithArgs(host).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(aliveID))
		mock.ExpectExec(`UPDATE alive_subdomains`).
			WillReturnResult(sqlmock.NewResult(0, 1))
	} else {
		mock.ExpectQuery(`SELECT id FROM alive_subdomains`).
			WithArgs(host).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectExec(`INSERT INTO alive_subdomains`).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
}

func expectUnreachable(mock sqlmock.Sqlmock, host string) {
	mock.ExpectExec(`UPDATE alive_subdomains SET probed_at`).
		WithArgs(host, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestRun_ReportsOnlyNewlyAlive(t *testing.T) {
	snapshotSession, snapshotMock := newMockSession(t)
	expectSnapshot(snapshotMock, "new.example.com", "known.example.com", "down.example.com")

	newSession, newMock := newMockSession(t)
	expectReachable(newMock, "new.example.com", 0)
	knownSession, knownMock := newMockSession(t)
	expectReachable(knownMock, "known.example.com", 9)
	downSession, downMock := newMockSession(t)
	expectUnreachable(downMock, "down.example.com")

	p := &stubProber{alive: map[string]int{
		"new.example.com":   http.StatusOK,
		"known.example.com": http.StatusMovedPermanently,
	}}
	notifier := &stubNotifier{}
	sessions := &stubSessions{queued: []*storage.Session{
		snapshotSession, newSession, knownSession, downSession,
	}}

	// One worker keeps session hand-out aligned with host order.
	r := sweep.New(sessions, p, 1, notifier, testutil.NopLogger())
	require.NoError(t, r.Run(context.Background(), 0))

	require.Len(t, notifier.batches, 1)
	require.Len(t, notifier.batches[0], 1)
	item := notifier.batches[0][0]
	assert.Equal(t, "new.example.com", item.Subdomain)
	require.NotNil(t, item.StatusCode)
	assert.Equal(t, http.StatusOK, *item.StatusCode)
	assert.False(t, item.ProbedAt.IsZero())

	for _, m := range []sqlmock.Sqlmock{snapshotMock, newMock, knownMock, downMock} {
		require.NoError(t, m.ExpectationsWereMet())
	}
}

func TestRun_EmptyInventorySkipsNotifier(t *testing.T) {
	session, mock := newMockSession(t)
	expectSnapshot(mock)

	notifier := &stubNotifier{}
	r := sweep.New(&stubSessions{queued: []*storage.Session{session}},
		&stubProber{}, 2, notifier, testutil.NopLogger())

	require.NoError(t, r.Run(context.Background(), 0))
	assert.Empty(t, notifier.batches)
}

func TestRun_NoNewAliveNoNotification(t *testing.T) {
	snapshotSession, snapshotMock := newMockSession(t)
	expectSnapshot(snapshotMock, "known.example.com")
	knownSession, knownMock := newMockSession(t)
	expectReachable(knownMock, "known.example.com", 3)

	p := &stubProber{alive: map[string]int{"known.example.com": http.StatusOK}}
	notifier := &stubNotifier{}
	r := sweep.New(&stubSessions{queued: []*storage.Session{snapshotSession, knownSession}},
		p, 1, notifier, testutil.NopLogger())

	require.NoError(t, r.Run(context.Background(), 0))
	assert.Empty(t, notifier.batches)
	require.NoError(t, snapshotMock.ExpectationsWereMet())
	require.NoError(t, knownMock.ExpectationsWereMet())
}
