package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dixcover/dixcover/internal/storage"
	"github.com/dixcover/dixcover/internal/testutil"
)

func newMockSession(t *testing.T) (*storage.Session, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewSession(sqlx.NewDb(db, "pgx"), testutil.NopLogger()), mock
}

func TestRecord_NewSubdomain(t *testing.T) {
	s, mock := newMockSession(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO crtsh_subdomain`).
		WithArgs("www.example.com", "2024-01-01", "2025-01-01").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO subdomains_master`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.Record(context.Background(), storage.Finding{
		Subdomain:    "www.example.com",
		Source:       storage.SourceCrtsh,
		RegisteredOn: "2024-01-01",
		ExpiresOn:    "2025-01-01",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_MergesSourceIntoExisting(t *testing.T) {
	s, mock := newMockSession(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO otx_subdomains`).
		WithArgs("www.example.com", "93.184.216.34").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO subdomains_master`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT sources, first_seen FROM subdomains_master`).
		WithArgs("www.example.com").
		WillReturnRows(sqlmock.NewRows([]string{"sources", "first_seen"}).
			AddRow([]byte(`["crtsh"]`), nil))
	mock.ExpectExec(`UPDATE subdomains_master SET sources`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Record(context.Background(), storage.Finding{
		Subdomain: "www.example.com",
		Source:    storage.SourceOTX,
		Address:   "93.184.216.34",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_ExistingSourceIsNoOp(t *testing.T) {
	s, mock := newMockSession(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO shodan_subdomain`).
		WithArgs("api.example.com").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO subdomains_master`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT sources, first_seen FROM subdomains_master`).
		WithArgs("api.example.com").
		WillReturnRows(sqlmock.NewRows([]string{"sources", "first_seen"}).
			AddRow([]byte(`["crtsh","shodan"]`), nil))
	// No UPDATE expected: the source tag is already present.
	mock.ExpectCommit()

	err := s.Record(context.Background(), storage.Finding{Subdomain: "api.example.com", Source: storage.SourceShodan})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_RejectsEmptyFinding(t *testing.T) {
	s, _ := newMockSession(t)
	err := s.Record(context.Background(), storage.Finding{Source: storage.SourceCrtsh})
	require.Error(t, err)
}

func TestRecordProbe_NewlyReachable(t *testing.T) {
	s, mock := newMockSession(t)
	now := time.Now()
	status := 200

	mock.ExpectExec(`UPDATE subdomains_master SET last_alive`).
		WithArgs("www.example.com", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id FROM alive_subdomains`).
		WithArgs("www.example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO alive_subdomains`).
		WithArgs("www.example.com", now, status).
		WillReturnResult(sqlmock.NewResult(1, 1))

	newly, err := s.RecordProbe(context.Background(), storage.ProbeOutcome{
		Subdomain:  "www.example.com",
		Reachable:  true,
		ProbedAt:   now,
		StatusCode: &status,
	})
	require.NoError(t, err)
	assert.True(t, newly)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordProbe_AlreadyAlive(t *testing.T) {
	s, mock := newMockSession(t)
	now := time.Now()
	status := 301

	mock.ExpectExec(`UPDATE subdomains_master SET last_alive`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT id FROM alive_subdomains`).
		WithArgs("www.example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectExec(`UPDATE alive_subdomains`).
		WithArgs(int64(7), now, status).
		WillReturnResult(sqlmock.NewResult(0, 1))

	newly, err := s.RecordProbe(context.Background(), storage.ProbeOutcome{
		Subdomain:  "www.example.com",
		Reachable:  true,
		ProbedAt:   now,
		StatusCode: &status,
	})
	require.NoError(t, err)
	assert.False(t, newly)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordProbe_Unreachable(t *testing.T) {
	s, mock := newMockSession(t)
	now := time.Now()

	mock.ExpectExec(`UPDATE alive_subdomains SET probed_at`).
		WithArgs("down.example.com", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	newly, err := s.RecordProbe(context.Background(), storage.ProbeOutcome{
		Subdomain: "down.example.com",
		Reachable: false,
		ProbedAt:  now,
	})
	require.NoError(t, err)
	assert.False(t, newly)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserve_InsertAndRefresh(t *testing.T) {
	s, mock := newMockSession(t)

	mock.ExpectQuery(`SELECT id FROM domain_requested`).
		WithArgs("example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO domain_requested`).
		WithArgs("example.com", false, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Reserve(context.Background(), "example.com", false, ""))

	mock.ExpectQuery(`SELECT id FROM domain_requested`).
		WithArgs("example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectExec(`UPDATE domain_requested`).
		WithArgs(int64(3), int64(900)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Reserve(context.Background(), "example.com", false, ""))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLiveReservation_None(t *testing.T) {
	s, mock := newMockSession(t)
	mock.ExpectQuery(`SELECT id, domain, requested_at`).
		WithArgs("example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "domain", "requested_at", "time_to_zero", "scheduled", "requested_by"}))

	r, err := s.LiveReservation(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestListMaster_WithFilter(t *testing.T) {
	s, mock := newMockSession(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, subdomain, sources, last_alive, first_seen, created_at`).
		WithArgs("example.com", 25, 0).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "subdomain", "sources", "last_alive", "first_seen", "created_at"}).
			AddRow(1, "www.example.com", []byte(`["crtsh","otx"]`), nil, nil, now).
			AddRow(2, "example.com", []byte(`["shodan"]`), nil, nil, now))

	rows, err := s.ListMaster(context.Background(), "Example.COM", 25, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "www.example.com", rows[0].Subdomain)
	assert.Equal(t, storage.SourceList{"crtsh", "otx"}, rows[0].Sources)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountAlive_NoFilter(t *testing.T) {
	s, mock := newMockSession(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM alive_subdomains`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	n, err := s.CountAlive(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}

func TestUpsertJob_And_ListJobs(t *testing.T) {
	s, mock := newMockSession(t)
	now := time.Now()

	mock.ExpectExec(`INSERT INTO scheduled_jobs`).
		WithArgs("scan_example_com", storage.JobKindScan, "example.com", int64(86400)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.UpsertJob(context.Background(), storage.Job{
		ID: "scan_example_com", Kind: storage.JobKindScan, Apex: "example.com", Interval: 86400,
	}))

	mock.ExpectQuery(`SELECT job_id, kind, apex, interval_seconds, created_at`).
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "kind", "apex", "interval_seconds", "created_at"}).
			AddRow("scan_example_com", storage.JobKindScan, "example.com", int64(86400), now).
			AddRow("probe_master_daily", storage.JobKindProbe, "", int64(86400), now))

	jobs, err := s.ListJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "probe_master_daily", jobs[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMasterSubdomains_Limit(t *testing.T) {
	s, mock := newMockSession(t)
	mock.ExpectQuery(`SELECT subdomain FROM subdomains_master`).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"subdomain"}).
			AddRow("a.example.com").AddRow("b.example.com"))

	names, err := s.MasterSubdomains(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, names)
}

func TestSourceList_ScanValue(t *testing.T) {
	var l storage.SourceList
	require.NoError(t, l.Scan([]byte(`["crtsh","virustotal"]`)))
	assert.True(t, l.Contains("virustotal"))
	assert.False(t, l.Contains("otx"))

	v, err := storage.SourceList(nil).Value()
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(v.([]byte)))
}
