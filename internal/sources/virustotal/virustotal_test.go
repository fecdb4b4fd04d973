package virustotal_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/imroc/req/v3"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dixcover/dixcover/internal/sources/virustotal"
	"github.com/dixcover/dixcover/internal/testutil"
)

func newTestClient(t *testing.T) *req.Client {
	t.Helper()
	client := req.NewClient()
	httpmock.ActivateNonDefault(client.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

func newTestService(t *testing.T, key string) *virustotal.Service {
	t.Helper()
	client := virustotal.NewClient(newTestClient(t), nil, testutil.NopLogger(), key)
	return virustotal.NewService(client, testutil.NopLogger())
}

func TestIngest_FollowsPaging(t *testing.T) {
	svc := newTestService(t, "test-key")
	httpmock.RegisterResponder(http.MethodGet,
		"https://www.virustotal.com/api/v3/domains/example.com/subdomains?limit=40",
		httpmock.NewStringResponder(http.StatusOK, `{
			"data":[{"id":"a.example.com"},{"id":"b.example.com"}],
			"meta":{"count":40},
			"links":{"next":"https://www.virustotal.com/api/v3/domains/example.com/subdomains?cursor=abc&limit=40"}
		}`))

	// meta.count of 41 would allow a second page; 40 caps the walk at one,
	// so the cursor above must never be fetched.
	rec := &testutil.FindingRecorder{}
	require.NoError(t, svc.Ingest(context.Background(), "example.com", rec))
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, rec.Subdomains())
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestIngest_PageCapFromFirstResponse(t *testing.T) {
	svc := newTestService(t, "test-key")
	httpmock.RegisterResponder(http.MethodGet,
		"https://www.virustotal.com/api/v3/domains/example.com/subdomains?limit=40",
		httpmock.NewStringResponder(http.StatusOK, `{
			"data":[{"id":"a.example.com"}],
			"meta":{"count":41},
			"links":{"next":"https://www.virustotal.com/api/v3/domains/example.com/subdomains?cursor=abc&limit=40"}
		}`))
	httpmock.RegisterResponder(http.MethodGet,
		"https://www.virustotal.com/api/v3/domains/example.com/subdomains?cursor=abc&limit=40",
		httpmock.NewStringResponder(http.StatusOK, `{
			"data":[{"id":"b.example.com"}],
			"meta":{"count":999},
			"links":{"next":"https://www.virustotal.com/api/v3/domains/example.com/subdomains?cursor=def&limit=40"}
		}`))

	rec := &testutil.FindingRecorder{}
	require.NoError(t, svc.Ingest(context.Background(), "example.com", rec))

	// ceil(41/40) = 2 pages; the drifted count on page two is ignored.
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, rec.Subdomains())
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}

func TestIngest_SkipsWithoutAPIKey(t *testing.T) {
	svc := newTestService(t, "")
	rec := &testutil.FindingRecorder{}
	require.NoError(t, svc.Ingest(context.Background(), "example.com", rec))
	assert.Empty(t, rec.Findings)
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestIngest_FiltersOutOfScope(t *testing.T) {
	svc := newTestService(t, "test-key")
	httpmock.RegisterResponder(http.MethodGet,
		"https://www.virustotal.com/api/v3/domains/example.com/subdomains?limit=40",
		httpmock.NewStringResponder(http.StatusOK, `{
			"data":[{"id":"www.example.com"},{"id":"attacker.org"}],
			"meta":{"count":2},
			"links":{"next":""}
		}`))

	rec := &testutil.FindingRecorder{}
	require.NoError(t, svc.Ingest(context.Background(), "example.com", rec))
	assert.Equal(t, []string{"www.example.com"}, rec.Subdomains())
}
