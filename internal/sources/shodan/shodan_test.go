package shodan_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/imroc/req/v3"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dixcover/dixcover/internal/sources/shodan"
	"github.com/dixcover/dixcover/internal/storage"
	"github.com/dixcover/dixcover/internal/testutil"
)

func newTestClient(t *testing.T) *req.Client {
	t.Helper()
	client := req.NewClient()
	httpmock.ActivateNonDefault(client.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

func TestIngest_ReconstructsFQDNs(t *testing.T) {
	client := shodan.NewClient(newTestClient(t), nil, testutil.NopLogger(), "test-key")
	httpmock.RegisterResponder(http.MethodGet,
		"https://api.shodan.io/dns/domain/example.com?key=test-key",
		httpmock.NewStringResponder(http.StatusOK,
			`{"subdomains":["www","mail","WWW","bad label"]}`))

	svc := shodan.NewService(client, testutil.NopLogger())
	rec := &testutil.FindingRecorder{}
	require.NoError(t, svc.Ingest(context.Background(), "example.com", rec))

	assert.Equal(t, []string{"mail.example.com", "www.example.com"}, rec.Subdomains())
	for _, f := range rec.Findings {
		assert.Equal(t, storage.SourceShodan, f.Source)
	}
}

func TestIngest_SkipsWithoutAPIKey(t *testing.T) {
	client := shodan.NewClient(newTestClient(t), nil, testutil.NopLogger(), "")
	svc := shodan.NewService(client, testutil.NopLogger())
	rec := &testutil.FindingRecorder{}
	require.NoError(t, svc.Ingest(context.Background(), "example.com", rec))
	assert.Empty(t, rec.Findings)
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestIngest_UpstreamFailureYieldsEmpty(t *testing.T) {
	client := shodan.NewClient(newTestClient(t), nil, testutil.NopLogger(), "test-key")
	httpmock.RegisterResponder(http.MethodGet,
		"https://api.shodan.io/dns/domain/example.com?key=test-key",
		httpmock.NewStringResponder(http.StatusUnauthorized, `{"error":"invalid key"}`))

	svc := shodan.NewService(client, testutil.NopLogger())
	rec := &testutil.FindingRecorder{}
	require.NoError(t, svc.Ingest(context.Background(), "example.com", rec))
	assert.Empty(t, rec.Findings)
}
