package httpclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/imroc/req/v3"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomUserAgent(t *testing.T) {
	ua := RandomUserAgent()
	assert.NotEmpty(t, ua)
	assert.Contains(t, ua, "Mozilla/5.0")
}

func TestSanitize(t *testing.T) {
	in := "dial tcp: conn 0x1400010e000 reset by peer (0xDEADbeef)"
	out := Sanitize(in)
	assert.NotContains(t, out, "0x")
	assert.Contains(t, out, "<ptr>")
	assert.Equal(t, "no pointers here", Sanitize("no pointers here"))
}

func TestSanitizeErr_Nil(t *testing.T) {
	assert.Equal(t, "", SanitizeErr(nil))
}

func TestAttachRetry_RetriesServerErrors(t *testing.T) {
	client := req.NewClient()
	httpmock.ActivateNonDefault(client.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	calls := 0
	httpmock.RegisterResponder(http.MethodGet, "https://api.test/x",
		func(*http.Request) (*http.Response, error) {
			calls++
			if calls < 3 {
				return httpmock.NewStringResponse(http.StatusBadGateway, ""), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
		})

	AttachRetry(client, 3, time.Millisecond)
	resp, err := client.R().Get("https://api.test/x")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, calls)
}

func TestAttachRetry_HonorsRetryAfter(t *testing.T) {
	client := req.NewClient()
	httpmock.ActivateNonDefault(client.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	calls := 0
	httpmock.RegisterResponder(http.MethodGet, "https://api.test/limited",
		func(*http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				resp := httpmock.NewStringResponse(http.StatusTooManyRequests, "")
				resp.Header.Set("Retry-After", "0")
				return resp, nil
			}
			return httpmock.NewStringResponse(http.StatusOK, "ok"), nil
		})

	AttachRetry(client, 3, time.Millisecond)
	resp, err := client.R().Get("https://api.test/limited")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, calls)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Equal(t, retryAfterFallback, parseRetryAfter(""))
	assert.Equal(t, retryAfterFallback, parseRetryAfter("garbage"))
	assert.Equal(t, retryAfterCap, parseRetryAfter("100000"))
}

func TestNew_Defaults(t *testing.T) {
	client := New(Options{}, nil, false)
	require.NotNil(t, client)
}
