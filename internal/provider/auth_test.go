package provider

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIKeyAuth_PrepareHeaders(t *testing.T) {
	auth, err := NewAPIKeyAuth("sk-test-123", "", "", map[string]string{"X-Title": "blockrun"})
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, "http://upstream/v1/chat/completions", nil)
	require.NoError(t, auth.PrepareHeaders(req))

	assert.Equal(t, "Bearer sk-test-123", req.Header.Get("Authorization"))
	assert.Equal(t, "blockrun", req.Header.Get("X-Title"))
}

func TestAPIKeyAuth_CustomHeader(t *testing.T) {
	auth, err := NewAPIKeyAuth("sk-ant-xyz", "x-api-key", "", nil)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, "http://upstream", nil)
	require.NoError(t, auth.PrepareHeaders(req))
	assert.Equal(t, "sk-ant-xyz", req.Header.Get("x-api-key"))
}

func TestAPIKeyAuth_RequiresKey(t *testing.T) {
	_, err := NewAPIKeyAuth("", "", "", nil)
	assert.Error(t, err)
}

type fakeTokenSource struct {
	token      string
	refreshed  string
	refreshErr error
	calls      int
}

func (f *fakeTokenSource) Token() (string, error) { return f.token, nil }
func (f *fakeTokenSource) Refresh(int, []byte) (string, error) {
	f.calls++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	return f.refreshed, nil
}

func TestPaymentTokenAuth_PrepareHeaders(t *testing.T) {
	auth := NewPaymentTokenAuth(&fakeTokenSource{token: "tok-1"}, "", "")

	req, _ := http.NewRequest(http.MethodPost, "http://upstream", nil)
	require.NoError(t, auth.PrepareHeaders(req))
	assert.Equal(t, "Bearer tok-1", req.Header.Get("Authorization"))
}

func TestPaymentTokenAuth_RefreshOn402(t *testing.T) {
	source := &fakeTokenSource{token: "tok-1", refreshed: "tok-2"}
	auth := NewPaymentTokenAuth(source, "", "")

	retry, headers := auth.HandleAuthFailure(http.StatusPaymentRequired, []byte(`{"error":"payment required"}`))
	require.True(t, retry)
	assert.Equal(t, "Bearer tok-2", headers.Get("Authorization"))
	assert.Equal(t, 1, source.calls)
}

func TestPaymentTokenAuth_NoRetryOnOtherStatus(t *testing.T) {
	source := &fakeTokenSource{token: "tok-1", refreshed: "tok-2"}
	auth := NewPaymentTokenAuth(source, "", "")

	retry, _ := auth.HandleAuthFailure(http.StatusTooManyRequests, nil)
	assert.False(t, retry)
	assert.Equal(t, 0, source.calls)
}

func TestPaymentTokenAuth_RefreshFailureIsTerminal(t *testing.T) {
	source := &fakeTokenSource{token: "tok-1", refreshErr: assert.AnError}
	auth := NewPaymentTokenAuth(source, "", "")

	retry, _ := auth.HandleAuthFailure(http.StatusUnauthorized, nil)
	assert.False(t, retry)
}

func TestStaticTokenSource(t *testing.T) {
	tok, err := StaticTokenSource{Value: "abc"}.Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = StaticTokenSource{}.Token()
	assert.Error(t, err)

	_, err = StaticTokenSource{Value: "abc"}.Refresh(402, nil)
	assert.Error(t, err)
}
