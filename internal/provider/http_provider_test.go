package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/blockrun/blockrun-gateway/internal/catalog"
	"github.com/blockrun/blockrun-gateway/internal/config"
)

func newTestProvider(t *testing.T, baseURL string, models ...string) *HTTPProvider {
	t.Helper()
	if len(models) == 0 {
		models = []string{"openai/gpt-4o-mini", "openai/gpt-4o"}
	}
	auth, err := NewAPIKeyAuth("sk-test", "", "", nil)
	require.NoError(t, err)
	p, err := NewHTTPProvider(config.ProviderConfig{
		ID:       "test-upstream",
		Priority: 1,
		BaseURL:  baseURL,
		Models:   models,
	}, catalog.Builtin(), auth)
	require.NoError(t, err)
	return p
}

func TestNewHTTPProvider_RejectsUnknownModel(t *testing.T) {
	auth, _ := NewAPIKeyAuth("k", "", "", nil)
	_, err := NewHTTPProvider(config.ProviderConfig{
		ID: "p", BaseURL: "http://x", Models: []string{"no/such-model"},
	}, catalog.Builtin(), auth)
	assert.Error(t, err)
}

func TestNewHTTPProvider_RejectsAutoModel(t *testing.T) {
	auth, _ := NewAPIKeyAuth("k", "", "", nil)
	_, err := NewHTTPProvider(config.ProviderConfig{
		ID: "p", BaseURL: "http://x", Models: []string{"auto"},
	}, catalog.Builtin(), auth)
	assert.Error(t, err)
}

func TestHTTPProvider_IsAvailable(t *testing.T) {
	p := newTestProvider(t, "http://x")
	assert.True(t, p.IsAvailable("openai/gpt-4o-mini"))
	assert.False(t, p.IsAvailable("anthropic/claude-sonnet-4"))
	assert.Len(t, p.ListModels(), 2)
}

func TestHTTPProvider_Execute_Success(t *testing.T) {
	var gotModel, gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotModel = gjson.GetBytes(body, "model").String()
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmpl-1","choices":[]}`))
	}))
	defer upstream.Close()

	p := newTestProvider(t, upstream.URL)
	resp, err := p.Execute(context.Background(), &Request{
		Model: "openai/gpt-4o-mini",
		Body:  []byte(`{"model":"openai/gpt-4o-mini","messages":[]}`),
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.Status)
	// The family prefix is stripped before the body goes upstream.
	assert.Equal(t, "gpt-4o-mini", gotModel)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestHTTPProvider_Execute_ClassifiesUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
	}))
	defer upstream.Close()

	p := newTestProvider(t, upstream.URL)
	_, err := p.Execute(context.Background(), &Request{
		Model: "openai/gpt-4o-mini",
		Body:  []byte(`{"model":"x"}`),
	})
	require.Error(t, err)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, KindRate, provErr.Kind)
	assert.True(t, provErr.Retryable)
	assert.Equal(t, http.StatusTooManyRequests, provErr.Status)
	assert.Contains(t, string(provErr.Body), "rate limit")
}

func TestHTTPProvider_Execute_NetworkErrorIsRetryable(t *testing.T) {
	p := newTestProvider(t, "http://127.0.0.1:1") // nothing listens here

	_, err := p.Execute(context.Background(), &Request{Model: "openai/gpt-4o-mini", Body: []byte(`{}`)})
	require.Error(t, err)

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, KindNetwork, provErr.Kind)
	assert.True(t, provErr.Retryable)
}

// refreshingAuth simulates payment auth whose refresh recovers a 402.
type refreshingAuth struct {
	refreshed bool
}

func (a *refreshingAuth) PrepareHeaders(req *http.Request) error {
	req.Header.Set("Authorization", "Bearer stale")
	return nil
}

func (a *refreshingAuth) HandleAuthFailure(status int, _ []byte) (bool, http.Header) {
	if status != http.StatusPaymentRequired || a.refreshed {
		return false, nil
	}
	a.refreshed = true
	h := http.Header{}
	h.Set("Authorization", "Bearer fresh")
	return true, h
}

func TestHTTPProvider_Execute_AuthRefreshRetry(t *testing.T) {
	var calls int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write([]byte(`{"error":"payment required"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"cmpl-2"}`))
	}))
	defer upstream.Close()

	p, err := NewHTTPProvider(config.ProviderConfig{
		ID: "pay", BaseURL: upstream.URL, Models: []string{"openai/gpt-4o-mini"},
	}, catalog.Builtin(), &refreshingAuth{})
	require.NoError(t, err)

	resp, err := p.Execute(context.Background(), &Request{Model: "openai/gpt-4o-mini", Body: []byte(`{}`)})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, 2, calls)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestHTTPProvider_EstimateCost(t *testing.T) {
	p := newTestProvider(t, "http://x")

	body, _ := json.Marshal(map[string]any{"messages": []any{}, "max_tokens": 100})
	cost := p.EstimateCost(&Request{Model: "openai/gpt-4o-mini", Body: body})
	assert.Greater(t, cost, 0.0)

	// Unknown model estimates zero.
	assert.Zero(t, p.EstimateCost(&Request{Model: "nope", Body: body}))

	// The pricier model costs more for the same body.
	costBig := p.EstimateCost(&Request{Model: "openai/gpt-4o", Body: body})
	assert.Greater(t, costBig, cost)
}

func TestHTTPProvider_HealthCheck(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.WriteHeader(http.StatusUnauthorized) // up but unauthorized still counts
	}))
	defer upstream.Close()

	p := newTestProvider(t, upstream.URL)
	assert.True(t, p.HealthCheck(context.Background()))

	down := newTestProvider(t, "http://127.0.0.1:1")
	assert.False(t, down.HealthCheck(context.Background()))
}

func TestHTTPProvider_Forward(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer upstream.Close()

	p := newTestProvider(t, upstream.URL)
	resp, err := p.Forward(context.Background(), http.MethodPost, "/embeddings", []byte(`{}`), nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestUpstreamModelName(t *testing.T) {
	assert.Equal(t, "gpt-4o", upstreamModelName("openai/gpt-4o"))
	assert.Equal(t, "plain-model", upstreamModelName("plain-model"))
}
