// Auth strategies: credential attachment for outgoing requests.
//
// DESIGN: The gateway knows two verbs - PrepareHeaders, and the optional
// HandleAuthFailure hook for payment-style flows where a 401/402 can be
// recovered by refreshing a token. PrepareHeaders derives headers per request
// and never mutates strategy state; only the payment strategy's
// HandleAuthFailure records the token it refreshed.
package provider

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/blockrun/blockrun-gateway/internal/utils"
)

// APIKeyAuth attaches a static key: "<header>: <prefix><key>" plus any
// configured extra headers (e.g. a referrer label).
type APIKeyAuth struct {
	key          string
	headerName   string
	prefix       string
	extraHeaders map[string]string
}

// NewAPIKeyAuth builds the standard bearer-style strategy.
// An empty headerName defaults to "Authorization" with a "Bearer " prefix;
// custom headers (e.g. x-api-key) carry the key bare unless a prefix is set.
func NewAPIKeyAuth(key, headerName, prefix string, extra map[string]string) (*APIKeyAuth, error) {
	if key == "" {
		return nil, fmt.Errorf("api key auth: key is required")
	}
	if headerName == "" {
		headerName = "Authorization"
	}
	if prefix == "" && headerName == "Authorization" {
		prefix = "Bearer "
	}
	return &APIKeyAuth{key: key, headerName: headerName, prefix: prefix, extraHeaders: extra}, nil
}

// PrepareHeaders attaches the key and extra headers.
func (a *APIKeyAuth) PrepareHeaders(req *http.Request) error {
	req.Header.Set(a.headerName, a.prefix+a.key)
	for k, v := range a.extraHeaders {
		req.Header.Set(k, v)
	}
	return nil
}

// TokenSource supplies payment/session tokens. The wallet collaborator
// implements this; the gateway only sees opaque header values.
type TokenSource interface {
	// Token returns the current token.
	Token() (string, error)
	// Refresh invalidates the current token and obtains a new one.
	// Called after an upstream 401/402.
	Refresh(status int, body []byte) (string, error)
}

// StaticTokenSource serves a fixed token and cannot refresh. Used when the
// wallet collaborator is not wired; a 402 then stays terminal.
type StaticTokenSource struct {
	Value string
}

func (s StaticTokenSource) Token() (string, error) {
	if s.Value == "" {
		return "", fmt.Errorf("no payment token configured")
	}
	return s.Value, nil
}

func (s StaticTokenSource) Refresh(int, []byte) (string, error) {
	return "", fmt.Errorf("static token cannot be refreshed")
}

// PaymentTokenAuth attaches a per-session payment token and retries once on
// 401/402 with a refreshed token.
type PaymentTokenAuth struct {
	source     TokenSource
	headerName string
	prefix     string

	mu          sync.Mutex
	lastRefresh string // last refreshed token; every 401/402 still triggers a refresh
}

// NewPaymentTokenAuth wraps a token source. Empty headerName defaults to
// Authorization with a Bearer prefix.
func NewPaymentTokenAuth(source TokenSource, headerName, prefix string) *PaymentTokenAuth {
	if headerName == "" {
		headerName = "Authorization"
	}
	if prefix == "" && headerName == "Authorization" {
		prefix = "Bearer "
	}
	return &PaymentTokenAuth{source: source, headerName: headerName, prefix: prefix}
}

// PrepareHeaders attaches the current token.
func (a *PaymentTokenAuth) PrepareHeaders(req *http.Request) error {
	token, err := a.source.Token()
	if err != nil {
		return fmt.Errorf("payment token: %w", err)
	}
	req.Header.Set(a.headerName, a.prefix+token)
	return nil
}

// HandleAuthFailure refreshes the token after a 401/402 and asks for one
// retry with the new headers.
func (a *PaymentTokenAuth) HandleAuthFailure(status int, body []byte) (bool, http.Header) {
	if status != http.StatusUnauthorized && status != http.StatusPaymentRequired {
		return false, nil
	}

	token, err := a.source.Refresh(status, body)
	if err != nil {
		log.Warn().Err(err).Int("status", status).Msg("auth: token refresh failed")
		return false, nil
	}

	a.mu.Lock()
	a.lastRefresh = token
	a.mu.Unlock()

	log.Debug().Int("status", status).Str("token", utils.MaskKey(token)).Msg("auth: retrying with refreshed token")
	h := http.Header{}
	h.Set(a.headerName, a.prefix+token)
	return true, h
}
