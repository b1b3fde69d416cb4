// HTTP provider: executes chat completions against one upstream base URL.
package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/blockrun/blockrun-gateway/internal/catalog"
	"github.com/blockrun/blockrun-gateway/internal/config"
	"github.com/blockrun/blockrun-gateway/internal/tokenizer"
)

// maxErrorBodyBytes bounds how much of an upstream error body is buffered
// for classification and replay.
const maxErrorBodyBytes = 64 * 1024

// assumedOutputTokens is the output-side guess for cost estimates. A declared
// max_tokens below it replaces it; a larger one is capped at it.
const assumedOutputTokens = 512

// forwardedClientHeaders are copied from the inbound request when present.
var forwardedClientHeaders = []string{"Content-Type", "Accept", "User-Agent", "X-Request-ID"}

// HTTPProvider serves a set of catalog models from one OpenAI-compatible
// base URL.
type HTTPProvider struct {
	id       string
	priority int
	baseURL  string
	auth     AuthStrategy
	models   map[string]catalog.Model
	ordered  []string
	client   *http.Client
}

// NewHTTPProvider builds a provider for the given model ids. Ids are
// resolved against the catalog; unknown ids are rejected so a config typo
// surfaces at startup rather than at request time.
func NewHTTPProvider(cfg config.ProviderConfig, cat *catalog.Catalog, auth AuthStrategy) (*HTTPProvider, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("provider: id is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider %s: baseUrl is required", cfg.ID)
	}

	models := make(map[string]catalog.Model, len(cfg.Models))
	ordered := make([]string, 0, len(cfg.Models))
	for _, id := range cfg.Models {
		id = cat.ResolveAlias(id)
		m, ok := cat.Get(id)
		if !ok {
			return nil, fmt.Errorf("provider %s: unknown model %q", cfg.ID, id)
		}
		if m.IsAuto() {
			return nil, fmt.Errorf("provider %s: the auto entry cannot be served upstream", cfg.ID)
		}
		if _, dup := models[id]; dup {
			continue
		}
		models[id] = m
		ordered = append(ordered, id)
	}

	return &HTTPProvider{
		id:       cfg.ID,
		priority: cfg.Priority,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		auth:     auth,
		models:   models,
		ordered:  ordered,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   8,
				ResponseHeaderTimeout: 0, // bounded by the request context
			},
			Timeout: 0, // the per-request deadline arrives via context
		},
	}, nil
}

func (p *HTTPProvider) ID() string    { return p.id }
func (p *HTTPProvider) Priority() int { return p.priority }

// Initialize validates the auth strategy is usable. No network round trip:
// credentials were resolved at construction.
func (p *HTTPProvider) Initialize(_ context.Context) error {
	if p.auth == nil {
		return fmt.Errorf("provider %s: no auth strategy", p.id)
	}
	return nil
}

// ListModels returns the served subset in configuration order.
func (p *HTTPProvider) ListModels() []catalog.Model {
	out := make([]catalog.Model, 0, len(p.ordered))
	for _, id := range p.ordered {
		out = append(out, p.models[id])
	}
	return out
}

// IsAvailable reports whether this provider serves a model id.
func (p *HTTPProvider) IsAvailable(modelID string) bool {
	_, ok := p.models[modelID]
	return ok
}

// upstreamModelName strips the catalog's family prefix: the upstream knows
// "gpt-4o", the catalog knows "openai/gpt-4o".
func upstreamModelName(id string) string {
	if idx := strings.IndexByte(id, '/'); idx >= 0 {
		return id[idx+1:]
	}
	return id
}

// Execute performs one upstream attempt. Errors are always *ProviderError.
func (p *HTTPProvider) Execute(ctx context.Context, req *Request) (*Response, error) {
	body := req.Body
	if req.Model != "" {
		rewritten, err := sjson.SetBytes(body, "model", upstreamModelName(req.Model))
		if err == nil {
			body = rewritten
		}
	}

	resp, provErr := p.send(ctx, body, req.Header, nil)
	if provErr == nil {
		return resp, nil
	}

	// Payment-style auth may recover a 401/402 once with fresh headers.
	if provErr.Kind == KindAuth || provErr.Kind == KindBilling {
		if handler, ok := p.auth.(AuthFailureHandler); ok {
			if retry, newHeaders := handler.HandleAuthFailure(provErr.Status, provErr.Body); retry {
				log.Info().Str("provider", p.id).Int("status", provErr.Status).
					Msg("provider: retrying after auth refresh")
				resp, retryErr := p.send(ctx, body, req.Header, newHeaders)
				if retryErr == nil {
					return resp, nil
				}
				return nil, retryErr
			}
		}
	}
	return nil, provErr
}

// send performs one HTTP round trip and classifies failures.
func (p *HTTPProvider) send(ctx context.Context, body []byte, clientHeader, override http.Header) (*Response, *ProviderError) {
	endpoint := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, NewNetworkError(p.id, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for _, h := range forwardedClientHeaders {
		if v := clientHeader.Get(h); v != "" {
			httpReq.Header.Set(h, v)
		}
	}

	if signer, ok := p.auth.(BodySigner); ok {
		if err := signer.SignRequest(ctx, httpReq, body); err != nil {
			return nil, &ProviderError{ProviderID: p.id, Kind: KindAuth, Err: err}
		}
	} else if err := p.auth.PrepareHeaders(httpReq); err != nil {
		return nil, &ProviderError{ProviderID: p.id, Kind: KindAuth, Err: err}
	}
	for k, vals := range override {
		httpReq.Header[k] = vals
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewNetworkError(p.id, err)
	}

	if resp.StatusCode >= 400 {
		// Buffer error bodies so they can be inspected and replayed.
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		_ = resp.Body.Close()

		kind, retryable := Classify(resp.StatusCode, errBody)
		log.Debug().Str("provider", p.id).Int("status", resp.StatusCode).
			Str("kind", kind).Bool("retryable", retryable).
			Str("body", string(errBody[:min(config.MaxErrorBodyLogLen, len(errBody))])).
			Msg("provider: upstream error")
		return nil, &ProviderError{
			ProviderID: p.id,
			Status:     resp.StatusCode,
			Body:       errBody,
			Kind:       kind,
			Retryable:  retryable,
		}
	}

	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

// EstimateCost predicts the USD cost of a request from the body size and
// the declared output budget.
func (p *HTTPProvider) EstimateCost(req *Request) float64 {
	m, ok := p.models[req.Model]
	if !ok {
		return 0
	}
	inputTokens := tokenizer.ApproxByLength(len(req.Body))
	outputTokens := assumedOutputTokens
	if maxTokens := gjson.GetBytes(req.Body, "max_tokens"); maxTokens.Exists() {
		if declared := int(maxTokens.Int()); declared > 0 && declared < outputTokens {
			outputTokens = declared
		}
	}
	return catalog.EstimateCost(m, inputTokens, outputTokens)
}

// HealthCheck probes the upstream's models listing. Non-authoritative: any
// response below 500 counts as reachable (401s mean up-but-unauthorized).
func (p *HTTPProvider) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, config.FullHealthTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	_ = p.auth.PrepareHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode < 500
}

// Cleanup releases idle connections. Idempotent.
func (p *HTTPProvider) Cleanup() error {
	p.client.CloseIdleConnections()
	return nil
}

// Forward sends an arbitrary request to this provider, used for transparent
// /v1 passthrough of non-chat endpoints.
func (p *HTTPProvider) Forward(ctx context.Context, method, path string, body []byte, clientHeader http.Header) (*Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, NewNetworkError(p.id, err)
	}
	for _, h := range forwardedClientHeaders {
		if v := clientHeader.Get(h); v != "" {
			httpReq.Header.Set(h, v)
		}
	}
	if err := p.auth.PrepareHeaders(httpReq); err != nil {
		return nil, &ProviderError{ProviderID: p.id, Kind: KindAuth, Err: err}
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, NewNetworkError(p.id, err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}
